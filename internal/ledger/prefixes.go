package ledger

import (
	"sort"
	"strings"
)

// ComputeLockedPrefixes returns every proper ancestor directory of each path,
// sorted and without duplicates. Trailing separators are ignored, and the
// filesystem root never appears as a prefix.
func ComputeLockedPrefixes(paths []string) []string {
	seen := make(map[string]struct{})
	for _, path := range paths {
		path = strings.TrimRight(path, "/")
		for i := 0; i < len(path); i++ {
			if path[i] != '/' || i == 0 {
				continue
			}
			seen[path[:i]] = struct{}{}
		}
	}
	prefixes := make([]string, 0, len(seen))
	for prefix := range seen {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}
