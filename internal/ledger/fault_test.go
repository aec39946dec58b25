package ledger

import (
	"context"
	"testing"
	"time"
)

func TestCheckConflictQueryFault(t *testing.T) {
	for _, tc := range []struct {
		name          string
		strict        bool
		wantReachable bool
	}{
		{name: "strict", strict: true, wantReachable: false},
		{name: "compat", strict: false, wantReachable: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(t.TempDir(), Options{StrictConflicts: tc.strict, LockTimeout: time.Second})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer store.Close()

			if _, err := store.db.Exec("DROP TABLE locked_names"); err != nil {
				t.Fatalf("drop table: %v", err)
			}
			check := store.CheckConflict(context.Background(), []string{"x"}, nil)
			if check.Fault == nil {
				t.Fatal("expected query fault to be reported")
			}
			if check.Conflict {
				t.Fatalf("fault must not report a conflict: %+v", check)
			}
			if check.Reachable != tc.wantReachable {
				t.Fatalf("reachable = %v, want %v", check.Reachable, tc.wantReachable)
			}
		})
	}
}
