package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one line per record for a terminal:
//
//	15:04:05 INFO  replay: run job_id=42 commit=abc1234 reason="not finished"
//
// job_id and commit lead the attribute list, full commit ids are shortened,
// and the component is printed as a prefix instead of an attribute.
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool
	bound     []field
	groups    []string
}

type field struct {
	key   string
	value slog.Value
}

var leadingKeys = []string{FieldJobID, FieldCommit}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := slices.Clone(h.bound)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.groups, a)
		return true
	})

	component, fields := takeField(fields, FieldComponent)
	fields = orderFields(lastWins(fields))

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.Format(time.TimeOnly))
	fmt.Fprintf(&b, " %-5s ", levelLabel(r.Level))
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "-"
	}
	b.WriteString(msg)
	if h.addSource && r.PC != 0 {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " (%s:%d)", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(consoleValue(f.key, f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = slices.Clone(h.bound)
	for _, a := range attrs {
		next.bound = appendField(next.bound, h.groups, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(slices.Clone(h.groups), name)
	return &next
}

func appendField(dst []field, groups []string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := groups
		if a.Key != "" {
			inner = append(slices.Clone(groups), a.Key)
		}
		for _, ga := range a.Value.Group() {
			dst = appendField(dst, inner, ga)
		}
		return dst
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return append(dst, field{key: key, value: a.Value})
}

// takeField removes every field named key and returns the first value seen.
func takeField(fields []field, key string) (string, []field) {
	var value string
	kept := fields[:0:0]
	for _, f := range fields {
		if f.key == key {
			if value == "" {
				value = plainValue(f.value)
			}
			continue
		}
		kept = append(kept, f)
	}
	return value, kept
}

// lastWins drops repeated keys, keeping the later value at the earlier
// position.
func lastWins(fields []field) []field {
	pos := make(map[string]int, len(fields))
	out := make([]field, 0, len(fields))
	for _, f := range fields {
		if i, ok := pos[f.key]; ok {
			out[i] = f
			continue
		}
		pos[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func orderFields(fields []field) []field {
	ordered := make([]field, 0, len(fields))
	for _, key := range leadingKeys {
		for _, f := range fields {
			if f.key == key {
				ordered = append(ordered, f)
			}
		}
	}
	for _, f := range fields {
		if !slices.Contains(leadingKeys, f.key) {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func plainValue(v slog.Value) string {
	if v.Kind() == slog.KindAny {
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
	return v.String()
}

func consoleValue(key string, v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if key == FieldCommit || strings.HasSuffix(key, "_commit") {
			s = abbreviateCommit(s)
		}
		return quote(s)
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		return quote(plainValue(v))
	default:
		return v.String()
	}
}

func abbreviateCommit(id string) string {
	if len(id) != 40 {
		return id
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return id
		}
	}
	return id[:7]
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n=\"") {
		return strconv.Quote(s)
	}
	return s
}
