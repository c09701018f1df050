package log

import (
	"context"
	"sync"
)

// NewNop returns a Logger that drops every event and reports every level
// disabled.
//
//nolint:ireturn
func NewNop() Logger {
	return nop{}
}

type nop struct{}

func (nop) Log(context.Context, Level, string, ...Field) {}

//nolint:ireturn
func (n nop) With(...Field) Logger { return n }

//nolint:ireturn
func (n nop) WithGroup(string) Logger { return n }

func (nop) Enabled(Level) bool { return false }

func (nop) Sync(context.Context) error { return nil }

// Entry is one event captured by MemoryLogger.
type Entry struct {
	Level   Level
	Message string
	Fields  []Field
}

// Field returns the value of the first field with key, and whether it exists.
func (e Entry) Field(key string) (any, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}

	return nil, false
}

// MemoryLogger records events in memory. Children created by With and
// WithGroup share the parent's buffer.
type MemoryLogger struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []Field
	level   Level
}

// NewMemory creates a MemoryLogger that keeps every event up to level.
func NewMemory(level Level) *MemoryLogger {
	return &MemoryLogger{
		mu:      &sync.Mutex{},
		entries: &[]Entry{},
		level:   level,
	}
}

// Log records the event when level is enabled.
func (l *MemoryLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	l.mu.Lock()
	defer l.mu.Unlock()

	*l.entries = append(*l.entries, Entry{Level: level, Message: msg, Fields: all})
}

// With returns a child logger carrying fields on every event.
//
//nolint:ireturn
func (l *MemoryLogger) With(fields ...Field) Logger {
	child := *l
	child.fields = append(append([]Field{}, l.fields...), fields...)

	return &child
}

// WithGroup records the group as a field.
//
//nolint:ireturn
func (l *MemoryLogger) WithGroup(name string) Logger {
	return l.With(String("group", name))
}

// Enabled reports whether level would be recorded.
func (l *MemoryLogger) Enabled(level Level) bool {
	return l.level >= level
}

// Sync is a no-op.
func (l *MemoryLogger) Sync(_ context.Context) error { return nil }

// Entries returns a snapshot of the recorded events.
func (l *MemoryLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(*l.entries))
	copy(out, *l.entries)

	return out
}
