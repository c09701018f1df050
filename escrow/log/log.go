package log

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is implemented by every backend the escrow packages log through.
type Logger interface {
	Log(ctx context.Context, level Level, msg string, fields ...Field)
	With(fields ...Field) Logger
	WithGroup(name string) Logger
	Enabled(level Level) bool
	Sync(ctx context.Context) error
}

// Level orders severities from LevelError (0) to LevelDebug (3). A logger at
// level L emits every level <= L.
type Level uint8

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var levelNames = [...]string{
	LevelError: "error",
	LevelWarn:  "warn",
	LevelInfo:  "info",
	LevelDebug: "debug",
}

func (level Level) String() string {
	if int(level) < len(levelNames) {
		return levelNames[level]
	}

	return "unknown"
}

// ParseLevel accepts the level names case-insensitively, plus "warning".
func ParseLevel(raw string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "warning" {
		return LevelWarn, nil
	}

	for level, known := range levelNames {
		if name == known {
			return Level(level), nil
		}
	}

	return LevelError, fmt.Errorf("not a valid Level: %q", raw)
}

// Field is one key/value attribute of a log event.
type Field struct {
	Key   string
	Value any
}

// Any wraps an arbitrary value. The escrow field constructors in fields.go
// are preferred where one fits.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err attaches err under KeyError.
func Err(err error) Field {
	return Field{Key: KeyError, Value: err}
}
