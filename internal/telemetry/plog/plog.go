// Package plog is a thin structured-logging wrapper over the standard
// library, grounded on the teacher's infrastructure/logging.LogLogger:
// the same one-method Printf-over-stdlib-log shape, expanded to accept
// field arguments so drop/decision logging can carry peer_id, sseq, and
// decision without hand-built format strings (spec.md §9's design note
// on structured logging).
package plog

import (
	"fmt"
	"log"
	"strings"
)

// Logger is the field-aware logging collaborator engine and the packet
// pipeline log through.
type Logger interface {
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// StdLogger implements Logger over the standard library's package-level
// logger, the same collaborator the teacher's LogLogger wraps.
type StdLogger struct{}

// New constructs a StdLogger.
func New() *StdLogger { return &StdLogger{} }

func (StdLogger) Info(msg string, fields ...any)  { log.Print(format("INFO", msg, fields)) }
func (StdLogger) Warn(msg string, fields ...any)  { log.Print(format("WARN", msg, fields)) }
func (StdLogger) Error(msg string, fields ...any) { log.Print(format("ERROR", msg, fields)) }

// format renders level, msg, and fields (alternating key, value pairs)
// as "LEVEL msg key=value key=value", matching the teacher's plain
// single-line Printf convention rather than a structured encoder.
func format(level, msg string, fields []any) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		b.WriteByte(' ')
		if key, ok := fields[i].(string); ok {
			b.WriteString(key)
		} else {
			b.WriteString("?")
		}
		b.WriteByte('=')
		b.WriteString(toString(fields[i+1]))
	}
	return b.String()
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
