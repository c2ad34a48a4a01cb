// Package logctx is a minimal structured-logging helper in the teacher's
// own register: stdlib log.Printf lines, prefixed with a component tag and
// an optional per-batch correlation id.
package logctx

import (
	"log"

	"github.com/google/uuid"
)

// Logger prefixes every line with a component name and a correlation id.
type Logger struct {
	component string
	corrID    string
}

// New returns a Logger for the given component with no correlation id set.
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithBatch returns a copy of l tagged with a fresh batch-iteration id,
// grounded on the pack's use of github.com/google/uuid for correlation ids.
func (l *Logger) WithBatch() *Logger {
	return &Logger{component: l.component, corrID: uuid.NewString()[:8]}
}

func (l *Logger) Printf(format string, args ...any) {
	if l.corrID != "" {
		log.Printf("[%s][%s] "+format, append([]any{l.component, l.corrID}, args...)...)
		return
	}
	log.Printf("[%s] "+format, append([]any{l.component}, args...)...)
}
