package domain

import (
	"context"
	"log/slog"
)

// Warning is a non-fatal failure from a best-effort step.
type Warning struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// Diagnostics collects warnings from best-effort steps so they are reported
// to the caller instead of being discarded.
type Diagnostics []Warning

// Add records err under step. A nil err is ignored.
func (d *Diagnostics) Add(step string, err error) {
	if err == nil {
		return
	}
	*d = append(*d, Warning{Step: step, Message: err.Error()})
}

// Empty reports whether no warnings were recorded.
func (d Diagnostics) Empty() bool { return len(d) == 0 }

// Log writes every warning at WARN level with the given attributes.
func (d Diagnostics) Log(ctx context.Context, msg string, args ...any) {
	for _, w := range d {
		slog.WarnContext(ctx, msg, append([]any{"step", w.Step, "error", w.Message}, args...)...)
	}
}
