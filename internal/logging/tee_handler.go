package logging

import (
	"context"
	"errors"
	"log/slog"
)

// TeeHandler forwards every record to each branch that accepts its level.
// Failures do not short-circuit: every branch sees the record, and the
// joined errors are returned.
type TeeHandler struct {
	branches []slog.Handler
}

func Tee(branches ...slog.Handler) *TeeHandler {
	return &TeeHandler{branches: branches}
}

func (t *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, b := range t.branches {
		if b.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, b := range t.branches {
		if !b.Enabled(ctx, record.Level) {
			continue
		}
		if err := b.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	branches := make([]slog.Handler, len(t.branches))
	for i, b := range t.branches {
		branches[i] = b.WithAttrs(attrs)
	}
	return &TeeHandler{branches: branches}
}

func (t *TeeHandler) WithGroup(name string) slog.Handler {
	branches := make([]slog.Handler, len(t.branches))
	for i, b := range t.branches {
		branches[i] = b.WithGroup(name)
	}
	return &TeeHandler{branches: branches}
}
