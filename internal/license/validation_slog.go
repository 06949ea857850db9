package license

import (
	"context"
	"log/slog"

	"lcpcli/internal/infrastructure"
)

// logAction logs a validation action with structured data and trace correlation
func (v *Validation) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := v.logger
	if logger == nil {
		logger = infrastructure.LoggerWithContext(ctx)
	}

	allAttrs := []slog.Attr{
		slog.String("action", action),
		slog.String("state", v.stateNameLocked()),
	}
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		allAttrs = append(allAttrs, slog.String("trace_id", traceID))
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

func (v *Validation) stateNameLocked() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.stateName()
}

func (v *Validation) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (v *Validation) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (v *Validation) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}
