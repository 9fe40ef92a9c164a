package middleware

import (
	"context"
	"log/slog"

	"github.com/Nine-Minds/alga-psa-sub020/action"
)

// Timeout returns middleware that enforces a per-call execution deadline.
// If the call has a non-zero Timeout, a context.WithTimeout wraps the
// handler call. When the deadline is exceeded the context is cancelled
// and the handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call *action.Call, next Handler) (map[string]any, error) {
		if call.Timeout > 0 {
			logger.Debug("action timeout set",
				slog.String("action", call.Name),
				slog.String("step_id", call.StepID),
				slog.Duration("timeout", call.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, call.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
