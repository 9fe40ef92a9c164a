package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Nine-Minds/alga-psa-sub020/action"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call *action.Call, next Handler) (out map[string]any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("action handler panicked",
					slog.String("action", call.Name),
					slog.String("run_id", call.RunID.String()),
					slog.String("step_id", call.StepID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				out = nil
				retErr = fmt.Errorf("panic in action %s: %v", call.Name, r)
			}
		}()
		return next(ctx)
	}
}
