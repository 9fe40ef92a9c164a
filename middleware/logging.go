package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/action"
)

// Logging returns middleware that logs action start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call *action.Call, next Handler) (map[string]any, error) {
		logger.Info("action started",
			slog.String("action", call.Name),
			slog.String("run_id", call.RunID.String()),
			slog.String("step_id", call.StepID),
			slog.String("tenant", call.Tenant),
		)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("action failed",
				slog.String("action", call.Name),
				slog.String("run_id", call.RunID.String()),
				slog.String("step_id", call.StepID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("action completed",
				slog.String("action", call.Name),
				slog.String("run_id", call.RunID.String()),
				slog.String("step_id", call.StepID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return out, err
	}
}
