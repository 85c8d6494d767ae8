package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Logging logs every dispatch with its method, duration and outcome.
func Logging(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			start := time.Now()
			result, err := next(ctx, inv)
			evt := logger.Debug()
			if err != nil {
				evt = logger.Warn().Err(err)
			}
			evt.Str("method", inv.Method).
				Bool("notification", inv.Notification).
				Dur("duration", time.Since(start)).
				Msg("dispatch")
			return result, err
		}
	}
}
