package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
)

// PanicRecoveryMiddleware returns a middleware that converts a panic in the
// chain below it into an InvocationError instead of crashing the host.
func PanicRecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call Call) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &entities.InvocationError{
						Guest:      call.Guest,
						Operation:  string(call.Operation),
						Capability: call.Capability,
						Err:        fmt.Errorf("panic: %v", r),
					}
				}
			}()
			return next(ctx, call)
		}
	}
}

// LoggingMiddleware returns a middleware that logs every forwarded call.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, call Call) error {
			attrs := []any{"guest", call.Guest, "operation", call.Operation}
			if call.Capability != "" {
				attrs = append(attrs, "capability", call.Capability)
			}

			start := time.Now()
			logger.DebugContext(ctx, "guest call", attrs...)
			err := next(ctx, call)
			attrs = append(attrs, "duration", time.Since(start))
			if err != nil {
				normalized := Normalize(call, err)
				logger.WarnContext(ctx, "guest call failed", append(attrs, "kind", entities.Kind(normalized), "error", err)...)
			} else {
				logger.DebugContext(ctx, "guest call completed", attrs...)
			}
			return err
		}
	}
}
