package main

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/engine"
)

// startEventLog subscribes to bus and logs every event at Debug until ctx is
// done. The returned channel closes once the subscription is released.
func startEventLog(ctx context.Context, logger *slog.Logger, bus *engine.EventBus) <-chan struct{} {
	sub := bus.Subscribe(64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub.C:
				attrs := []slog.Attr{slog.String("kind", string(ev.Kind))}
				if ev.InferenceID != uuid.Nil {
					attrs = append(attrs, slog.String("inference_id", ev.InferenceID.String()))
				}

				if ev.Function != "" {
					attrs = append(attrs, slog.String("function", ev.Function))
				}

				if ev.Variant != "" {
					attrs = append(attrs, slog.String("variant", ev.Variant))
				}

				if ev.Data != nil {
					attrs = append(attrs, slog.Any("data", ev.Data))
				}

				logger.LogAttrs(ctx, slog.LevelDebug, "engine event", attrs...)
			}
		}
	}()

	return done
}
