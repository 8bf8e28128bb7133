package events

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// KeepAliveInterval defines how often a keep-alive update is sent when a
// turn produces no events, such as during a slow engine round.
const KeepAliveInterval = 30 * time.Second

// KeepAlive forwards updates from in and injects a WORKING update whenever
// nothing was forwarded for interval. The returned channel closes when in
// closes or ctx is done.
func KeepAlive(ctx context.Context, in <-chan *StatusUpdate, sessionID string, interval time.Duration) <-chan *StatusUpdate {
	if interval <= 0 {
		interval = KeepAliveInterval
	}
	log := logr.FromContextOrDiscard(ctx).WithName("keepalive")
	out := make(chan *StatusUpdate)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.V(1).Info("Context cancelled, stopping keep-alive")
				return

			case u, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- u:
					ticker.Reset(interval)
				case <-ctx.Done():
					return
				}

			case <-ticker.C:
				log.V(1).Info("Injecting keep-alive update", "session", sessionID)
				select {
				case out <- &StatusUpdate{
					SessionID: sessionID,
					State:     TaskStateWorking,
					Metadata:  map[string]any{"keepalive": true},
					Timestamp: time.Now(),
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
