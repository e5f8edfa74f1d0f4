package session

import (
	"context"
	"log/slog"
	"time"
)

// StartJanitor periodically sweeps expired sessions. Reads already hide expired
// sessions, so the janitor only reclaims space. onSweep receives the number of
// removed sessions after each successful pass.
func StartJanitor(ctx context.Context, store Store, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.Sweep(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Warn("session sweep failed", "error", err)
					}
					continue
				}
				if onSweep != nil {
					onSweep(removed)
				}
			}
		}
	}()
}
