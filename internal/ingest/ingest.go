package ingest

import (
	"context"
	"log/slog"
	"time"

	"fraudguard/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- *model.Context, event *model.Context, logger *slog.Logger) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "user_id", event.UserID, "ip", event.IP)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
