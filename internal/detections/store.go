package detections

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fraudguard/internal/model"
	"fraudguard/internal/storage"
)

// Store keeps the most recent detection logs in a capped in-memory ring and
// mirrors each record to durable storage when one is configured. A storage
// write failure only loses durability; the ring still serves the API.
type Store struct {
	mu    sync.RWMutex
	buf   []model.DetectionLog
	limit int

	durable storage.Store
	logger  *slog.Logger
}

func NewStore(limit int, durable storage.Store, logger *slog.Logger) *Store {
	if limit <= 0 {
		limit = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{limit: limit, durable: durable, logger: logger}
}

// Record implements action.Sink.
func (s *Store) Record(ctx context.Context, log *model.DetectionLog) {
	if log == nil {
		return
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, *log)
	} else {
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = *log
	}
	s.mu.Unlock()

	if s.durable != nil {
		if err := s.durable.SaveDetectionLog(ctx, log); err != nil {
			s.logger.Error("failed to persist detection log", "error", err)
		}
	}
}

// List returns up to limit records, most recent last.
func (s *Store) List(limit int) []model.DetectionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.DetectionLog, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.DetectionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DetectionLog, 0)
	for _, l := range s.buf {
		if !l.CreatedAt.Before(ts) {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}
