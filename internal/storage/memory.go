package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fraudguard/internal/model"
)

// memoryStore backs tests and storage-disabled deployments. It honors the
// same version semantics as the SQL drivers, including ErrVersionConflict.
type memoryStore struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
	rules    []model.Rule
	logs     []model.DetectionLog
	nextID   int64
}

func NewMemory() Store {
	return &memoryStore{
		profiles: make(map[string]*model.Profile),
		nextID:   1,
	}
}

func (s *memoryStore) Init(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                   { return nil }

func profileKey(typ, value string) string {
	return strings.ToLower(typ) + "|" + value
}

func (s *memoryStore) FindProfile(ctx context.Context, identifierType, identifierValue string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey(identifierType, identifierValue)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *memoryStore) InsertProfile(ctx context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	p.CreatedAt = nowUTC()
	p.UpdatedAt = p.CreatedAt
	if p.Version == 0 {
		p.Version = 1
	}
	s.profiles[profileKey(p.IdentifierType, p.IdentifierValue)] = cloneProfile(p)
	return nil
}

func (s *memoryStore) UpdateProfile(ctx context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := profileKey(p.IdentifierType, p.IdentifierValue)
	current, ok := s.profiles[key]
	if !ok {
		return ErrNotFound
	}
	if current.Version != p.Version {
		return ErrVersionConflict
	}
	p.Version++
	p.UpdatedAt = nowUTC()
	s.profiles[key] = cloneProfile(p)
	return nil
}

func (s *memoryStore) ProfilesByLevel(ctx context.Context, level model.RiskLevel, limit int) ([]*model.Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Profile
	for _, p := range s.profiles {
		if p.RiskLevel == level {
			out = append(out, cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) FlaggedProfiles(ctx context.Context, blacklisted bool) ([]*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Profile
	for _, p := range s.profiles {
		if (blacklisted && p.Blacklisted) || (!blacklisted && p.Whitelisted) {
			out = append(out, cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memoryStore) RecentlyActiveProfiles(ctx context.Context, since time.Time, limit int) ([]*model.Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Profile
	for _, p := range s.profiles {
		if p.LastDetectionAt != nil && !p.LastDetectionAt.Before(since) {
			out = append(out, cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastDetectionAt.After(*out[j].LastDetectionAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) DeleteInactiveProfiles(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, p := range s.profiles {
		if p.TotalDetections != 0 || !p.UpdatedAt.Before(before) {
			continue
		}
		if p.LastDetectionAt != nil && !p.LastDetectionAt.Before(before) {
			continue
		}
		delete(s.profiles, key)
		n++
	}
	return n, nil
}

func (s *memoryStore) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Rule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) SaveRule(ctx context.Context, r *model.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowUTC()
	if r.ID == 0 {
		r.ID = s.nextID
		s.nextID++
		r.CreatedAt = now
		r.UpdatedAt = now
		if r.Version == 0 {
			r.Version = 1
		}
		s.rules = append(s.rules, *r)
		return nil
	}
	for i := range s.rules {
		if s.rules[i].ID != r.ID {
			continue
		}
		if s.rules[i].Version != r.Version {
			return ErrVersionConflict
		}
		r.Version++
		r.UpdatedAt = now
		s.rules[i] = *r
		return nil
	}
	return ErrNotFound
}

func (s *memoryStore) SaveDetectionLog(ctx context.Context, log *model.DetectionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.ID = s.nextID
	s.nextID++
	if log.CreatedAt.IsZero() {
		log.CreatedAt = nowUTC()
	}
	s.logs = append(s.logs, *log)
	return nil
}

func (s *memoryStore) RecentLogs(ctx context.Context, limit int) ([]model.DetectionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.logs) {
		limit = len(s.logs)
	}
	out := make([]model.DetectionLog, 0, limit)
	for i := len(s.logs) - 1; i >= len(s.logs)-limit; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}

func cloneProfile(p *model.Profile) *model.Profile {
	cp := *p
	if p.RiskFactors != nil {
		cp.RiskFactors = make(map[string]any, len(p.RiskFactors))
		for k, v := range p.RiskFactors {
			cp.RiskFactors[k] = v
		}
	}
	if p.BehaviorPatterns != nil {
		cp.BehaviorPatterns = make(map[string]any, len(p.BehaviorPatterns))
		for k, v := range p.BehaviorPatterns {
			cp.BehaviorPatterns[k] = v
		}
	}
	if p.LastHighRiskAt != nil {
		t := *p.LastHighRiskAt
		cp.LastHighRiskAt = &t
	}
	if p.LastDetectionAt != nil {
		t := *p.LastDetectionAt
		cp.LastDetectionAt = &t
	}
	return &cp
}
