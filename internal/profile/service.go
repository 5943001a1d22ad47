package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fraudguard/internal/model"
	"fraudguard/internal/storage"
)

// ErrInvalidIdentifierType is returned for identifier types outside
// user/ip/device/session.
var ErrInvalidIdentifierType = errors.New("profile: invalid identifier type")

const casRetries = 3

// Service owns the rolling reputation records. Updates go through a
// find-or-create then compare-and-swap loop so concurrent detections on the
// same identifier never lose counter increments.
type Service struct {
	store  storage.Store
	logger *slog.Logger
}

func NewService(store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Lookup returns the profile for an identifier, or nil when none exists yet.
func (s *Service) Lookup(ctx context.Context, identifierType, identifierValue string) (*model.Profile, error) {
	if !model.ValidIdentifierType(identifierType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifierType, identifierType)
	}
	if s.store == nil || identifierValue == "" {
		return nil, nil
	}
	p, err := s.store.FindProfile(ctx, identifierType, identifierValue)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// UpdateStats folds one detection outcome into the identifier's profile.
// Counters are monotonic; the risk level is recomputed from the full counter
// state every time rather than nudged incrementally, so a flag flip takes
// effect on the next update regardless of history.
func (s *Service) UpdateStats(ctx context.Context, identifierType, identifierValue string, level model.RiskLevel, actionTaken string) error {
	if !model.ValidIdentifierType(identifierType) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifierType, identifierType)
	}
	if s.store == nil || identifierValue == "" {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		p, err := s.store.FindProfile(ctx, identifierType, identifierValue)
		if errors.Is(err, storage.ErrNotFound) {
			p = model.NewProfile(identifierType, identifierValue)
			applyDetection(p, level, actionTaken)
			p.RiskLevel = CalculateLevel(p)
			if err := s.store.InsertProfile(ctx, p); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		if err != nil {
			return err
		}
		applyDetection(p, level, actionTaken)
		p.RiskLevel = CalculateLevel(p)
		err = s.store.UpdateProfile(ctx, p)
		if errors.Is(err, storage.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return err
	}
	s.logger.Warn("profile update exhausted retries",
		"identifier_type", identifierType, "identifier_value", identifierValue)
	return lastErr
}

// SetFlags updates the whitelist/blacklist flags and recomputes the level.
func (s *Service) SetFlags(ctx context.Context, identifierType, identifierValue string, whitelisted, blacklisted bool, notes string) (*model.Profile, error) {
	if !model.ValidIdentifierType(identifierType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifierType, identifierType)
	}
	if s.store == nil {
		return nil, nil
	}
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		p, err := s.store.FindProfile(ctx, identifierType, identifierValue)
		if errors.Is(err, storage.ErrNotFound) {
			p = model.NewProfile(identifierType, identifierValue)
			p.Whitelisted = whitelisted
			p.Blacklisted = blacklisted
			p.Notes = notes
			p.RiskLevel = CalculateLevel(p)
			if err := s.store.InsertProfile(ctx, p); err != nil {
				lastErr = err
				continue
			}
			return p, nil
		}
		if err != nil {
			return nil, err
		}
		p.Whitelisted = whitelisted
		p.Blacklisted = blacklisted
		if notes != "" {
			p.Notes = notes
		}
		p.RiskLevel = CalculateLevel(p)
		err = s.store.UpdateProfile(ctx, p)
		if errors.Is(err, storage.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, lastErr
}

// ByLevel lists profiles pinned at a level, highest score first.
func (s *Service) ByLevel(ctx context.Context, level model.RiskLevel, limit int) ([]*model.Profile, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ProfilesByLevel(ctx, level, limit)
}

// Flagged lists blacklisted or whitelisted profiles, most recently updated
// first.
func (s *Service) Flagged(ctx context.Context, blacklisted bool) ([]*model.Profile, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.FlaggedProfiles(ctx, blacklisted)
}

// RecentlyActive lists profiles with a detection since the cutoff.
func (s *Service) RecentlyActive(ctx context.Context, since time.Time, limit int) ([]*model.Profile, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.RecentlyActiveProfiles(ctx, since, limit)
}

// Sweep deletes profiles with no detections and no activity since the
// cutoff. Flagged profiles survive because flag edits bump updated_at.
func (s *Service) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.DeleteInactiveProfiles(ctx, time.Now().UTC().Add(-olderThan))
}

func applyDetection(p *model.Profile, level model.RiskLevel, actionTaken string) {
	now := time.Now().UTC()
	p.TotalDetections++
	p.LastDetectionAt = &now
	switch level {
	case model.LevelHigh, model.LevelCritical:
		p.HighRiskCount++
		t := now
		p.LastHighRiskAt = &t
	case model.LevelMedium:
		p.MediumRiskCount++
	default:
		p.LowRiskCount++
	}
	switch actionTaken {
	case "block":
		p.BlockedActions++
	case "throttle":
		p.ThrottledActions++
	}
}

// CalculateLevel derives the profile level from its full counter state.
// Flags dominate: blacklist forces Critical, whitelist forces Low.
func CalculateLevel(p *model.Profile) model.RiskLevel {
	if p.Blacklisted {
		return model.LevelCritical
	}
	if p.Whitelisted {
		return model.LevelLow
	}
	ratio := p.HighRiskRatio()
	if ratio > 0.5 || p.BlockedActions > 5 {
		return model.LevelHigh
	}
	if ratio > 0.3 || p.BlockedActions > 2 {
		return model.LevelMedium
	}
	return model.LevelLow
}
