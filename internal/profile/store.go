package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/clock"
	"github.com/lumora/pulse/internal/ids"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/segment"
	"github.com/lumora/pulse/internal/store"
)

// Store owns all UserProfile state. Other components read through Get
// and mutate only through Track.
type Store struct {
	repo     store.ProfileRepository
	segments *segment.Calculator
	clock    clock.Clock
	idGen    ids.Generator
	logger   *zap.Logger

	keys *keyedMutex

	// cacheMu guards only the map itself; per-profile consistency
	// comes from the keyed mutex.
	cacheMu sync.RWMutex
	cache   map[string]*model.UserProfile
}

// NewStore creates a profile store backed by the given repository.
func NewStore(repo store.ProfileRepository, segments *segment.Calculator, clk clock.Clock, idGen ids.Generator, logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		segments: segments,
		clock:    clk,
		idGen:    idGen,
		logger:   logger,
		keys:     newKeyedMutex(),
		cache:    make(map[string]*model.UserProfile),
	}
}

// Track normalizes a behavioral event, applies it to the subscriber's
// profile, recomputes segments, persists, and returns the updated
// profile as a clone.
//
// The whole operation serializes on the subscriber's key: concurrent
// events for the same subscriber apply in arrival order; other
// subscribers are unaffected. A first-seen subscriber id creates the
// profile.
func (s *Store) Track(ctx context.Context, subscriberID, kind string, properties model.Object) (*model.UserProfile, error) {
	if subscriberID == "" {
		return nil, fmt.Errorf("subscriber id is required")
	}
	if kind == "" {
		return nil, fmt.Errorf("event kind is required")
	}

	s.keys.Lock(subscriberID)
	defer s.keys.Unlock(subscriberID)

	current, err := s.load(ctx, subscriberID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	now := s.clock.Now()
	if current == nil {
		current = model.NewUserProfile(subscriberID, now)
	}

	if properties == nil {
		properties = model.Object{}
	}
	event := model.BehavioralEvent{
		ID:         s.idGen.NewID(),
		Kind:       kind,
		Properties: properties,
		Timestamp:  now,
	}

	updated := current.Clone()
	applyEvent(updated, event)
	updated.Segments = s.segments.Recompute(updated.Snapshot(), now)

	// Write-then-apply: storage commits before memory changes
	if err := s.repo.PutProfile(ctx, updated, []model.BehavioralEvent{event}); err != nil {
		return nil, fmt.Errorf("persist profile %s: %w", subscriberID, err)
	}
	s.storeCache(subscriberID, updated)

	s.logger.Debug("behavior tracked",
		zap.String("subscriber_id", subscriberID),
		zap.String("kind", kind),
		zap.String("event_id", event.ID),
		zap.Strings("segments", updated.Segments),
	)
	return updated.Clone(), nil
}

// Get returns a clone of the subscriber's profile, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, subscriberID string) (*model.UserProfile, error) {
	s.keys.Lock(subscriberID)
	defer s.keys.Unlock(subscriberID)

	p, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// RecomputeSegments re-derives the segment set for one subscriber
// against the current definitions. Used after segment definitions
// change at runtime.
func (s *Store) RecomputeSegments(ctx context.Context, subscriberID string) (*model.UserProfile, error) {
	s.keys.Lock(subscriberID)
	defer s.keys.Unlock(subscriberID)

	current, err := s.load(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.Segments = s.segments.Recompute(updated.Snapshot(), s.clock.Now())
	if err := s.repo.PutProfile(ctx, updated, nil); err != nil {
		return nil, fmt.Errorf("persist profile %s: %w", subscriberID, err)
	}
	s.storeCache(subscriberID, updated)
	return updated.Clone(), nil
}

// RecomputeAll re-derives segments for every stored subscriber. Used
// after a segment definition is added or removed at runtime.
func (s *Store) RecomputeAll(ctx context.Context) error {
	subscriberIDs, err := s.repo.SubscriberIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range subscriberIDs {
		if _, err := s.RecomputeSegments(ctx, id); err != nil {
			return fmt.Errorf("recompute segments for %s: %w", id, err)
		}
	}
	return nil
}

// load returns the cached profile or reads it through the repository.
// Caller must hold the subscriber's key lock.
func (s *Store) load(ctx context.Context, subscriberID string) (*model.UserProfile, error) {
	if p := s.readCache(subscriberID); p != nil {
		return p, nil
	}
	p, err := s.repo.GetProfile(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	s.storeCache(subscriberID, p)
	return p, nil
}

func (s *Store) readCache(subscriberID string) *model.UserProfile {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache[subscriberID]
}

func (s *Store) storeCache(subscriberID string, p *model.UserProfile) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[subscriberID] = p
}
