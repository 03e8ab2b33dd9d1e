package services

import (
	"context"
	"sync"
	"time"

	"plot-server/utils/logger"
)

// LocationSource hands out a location provider per user.
type LocationSource interface {
	ForUser(userID string) LocationProvider
}

// DiscoveryRegistry owns one discovery pipeline per user. A pipeline is
// created and initialized on first use and dropped once it has not been
// accessed for idleTTL.
type DiscoveryRegistry struct {
	locations LocationSource
	store     ListingStore
	geocoder  Geocoder
	log       *logger.Logger
	opts      DiscoveryOptions
	idleTTL   time.Duration
	now       func() time.Time

	mu        sync.Mutex
	pipelines map[string]*registryEntry
	lastSweep time.Time
}

type registryEntry struct {
	once       sync.Once
	pipeline   *DiscoveryPipeline
	lastAccess time.Time
}

// NewDiscoveryRegistry creates a registry. An idleTTL of zero keeps sessions
// until they are forgotten.
func NewDiscoveryRegistry(locations LocationSource, store ListingStore, geocoder Geocoder, log *logger.Logger, opts DiscoveryOptions, idleTTL time.Duration) *DiscoveryRegistry {
	return &DiscoveryRegistry{
		locations: locations,
		store:     store,
		geocoder:  geocoder,
		log:       log,
		opts:      opts,
		idleTTL:   idleTTL,
		now:       time.Now,
		pipelines: make(map[string]*registryEntry),
	}
}

// Get returns the user's pipeline, initializing its location on first access.
// Concurrent first calls for the same user initialize once.
func (r *DiscoveryRegistry) Get(ctx context.Context, userID string) *DiscoveryPipeline {
	r.mu.Lock()
	now := r.now()
	r.evictIdleLocked(now)
	entry, ok := r.pipelines[userID]
	if !ok {
		entry = &registryEntry{
			pipeline: NewDiscoveryPipeline(r.locations.ForUser(userID), r.store, r.geocoder, r.log.WithUserID(userID), r.opts),
		}
		r.pipelines[userID] = entry
	}
	entry.lastAccess = now
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.pipeline.InitializeLocation(ctx)
	})
	return entry.pipeline
}

// evictIdleLocked drops sessions idle for longer than idleTTL. The map is
// swept at most every idleTTL/2.
func (r *DiscoveryRegistry) evictIdleLocked(now time.Time) {
	if r.idleTTL <= 0 || now.Sub(r.lastSweep) < r.idleTTL/2 {
		return
	}
	r.lastSweep = now
	for userID, entry := range r.pipelines {
		if now.Sub(entry.lastAccess) > r.idleTTL {
			delete(r.pipelines, userID)
			r.log.Debug("evicted idle discovery session", "user_id", userID)
		}
	}
}

// Forget drops the user's pipeline so the next Get starts over.
func (r *DiscoveryRegistry) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipelines, userID)
}

// Len reports the number of live sessions.
func (r *DiscoveryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}
