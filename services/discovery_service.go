package services

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"plot-server/models"
	apierrors "plot-server/utils/errors"
	"plot-server/utils/logger"
)

type DiscoveryOptions struct {
	Fallback    models.Coordinate
	AmenityTags []string
	// GeocodeConcurrency bounds in-flight geocode calls per run. 1 geocodes
	// listings one after another.
	GeocodeConcurrency int
}

// DiscoveryPipeline turns the filter state of one user into a geocoded,
// tag-filtered listing set. Every run gets a sequence number and only the
// most recently started run may publish its result.
type DiscoveryPipeline struct {
	location   LocationProvider
	store      ListingStore
	geocoder   Geocoder
	log        *logger.Logger
	opts       DiscoveryOptions
	vocabulary map[string]struct{}
	now        func() time.Time

	mu     sync.Mutex
	state  models.FilterState
	result models.DiscoveryResult
	seq    uint64
}

func NewDiscoveryPipeline(location LocationProvider, store ListingStore, geocoder Geocoder, log *logger.Logger, opts DiscoveryOptions) *DiscoveryPipeline {
	if opts.GeocodeConcurrency < 1 {
		opts.GeocodeConcurrency = 1
	}
	if len(opts.AmenityTags) == 0 {
		opts.AmenityTags = models.DefaultAmenityTags
	}
	vocabulary := make(map[string]struct{}, len(opts.AmenityTags))
	for _, t := range opts.AmenityTags {
		vocabulary[t] = struct{}{}
	}

	return &DiscoveryPipeline{
		location:   location,
		store:      store,
		geocoder:   geocoder,
		log:        log,
		opts:       opts,
		vocabulary: vocabulary,
		now:        time.Now,
		state: models.FilterState{
			Tags:       []string{},
			Reference:  opts.Fallback,
			NoLocation: true,
		},
		result: models.DiscoveryResult{
			Reference: opts.Fallback,
			Tags:      []string{},
			Items:     []models.DiscoveredListing{},
		},
	}
}

// InitializeLocation resolves the reference coordinate from the location
// provider, falling back to the configured default when permission is
// denied or the lookup fails, then runs discovery.
func (p *DiscoveryPipeline) InitializeLocation(ctx context.Context) models.Coordinate {
	ref, ok := p.currentLocation(ctx)

	p.mu.Lock()
	p.state.Reference = ref
	p.state.NoLocation = !ok
	tags := slices.Clone(p.state.Tags)
	seq := p.nextSeqLocked()
	p.mu.Unlock()

	p.runAndLog(ctx, seq, ref, tags)
	return ref
}

func (p *DiscoveryPipeline) currentLocation(ctx context.Context) (models.Coordinate, bool) {
	granted, err := p.location.RequestPermission(ctx)
	if err != nil {
		p.log.Warn("location permission check failed, using fallback", "error", err)
		return p.opts.Fallback, false
	}
	if !granted {
		p.log.Info("location permission denied, using fallback")
		return p.opts.Fallback, false
	}

	coord, err := p.location.CurrentCoordinate(ctx)
	if err != nil {
		p.log.Warn("location lookup failed, using fallback", "error", err)
		return p.opts.Fallback, false
	}
	return coord, true
}

// RunDiscovery queries, filters and geocodes listings for ref and tags, then
// publishes the result unless a newer run has started meanwhile. A store
// failure publishes an empty result and is returned for logging.
func (p *DiscoveryPipeline) RunDiscovery(ctx context.Context, ref models.Coordinate, tags []string) (models.DiscoveryResult, error) {
	p.mu.Lock()
	seq := p.nextSeqLocked()
	p.mu.Unlock()

	return p.run(ctx, seq, ref, tags)
}

// nextSeqLocked starts a new run. Callers hold p.mu and take the sequence
// number in the same critical section that changes or reads the filter
// state, so run order follows state order.
func (p *DiscoveryPipeline) nextSeqLocked() uint64 {
	p.seq++
	return p.seq
}

func (p *DiscoveryPipeline) run(ctx context.Context, seq uint64, ref models.Coordinate, tags []string) (models.DiscoveryResult, error) {
	tags = normalizeTags(tags)

	result := models.DiscoveryResult{
		Seq:       seq,
		Reference: ref,
		Tags:      tags,
		Items:     []models.DiscoveredListing{},
	}

	listings, err := p.query(ctx, tags)
	if err != nil {
		p.log.Error("listing query failed", "seq", seq, "error", err)
		result.GeneratedAt = p.now()
		p.publish(result)
		return result, err
	}

	matched := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if l.HasAllAmenities(tags) {
			matched = append(matched, l)
		}
	}

	result.Items = p.resolve(ctx, ref, matched)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.GeneratedAt = p.now()
	p.publish(result)
	return result, nil
}

func (p *DiscoveryPipeline) query(ctx context.Context, tags []string) ([]models.Listing, error) {
	if len(tags) == 0 {
		return p.store.QueryAll(ctx)
	}
	return p.store.QueryByTagsAny(ctx, tags)
}

// resolve geocodes each listing, keeping store order and dropping listings
// whose address does not resolve.
func (p *DiscoveryPipeline) resolve(ctx context.Context, ref models.Coordinate, listings []models.Listing) []models.DiscoveredListing {
	slots := make([]*models.DiscoveredListing, len(listings))

	var g errgroup.Group
	g.SetLimit(p.opts.GeocodeConcurrency)
	for i, l := range listings {
		i, l := i, l
		if strings.TrimSpace(l.Address) == "" {
			p.log.Debug("listing has no address, skipping", "listing_id", l.ID)
			continue
		}
		g.Go(func() error {
			coord, ok := p.geocodeListing(ctx, l)
			if ok {
				slots[i] = &models.DiscoveredListing{
					Listing:    l,
					Coordinate: coord,
					DistanceKm: ref.DistanceKm(coord),
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	items := make([]models.DiscoveredListing, 0, len(listings))
	for _, s := range slots {
		if s != nil {
			items = append(items, *s)
		}
	}
	return items
}

func (p *DiscoveryPipeline) geocodeListing(ctx context.Context, l models.Listing) (models.Coordinate, bool) {
	resp, err := p.geocoder.Geocode(ctx, l.Address)
	if err != nil {
		p.log.Warn("could not geocode listing address",
			slog.String("listing_id", l.ID), slog.String("address", l.Address), slog.String("error", err.Error()))
		return models.Coordinate{}, false
	}
	coord, ok := resp.Resolved()
	if !ok {
		p.log.Warn("could not geocode listing address",
			slog.String("listing_id", l.ID), slog.String("address", l.Address), slog.String("status", resp.Status))
		return models.Coordinate{}, false
	}
	return coord, true
}

func (p *DiscoveryPipeline) publish(result models.DiscoveryResult) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if result.Seq != p.seq {
		p.log.Debug("discarding superseded discovery result", "seq", result.Seq, "latest", p.seq)
		return false
	}
	p.result = result
	return true
}

func (p *DiscoveryPipeline) runAndLog(ctx context.Context, seq uint64, ref models.Coordinate, tags []string) {
	if _, err := p.run(ctx, seq, ref, tags); err != nil {
		p.log.Warn("discovery run failed", "error", err)
	}
}

// SearchByAddress moves the reference coordinate to the geocoded query and
// re-runs discovery with the current tags. On failure state is unchanged.
func (p *DiscoveryPipeline) SearchByAddress(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return apierrors.ErrEmptySearchQuery
	}

	resp, err := p.geocoder.Geocode(ctx, query)
	if err != nil {
		p.log.Error("address search failed", "query", query, "error", err)
		return apierrors.ErrSearchFailed.WithDetails(err.Error())
	}
	coord, ok := resp.Resolved()
	if !ok {
		return apierrors.ErrAddressNotFound.WithDetails(resp.Status)
	}

	p.mu.Lock()
	p.state.Reference = coord
	p.state.SearchQuery = query
	p.state.NoLocation = false
	tags := slices.Clone(p.state.Tags)
	seq := p.nextSeqLocked()
	p.mu.Unlock()

	p.runAndLog(ctx, seq, coord, tags)
	return nil
}

// ToggleTag adds tag to the selection, or removes it if already selected,
// and re-runs discovery with the unchanged reference coordinate.
func (p *DiscoveryPipeline) ToggleTag(ctx context.Context, tag string) error {
	if _, ok := p.vocabulary[tag]; !ok {
		return apierrors.ErrUnknownTag.WithDetails(tag)
	}

	p.mu.Lock()
	if i := slices.Index(p.state.Tags, tag); i >= 0 {
		p.state.Tags = slices.Delete(slices.Clone(p.state.Tags), i, i+1)
	} else {
		p.state.Tags = normalizeTags(append(slices.Clone(p.state.Tags), tag))
	}
	ref := p.state.Reference
	tags := slices.Clone(p.state.Tags)
	seq := p.nextSeqLocked()
	p.mu.Unlock()

	p.runAndLog(ctx, seq, ref, tags)
	return nil
}

// Refresh re-runs discovery with the current filter state.
func (p *DiscoveryPipeline) Refresh(ctx context.Context) error {
	p.mu.Lock()
	ref := p.state.Reference
	tags := slices.Clone(p.state.Tags)
	seq := p.nextSeqLocked()
	p.mu.Unlock()

	_, err := p.run(ctx, seq, ref, tags)
	return err
}

// Snapshot returns copies of the filter state and the published result.
func (p *DiscoveryPipeline) Snapshot() models.DiscoverySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.state
	state.Tags = slices.Clone(p.state.Tags)
	result := p.result
	result.Tags = slices.Clone(p.result.Tags)
	result.Items = slices.Clone(p.result.Items)
	return models.DiscoverySnapshot{State: state, Result: result}
}

// AmenityTags returns the tag vocabulary this pipeline accepts.
func (p *DiscoveryPipeline) AmenityTags() []string {
	return slices.Clone(p.opts.AmenityTags)
}

// normalizeTags returns a sorted copy without duplicates, never nil.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	out = append(out, tags...)
	slices.Sort(out)
	return slices.Compact(out)
}
