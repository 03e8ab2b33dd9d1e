package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"plot-server/models"
)

type fakeStore struct {
	mu       sync.Mutex
	listings []models.Listing
	err      error
	anyCalls [][]string
	allCalls int
}

func (s *fakeStore) QueryAll(ctx context.Context) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allCalls++
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.listings), nil
}

func (s *fakeStore) QueryByTagsAny(ctx context.Context, tags []string) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyCalls = append(s.anyCalls, slices.Clone(tags))
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Listing
	for _, l := range s.listings {
		for _, t := range tags {
			if slices.Contains(l.Amenities, t) {
				out = append(out, l)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) FindByIDs(ctx context.Context, ids []string) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []models.Listing{}
	for _, l := range s.listings {
		if slices.Contains(ids, l.ID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) Subscribe(ctx context.Context, fn func([]models.Listing)) (func(), error) {
	listings, err := s.QueryAll(ctx)
	if err != nil {
		return nil, err
	}
	fn(listings)
	return func() {}, nil
}

// fakeGeocoder resolves addresses from a table. Unknown addresses return
// ZERO_RESULTS. Addresses listed in gates block until the gate is closed.
type fakeGeocoder struct {
	mu        sync.Mutex
	responses map[string]GeocodeResponse
	errs      map[string]error
	gates     map[string]chan struct{}
	entered   chan string
	calls     []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeGeocoder() *fakeGeocoder {
	return &fakeGeocoder{
		responses: map[string]GeocodeResponse{},
		errs:      map[string]error{},
		gates:     map[string]chan struct{}{},
	}
}

func (g *fakeGeocoder) resolve(address string, lat, lon float64) *fakeGeocoder {
	g.responses[address] = GeocodeResponse{
		Status:  GeocodeStatusOK,
		Results: []models.Coordinate{{Latitude: lat, Longitude: lon}},
	}
	return g
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (GeocodeResponse, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxInFlight.Load()
		if n <= m || g.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	g.mu.Lock()
	g.calls = append(g.calls, address)
	gate := g.gates[address]
	resp, ok := g.responses[address]
	err := g.errs[address]
	entered := g.entered
	g.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- address
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return GeocodeResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return GeocodeResponse{}, err
	}
	if !ok {
		return GeocodeResponse{Status: "ZERO_RESULTS"}, nil
	}
	return resp, nil
}

func (g *fakeGeocoder) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeLocation struct {
	granted  bool
	permErr  error
	coord    models.Coordinate
	coordErr error
}

func (f *fakeLocation) RequestPermission(ctx context.Context) (bool, error) {
	return f.granted, f.permErr
}

func (f *fakeLocation) CurrentCoordinate(ctx context.Context) (models.Coordinate, error) {
	return f.coord, f.coordErr
}

var errStoreDown = errors.New("store unavailable")
