package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plot-server/models"
	apierrors "plot-server/utils/errors"
	"plot-server/utils/logger"
)

var calgary = models.Coordinate{Latitude: 51.0447, Longitude: -114.0719}

func newTestPipeline(store ListingStore, geo Geocoder, loc LocationProvider, concurrency int) *DiscoveryPipeline {
	return NewDiscoveryPipeline(loc, store, geo, logger.Discard(), DiscoveryOptions{
		Fallback:           calgary,
		AmenityTags:        models.DefaultAmenityTags,
		GeocodeConcurrency: concurrency,
	})
}

func ids(items []models.DiscoveredListing) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Listing.ID)
	}
	return out
}

func scenarioStore() *fakeStore {
	return &fakeStore{listings: []models.Listing{
		{ID: "A", Name: "A", Address: "X", Amenities: []string{"Water Access"}},
		{ID: "B", Name: "B", Address: "Y", Amenities: []string{"Water Access", "Fenced"}},
	}}
}

func TestRunDiscovery_RequiresAllSelectedTags(t *testing.T) {
	geo := newFakeGeocoder().resolve("X", 51.0, -114.0).resolve("Y", 51.1, -114.1)
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)

	result, err := p.RunDiscovery(context.Background(), calgary, []string{"Water Access", "Fenced"})
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, ids(result.Items))
	assert.Equal(t, []string{"Y"}, geo.calls, "A is filtered before geocoding")
	assert.InDelta(t, 51.1, result.Items[0].Coordinate.Latitude, 1e-9)
}

func TestRunDiscovery_UsesAnyPredicateThenRefines(t *testing.T) {
	store := scenarioStore()
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2)
	p := newTestPipeline(store, geo, &fakeLocation{}, 1)

	_, err := p.RunDiscovery(context.Background(), calgary, []string{"Fenced", "Water Access"})
	require.NoError(t, err)
	_, err = p.RunDiscovery(context.Background(), calgary, nil)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Fenced", "Water Access"}}, store.anyCalls)
	assert.Equal(t, 1, store.allCalls)
}

func TestRunDiscovery_DropsUnresolvedAddresses(t *testing.T) {
	store := &fakeStore{listings: []models.Listing{
		{ID: "1", Address: "X", Amenities: []string{"Mulch"}},
		{ID: "2", Address: "Y", Amenities: []string{"Mulch"}},
		{ID: "3", Address: "Z", Amenities: []string{"Mulch"}},
		{ID: "4", Address: "W", Amenities: []string{"Mulch"}},
	}}
	geo := newFakeGeocoder().resolve("Y", 1, 1).resolve("W", 3, 3)
	geo.responses["X"] = GeocodeResponse{Status: "ZERO_RESULTS"}
	geo.responses["Z"] = GeocodeResponse{Status: GeocodeStatusOK}
	p := newTestPipeline(store, geo, &fakeLocation{}, 1)

	result, err := p.RunDiscovery(context.Background(), calgary, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "4"}, ids(result.Items))
	assert.Equal(t, []string{"X", "Y", "Z", "W"}, geo.calls, "each address tried once, in order")
}

func TestRunDiscovery_GeocodeErrorIsPerListing(t *testing.T) {
	geo := newFakeGeocoder().resolve("Y", 1, 1)
	geo.errs["X"] = fmt.Errorf("connection reset")
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)

	result, err := p.RunDiscovery(context.Background(), calgary, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ids(result.Items))
}

func TestRunDiscovery_SkipsEmptyAddressWithoutGeocoding(t *testing.T) {
	store := &fakeStore{listings: []models.Listing{
		{ID: "1", Address: "   "},
		{ID: "2", Address: "Y"},
	}}
	geo := newFakeGeocoder().resolve("Y", 1, 1)
	p := newTestPipeline(store, geo, &fakeLocation{}, 1)

	result, err := p.RunDiscovery(context.Background(), calgary, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(result.Items))
	assert.Equal(t, 1, geo.callCount())
}

func TestRunDiscovery_StoreFailurePublishesEmptyResult(t *testing.T) {
	store := scenarioStore()
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2)
	p := newTestPipeline(store, geo, &fakeLocation{}, 1)

	_, err := p.RunDiscovery(context.Background(), calgary, nil)
	require.NoError(t, err)
	require.Len(t, p.Snapshot().Result.Items, 2)

	store.err = errStoreDown
	_, err = p.RunDiscovery(context.Background(), calgary, nil)
	assert.ErrorIs(t, err, errStoreDown)

	snap := p.Snapshot()
	assert.Empty(t, snap.Result.Items)
	assert.EqualValues(t, 2, snap.Result.Seq)
}

func TestRunDiscovery_SupersetProperty(t *testing.T) {
	vocab := models.DefaultAmenityTags
	var listings []models.Listing
	geo := newFakeGeocoder()
	// every subset of the vocabulary as one listing
	for mask := 0; mask < 1<<len(vocab); mask++ {
		var amenities []string
		for i, tag := range vocab {
			if mask&(1<<i) != 0 {
				amenities = append(amenities, tag)
			}
		}
		addr := fmt.Sprintf("addr-%d", mask)
		listings = append(listings, models.Listing{ID: fmt.Sprint(mask), Address: addr, Amenities: amenities})
		geo.resolve(addr, float64(mask), 0)
	}
	store := &fakeStore{listings: listings}
	p := newTestPipeline(store, geo, &fakeLocation{}, 3)

	for mask := 0; mask < 1<<len(vocab); mask++ {
		var selected []string
		for i, tag := range vocab {
			if mask&(1<<i) != 0 {
				selected = append(selected, tag)
			}
		}
		result, err := p.RunDiscovery(context.Background(), calgary, selected)
		require.NoError(t, err)

		want := 0
		for _, l := range listings {
			if l.HasAllAmenities(selected) {
				want++
			}
		}
		assert.Len(t, result.Items, want, "selected %v", selected)
		for _, it := range result.Items {
			assert.Subset(t, it.Listing.Amenities, selected)
		}
	}
}

func TestRunDiscovery_Idempotent(t *testing.T) {
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2)
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)

	first, err := p.RunDiscovery(context.Background(), calgary, []string{"Water Access"})
	require.NoError(t, err)
	second, err := p.RunDiscovery(context.Background(), calgary, []string{"Water Access"})
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, []string{"A", "B"}, ids(second.Items))
}

func TestRunDiscovery_FanOutPreservesOrder(t *testing.T) {
	var listings []models.Listing
	geo := newFakeGeocoder()
	for i := 0; i < 12; i++ {
		addr := fmt.Sprintf("addr-%02d", i)
		listings = append(listings, models.Listing{ID: fmt.Sprint(i), Address: addr})
		if i%3 != 0 {
			geo.resolve(addr, float64(i), 0)
		}
	}
	p := newTestPipeline(&fakeStore{listings: listings}, geo, &fakeLocation{}, 4)

	result, err := p.RunDiscovery(context.Background(), calgary, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "4", "5", "7", "8", "10", "11"}, ids(result.Items))
	assert.LessOrEqual(t, geo.maxInFlight.Load(), int32(4))
}

func TestRunDiscovery_SequentialByDefault(t *testing.T) {
	var listings []models.Listing
	geo := newFakeGeocoder()
	for i := 0; i < 5; i++ {
		addr := fmt.Sprintf("addr-%d", i)
		listings = append(listings, models.Listing{ID: fmt.Sprint(i), Address: addr})
		geo.resolve(addr, 1, 1)
	}
	p := newTestPipeline(&fakeStore{listings: listings}, geo, &fakeLocation{}, 0)

	_, err := p.RunDiscovery(context.Background(), calgary, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, geo.maxInFlight.Load())
	assert.Equal(t, []string{"addr-0", "addr-1", "addr-2", "addr-3", "addr-4"}, geo.calls)
}

func TestRunDiscovery_SupersededRunIsDiscarded(t *testing.T) {
	store := &fakeStore{listings: []models.Listing{
		{ID: "slow", Address: "slow", Amenities: []string{"Mulch"}},
		{ID: "fast", Address: "fast", Amenities: []string{"Fenced"}},
	}}
	geo := newFakeGeocoder().resolve("slow", 1, 1).resolve("fast", 2, 2)
	gate := make(chan struct{})
	geo.gates["slow"] = gate
	geo.entered = make(chan string, 1)
	p := newTestPipeline(store, geo, &fakeLocation{}, 1)

	done := make(chan models.DiscoveryResult)
	go func() {
		r, _ := p.RunDiscovery(context.Background(), calgary, nil)
		done <- r
	}()
	<-geo.entered

	newer, err := p.RunDiscovery(context.Background(), calgary, []string{"Fenced"})
	require.NoError(t, err)
	close(gate)
	older := <-done

	assert.EqualValues(t, 1, older.Seq)
	assert.Equal(t, []string{"slow", "fast"}, ids(older.Items))

	snap := p.Snapshot()
	assert.Equal(t, newer.Seq, snap.Result.Seq)
	assert.Equal(t, []string{"fast"}, ids(snap.Result.Items))
}

func TestToggleTag_ConcurrentTogglesPublishLatestState(t *testing.T) {
	store := &fakeStore{listings: []models.Listing{
		{ID: "m", Address: "M", Amenities: []string{"Mulch"}},
		{ID: "f", Address: "F", Amenities: []string{"Fenced"}},
		{ID: "mf", Address: "MF", Amenities: []string{"Mulch", "Fenced"}},
	}}
	geo := newFakeGeocoder().resolve("M", 1, 1).resolve("F", 2, 2).resolve("MF", 3, 3)

	for i := 0; i < 500; i++ {
		p := newTestPipeline(store, geo, &fakeLocation{}, 1)

		var wg sync.WaitGroup
		for _, tag := range []string{"Mulch", "Fenced"} {
			tag := tag
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, p.ToggleTag(context.Background(), tag))
			}()
		}
		wg.Wait()

		snap := p.Snapshot()
		require.Equal(t, []string{"Fenced", "Mulch"}, snap.State.Tags)
		require.Equal(t, snap.State.Tags, snap.Result.Tags, "iteration %d", i)
		require.Equal(t, []string{"mf"}, ids(snap.Result.Items), "iteration %d", i)
	}
}

func TestToggleTag_SlowEarlierToggleDoesNotOverwrite(t *testing.T) {
	store := &fakeStore{listings: []models.Listing{
		{ID: "m", Address: "slow", Amenities: []string{"Mulch"}},
		{ID: "mf", Address: "MF", Amenities: []string{"Mulch", "Fenced"}},
	}}
	geo := newFakeGeocoder().resolve("slow", 1, 1).resolve("MF", 3, 3)
	gate := make(chan struct{})
	geo.gates["slow"] = gate
	geo.entered = make(chan string, 1)
	p := newTestPipeline(store, geo, &fakeLocation{}, 1)

	done := make(chan error)
	go func() { done <- p.ToggleTag(context.Background(), "Mulch") }()
	<-geo.entered

	require.NoError(t, p.ToggleTag(context.Background(), "Fenced"))
	close(gate)
	require.NoError(t, <-done)

	snap := p.Snapshot()
	assert.Equal(t, []string{"Fenced", "Mulch"}, snap.Result.Tags)
	assert.Equal(t, []string{"mf"}, ids(snap.Result.Items))
}

func TestInitializeLocation_Granted(t *testing.T) {
	here := models.Coordinate{Latitude: 49.28, Longitude: -123.12}
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2)
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{granted: true, coord: here}, 1)

	ref := p.InitializeLocation(context.Background())

	snap := p.Snapshot()
	assert.Equal(t, here, ref)
	assert.False(t, snap.State.NoLocation)
	assert.Equal(t, here, snap.Result.Reference)
	assert.Len(t, snap.Result.Items, 2, "initialization runs discovery")
}

func TestInitializeLocation_FallsBack(t *testing.T) {
	cases := map[string]*fakeLocation{
		"denied":           {granted: false},
		"permission error": {permErr: fmt.Errorf("boom")},
		"lookup error":     {granted: true, coordErr: ErrNoLocation},
	}
	for name, loc := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestPipeline(scenarioStore(), newFakeGeocoder(), loc, 1)

			ref := p.InitializeLocation(context.Background())

			snap := p.Snapshot()
			assert.Equal(t, calgary, ref)
			assert.True(t, snap.State.NoLocation)
			assert.EqualValues(t, 1, snap.Result.Seq)
		})
	}
}

func TestSearchByAddress_EmptyQueryMakesNoCall(t *testing.T) {
	geo := newFakeGeocoder()
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)

	for _, q := range []string{"", "   ", "\t\n"} {
		err := p.SearchByAddress(context.Background(), q)
		assert.ErrorIs(t, err, apierrors.ErrEmptySearchQuery)
	}
	assert.Zero(t, geo.callCount())
	assert.Zero(t, p.Snapshot().Result.Seq, "no discovery run")
}

func TestSearchByAddress_Success(t *testing.T) {
	target := models.Coordinate{Latitude: 53.54, Longitude: -113.49}
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2).resolve("Edmonton", target.Latitude, target.Longitude)
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)
	require.NoError(t, p.ToggleTag(context.Background(), "Fenced"))

	require.NoError(t, p.SearchByAddress(context.Background(), "  Edmonton "))

	snap := p.Snapshot()
	assert.Equal(t, target, snap.State.Reference)
	assert.Equal(t, "Edmonton", snap.State.SearchQuery)
	assert.False(t, snap.State.NoLocation)
	assert.Equal(t, target, snap.Result.Reference)
	assert.Equal(t, []string{"Fenced"}, snap.Result.Tags, "existing filter kept")
	assert.Equal(t, []string{"B"}, ids(snap.Result.Items))
}

func TestSearchByAddress_NotFoundLeavesStateUnchanged(t *testing.T) {
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2)
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)
	p.InitializeLocation(context.Background())
	before := p.Snapshot()

	err := p.SearchByAddress(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, apierrors.ErrAddressNotFound)

	assert.Equal(t, before, p.Snapshot())
}

func TestSearchByAddress_TransportError(t *testing.T) {
	geo := newFakeGeocoder()
	geo.errs["Calgary"] = fmt.Errorf("dial tcp: timeout")
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)

	err := p.SearchByAddress(context.Background(), "Calgary")
	assert.ErrorIs(t, err, apierrors.ErrSearchFailed)
}

func TestToggleTag_TwiceRestores(t *testing.T) {
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2)
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)
	ctx := context.Background()
	require.NoError(t, p.ToggleTag(ctx, "Water Access"))
	before := p.Snapshot()

	require.NoError(t, p.ToggleTag(ctx, "Fenced"))
	mid := p.Snapshot()
	assert.Equal(t, []string{"Fenced", "Water Access"}, mid.State.Tags)
	assert.Equal(t, []string{"B"}, ids(mid.Result.Items))

	require.NoError(t, p.ToggleTag(ctx, "Fenced"))
	after := p.Snapshot()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Result.Items, after.Result.Items)
	assert.Equal(t, before.State.Reference, after.Result.Reference, "reference unchanged by toggles")
}

func TestToggleTag_UnknownTag(t *testing.T) {
	p := newTestPipeline(scenarioStore(), newFakeGeocoder(), &fakeLocation{}, 1)

	err := p.ToggleTag(context.Background(), "Hot Tub")
	assert.ErrorIs(t, err, apierrors.ErrUnknownTag)
	assert.Empty(t, p.Snapshot().State.Tags)
}

func TestSnapshot_IsACopy(t *testing.T) {
	geo := newFakeGeocoder().resolve("X", 1, 1).resolve("Y", 2, 2)
	p := newTestPipeline(scenarioStore(), geo, &fakeLocation{}, 1)
	require.NoError(t, p.ToggleTag(context.Background(), "Mulch"))

	snap := p.Snapshot()
	snap.State.Tags[0] = "changed"

	assert.Equal(t, []string{"Mulch"}, p.Snapshot().State.Tags)
}
