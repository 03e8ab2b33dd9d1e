package handlers

import (
	"net/http"
	"time"

	"plot-server/middleware"
	"plot-server/models"
	"plot-server/services"
)

type DiscoveryHandler struct {
	registry   *services.DiscoveryRegistry
	runTimeout time.Duration
}

func NewDiscoveryHandler(registry *services.DiscoveryRegistry, runTimeout time.Duration) *DiscoveryHandler {
	return &DiscoveryHandler{registry: registry, runTimeout: runTimeout}
}

type MapMarker struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Coordinate  models.Coordinate `json:"coordinate"`
}

type MapResponse struct {
	Seq        uint64             `json:"seq"`
	Center     models.Coordinate  `json:"center"`
	NoLocation bool               `json:"no_location"`
	UserMarker *models.Coordinate `json:"user_marker,omitempty"`
	Markers    []MapMarker        `json:"markers"`
}

type ListResponse struct {
	Seq   uint64                     `json:"seq"`
	Items []models.DiscoveredListing `json:"items"`
	Count int                        `json:"count"`
}

type searchRequest struct {
	Query string `json:"query" validate:"max=256"`
}

type toggleTagRequest struct {
	Tag string `json:"tag" validate:"required,max=64"`
}

func (h *DiscoveryHandler) pipeline(w http.ResponseWriter, r *http.Request) (*services.DiscoveryPipeline, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	ctx, cancel := detached(r, h.runTimeout)
	defer cancel()
	return h.registry.Get(ctx, userID), true
}

// GetDiscovery returns the filter state together with the current result.
func (h *DiscoveryHandler) GetDiscovery(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipeline(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *DiscoveryHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipeline(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mapView(p.Snapshot()))
}

func (h *DiscoveryHandler) GetList(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipeline(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, listView(p.Snapshot()))
}

func (h *DiscoveryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var input searchRequest
	if err := decodeBody(r, &input); err != nil {
		middleware.WriteError(w, err)
		return
	}
	p, ok := h.pipeline(w, r)
	if !ok {
		return
	}

	ctx, cancel := detached(r, h.runTimeout)
	defer cancel()
	if err := p.SearchByAddress(ctx, input.Query); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func (h *DiscoveryHandler) ToggleTag(w http.ResponseWriter, r *http.Request) {
	var input toggleTagRequest
	if err := decodeBody(r, &input); err != nil {
		middleware.WriteError(w, err)
		return
	}
	p, ok := h.pipeline(w, r)
	if !ok {
		return
	}

	ctx, cancel := detached(r, h.runTimeout)
	defer cancel()
	if err := p.ToggleTag(ctx, input.Tag); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// Refresh re-runs discovery with the current filters. Store failures are not
// reported to the client; they show up as an empty result.
func (h *DiscoveryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pipeline(w, r)
	if !ok {
		return
	}

	ctx, cancel := detached(r, h.runTimeout)
	defer cancel()
	_ = p.Refresh(ctx)
	writeJSON(w, http.StatusOK, p.Snapshot())
}

func mapView(snap models.DiscoverySnapshot) MapResponse {
	resp := MapResponse{
		Seq:        snap.Result.Seq,
		Center:     snap.State.Reference,
		NoLocation: snap.State.NoLocation,
		Markers:    make([]MapMarker, 0, len(snap.Result.Items)),
	}
	if !snap.State.NoLocation {
		center := snap.State.Reference
		resp.UserMarker = &center
	}
	for _, it := range snap.Result.Items {
		resp.Markers = append(resp.Markers, MapMarker{
			ID:          it.Listing.ID,
			Title:       it.Listing.Name,
			Description: it.Listing.Address,
			Coordinate:  it.Coordinate,
		})
	}
	return resp
}

func listView(snap models.DiscoverySnapshot) ListResponse {
	return ListResponse{
		Seq:   snap.Result.Seq,
		Items: snap.Result.Items,
		Count: len(snap.Result.Items),
	}
}
