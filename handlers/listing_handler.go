package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"plot-server/middleware"
	"plot-server/models"
	"plot-server/services"
	"plot-server/utils/errors"
	"plot-server/utils/logger"
)

type ListingHandler struct {
	store       services.ListingStore
	saved       *services.SavedService
	amenityTags []string
	log         *logger.Logger
}

func NewListingHandler(store services.ListingStore, saved *services.SavedService, amenityTags []string, log *logger.Logger) *ListingHandler {
	return &ListingHandler{store: store, saved: saved, amenityTags: amenityTags, log: log}
}

type ListingsResponse struct {
	Listings []models.Listing `json:"listings"`
	Count    int              `json:"count"`
}

func (h *ListingHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tags": h.amenityTags})
}

func (h *ListingHandler) GetListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.store.QueryAll(r.Context())
	if err != nil {
		h.log.WithContext(r.Context()).DatabaseError("query_listings", err)
		middleware.WriteError(w, errors.Wrap(err, "DB_ERROR", "Failed to load listings", http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, ListingsResponse{Listings: listings, Count: len(listings)})
}

// StreamListings pushes the full listing set as a Server-Sent Event whenever
// the collection changes. The subscription lives as long as the connection.
func (h *ListingHandler) StreamListings(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteError(w, errors.NewAPIError("STREAMING_UNSUPPORTED", "Streaming not supported", http.StatusInternalServerError))
		return
	}

	ctx := r.Context()
	stop := make(chan struct{})
	updates := make(chan []models.Listing, 1)
	cancel, err := h.store.Subscribe(ctx, func(listings []models.Listing) {
		select {
		case updates <- listings:
		case <-stop:
		case <-ctx.Done():
		}
	})
	if err != nil {
		h.log.WithContext(ctx).DatabaseError("subscribe_listings", err)
		middleware.WriteError(w, errors.Wrap(err, "SUBSCRIBE_FAILED", "Live updates unavailable", http.StatusServiceUnavailable))
		return
	}
	defer cancel()
	defer close(stop)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case listings := <-updates:
			payload, err := json.Marshal(ListingsResponse{Listings: listings, Count: len(listings)})
			if err != nil {
				h.log.Error("failed to encode listings event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: listings\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *ListingHandler) ToggleSaved(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	listingID := mux.Vars(r)["id"]
	if listingID == "" {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}

	saved, err := h.saved.Toggle(r.Context(), userID, listingID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": listingID, "saved": saved})
}

func (h *ListingHandler) GetSaved(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	listings, err := h.saved.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListingsResponse{Listings: listings, Count: len(listings)})
}
