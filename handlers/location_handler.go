package handlers

import (
	"net/http"
	"strconv"

	"plot-server/middleware"
	"plot-server/models"
	"plot-server/services"
	"plot-server/utils/errors"
)

type LocationHandler struct {
	locations *services.LocationService
	registry  *services.DiscoveryRegistry
}

func NewLocationHandler(locations *services.LocationService, registry *services.DiscoveryRegistry) *LocationHandler {
	return &LocationHandler{locations: locations, registry: registry}
}

type pingRequest struct {
	Lat float64 `validate:"latitude"`
	Lon float64 `validate:"longitude"`
}

// PingLocation stores the device position reported in the lat/lon query params.
func (h *LocationHandler) PingLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		middleware.WriteError(w, errors.ErrInvalidInput)
		return
	}
	if err := validate.Struct(pingRequest{Lat: lat, Lon: lon}); err != nil {
		middleware.WriteError(w, errors.ErrInvalidLocation.WithDetails(err.Error()))
		return
	}

	if err := h.locations.Ping(r.Context(), userID, models.Coordinate{Latitude: lat, Longitude: lon}); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Location updated", "user_id": userID})
}

// RevokeLocation withdraws location sharing and resets the discovery session.
func (h *LocationHandler) RevokeLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.locations.Revoke(r.Context(), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.registry.Forget(userID)
	w.WriteHeader(http.StatusNoContent)
}
