package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"plot-server/middleware"
	"plot-server/utils/logger"
)

type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	Log            *logger.Logger
}

func NewRouter(cfg RouterConfig, discovery *DiscoveryHandler, location *LocationHandler, listings *ListingHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.ErrorMiddleware())
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/tags", listings.GetTags).Methods("GET", "OPTIONS")

	auth := middleware.JWTMiddleware(cfg.JWTSecret)

	// Location routes
	locationRouter := r.PathPrefix("/location").Subrouter()
	locationRouter.Use(auth)
	locationRouter.HandleFunc("/ping", location.PingLocation).Methods("POST", "OPTIONS")
	locationRouter.HandleFunc("", location.RevokeLocation).Methods("DELETE", "OPTIONS")

	// Discovery routes
	discoveryRouter := r.PathPrefix("/discovery").Subrouter()
	discoveryRouter.Use(auth)
	discoveryRouter.HandleFunc("", discovery.GetDiscovery).Methods("GET", "OPTIONS")
	discoveryRouter.HandleFunc("/map", discovery.GetMap).Methods("GET", "OPTIONS")
	discoveryRouter.HandleFunc("/list", discovery.GetList).Methods("GET", "OPTIONS")
	discoveryRouter.HandleFunc("/search", discovery.Search).Methods("POST", "OPTIONS")
	discoveryRouter.HandleFunc("/tags/toggle", discovery.ToggleTag).Methods("POST", "OPTIONS")
	discoveryRouter.HandleFunc("/refresh", discovery.Refresh).Methods("POST", "OPTIONS")

	// Listing routes
	listingRouter := r.PathPrefix("/listings").Subrouter()
	listingRouter.Use(auth)
	listingRouter.HandleFunc("", listings.GetListings).Methods("GET", "OPTIONS")
	listingRouter.HandleFunc("/stream", listings.StreamListings).Methods("GET", "OPTIONS")
	listingRouter.HandleFunc("/{id}/save", listings.ToggleSaved).Methods("POST", "OPTIONS")

	savedRouter := r.PathPrefix("/saved").Subrouter()
	savedRouter.Use(auth)
	savedRouter.HandleFunc("", listings.GetSaved).Methods("GET", "OPTIONS")

	return r
}
