package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"plot-server/models"
	"plot-server/utils/logger"
)

// GeocodeStatusOK is the only status that carries usable results.
const GeocodeStatusOK = "OK"

// GeocodeResponse is the outcome of one geocode call. Quota and rate-limit
// problems arrive as a non-OK Status, not as an error.
type GeocodeResponse struct {
	Status  string
	Results []models.Coordinate
}

// Resolved returns the first result when the response is usable.
func (r GeocodeResponse) Resolved() (models.Coordinate, bool) {
	if r.Status != GeocodeStatusOK || len(r.Results) == 0 {
		return models.Coordinate{}, false
	}
	return r.Results[0], true
}

// Geocoder converts a free-text address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (GeocodeResponse, error)
}

// GoogleGeocoder calls the Google Geocoding JSON API.
type GoogleGeocoder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewGoogleGeocoder(baseURL, apiKey string, rps float64, log *logger.Logger) *GoogleGeocoder {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &GoogleGeocoder{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

type googleGeocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (GeocodeResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return GeocodeResponse{}, err
	}

	params := url.Values{}
	params.Add("address", address)
	params.Add("key", g.apiKey)
	reqURL := fmt.Sprintf("%s/maps/api/geocode/json?%s", g.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return GeocodeResponse{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("geocode request failed", "error", err)
		return GeocodeResponse{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		g.log.Error("geocode upstream error", "status", resp.StatusCode)
		return GeocodeResponse{}, fmt.Errorf("upstream api error: %d", resp.StatusCode)
	}

	var raw googleGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		g.log.Error("failed to decode geocode payload", "error", err)
		return GeocodeResponse{}, err
	}
	if raw.Status != GeocodeStatusOK && raw.ErrorMessage != "" {
		g.log.Warn("geocode rejected", "status", raw.Status, "message", raw.ErrorMessage)
	}

	out := GeocodeResponse{Status: raw.Status, Results: make([]models.Coordinate, 0, len(raw.Results))}
	for _, r := range raw.Results {
		out.Results = append(out.Results, models.Coordinate{
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
		})
	}
	return out, nil
}
