package models

import "time"

// FilterState holds the inputs of a discovery run plus the last submitted search.
type FilterState struct {
	Tags        []string   `json:"tags"`
	SearchQuery string     `json:"search_query,omitempty"`
	Reference   Coordinate `json:"reference"`
	NoLocation  bool       `json:"no_location"` // reference is the fallback coordinate
}

// DiscoveredListing is a listing whose address resolved to a coordinate.
type DiscoveredListing struct {
	Listing    Listing    `json:"listing"`
	Coordinate Coordinate `json:"coordinate"`
	DistanceKm float64    `json:"distance_km"`
}

// DiscoveryResult is the output of one discovery run. It is replaced wholesale by the next run.
type DiscoveryResult struct {
	Seq         uint64              `json:"seq"`
	Reference   Coordinate          `json:"reference"`
	Tags        []string            `json:"tags"`
	Items       []DiscoveredListing `json:"items"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// DiscoverySnapshot is what the map and list views render from.
type DiscoverySnapshot struct {
	State  FilterState     `json:"state"`
	Result DiscoveryResult `json:"result"`
}
