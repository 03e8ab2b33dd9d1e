package models

// Listing is one rentable garden plot as stored in the listings collection.
type Listing struct {
	ID               string   `json:"id" bson:"_id,omitempty"`
	Name             string   `json:"name" bson:"name"`
	Location         string   `json:"location" bson:"location"`
	Address          string   `json:"address" bson:"address"`
	Description      string   `json:"description" bson:"description"`
	Price            float64  `json:"price" bson:"price"`
	Amenities        []string `json:"amenities" bson:"amenities"`
	SoilType         string   `json:"soil_type" bson:"soil_type"`
	SunlightExposure string   `json:"sunlight_exposure" bson:"sunlight_exposure"`
	Availability     string   `json:"availability" bson:"availability"`
	ToolsIncluded    string   `json:"tools_included" bson:"tools_included"`
	HostName         string   `json:"host_name" bson:"host_name"`
	HostEmail        string   `json:"host_email" bson:"host_email"`
	MediumURL        string   `json:"medium_url" bson:"medium_url"`
}

// HasAllAmenities reports whether every tag is among the listing's amenities.
// An empty tag set always matches.
func (l Listing) HasAllAmenities(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(l.Amenities))
	for _, a := range l.Amenities {
		have[a] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// DefaultAmenityTags is the filter vocabulary offered to clients.
var DefaultAmenityTags = []string{"Water Access", "Fenced", "Mulch", "Road Access"}
