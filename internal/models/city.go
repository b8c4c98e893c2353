package models

// Command values carried in the "command" field of every request and response.
const (
	CommandSearchCity    = "searchCity"
	CommandSearchClimate = "searchClimate"
)

// Monthly is a 12-entry series, January first.
type Monthly [12]float32

type CitySearchRequest struct {
	Command    string `json:"command"`
	Query      string `json:"query"`
	StartIndex *int   `json:"startIndex,omitempty"`
	MaxItems   *int   `json:"maxItems,omitempty"`
}

type ClimateSearchRequest struct {
	Command    string `json:"command"`
	CityID     int    `json:"cityId"`
	StartIndex *int   `json:"startIndex,omitempty"`
	MaxItems   *int   `json:"maxItems,omitempty"`
}

type CitySearchResponse struct {
	Command             string     `json:"command"`
	Items               []CityItem `json:"items"`
	ElapsedMs           float64    `json:"elapsedMs"`
	CacheHitRatePercent float64    `json:"cacheHitRatePercent"`
}

// CityItem is one city-name match. AdminUnit is null for cities without one.
type CityItem struct {
	ID          int     `json:"id"`
	Score       float32 `json:"score"`
	MatchedName string  `json:"matchedName"`
	Name        string  `json:"name"`
	Population  uint64  `json:"population"`
	AdminUnit   *string `json:"adminUnit"`
	Country     string  `json:"country"`
}

type ClimateSearchResponse struct {
	Command   string        `json:"command"`
	Items     []ClimateItem `json:"items"`
	ElapsedMs float64       `json:"elapsedMs"`
}

type ClimateItem struct {
	ID                int     `json:"id"`
	City              City    `json:"city"`
	DistanceKm        float64 `json:"distanceKm"`
	SimilarityPercent float32 `json:"similarityPercent"`
}

// City is the full city record. Names[0] is the primary name.
type City struct {
	Names            []string    `json:"names"`
	Latitude         float64     `json:"latitude"`
	Longitude        float64     `json:"longitude"`
	AdminUnit        *string     `json:"adminUnit"`
	Country          string      `json:"country"`
	Population       uint64      `json:"population"`
	Elevation        *int32      `json:"elevation"`
	Region           string      `json:"region"`
	ModificationDate string      `json:"modificationDate"` // YYYY-MM-DD
	Climate          CityClimate `json:"climate"`
}

type CityClimate struct {
	HumidityMonthly [12]*float32 `json:"humidityMonthly"`
	PptMonthly      Monthly      `json:"pptMonthly"`
	SradMonthly     Monthly      `json:"sradMonthly"`
	TmaxMonthly     Monthly      `json:"tmaxMonthly"`
	TminMonthly     Monthly      `json:"tminMonthly"`
	WsMonthly       Monthly      `json:"wsMonthly"`
}

// PrimaryName returns the first name or "" for a record without names.
func (c City) PrimaryName() string {
	if len(c.Names) == 0 {
		return ""
	}
	return c.Names[0]
}

// IntPtr is a helper for optional pagination fields.
func IntPtr(v int) *int {
	return &v
}
