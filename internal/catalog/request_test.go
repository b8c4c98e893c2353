package catalog

import (
	"errors"
	"testing"

	"github.com/kjstillabower/city-search-client/internal/models"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantCommand string
		wantErr     error
	}{
		{"city", `{"command":"searchCity","query":"Tokyo","maxItems":3}`, models.CommandSearchCity, nil},
		{"city empty query", `{"command":"searchCity","query":""}`, models.CommandSearchCity, nil},
		{"climate", `{"command":"searchClimate","cityId":14823}`, models.CommandSearchClimate, nil},
		{"unknown fields ignored", `{"command":"searchCity","query":"a","extra":1}`, models.CommandSearchCity, nil},
		{"missing query", `{"command":"searchCity"}`, "", ErrMalformedRequest},
		{"missing city id", `{"command":"searchClimate"}`, "", ErrMalformedRequest},
		{"wrong type", `{"command":"searchClimate","cityId":"abc"}`, "", ErrMalformedRequest},
		{"missing command", `{"query":"Tokyo"}`, "", ErrMalformedRequest},
		{"unknown command", `{"command":"searchWeather"}`, "", ErrUnknownCommand},
		{"not json", `Tokyo`, "", ErrMalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest() error = %v", err)
			}
			if got := req.Command(); got != tt.wantCommand {
				t.Errorf("Command() = %q, want %q", got, tt.wantCommand)
			}
		})
	}
}

func TestParseRequest_PaginationPassThrough(t *testing.T) {
	req, err := ParseRequest([]byte(`{"command":"searchCity","query":"reykjavik","startIndex":1,"maxItems":2}`))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.City == nil || req.City.StartIndex == nil || *req.City.StartIndex != 1 || req.City.MaxItems == nil || *req.City.MaxItems != 2 {
		t.Errorf("City = %+v, want startIndex 1 maxItems 2", req.City)
	}

	req, err = ParseRequest([]byte(`{"command":"searchClimate","cityId":16709}`))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Climate.StartIndex != nil || req.Climate.MaxItems != nil {
		t.Errorf("Climate = %+v, want omitted pagination to stay nil", req.Climate)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line        string
		wantCity    string
		wantClimate int
		isClimate   bool
		wantErr     bool
	}{
		{line: "Tokyo", wantCity: "Tokyo"},
		{line: "  paris texas ", wantCity: "paris texas"},
		{line: "14823", wantClimate: 14823, isClimate: true},
		{line: `{"command":"searchClimate","cityId":7}`, wantClimate: 7, isClimate: true},
		{line: `{"command":"searchCity"`, wantErr: true},
		{line: `{"command":"nope"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			req, err := ParseCommand(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseCommand(%q) expected error, got %+v", tt.line, req)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q) error = %v", tt.line, err)
			}
			if tt.isClimate {
				if req.Climate == nil || req.Climate.CityID != tt.wantClimate {
					t.Errorf("ParseCommand(%q) = %+v, want climate search for %d", tt.line, req, tt.wantClimate)
				}
				return
			}
			if req.City == nil || req.City.Query != tt.wantCity {
				t.Errorf("ParseCommand(%q) = %+v, want city search for %q", tt.line, req, tt.wantCity)
			}
		})
	}
}

func TestHandle(t *testing.T) {
	c := loadCatalog(t)

	resp, err := c.Handle(Request{City: &models.CitySearchRequest{Query: "Munich"}})
	if err != nil {
		t.Fatalf("Handle(city) error = %v", err)
	}
	if city, ok := resp.(models.CitySearchResponse); !ok || len(city.Items) == 0 {
		t.Errorf("Handle(city) = %#v, want CitySearchResponse with items", resp)
	}

	resp, err = c.Handle(Request{Climate: &models.ClimateSearchRequest{CityID: 14823}})
	if err != nil {
		t.Fatalf("Handle(climate) error = %v", err)
	}
	if _, ok := resp.(models.ClimateSearchResponse); !ok {
		t.Errorf("Handle(climate) = %#v, want ClimateSearchResponse", resp)
	}

	if _, err := c.Handle(Request{}); !errors.Is(err, ErrMalformedRequest) {
		t.Errorf("Handle(empty) error = %v, want ErrMalformedRequest", err)
	}
}

func TestRequest_CacheKey(t *testing.T) {
	zero, ten, five := 0, 10, 5

	omitted := Request{City: &models.CitySearchRequest{Query: "Paris"}}
	explicit := Request{City: &models.CitySearchRequest{Query: " Paris ", StartIndex: &zero, MaxItems: &ten}}
	if omitted.CacheKey() != explicit.CacheKey() {
		t.Errorf("CacheKey differs for default pagination: %q vs %q", omitted.CacheKey(), explicit.CacheKey())
	}

	other := Request{City: &models.CitySearchRequest{Query: "Paris", MaxItems: &five}}
	if other.CacheKey() == omitted.CacheKey() {
		t.Error("CacheKey equal for different maxItems")
	}

	climate := Request{Climate: &models.ClimateSearchRequest{CityID: 14823}}
	if climate.CacheKey() == "" || climate.CacheKey() == omitted.CacheKey() {
		t.Errorf("climate CacheKey = %q, want distinct non-empty key", climate.CacheKey())
	}

	if got := (Request{}).CacheKey(); got != "" {
		t.Errorf("empty request CacheKey = %q, want empty", got)
	}
}
