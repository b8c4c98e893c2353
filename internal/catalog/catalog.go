package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/validation"
)

//go:embed cities.json
var fixture []byte

// ErrCityNotFound is returned by City for an unknown id.
var ErrCityNotFound = errors.New("city not found")

// Pagination defaults applied when a request omits startIndex or maxItems.
const (
	CityDefaultStart    = 0
	CityDefaultMax      = 10
	ClimateDefaultStart = 0
	ClimateDefaultMax   = 100

	MaxItemsLimit  = 1000
	MaxQueryLength = 200

	// Climate results closer than this to an already selected city are skipped.
	minSeparationKm = 200.0
	earthRadiusKm   = 6371.0
)

// Record is one catalogue entry: a stable id and the city it names.
type Record struct {
	ID int `json:"id"`
	models.City
}

type searchEntry struct {
	names   []string // folded, same order as City.Names
	admin   string
	country string
	climate climateRange
}

// Catalog is an immutable, in-memory city index. Safe for concurrent use.
type Catalog struct {
	records []Record
	entries []searchEntry
	byID    map[int]int
}

// Load builds a Catalog from the embedded fixture.
func Load() (*Catalog, error) {
	var records []Record
	if err := json.Unmarshal(fixture, &records); err != nil {
		return nil, fmt.Errorf("parse city fixture: %w", err)
	}
	return New(records)
}

// New indexes records. Ids must be unique.
func New(records []Record) (*Catalog, error) {
	c := &Catalog{
		records: slices.Clone(records),
		entries: make([]searchEntry, len(records)),
		byID:    make(map[int]int, len(records)),
	}
	for i, r := range c.records {
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate city id %d", r.ID)
		}
		c.byID[r.ID] = i

		e := &c.entries[i]
		for _, n := range r.Names {
			e.names = append(e.names, fold(n))
		}
		if r.AdminUnit != nil {
			e.admin = fold(*r.AdminUnit)
		}
		e.country = fold(r.Country)
	}
	c.indexClimate()
	return c, nil
}

// Len returns the number of cities.
func (c *Catalog) Len() int { return len(c.records) }

// City returns the city with the given id.
func (c *Catalog) City(id int) (models.City, error) {
	i, ok := c.byID[id]
	if !ok {
		return models.City{}, fmt.Errorf("city %d: %w", id, ErrCityNotFound)
	}
	return c.records[i].City, nil
}

// fold lowercases s and strips combining marks so "Berlín" matches "berlin".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

var delimiter = regexp.MustCompile(`[ ,;]+`)

type variant struct {
	name string
	rest string // "" when the whole query is the name
}

// splitNameRest lists every way to read the query as "<name> <place>", plus
// the reading where the whole query is a name.
func splitNameRest(q string) []variant {
	var out []variant
	for _, loc := range delimiter.FindAllStringIndex(q, -1) {
		name, rest := q[:loc[0]], q[loc[1]:]
		if name != "" && rest != "" {
			out = append(out, variant{name: name, rest: rest})
		}
	}
	return append(out, variant{name: q})
}

// SearchCity ranks cities by how well a name matches the query.
func (c *Catalog) SearchCity(req models.CitySearchRequest) (models.CitySearchResponse, error) {
	started := time.Now()

	query, err := validation.ValidateQuery(req.Query, MaxQueryLength)
	if err != nil {
		return models.CitySearchResponse{}, err
	}
	start, max, err := validation.ResolvePage(req.StartIndex, req.MaxItems, CityDefaultStart, CityDefaultMax, MaxItemsLimit)
	if err != nil {
		return models.CitySearchResponse{}, err
	}

	resp := models.CitySearchResponse{Command: models.CommandSearchCity, Items: []models.CityItem{}}
	if query == "" {
		resp.ElapsedMs = elapsedMs(started)
		return resp, nil
	}

	s := newScorer(query)
	var items []models.CityItem
	for i := range c.records {
		if item, ok := s.score(&c.records[i], &c.entries[i]); ok {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b models.CityItem) int {
		switch {
		case a.Score != b.Score:
			if a.Score > b.Score {
				return -1
			}
			return 1
		case a.Population != b.Population:
			if a.Population > b.Population {
				return -1
			}
			return 1
		default:
			return a.ID - b.ID
		}
	})

	resp.Items = page(items, start, max)
	resp.CacheHitRatePercent = s.hitRatePercent()
	resp.ElapsedMs = elapsedMs(started)
	return resp, nil
}

// scorer memoizes name scores for one query. Many cities share a name, so
// repeated names are cache hits.
type scorer struct {
	raw      string // lowercased, accents kept
	variants []variant
	memo     map[[2]string]float32
	hits     int
	misses   int
}

func newScorer(query string) *scorer {
	return &scorer{
		raw:      strings.ToLower(query),
		variants: splitNameRest(fold(query)),
		memo:     make(map[[2]string]float32),
	}
}

func (s *scorer) score(r *Record, e *searchEntry) (models.CityItem, bool) {
	var (
		best      float32
		bestName  string
		bestExact bool
	)
	for _, v := range s.variants {
		if v.rest != "" && !matchesPlace(e.admin, v.rest) && !matchesPlace(e.country, v.rest) {
			continue
		}
		for i, folded := range e.names {
			sc := s.nameScore(folded, v.name)
			if sc == 0 {
				continue
			}
			exact := strings.HasPrefix(s.raw, strings.ToLower(r.Names[i]))
			if sc > best || (sc == best && exact && !bestExact) {
				best, bestName, bestExact = sc, r.Names[i], exact
			}
		}
	}
	if best == 0 {
		return models.CityItem{}, false
	}
	return models.CityItem{
		ID:          r.ID,
		Score:       best,
		MatchedName: bestName,
		Name:        r.PrimaryName(),
		Population:  r.Population,
		AdminUnit:   r.AdminUnit,
		Country:     r.Country,
	}, true
}

func (s *scorer) nameScore(name, q string) float32 {
	key := [2]string{name, q}
	if v, ok := s.memo[key]; ok {
		s.hits++
		return v
	}
	s.misses++

	var v float32
	switch {
	case name == q:
		v = 1
	case strings.HasPrefix(name, q):
		v = 0.5 + 0.5*float32(len([]rune(q)))/float32(len([]rune(name)))
	}
	s.memo[key] = v
	return v
}

func (s *scorer) hitRatePercent() float64 {
	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return 100 * float64(s.hits) / float64(total)
}

// matchesPlace reports whether rest is a prefix of place or of one of its words.
func matchesPlace(place, rest string) bool {
	if place == "" {
		return false
	}
	if strings.HasPrefix(place, rest) {
		return true
	}
	for _, w := range strings.Fields(place) {
		if strings.HasPrefix(w, rest) {
			return true
		}
	}
	return false
}

func page[T any](items []T, start, max int) []T {
	if start >= len(items) {
		return []T{}
	}
	end := min(start+max, len(items))
	return slices.Clone(items[start:end])
}

func elapsedMs(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}

// arcDistanceKm is the great-circle distance between two points.
func arcDistanceKm(aLat, aLon, bLat, bLon float64) float64 {
	phiA, phiB := aLat*math.Pi/180, bLat*math.Pi/180
	dLambda := math.Abs(aLon-bLon) * math.Pi / 180
	cos := math.Sin(phiA)*math.Sin(phiB) + math.Cos(phiA)*math.Cos(phiB)*math.Cos(dLambda)
	return earthRadiusKm * math.Acos(math.Max(-1, math.Min(1, cos)))
}
