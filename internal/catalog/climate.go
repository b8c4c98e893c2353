package catalog

import (
	"errors"
	"math"
	"slices"
	"time"

	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/validation"
)

// span is a (min, max) pair. For a city it is relative to the catalogue-wide
// span of the same series, so every series weighs the same.
type span struct {
	lo, hi float32
	ok     bool // false when the series has no values
}

type climateRange struct {
	humidity, ppt, srad, tmax, tmin, ws span
}

func spanOf(values []float32) span {
	if len(values) == 0 {
		return span{}
	}
	s := span{lo: values[0], hi: values[0], ok: true}
	for _, v := range values[1:] {
		s.lo = min(s.lo, v)
		s.hi = max(s.hi, v)
	}
	return s
}

func spanOfOptional(values [12]*float32) span {
	var present []float32
	for _, v := range values {
		if v != nil {
			present = append(present, *v)
		}
	}
	return spanOf(present)
}

func merge(a, b span) span {
	switch {
	case !a.ok:
		return b
	case !b.ok:
		return a
	}
	return span{lo: min(a.lo, b.lo), hi: max(a.hi, b.hi), ok: true}
}

func relative(s, total span) span {
	if !s.ok || !total.ok {
		return span{}
	}
	width := total.hi - total.lo
	if width <= 0 {
		return span{ok: true}
	}
	return span{lo: (s.lo - total.lo) / width, hi: (s.hi - total.lo) / width, ok: true}
}

func (s span) diff(o span) (float32, bool) {
	if !s.ok || !o.ok {
		return 0, false
	}
	return float32(math.Abs(float64(s.lo-o.lo)) + math.Abs(float64(s.hi-o.hi))), true
}

func rangeOf(c models.CityClimate) climateRange {
	return climateRange{
		humidity: spanOfOptional(c.HumidityMonthly),
		ppt:      spanOf(c.PptMonthly[:]),
		srad:     spanOf(c.SradMonthly[:]),
		tmax:     spanOf(c.TmaxMonthly[:]),
		tmin:     spanOf(c.TminMonthly[:]),
		ws:       spanOf(c.WsMonthly[:]),
	}
}

func (c *Catalog) indexClimate() {
	var total climateRange
	raw := make([]climateRange, len(c.records))
	for i, r := range c.records {
		raw[i] = rangeOf(r.Climate)
		total = climateRange{
			humidity: merge(total.humidity, raw[i].humidity),
			ppt:      merge(total.ppt, raw[i].ppt),
			srad:     merge(total.srad, raw[i].srad),
			tmax:     merge(total.tmax, raw[i].tmax),
			tmin:     merge(total.tmin, raw[i].tmin),
			ws:       merge(total.ws, raw[i].ws),
		}
	}
	for i := range c.entries {
		c.entries[i].climate = climateRange{
			humidity: relative(raw[i].humidity, total.humidity),
			ppt:      relative(raw[i].ppt, total.ppt),
			srad:     relative(raw[i].srad, total.srad),
			tmax:     relative(raw[i].tmax, total.tmax),
			tmin:     relative(raw[i].tmin, total.tmin),
			ws:       relative(raw[i].ws, total.ws),
		}
	}
}

// climateDiff sums per-series distances. Humidity counts only when both
// cities have it.
func climateDiff(a, b climateRange) float32 {
	var total float32
	for _, pair := range [][2]span{
		{a.humidity, b.humidity}, {a.ppt, b.ppt}, {a.srad, b.srad},
		{a.tmax, b.tmax}, {a.tmin, b.tmin}, {a.ws, b.ws},
	} {
		if d, ok := pair[0].diff(pair[1]); ok {
			total += d
		}
	}
	return total
}

type scoredCity struct {
	index int
	diff  float32
}

// SearchClimate lists cities with a climate similar to the given city, the
// city itself first. Results are at least minSeparationKm apart. An unknown
// id yields no items.
func (c *Catalog) SearchClimate(req models.ClimateSearchRequest) (models.ClimateSearchResponse, error) {
	started := time.Now()

	start, max, err := validation.ResolvePage(req.StartIndex, req.MaxItems, ClimateDefaultStart, ClimateDefaultMax, MaxItemsLimit)
	if err != nil {
		return models.ClimateSearchResponse{}, err
	}
	resp := models.ClimateSearchResponse{Command: models.CommandSearchClimate, Items: []models.ClimateItem{}}

	query, err := c.City(req.CityID)
	if errors.Is(err, ErrCityNotFound) {
		resp.ElapsedMs = elapsedMs(started)
		return resp, nil
	}
	qi := c.byID[req.CityID]
	qc := c.entries[qi].climate

	var maxDiff float32
	scored := make([]scoredCity, 0, len(c.records))
	for i := range c.records {
		if i == qi {
			continue
		}
		d := climateDiff(c.entries[i].climate, qc)
		maxDiff = max32(maxDiff, d)
		scored = append(scored, scoredCity{index: i, diff: d})
	}
	candidates := scored[:0]
	for _, s := range scored {
		if s.diff < maxDiff/2 {
			candidates = append(candidates, s)
		}
	}
	slices.SortFunc(candidates, func(a, b scoredCity) int {
		if a.diff != b.diff {
			if a.diff < b.diff {
				return -1
			}
			return 1
		}
		return c.records[a.index].ID - c.records[b.index].ID
	})

	selected := []scoredCity{{index: qi}}
	for _, s := range candidates {
		if len(selected) >= start+max {
			break
		}
		if c.farFromAll(s.index, selected) {
			selected = append(selected, s)
		}
	}

	for _, s := range page(selected, start, max) {
		r := c.records[s.index]
		similarity := float32(100)
		if maxDiff > 0 {
			similarity = 100 * (1 - s.diff/maxDiff)
		}
		resp.Items = append(resp.Items, models.ClimateItem{
			ID:                r.ID,
			City:              r.City,
			DistanceKm:        math.Round(arcDistanceKm(r.Latitude, r.Longitude, query.Latitude, query.Longitude)*10) / 10,
			SimilarityPercent: similarity,
		})
	}
	resp.ElapsedMs = elapsedMs(started)
	return resp, nil
}

func (c *Catalog) farFromAll(i int, selected []scoredCity) bool {
	a := c.records[i]
	for _, s := range selected {
		b := c.records[s.index]
		if arcDistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude) < minSeparationKm {
			return false
		}
	}
	return true
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
