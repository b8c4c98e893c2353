package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kjstillabower/city-search-client/internal/models"
)

// ErrInvalidCityID is returned by ClimateFetcher when the query is not a city id.
var ErrInvalidCityID = errors.New("invalid city id")

// CityFetcher adapts SearchClient to a query -> items fetch for city-name search.
// StartIndex and MaxItems are forwarded as given; nil leaves them to the service.
type CityFetcher struct {
	Client     SearchClient
	StartIndex *int
	MaxItems   *int
}

func (f CityFetcher) Fetch(ctx context.Context, query string) ([]models.CityItem, error) {
	resp, err := f.Client.SearchCity(ctx, models.CitySearchRequest{
		Query:      query,
		StartIndex: f.StartIndex,
		MaxItems:   f.MaxItems,
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ClimateFetcher adapts SearchClient to climate similarity search. The query
// is the decimal id of the reference city.
type ClimateFetcher struct {
	Client     SearchClient
	StartIndex *int
	MaxItems   *int
}

func (f ClimateFetcher) Fetch(ctx context.Context, query string) ([]models.ClimateItem, error) {
	id, err := strconv.Atoi(query)
	if err != nil || id < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCityID, query)
	}
	resp, err := f.Client.SearchClimate(ctx, models.ClimateSearchRequest{
		CityID:     id,
		StartIndex: f.StartIndex,
		MaxItems:   f.MaxItems,
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}
