package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/validation"
)

var (
	// ErrUnknownCommand is returned for a request whose command is not searchCity or searchClimate.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformedRequest is returned when the request body is not a valid request.
	ErrMalformedRequest = errors.New("malformed request")
)

// Request is a parsed request. Exactly one field is set.
type Request struct {
	City    *models.CitySearchRequest
	Climate *models.ClimateSearchRequest
}

// Command returns the wire command name.
func (r Request) Command() string {
	if r.Climate != nil {
		return models.CommandSearchClimate
	}
	return models.CommandSearchCity
}

// CacheKey identifies the response to r. Omitted pagination fields resolve to
// their defaults, so an explicit default and an omitted field share a key.
func (r Request) CacheKey() string {
	switch {
	case r.City != nil:
		return fmt.Sprintf("%s|%q|%d|%d", models.CommandSearchCity, validation.NormalizeQuery(r.City.Query),
			valueOr(r.City.StartIndex, CityDefaultStart), valueOr(r.City.MaxItems, CityDefaultMax))
	case r.Climate != nil:
		return fmt.Sprintf("%s|%d|%d|%d", models.CommandSearchClimate, r.Climate.CityID,
			valueOr(r.Climate.StartIndex, ClimateDefaultStart), valueOr(r.Climate.MaxItems, ClimateDefaultMax))
	default:
		return ""
	}
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// ParseRequest decodes a command-tagged JSON request.
func ParseRequest(body []byte) (Request, error) {
	var envelope struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	switch envelope.Command {
	case models.CommandSearchCity:
		var req struct {
			Query      *string `json:"query"`
			StartIndex *int    `json:"startIndex"`
			MaxItems   *int    `json:"maxItems"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		if req.Query == nil {
			return Request{}, fmt.Errorf("%w: missing field `query`", ErrMalformedRequest)
		}
		return Request{City: &models.CitySearchRequest{
			Command:    models.CommandSearchCity,
			Query:      *req.Query,
			StartIndex: req.StartIndex,
			MaxItems:   req.MaxItems,
		}}, nil

	case models.CommandSearchClimate:
		var req struct {
			CityID     *int `json:"cityId"`
			StartIndex *int `json:"startIndex"`
			MaxItems   *int `json:"maxItems"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		if req.CityID == nil {
			return Request{}, fmt.Errorf("%w: missing field `cityId`", ErrMalformedRequest)
		}
		return Request{Climate: &models.ClimateSearchRequest{
			Command:    models.CommandSearchClimate,
			CityID:     *req.CityID,
			StartIndex: req.StartIndex,
			MaxItems:   req.MaxItems,
		}}, nil

	case "":
		return Request{}, fmt.Errorf("%w: missing field `command`", ErrMalformedRequest)
	default:
		return Request{}, fmt.Errorf("%w %q", ErrUnknownCommand, envelope.Command)
	}
}

// ParseCommand accepts either a JSON request or, for text without braces, a
// simple command: a bare integer searches by climate, anything else by name.
func ParseCommand(line string) (Request, error) {
	line = strings.TrimSpace(line)
	req, err := ParseRequest([]byte(line))
	if err == nil || strings.ContainsAny(line, "{}") {
		return req, err
	}
	if id, convErr := strconv.Atoi(line); convErr == nil {
		return Request{Climate: &models.ClimateSearchRequest{Command: models.CommandSearchClimate, CityID: id}}, nil
	}
	return Request{City: &models.CitySearchRequest{Command: models.CommandSearchCity, Query: line}}, nil
}

// Handle runs req against the catalogue and returns the wire response.
func (c *Catalog) Handle(req Request) (any, error) {
	switch {
	case req.City != nil:
		return c.SearchCity(*req.City)
	case req.Climate != nil:
		return c.SearchClimate(*req.Climate)
	default:
		return nil, ErrMalformedRequest
	}
}
