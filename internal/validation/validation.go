package validation

import (
	"errors"
	"strings"
)

// ErrQueryTooLong is returned when a query exceeds the maximum length accepted by the backend.
var ErrQueryTooLong = errors.New("query too long")

// ErrInvalidPage is returned when startIndex or maxItems is negative or maxItems exceeds the limit.
var ErrInvalidPage = errors.New("invalid page parameters")

// NormalizeQuery trims leading and trailing whitespace. Case, diacritics and
// punctuation are left to the search service. The empty string is a valid
// query meaning "no results".
func NormalizeQuery(raw string) string {
	return strings.TrimSpace(raw)
}

// ValidateQuery normalizes the input and enforces maxLen in runes (0 = unlimited).
// Used by the backend side; the client controller never rejects input.
func ValidateQuery(raw string, maxLen int) (string, error) {
	s := NormalizeQuery(raw)
	if maxLen > 0 && len([]rune(s)) > maxLen {
		return "", ErrQueryTooLong
	}
	return s, nil
}

// ResolvePage applies defaults to optional pagination fields and checks bounds.
// startIndex and maxItems are passed through untouched when present and valid.
func ResolvePage(startIndex, maxItems *int, defaultStart, defaultMax, limit int) (start, max int, err error) {
	start, max = defaultStart, defaultMax
	if startIndex != nil {
		start = *startIndex
	}
	if maxItems != nil {
		max = *maxItems
	}
	if start < 0 || max < 0 {
		return 0, 0, ErrInvalidPage
	}
	if limit > 0 && max > limit {
		return 0, 0, ErrInvalidPage
	}
	return start, max, nil
}
