package search

import "slices"

// Display is the buffer the rendering layer sees. Results change only when the
// machine enters Done, so typing never blanks the list before new results exist.
type Display[T any] struct {
	results      []T
	resultsQuery string
	unavailable  bool
}

// Observe applies a newly entered state to the buffer.
func (d *Display[T]) Observe(s State[T]) {
	switch s.Phase {
	case PhaseDone:
		d.results = slices.Clone(s.Results)
		if d.results == nil {
			d.results = []T{}
		}
		d.resultsQuery = s.Query
		d.unavailable = false
	case PhaseFailed:
		d.unavailable = true
	default:
		d.unavailable = false
	}
}

// Results returns the last materialized result set.
func (d *Display[T]) Results() []T {
	return d.results
}

// ResultsQuery returns the query Results belongs to.
func (d *Display[T]) ResultsQuery() string {
	return d.resultsQuery
}

// Unavailable reports whether the live state is Failed.
func (d *Display[T]) Unavailable() bool {
	return d.unavailable
}

// Snapshot is an immutable view published to observers after every transition.
type Snapshot[T any] struct {
	Query        string // live query
	Phase        Phase  // live phase
	Results      []T    // display buffer; treat as read-only
	ResultsQuery string // query the buffer was fetched for
	Unavailable  bool   // live state is Failed
}

func (d *Display[T]) snapshot(s State[T]) Snapshot[T] {
	return Snapshot[T]{
		Query:        s.Query,
		Phase:        s.Phase,
		Results:      d.results,
		ResultsQuery: d.resultsQuery,
		Unavailable:  d.unavailable,
	}
}
