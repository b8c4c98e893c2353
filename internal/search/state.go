package search

// Phase is the tag of a search State.
const (
	PhaseDone Phase = iota
	PhaseDelay
	PhaseFetching
	PhaseFailed
)

// Phase is one of Done, Delay, Fetching, Failed. The zero value is Done so
// that State[T]{} is the initial "empty query, no results" state.
type Phase int

func (p Phase) String() string {
	switch p {
	case PhaseDone:
		return "done"
	case PhaseDelay:
		return "delay"
	case PhaseFetching:
		return "fetching"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the live search state. Query is the only query whose events are
// honored; Results is meaningful only in PhaseDone.
type State[T any] struct {
	Phase   Phase
	Query   string
	Results []T
}

// Initial returns Done{"", []}.
func Initial[T any]() State[T] {
	return State[T]{Phase: PhaseDone, Results: []T{}}
}

// sameStep reports whether two states are the same step of the pipeline.
// Every accepted transition changes the phase or the query.
func (s State[T]) sameStep(o State[T]) bool {
	return s.Phase == o.Phase && s.Query == o.Query
}

// Event is one of QueryChanged, DelayElapsed, FetchSucceeded[T], FetchFailed.
type Event interface {
	EventQuery() string
	eventName() string
}

// QueryChanged carries a normalized query from the input surface.
type QueryChanged struct {
	Query string
}

// DelayElapsed is posted by the debounce timer scheduled for Query.
type DelayElapsed struct {
	Query string
}

// FetchSucceeded is posted by the dispatcher with the items returned for Query.
type FetchSucceeded[T any] struct {
	Query   string
	Results []T
}

// FetchFailed is posted by the dispatcher on error or timeout. Err is informational.
type FetchFailed struct {
	Query string
	Err   error
}

func (e QueryChanged) EventQuery() string      { return e.Query }
func (e DelayElapsed) EventQuery() string      { return e.Query }
func (e FetchSucceeded[T]) EventQuery() string { return e.Query }
func (e FetchFailed) EventQuery() string       { return e.Query }

func (QueryChanged) eventName() string      { return "query_changed" }
func (DelayElapsed) eventName() string      { return "delay_elapsed" }
func (FetchSucceeded[T]) eventName() string { return "fetch_succeeded" }
func (FetchFailed) eventName() string       { return "fetch_failed" }

// Transition is the pure, total reconciliation function. Events whose query
// does not match the live state are ignored and s is returned unchanged.
func Transition[T any](s State[T], e Event) State[T] {
	switch ev := e.(type) {
	case QueryChanged:
		if ev.Query == s.Query {
			return s
		}
		if ev.Query == "" {
			return Initial[T]()
		}
		return State[T]{Phase: PhaseDelay, Query: ev.Query}

	case DelayElapsed:
		if s.Phase == PhaseDelay && ev.Query == s.Query {
			return State[T]{Phase: PhaseFetching, Query: s.Query}
		}

	case FetchSucceeded[T]:
		if s.Phase == PhaseFetching && ev.Query == s.Query {
			results := ev.Results
			if results == nil {
				results = []T{}
			}
			return State[T]{Phase: PhaseDone, Query: s.Query, Results: results}
		}

	case FetchFailed:
		if s.Phase == PhaseFetching && ev.Query == s.Query {
			return State[T]{Phase: PhaseFailed, Query: s.Query}
		}
	}
	return s
}
