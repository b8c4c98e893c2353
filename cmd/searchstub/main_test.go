package main

import "testing"

// TestCoverageGaps_IntentionallyUntested documents why cmd/searchstub has no unit tests.
// Run with -v to see skip reason.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Skip("main.go is wiring-only; handlers, middleware and the catalogue are tested in internal packages. Entrypoint coverage would require exec or heavy mocking")
}
