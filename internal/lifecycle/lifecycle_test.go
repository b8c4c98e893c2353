package lifecycle

import (
	"testing"
	"time"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
	if d := DrainingFor(); d != 0 {
		t.Errorf("DrainingFor() = %v, want 0 while serving", d)
	}
}

func TestSetShuttingDown_True(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
}

func TestSetShuttingDown_KeepsFirstTimestamp(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	time.Sleep(20 * time.Millisecond)
	SetShuttingDown(true)
	if d := DrainingFor(); d < 20*time.Millisecond {
		t.Errorf("DrainingFor() = %v, want the first call's start to be kept", d)
	}
}

func TestSetShuttingDown_False(t *testing.T) {
	SetShuttingDown(true)
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}
