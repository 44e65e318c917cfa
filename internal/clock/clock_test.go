package clock

import (
	"testing"
	"time"
)

func TestSteppingAdvancesAndRecords(t *testing.T) {
	c := Stepping()
	start := c.Now()

	<-c.After(2 * time.Second)
	<-c.After(0)
	<-c.After(500 * time.Millisecond)

	if got := c.Now().Sub(start); got != 2500*time.Millisecond {
		t.Fatalf("advanced %v, want 2.5s", got)
	}
	waits := c.Waits()
	if len(waits) != 3 || waits[0] != 2*time.Second || waits[1] != 0 || waits[2] != 500*time.Millisecond {
		t.Fatalf("waits = %v", waits)
	}
}

func TestRealAfterFires(t *testing.T) {
	select {
	case <-Real().After(time.Millisecond):
	case <-time.After(5 * time.Second):
		t.Fatal("real clock did not fire")
	}
}
