package clock

import (
	"testing"
	"time"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	start := time.Unix(1700000000, 0)
	c := NewManual(start)

	c.Advance(5 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("after Advance: got %v", got)
	}

	c.Set(start) // backwards, ignored
	if got := c.Now(); !got.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("Set backwards should be ignored, got %v", got)
	}

	c.Set(start.Add(time.Minute))
	if got := c.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("after Set: got %v", got)
	}
}
