package sweep

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStart_InvalidSchedule(t *testing.T) {
	s := New("not a schedule", func() {})
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweepFires(t *testing.T) {
	var fired atomic.Int32
	s := New("* * * * * *", func() { fired.Add(1) })
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweep never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestAcceptsFiveFieldSchedule(t *testing.T) {
	s := New("*/5 * * * *", func() {})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop()
}
