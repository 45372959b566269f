package connection

import (
	"testing"
	"time"
)

func TestStatsCollector_Counters(t *testing.T) {
	c := NewStatsCollector(0, nil)

	c.Opened()
	c.Opened()
	c.Reconnected()
	c.Rotated()
	c.Received()
	c.Received()
	c.Received()
	c.Processed()
	c.Failed()
	c.AuthRejected()

	s := c.Snapshot()
	if s.Opens != 2 || s.Reconnects != 1 || s.Rotations != 1 {
		t.Errorf("lifecycle counters = %+v", s)
	}
	if s.MessagesReceived != 3 || s.DataMessagesProcessed != 1 {
		t.Errorf("message counters = %+v", s)
	}
	if s.Errors != 1 || s.AuthRejections != 1 {
		t.Errorf("error counters = %+v", s)
	}
	if len(s.Durations) != 0 {
		t.Errorf("Durations = %v, want empty", s.Durations)
	}
}

func TestStatsCollector_DurationRing(t *testing.T) {
	c := NewStatsCollector(30*time.Second, nil)

	for i := 1; i <= 25; i++ {
		c.SessionEnded("s", time.Duration(i)*time.Second, "closed")

		got := c.Snapshot().Durations
		wantLen := i
		if wantLen > DurationHistory {
			wantLen = DurationHistory
		}
		if len(got) != wantLen {
			t.Fatalf("after %d samples len = %d, want %d", i, len(got), wantLen)
		}
	}

	got := c.Snapshot().Durations
	for i, d := range got {
		want := time.Duration(16+i) * time.Second
		if d != want {
			t.Errorf("Durations[%d] = %v, want %v", i, d, want)
		}
	}
}

func TestStatsCollector_SnapshotIsCopy(t *testing.T) {
	c := NewStatsCollector(0, nil)
	c.SessionEnded("s", time.Minute, "closed")

	s := c.Snapshot()
	s.Durations[0] = 0

	if c.Snapshot().Durations[0] != time.Minute {
		t.Error("Snapshot should not alias internal history")
	}
}
