package network

import (
	"testing"
	"time"
)

func TestRTTTrackerSampleRoundTrip(t *testing.T) {
	var tr rttTracker
	sentAt := time.Now()
	tr.recordSend(1, sentAt)

	later := sentAt.Add(50 * time.Millisecond)
	rtt, ok := tr.sample(1, later)
	if !ok {
		t.Fatal("expected a sample for a recorded sequence")
	}
	if rtt != 50*time.Millisecond {
		t.Fatalf("rtt = %v, want 50ms", rtt)
	}
}

func TestRTTTrackerSampleUnknownSequence(t *testing.T) {
	var tr rttTracker
	if _, ok := tr.sample(99, time.Now()); ok {
		t.Fatal("expected no sample for a sequence that was never sent")
	}
}

func TestRTTTrackerSampleIsConsumedOnce(t *testing.T) {
	var tr rttTracker
	now := time.Now()
	tr.recordSend(1, now)

	if _, ok := tr.sample(1, now); !ok {
		t.Fatal("expected the first sample to succeed")
	}
	if _, ok := tr.sample(1, now); ok {
		t.Fatal("expected the second sample of the same sequence to fail")
	}
}

func TestRTTTrackerEvictsOldestAtCapacity(t *testing.T) {
	var tr rttTracker
	base := time.Now()
	for i := uint32(0); i < rttSampleCap+5; i++ {
		tr.recordSend(i+1, base)
	}

	// The oldest entries should have been evicted to make room.
	if _, ok := tr.sample(1, base); ok {
		t.Fatal("expected sequence 1 to have been evicted")
	}
	if _, ok := tr.sample(rttSampleCap+5, base); !ok {
		t.Fatal("expected the most recently recorded sequence to survive")
	}
}

func TestUpdateRTTBlendsTowardNewSample(t *testing.T) {
	rtt := 100 * time.Millisecond
	got := updateRTT(rtt, 200*time.Millisecond)

	want := time.Duration(float64(100*time.Millisecond)*0.9 + float64(200*time.Millisecond)*0.1)
	if got != want {
		t.Fatalf("updateRTT() = %v, want %v", got, want)
	}
	if got <= rtt {
		t.Fatalf("updateRTT() = %v, want it to move toward the larger sample", got)
	}
}
