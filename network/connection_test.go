package network

import "testing"

func TestInputRingPreservesArrivalOrder(t *testing.T) {
	var r inputRing
	for seq := uint32(1); seq <= 5; seq++ {
		r.push(PlayerInput{Sequence: seq})
	}

	got := r.drain()
	if len(got) != 5 {
		t.Fatalf("drain() len = %d, want 5", len(got))
	}
	for i, in := range got {
		if in.Sequence != uint32(i+1) {
			t.Fatalf("got[%d].Sequence = %d, want %d", i, in.Sequence, i+1)
		}
	}
}

func TestInputRingDrainEmptiesTheRing(t *testing.T) {
	var r inputRing
	r.push(PlayerInput{Sequence: 1})
	r.drain()

	if got := r.drain(); len(got) != 0 {
		t.Fatalf("second drain() = %+v, want empty", got)
	}
}

func TestInputRingOverflowEvictsOldest(t *testing.T) {
	var r inputRing
	for i := uint32(0); i < PendingInputsCap+3; i++ {
		r.push(PlayerInput{Sequence: i + 1})
	}

	got := r.drain()
	if len(got) != PendingInputsCap {
		t.Fatalf("drain() len = %d, want capacity %d", len(got), PendingInputsCap)
	}
	if got[0].Sequence != 4 {
		t.Fatalf("oldest surviving sequence = %d, want 4", got[0].Sequence)
	}
	if last := got[len(got)-1].Sequence; last != PendingInputsCap+3 {
		t.Fatalf("newest surviving sequence = %d, want %d", last, PendingInputsCap+3)
	}
}

func TestConnectionQueueInputDrainInputsRoundTrip(t *testing.T) {
	c := NewConnection(1, nil)
	c.QueueInput(PlayerInput{Sequence: 1})
	c.QueueInput(PlayerInput{Sequence: 2})

	drained := c.DrainInputs()
	if len(drained) != 2 {
		t.Fatalf("DrainInputs() len = %d, want 2", len(drained))
	}
	if len(c.DrainInputs()) != 0 {
		t.Fatal("expected the pending ring to be empty after draining")
	}
}

func TestNewConnectionSeedsRTT(t *testing.T) {
	c := NewConnection(7, nil)
	if c.State != StateConnecting {
		t.Fatalf("State = %v, want StateConnecting", c.State)
	}
	if c.RTT <= 0 {
		t.Fatalf("RTT = %v, want a positive seed value", c.RTT)
	}
}
