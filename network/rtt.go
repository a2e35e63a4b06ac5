package network

import "time"

// rttSampleCap bounds how many in-flight send timestamps a peer tracks at
// once; well-behaved peers ack far sooner than this, so the cap only
// matters for a peer that has stopped acking altogether (about to time
// out anyway).
const rttSampleCap = 64

// rttTracker records the send time of outgoing sequence numbers so a
// later ack can be turned into a round-trip sample. It is shared by Host
// (one per Connection) and Client (one for the server link) — both sides
// observe the same ack field on the wire, so the sampling logic must
// match.
type rttTracker struct {
	sentAt map[uint32]time.Time
	order  []uint32
}

func (t *rttTracker) recordSend(seq uint32, at time.Time) {
	if t.sentAt == nil {
		t.sentAt = make(map[uint32]time.Time)
	}
	if len(t.sentAt) >= rttSampleCap && len(t.order) > 0 {
		delete(t.sentAt, t.order[0])
		t.order = t.order[1:]
	}
	t.sentAt[seq] = at
	t.order = append(t.order, seq)
}

// sample consumes the send timestamp for ack (if tracked) and returns the
// elapsed round-trip time. ok is false if seq was never recorded or has
// already been consumed.
func (t *rttTracker) sample(ack uint32, now time.Time) (time.Duration, bool) {
	sentAt, ok := t.sentAt[ack]
	if !ok {
		return 0, false
	}
	delete(t.sentAt, ack)
	return now.Sub(sentAt), true
}

// updateRTT folds a new sample into rtt with the exponential moving
// average used throughout the netcode core: rtt = rtt*0.9 + sample*0.1.
func updateRTT(rtt, sample time.Duration) time.Duration {
	return time.Duration(float64(rtt)*0.9 + float64(sample)*0.1)
}
