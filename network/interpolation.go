package network

import "github.com/steppen0mad/Pulse/shared"

// InterpolationState is a per-remote-player ring buffer of authoritative
// PlayerState snapshots that the client scans to render a smoothed
// position INTERPOLATION_DELAY behind the host's current tick.
type InterpolationState struct {
	states [StateBufferSize]PlayerState
	count  uint32
}

// AddState appends a newly-received snapshot, overwriting the oldest slot
// once the ring wraps.
func (s *InterpolationState) AddState(state PlayerState) {
	s.states[s.count%StateBufferSize] = state
	s.count++
}

// Interpolate produces the blended state for targetTick by scanning
// backwards from the newest snapshot for the newest one at or before
// targetTick ("before"), then using whichever snapshot follows it
// chronologically as "after".
//
// Yaw and pitch are blended with a plain linear lerp, not the shortest
// angular path — a remote player who spins past the 0/360 boundary will
// visibly snap rather than interpolate smoothly through it. This matches
// the original implementation and is left as a known limitation rather
// than fixed, per the design notes.
func (s *InterpolationState) Interpolate(targetTick uint32) (PlayerState, bool) {
	if s.count < 2 {
		return PlayerState{}, false
	}

	limit := s.count
	if limit > StateBufferSize {
		limit = StateBufferSize
	}

	var before, after *PlayerState
	for i := uint32(0); i < limit; i++ {
		idx := (s.count - 1 - i) % StateBufferSize
		candidate := &s.states[idx]
		if candidate.Tick <= targetTick {
			before = candidate
			if i > 0 {
				afterIdx := (s.count - i) % StateBufferSize
				after = &s.states[afterIdx]
			}
			break
		}
	}

	if before == nil {
		return PlayerState{}, false
	}
	if after == nil {
		return *before, true
	}

	t := float32(0)
	if after.Tick != before.Tick {
		t = float32(targetTick-before.Tick) / float32(after.Tick-before.Tick)
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	return PlayerState{
		PlayerID:           before.PlayerID,
		Tick:               targetTick,
		Position:           shared.Lerp(before.Position, after.Position, t),
		Yaw:                shared.LerpAngle(before.Yaw, after.Yaw, t),
		Pitch:              shared.LerpAngle(before.Pitch, after.Pitch, t),
		LastProcessedInput: after.LastProcessedInput,
	}, true
}
