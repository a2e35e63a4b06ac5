package network

import (
	"testing"

	"github.com/steppen0mad/Pulse/shared"
)

func TestInterpolationStateNeedsTwoSamples(t *testing.T) {
	var s InterpolationState
	if _, ok := s.Interpolate(0); ok {
		t.Fatal("expected Interpolate to fail with zero samples")
	}
	s.AddState(PlayerState{Tick: 1})
	if _, ok := s.Interpolate(1); ok {
		t.Fatal("expected Interpolate to fail with one sample")
	}
}

func TestInterpolationStateBlendsBetweenSamples(t *testing.T) {
	var s InterpolationState
	s.AddState(PlayerState{PlayerID: 1, Tick: 10, Position: shared.Vec3{X: 0}, Yaw: 0})
	s.AddState(PlayerState{PlayerID: 1, Tick: 20, Position: shared.Vec3{X: 10}, Yaw: 90})

	got, ok := s.Interpolate(15)
	if !ok {
		t.Fatal("expected a blended result")
	}
	if got.Position.X != 5 {
		t.Fatalf("Position.X = %v, want 5", got.Position.X)
	}
	if got.Yaw != 45 {
		t.Fatalf("Yaw = %v, want 45", got.Yaw)
	}
	if got.Tick != 15 {
		t.Fatalf("Tick = %d, want 15", got.Tick)
	}
}

func TestInterpolationStateFailsBeforeEarliestSample(t *testing.T) {
	var s InterpolationState
	s.AddState(PlayerState{Tick: 10, Position: shared.Vec3{X: 0}})
	s.AddState(PlayerState{Tick: 20, Position: shared.Vec3{X: 10}})

	// No sample exists at or before tick 5, so there is nothing to anchor
	// "before" to — the original implementation returns false here
	// rather than clamping to the oldest sample.
	if _, ok := s.Interpolate(5); ok {
		t.Fatal("expected Interpolate to fail for a target before any sample")
	}
}

func TestInterpolationStateHoldsNewestPastLatestSample(t *testing.T) {
	var s InterpolationState
	s.AddState(PlayerState{Tick: 10, Position: shared.Vec3{X: 0}})
	s.AddState(PlayerState{Tick: 20, Position: shared.Vec3{X: 10}})

	got, ok := s.Interpolate(30)
	if !ok {
		t.Fatal("expected a result for a target past the newest sample")
	}
	if got.Position.X != 10 {
		t.Fatalf("Position.X = %v, want 10 (newest sample held)", got.Position.X)
	}
}

func TestInterpolationStateWrapsRingBuffer(t *testing.T) {
	var s InterpolationState
	for i := uint32(0); i < StateBufferSize+5; i++ {
		s.AddState(PlayerState{Tick: i + 1, Position: shared.Vec3{X: float32(i + 1)}})
	}

	got, ok := s.Interpolate(StateBufferSize + 5)
	if !ok {
		t.Fatal("expected a result after wrapping the ring")
	}
	if got.Position.X != float32(StateBufferSize+5) {
		t.Fatalf("Position.X = %v, want %v", got.Position.X, StateBufferSize+5)
	}
}
