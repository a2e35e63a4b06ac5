// Package shared holds value types used by both the network layer and
// any game-side code built on top of it.
package shared

import "math"

// Vec3 is a 3-component float vector. It is a value type: every operation
// returns a new Vec3 rather than mutating the receiver.
type Vec3 struct {
	X, Y, Z float32
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v*s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Length returns the Euclidean length of v.
func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Lerp linearly interpolates between a and b by t.
func Lerp(a, b Vec3, t float32) Vec3 {
	return a.Add(b.Sub(a).Scale(t))
}

// LerpAngle linearly interpolates between two degree angles a and b by t.
// It does not take the short path across the 0/360 boundary — callers that
// need wrap-aware interpolation must normalize first. See
// network.InterpolationState.Interpolate for the known limitation this
// carries into remote-player rendering.
func LerpAngle(a, b, t float32) float32 {
	return a + (b-a)*t
}
