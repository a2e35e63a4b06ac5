// Package network implements the Pulse wire protocol and the
// authoritative-host / predicting-client netcode built on top of it.
package network

import (
	"math"
	"time"

	"github.com/steppen0mad/Pulse/shared"
)

// Protocol-wide tunables. Names and values follow original_source's
// pulse::net constants.
const (
	DefaultPort        = 7777
	MaxPacketSize       = 1400
	MaxPlayers          = 16
	TickRate            = 60
	TickInterval        = time.Second / TickRate
	SnapshotRate        = 20
	SnapshotInterval    = time.Second / SnapshotRate
	ConnectionTimeout   = 10 * time.Second
	HeartbeatInterval   = 1 * time.Second
	InputBufferSize     = 64
	StateBufferSize     = 128
	PendingInputsCap    = 256
	InterpolationDelay  = 100 * time.Millisecond
	InterpolationTicks  = uint32(InterpolationDelay / TickInterval)
	maxInputsPerPacket  = 5
	headerSize          = 23
	playerInputWireSize = 21
	playerStateWireSize = 32
	entityStateWireSize = 37
)

// PacketType identifies the payload carried by a packet.
type PacketType uint8

const (
	PacketConnectRequest PacketType = 0x01
	PacketConnectAccept  PacketType = 0x02
	PacketConnectReject  PacketType = 0x03
	PacketDisconnect     PacketType = 0x04
	PacketHeartbeat      PacketType = 0x05

	PacketInput          PacketType = 0x10
	PacketStateUpdate    PacketType = 0x11
	PacketWorldSnapshot  PacketType = 0x12

	PacketEntityCreate    PacketType = 0x20
	PacketEntityDestroy   PacketType = 0x21
	PacketEventBroadcast  PacketType = 0x22

	PacketAck          PacketType = 0x30
	PacketReliableData PacketType = 0x31
)

// Input key bits, per spec.md §3.
const (
	KeyForward  uint8 = 1 << 0 // W
	KeyBack     uint8 = 1 << 1 // S
	KeyLeft     uint8 = 1 << 2 // A
	KeyRight    uint8 = 1 << 3 // D
	KeyUp       uint8 = 1 << 4
	KeyDown     uint8 = 1 << 5
)

// PlayerInput is sampled once per client frame and sent to the host.
type PlayerInput struct {
	Sequence  uint32
	Tick      uint32
	Keys      uint8
	Yaw       float32
	Pitch     float32
	DeltaTime float32
}

// PlayerState is an authoritative snapshot of one player at a given tick.
type PlayerState struct {
	PlayerID           uint32
	Tick               uint32
	Position           shared.Vec3
	Yaw                float32
	Pitch              float32
	LastProcessedInput uint32
}

// EntityState describes a static-ish world object, carried only in
// WORLD_SNAPSHOT payloads.
type EntityState struct {
	EntityID   uint32
	EntityType uint8
	Position   shared.Vec3
	Velocity   shared.Vec3
	Yaw        float32
	Pitch      float32
}

// ApplyInput mutates state in place by applying input under the shared
// movement rule. Host and Client both call this — it must stay bit-for-bit
// identical between the two or client prediction will never converge.
func ApplyInput(state *PlayerState, input PlayerInput) {
	v := float32(5.0) * input.DeltaTime
	yawRad := float64(input.Yaw) * math.Pi / 180.0
	cosYaw := float32(math.Cos(yawRad))
	sinYaw := float32(math.Sin(yawRad))

	if input.Keys&KeyForward != 0 {
		state.Position.X += cosYaw * v
		state.Position.Z += sinYaw * v
	}
	if input.Keys&KeyBack != 0 {
		state.Position.X -= cosYaw * v
		state.Position.Z -= sinYaw * v
	}
	if input.Keys&KeyLeft != 0 {
		state.Position.X += sinYaw * v
		state.Position.Z -= cosYaw * v
	}
	if input.Keys&KeyRight != 0 {
		state.Position.X -= sinYaw * v
		state.Position.Z += cosYaw * v
	}
	if input.Keys&KeyUp != 0 {
		state.Position.Y += v
	}
	if input.Keys&KeyDown != 0 {
		state.Position.Y -= v
	}

	state.Yaw = input.Yaw
	state.Pitch = input.Pitch
}

// SpawnPosition is where a freshly connected player's PlayerState starts.
func SpawnPosition() shared.Vec3 {
	return shared.Vec3{X: 0, Y: 1.7, Z: 5}
}

const spawnYaw = float32(-90.0)

// WorldEntities is the fixed set of static cubes the host ships in every
// WORLD_SNAPSHOT, per spec.md §4.3.
func WorldEntities() []EntityState {
	return []EntityState{
		{EntityID: 1, EntityType: 1, Position: shared.Vec3{X: 0, Y: 1, Z: 0}},
		{EntityID: 2, EntityType: 1, Position: shared.Vec3{X: 5, Y: 1, Z: 3}},
		{EntityID: 3, EntityType: 1, Position: shared.Vec3{X: -3, Y: 0.5, Z: -5}},
	}
}
