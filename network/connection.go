package network

import (
	"net"
	"time"
)

// ConnectionState mirrors the lifecycle a host-side Connection moves
// through.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Connection is the Host's per-player bookkeeping: wire sequencing state,
// liveness timestamps, and the inbound input queue.
type Connection struct {
	PlayerID uint32
	Address  *net.UDPAddr
	State    ConnectionState

	LocalSequence  uint32
	RemoteSequence uint32
	AckBits        uint32

	LastReceiveTime time.Time
	LastSendTime    time.Time
	RTT             time.Duration

	pendingInputs      inputRing
	LastProcessedInput uint32

	rtt rttTracker
}

// NewConnection returns a Connection in StateConnecting with the RTT
// estimate seeded at the original source's default of 0.1s.
func NewConnection(playerID uint32, addr *net.UDPAddr) *Connection {
	return &Connection{
		PlayerID: playerID,
		Address:  addr,
		State:    StateConnecting,
		RTT:      100 * time.Millisecond,
	}
}

// QueueInput appends a just-received input to the pending ring, dropping
// the oldest unprocessed entry if the ring is full.
func (c *Connection) QueueInput(in PlayerInput) {
	c.pendingInputs.push(in)
}

// DrainInputs removes and returns every queued input in arrival order,
// leaving the ring empty.
func (c *Connection) DrainInputs() []PlayerInput {
	return c.pendingInputs.drain()
}

// inputRing is a fixed-capacity FIFO of PlayerInput that overwrites the
// oldest unprocessed entry on overflow, realizing the "bounded ring" design
// note in place of the original's unbounded std::queue.
type inputRing struct {
	buf   [PendingInputsCap]PlayerInput
	head  int
	count int
}

func (r *inputRing) push(in PlayerInput) {
	idx := (r.head + r.count) % PendingInputsCap
	r.buf[idx] = in
	if r.count < PendingInputsCap {
		r.count++
	} else {
		r.head = (r.head + 1) % PendingInputsCap
	}
}

func (r *inputRing) drain() []PlayerInput {
	out := make([]PlayerInput, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%PendingInputsCap]
	}
	r.head = 0
	r.count = 0
	return out
}
