package network

import (
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"github.com/steppen0mad/Pulse/shared"
)

// reconcileSnapThreshold is the position-error magnitude above which the
// client snaps straight to the server's corrected state instead of
// blending towards it.
const reconcileSnapThreshold = 1.0

// reconcileBlendFactor is how far towards the corrected position the
// client moves per reconciliation, when the error is small enough to
// blend rather than snap. It is coupled to however often reconciliation
// runs (once per received STATE_UPDATE) rather than to deltaTime, so a
// host sending snapshots at a different rate changes the perceived
// correction speed — left as-is, matching the reference implementation.
const reconcileBlendFactor = 0.1

// reconcileEpsilon is the position-error magnitude below which no
// correction is applied at all.
const reconcileEpsilon = 0.01

// Client is a predicting, interpolating UDP peer. Like Host, it holds no
// internal locks — Connect/Update/SendInput are meant to be driven from a
// single goroutine.
type Client struct {
	conn       *net.UDPConn
	serverAddr *net.UDPAddr
	state      ConnectionState

	playerID       uint32
	serverTick     uint32
	localSequence  uint32
	remoteSequence uint32
	ackBits        uint32
	inputSequence  uint32

	lastSendTime     time.Time
	lastReceiveTime  time.Time
	connectStartTime time.Time
	rtt              time.Duration

	// clock is the client's own timeline for connect/inactivity timeout
	// bookkeeping and heartbeat cadence. It advances by exactly deltaTime
	// on every Update call rather than reading the wall clock, so a
	// caller that fast-forwards deltaTime (as tests do) fast-forwards
	// timeouts too. The UDP socket's read deadline is set from the real
	// wall clock separately, since the OS compares it against real time
	// no matter what timeline the caller is simulating.
	clock time.Time

	localState       PlayerState
	lastServerState  PlayerState
	remotePlayers    map[uint32]PlayerState
	interpolation    map[uint32]*InterpolationState
	inputHistory     InputHistory
	rttTracker       rttTracker

	metrics *Metrics
	logger  *log.Logger

	// OnConnected, OnDisconnected, OnEntityCreated, and OnEntityDestroyed
	// are called synchronously from Update. Any may be nil.
	OnConnected       func(playerID uint32)
	OnDisconnected    func()
	OnEntityCreated   func(entityID uint32, entityType uint8, pos shared.Vec3)
	OnEntityDestroyed func(entityID uint32)
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientLogger overrides the logger used for connection and error
// reporting. Defaults to log.Default().
func WithClientLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClientMetrics attaches a Metrics instance. Without this option the
// client records no metrics at all.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructs a disconnected Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		state:         StateDisconnected,
		remotePlayers: make(map[uint32]PlayerState),
		interpolation: make(map[uint32]*InterpolationState),
		rtt:           100 * time.Millisecond,
		clock:         time.Now(),
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect resolves host:port, binds an ephemeral local socket, and sends
// the first CONNECT_REQUEST. It returns false (plus a descriptive error)
// on local socket failure; success of the handshake itself is reported
// asynchronously via OnConnected once Update processes CONNECT_ACCEPT.
func (c *Client) Connect(host string, port uint16) (bool, error) {
	if port == 0 {
		port = DefaultPort
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false, fmt.Errorf("network: client resolve: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return false, fmt.Errorf("network: client bind: %w", err)
	}

	c.conn = conn
	c.serverAddr = addr
	c.state = StateConnecting
	c.connectStartTime = c.clock

	c.logger.Printf("[Client] connecting to %s:%d...", host, port)
	c.sendConnectRequest()
	return true, nil
}

// Disconnect sends DISCONNECT (if currently connected or connecting),
// tears down the socket, and clears remote-player/interpolation state.
func (c *Client) Disconnect() {
	if c.state != StateDisconnected {
		c.sendDisconnect()
		c.state = StateDisconnected
		if c.OnDisconnected != nil {
			c.OnDisconnected()
		}
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.remotePlayers = make(map[uint32]PlayerState)
	c.interpolation = make(map[uint32]*InterpolationState)
	c.inputHistory = InputHistory{}
	c.logger.Printf("[Client] disconnected")
}

// IsConnected reports whether the handshake has completed.
func (c *Client) IsConnected() bool { return c.state == StateConnected }

// IsConnecting reports whether a CONNECT_REQUEST is in flight.
func (c *Client) IsConnecting() bool { return c.state == StateConnecting }

// PlayerID returns the id assigned by the host on CONNECT_ACCEPT.
func (c *Client) PlayerID() uint32 { return c.playerID }

// ServerTick returns the most recently observed host tick.
func (c *Client) ServerTick() uint32 { return c.serverTick }

// RTT returns the current round-trip-time estimate.
func (c *Client) RTT() time.Duration { return c.rtt }

// LocalState returns the client's predicted state for its own player.
func (c *Client) LocalState() PlayerState { return c.localState }

// PlayerCount returns the number of players the client knows about,
// including itself.
func (c *Client) PlayerCount() int { return len(c.remotePlayers) + 1 }

// Update drains incoming packets and drives the connecting/connected state
// machine, including connect retries, server-timeout detection, and
// periodic heartbeats.
func (c *Client) Update(deltaTime time.Duration) {
	if c.state == StateDisconnected {
		return
	}

	c.clock = c.clock.Add(deltaTime)
	c.receivePackets(c.clock)

	switch c.state {
	case StateConnecting:
		if c.clock.Sub(c.connectStartTime) > ConnectionTimeout {
			c.logger.Printf("[Client] connection timeout")
			c.Disconnect()
			return
		}
		if c.clock.Sub(c.lastSendTime) > time.Second {
			c.sendConnectRequest()
		}
	case StateConnected:
		if c.clock.Sub(c.lastReceiveTime) > ConnectionTimeout {
			c.logger.Printf("[Client] server timeout")
			c.Disconnect()
			return
		}
		if c.clock.Sub(c.lastSendTime) > HeartbeatInterval {
			c.sendHeartbeat()
		}
	}
}

// SendInput samples one frame of local input, applies it to the predicted
// local state immediately, records it for later reconciliation, and sends
// it (plus the last few unacknowledged inputs, for loss resilience) to the
// host.
func (c *Client) SendInput(in PlayerInput) {
	if c.state != StateConnected {
		return
	}

	c.inputSequence++
	in.Sequence = c.inputSequence
	in.Tick = c.serverTick

	predicted := c.localState
	ApplyInput(&predicted, in)
	predicted.Tick = c.serverTick

	c.inputHistory.AddInput(in, predicted)
	c.localState = predicted

	var buf PacketBuffer
	header := NewPacketHeader(PacketInput)
	c.localSequence++
	header.Sequence = c.localSequence
	header.Ack = c.remoteSequence
	header.AckBits = c.ackBits
	header.Tick = c.serverTick

	buf.writePos = headerSize
	unacked := c.inputHistory.GetUnacknowledged()
	if len(unacked) > maxInputsPerPacket {
		unacked = unacked[len(unacked)-maxInputsPerPacket:]
	}
	for _, u := range unacked {
		buf.WritePlayerInput(u)
	}
	header.PayloadSize = uint16(buf.writePos - headerSize)

	tail := buf.writePos
	buf.writePos = 0
	buf.WriteHeader(header)
	buf.writePos = tail

	c.sendToServer(&buf)
}

// InterpolatedPlayers returns every remote player's smoothed state,
// rendered INTERPOLATION_DELAY behind the host's current tick. Players
// with too little interpolation history yet fall back to their last
// received raw state.
func (c *Client) InterpolatedPlayers() map[uint32]PlayerState {
	result := make(map[uint32]PlayerState, len(c.remotePlayers))

	var renderTick uint32
	if c.serverTick > InterpolationTicks {
		renderTick = c.serverTick - InterpolationTicks
	}

	for id, raw := range c.remotePlayers {
		if id == c.playerID {
			continue
		}
		if interp, ok := c.interpolation[id]; ok {
			if state, ok := interp.Interpolate(renderTick); ok {
				result[id] = state
				continue
			}
		}
		result[id] = raw
	}
	return result
}

// receivePackets drains every datagram currently queued on the socket.
// now is the client's own clock, stamped onto whatever bookkeeping the
// drained packets trigger; the read deadline itself is set from the real
// wall clock immediately below, since the OS compares it against real
// time no matter what timeline the caller is simulating. A deadline that
// has already passed fails the read before the socket is checked, so it
// is set one millisecond ahead: a queued datagram is returned at once,
// and an empty socket ends the drain after at most that millisecond.
func (c *Client) receivePackets(now time.Time) {
	var raw [MaxPacketSize]byte
	for {
		c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, _, err := c.conn.ReadFromUDP(raw[:])
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return
			}
			return
		}

		var buf PacketBuffer
		buf.Load(raw[:n])
		header, err := buf.ReadHeader()
		if err != nil || !header.IsValid() {
			c.metrics.recordDropped("bad_header")
			continue
		}
		c.metrics.recordReceived(header.Type)
		c.handlePacket(header, &buf, now)
		if c.conn == nil {
			// CONNECT_REJECT or DISCONNECT closed the socket.
			return
		}
	}
}

func (c *Client) handlePacket(header PacketHeader, buf *PacketBuffer, now time.Time) {
	c.lastReceiveTime = now
	c.remoteSequence, c.ackBits = UpdateAckState(c.remoteSequence, c.ackBits, header.Sequence)
	if sample, ok := c.rttTracker.sample(header.Ack, now); ok {
		c.rtt = updateRTT(c.rtt, sample)
		c.metrics.setRTT(c.rtt)
	}

	switch header.Type {
	case PacketConnectAccept:
		c.handleConnectAccept(buf)
	case PacketConnectReject:
		c.logger.Printf("[Client] connection rejected")
		c.Disconnect()
	case PacketDisconnect:
		c.logger.Printf("[Client] server disconnected")
		c.Disconnect()
	case PacketHeartbeat:
		// Timing only; ack state already updated above.
	case PacketStateUpdate:
		c.handleStateUpdate(buf, header)
	case PacketWorldSnapshot:
		c.handleWorldSnapshot(buf)
	case PacketEntityCreate:
		c.handleEntityCreate(buf)
	case PacketEntityDestroy:
		c.handleEntityDestroy(buf)
	default:
		c.metrics.recordDropped("unknown_type")
	}
}

func (c *Client) handleConnectAccept(buf *PacketBuffer) {
	playerID, err := buf.readU32()
	if err != nil {
		return
	}
	serverTick, err := buf.readU32()
	if err != nil {
		return
	}

	c.playerID = playerID
	c.serverTick = serverTick
	c.state = StateConnected

	c.localState = PlayerState{
		PlayerID: playerID,
		Position: SpawnPosition(),
		Yaw:      spawnYaw,
		Tick:     serverTick,
	}

	c.logger.Printf("[Client] connected as player %d, tick %d", playerID, serverTick)
	c.metrics.recordConnection("accepted")
	if c.OnConnected != nil {
		c.OnConnected(playerID)
	}
}

func (c *Client) handleStateUpdate(buf *PacketBuffer, header PacketHeader) {
	c.serverTick = header.Tick

	playerCount, err := buf.readU8()
	if err != nil {
		return
	}
	for i := uint8(0); i < playerCount; i++ {
		state, err := buf.ReadPlayerState()
		if err != nil {
			return
		}
		if state.PlayerID == c.playerID {
			c.reconcileState(state)
		} else {
			c.remotePlayers[state.PlayerID] = state
			c.interpStateFor(state.PlayerID).AddState(state)
		}
	}
}

func (c *Client) handleWorldSnapshot(buf *PacketBuffer) {
	playerCount, err := buf.readU8()
	if err != nil {
		return
	}
	for i := uint8(0); i < playerCount; i++ {
		state, err := buf.ReadPlayerState()
		if err != nil {
			return
		}
		if state.PlayerID == c.playerID {
			c.localState = state
			c.lastServerState = state
		} else {
			c.remotePlayers[state.PlayerID] = state
			c.interpStateFor(state.PlayerID).AddState(state)
		}
	}

	entityCount, err := buf.readU8()
	if err != nil {
		return
	}
	for i := uint8(0); i < entityCount; i++ {
		entity, err := buf.ReadEntityState()
		if err != nil {
			return
		}
		if c.OnEntityCreated != nil {
			c.OnEntityCreated(entity.EntityID, entity.EntityType, entity.Position)
		}
	}

	c.logger.Printf("[Client] received world snapshot: %d players, %d entities", playerCount, entityCount)
}

func (c *Client) handleEntityCreate(buf *PacketBuffer) {
	entityID, err := buf.readU32()
	if err != nil {
		return
	}
	entityType, err := buf.readU8()
	if err != nil {
		return
	}
	pos, err := buf.readVec3()
	if err != nil {
		return
	}

	if entityType == 0 {
		c.remotePlayers[entityID] = PlayerState{PlayerID: entityID, Position: pos}
	}
	if c.OnEntityCreated != nil {
		c.OnEntityCreated(entityID, entityType, pos)
	}
	c.logger.Printf("[Client] entity %d created (type %d)", entityID, entityType)
}

func (c *Client) handleEntityDestroy(buf *PacketBuffer) {
	entityID, err := buf.readU32()
	if err != nil {
		return
	}
	delete(c.remotePlayers, entityID)
	delete(c.interpolation, entityID)
	if c.OnEntityDestroyed != nil {
		c.OnEntityDestroyed(entityID)
	}
	c.logger.Printf("[Client] entity %d destroyed", entityID)
}

func (c *Client) interpStateFor(id uint32) *InterpolationState {
	s, ok := c.interpolation[id]
	if !ok {
		s = &InterpolationState{}
		c.interpolation[id] = s
	}
	return s
}

// reconcileState folds an authoritative PlayerState for our own player
// back into the predicted local state: it drops acknowledged inputs,
// replays the rest against the server's correction, then blends or snaps
// the visible position depending on how far prediction had drifted.
func (c *Client) reconcileState(serverState PlayerState) {
	c.lastServerState = serverState
	c.inputHistory.AcknowledgeUpTo(serverState.LastProcessedInput)

	errorVec := serverState.Position.Sub(c.localState.Position)
	errorMag := float32(math.Sqrt(float64(
		errorVec.X*errorVec.X + errorVec.Y*errorVec.Y + errorVec.Z*errorVec.Z,
	)))

	if errorMag <= reconcileEpsilon {
		return
	}

	corrected := serverState
	for _, in := range c.inputHistory.GetUnacknowledged() {
		ApplyInput(&corrected, in)
	}

	if errorMag < reconcileSnapThreshold {
		c.localState.Position = shared.Lerp(c.localState.Position, corrected.Position, reconcileBlendFactor)
		c.metrics.recordReconciliation("blended")
	} else {
		c.localState.Position = corrected.Position
		c.metrics.recordReconciliation("snapped")
	}
}

func (c *Client) sendConnectRequest() {
	var buf PacketBuffer
	header := NewPacketHeader(PacketConnectRequest)
	c.localSequence++
	header.Sequence = c.localSequence

	buf.WriteHeader(header)
	c.sendToServer(&buf)
	c.lastSendTime = c.clock
}

func (c *Client) sendDisconnect() {
	var buf PacketBuffer
	header := NewPacketHeader(PacketDisconnect)
	c.localSequence++
	header.Sequence = c.localSequence

	buf.WriteHeader(header)
	c.sendToServer(&buf)
}

func (c *Client) sendHeartbeat() {
	var buf PacketBuffer
	header := NewPacketHeader(PacketHeartbeat)
	c.localSequence++
	header.Sequence = c.localSequence
	header.Ack = c.remoteSequence
	header.AckBits = c.ackBits

	buf.WriteHeader(header)
	c.sendToServer(&buf)
	c.lastSendTime = c.clock
}

func (c *Client) sendToServer(buf *PacketBuffer) {
	if _, err := c.conn.WriteToUDP(buf.Bytes(), c.serverAddr); err != nil {
		c.logger.Printf("[Client] write failed: %v", err)
		return
	}
	c.rttTracker.recordSend(c.localSequence, c.clock)
	c.metrics.recordSent(PacketType(buf.data[4]))
}
