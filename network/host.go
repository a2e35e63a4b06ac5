package network

import (
	"fmt"
	"log"
	"net"
	"time"
)

// Host is the authoritative UDP server: it owns the tick simulation, every
// connected player's Connection and PlayerState, and the socket they all
// share.
//
// Host holds no internal locks. Update is meant to be called from a single
// goroutine at whatever cadence the caller likes (cmd/host drives it from
// a ticker at TickInterval); ticks and snapshots are paced by internal
// accumulators, and heartbeats by the host's own clock against each
// connection's LastSendTime.
type Host struct {
	conn    *net.UDPConn
	running bool

	currentTick         uint32
	nextPlayerID        uint32
	tickAccumulator     time.Duration
	snapshotAccumulator time.Duration
	startTime           time.Time

	// clock is the host's own timeline for connection liveness
	// bookkeeping (LastReceiveTime/LastSendTime, checkTimeouts,
	// heartbeat cadence). It advances by exactly deltaTime on every
	// Update call rather than reading the wall clock, so a caller that
	// fast-forwards deltaTime (as tests do) fast-forwards timeouts too.
	// The UDP socket's read deadline is set from the real wall clock
	// separately, since the OS compares it against real time regardless.
	clock time.Time

	connections map[uint32]*Connection
	players     map[uint32]*PlayerState

	limiter *connectLimiter
	metrics *Metrics
	logger  *log.Logger

	// OnPlayerConnected and OnPlayerDisconnected are called synchronously
	// from Update when a player's lifecycle changes. Either may be nil.
	OnPlayerConnected    func(playerID uint32)
	OnPlayerDisconnected func(playerID uint32)
}

// HostOption configures a Host at construction time.
type HostOption func(*Host)

// WithHostLogger overrides the logger used for connection and error
// reporting. Defaults to log.Default().
func WithHostLogger(l *log.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// WithHostMetrics attaches a Metrics instance. Without this option the
// Host records no metrics at all.
func WithHostMetrics(m *Metrics) HostOption {
	return func(h *Host) { h.metrics = m }
}

// NewHost constructs an unstarted Host.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		nextPlayerID: 1,
		connections:  make(map[uint32]*Connection),
		players:      make(map[uint32]*PlayerState),
		limiter:      newConnectLimiter(),
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start binds the UDP socket on port and marks the host as running. Port 0
// asks the OS for an ephemeral port, useful in tests. It returns false
// (plus a descriptive error) on bind failure, mirroring the original
// embedder API's start(port) -> bool signature.
func (h *Host) Start(port uint16) (bool, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		h.logger.Printf("[Host] failed to bind to port %d: %v", port, err)
		return false, fmt.Errorf("network: host listen: %w", err)
	}
	h.conn = conn
	h.running = true
	h.currentTick = 0
	h.startTime = time.Now()
	h.clock = h.startTime
	h.logger.Printf("[Host] started on port %d", port)
	return true, nil
}

// Stop sends DISCONNECT to every connected peer and releases the socket.
func (h *Host) Stop() {
	if h.conn == nil {
		return
	}
	for _, conn := range h.connections {
		h.sendDisconnect(conn)
	}
	h.conn.Close()
	h.conn = nil
	h.connections = make(map[uint32]*Connection)
	h.players = make(map[uint32]*PlayerState)
	h.running = false
	h.logger.Printf("[Host] stopped")
}

// IsRunning reports whether Start succeeded and Stop has not yet been
// called.
func (h *Host) IsRunning() bool { return h.running }

// Addr returns the host's bound local address, useful when Start was
// called with port 0 to get an OS-assigned ephemeral port.
func (h *Host) Addr() *net.UDPAddr {
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr().(*net.UDPAddr)
}

// CurrentTick returns the number of ticks processed since Start.
func (h *Host) CurrentTick() uint32 { return h.currentTick }

// PlayerCount returns the number of players currently tracked.
func (h *Host) PlayerCount() int { return len(h.players) }

// Players returns the authoritative state of every connected player,
// keyed by player id. The caller must not mutate the returned map.
func (h *Host) Players() map[uint32]*PlayerState { return h.players }

// localPlayerID is the player id reserved for the host's own participant
// when it plays alongside its connected clients. Connected clients are
// always assigned ids starting at 1 (see nextPlayerID), so 0 never
// collides with a real connection.
const localPlayerID = 0

// GetLocalPlayer returns the host's own player state, lazily spawning it
// on first call at the standard spawn position/yaw.
func (h *Host) GetLocalPlayer() *PlayerState {
	state, ok := h.players[localPlayerID]
	if !ok {
		state = &PlayerState{
			PlayerID: localPlayerID,
			Position: SpawnPosition(),
			Yaw:      spawnYaw,
		}
		h.players[localPlayerID] = state
	}
	return state
}

// ProcessLocalInput applies input directly to the host's own player,
// letting the host act as a playable participant rather than a pure
// arbiter. It ensures the local player exists first.
func (h *Host) ProcessLocalInput(input PlayerInput) {
	h.GetLocalPlayer()
	h.applyInput(localPlayerID, input)
}

// Update drains incoming packets, checks for timeouts, advances the fixed
// tick simulation by deltaTime, and flushes snapshots/heartbeats that have
// come due. It is meant to be called once per host process loop iteration.
func (h *Host) Update(deltaTime time.Duration) {
	if !h.running {
		return
	}

	h.clock = h.clock.Add(deltaTime)
	h.receivePackets(h.clock)
	h.checkTimeouts(h.clock)

	h.tickAccumulator += deltaTime
	for h.tickAccumulator >= TickInterval {
		h.processTick()
		h.tickAccumulator -= TickInterval
	}

	h.snapshotAccumulator += deltaTime
	if h.snapshotAccumulator >= SnapshotInterval {
		h.sendStateUpdates()
		h.snapshotAccumulator -= SnapshotInterval
	}

	for _, conn := range h.connections {
		if conn.State == StateConnected && h.clock.Sub(conn.LastSendTime) >= HeartbeatInterval {
			h.sendHeartbeat(conn)
		}
	}
}

// receivePackets drains every datagram currently queued on the socket.
// now is the host's own clock, stamped onto whatever connection
// bookkeeping the drained packets trigger; the read deadline itself is
// set from the real wall clock immediately below, since the OS compares
// it against real time no matter what timeline the caller is simulating.
// A deadline that has already passed fails the read before the socket is
// checked, so it is set one millisecond ahead: a queued datagram is
// returned at once, and an empty socket ends the drain after at most that
// millisecond.
func (h *Host) receivePackets(now time.Time) {
	var raw [MaxPacketSize]byte
	for {
		h.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, addr, err := h.conn.ReadFromUDP(raw[:])
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
			h.metrics.recordDropped("bad_header")
			continue
		}
		h.metrics.recordReceived(header.Type)
		h.handlePacket(header, &buf, addr, now)
	}
}

func (h *Host) handlePacket(header PacketHeader, buf *PacketBuffer, fromAddr *net.UDPAddr, now time.Time) {
	conn := h.findConnection(fromAddr)

	switch header.Type {
	case PacketConnectRequest:
		h.handleConnectRequest(fromAddr, now)
	case PacketDisconnect:
		if conn != nil {
			h.handleDisconnect(conn)
		}
	case PacketHeartbeat:
		if conn != nil {
			conn.LastReceiveTime = now
			conn.RemoteSequence, conn.AckBits = UpdateAckState(conn.RemoteSequence, conn.AckBits, header.Sequence)
			h.sampleRTT(conn, header.Ack, now)
		}
	case PacketInput:
		if conn != nil && conn.State == StateConnected {
			conn.LastReceiveTime = now
			conn.RemoteSequence, conn.AckBits = UpdateAckState(conn.RemoteSequence, conn.AckBits, header.Sequence)
			h.sampleRTT(conn, header.Ack, now)
			h.handleInput(conn, buf, header.PayloadSize)
		}
	case PacketAck:
		if conn != nil {
			conn.LastReceiveTime = now
			conn.RemoteSequence, conn.AckBits = UpdateAckState(conn.RemoteSequence, conn.AckBits, header.Sequence)
			h.sampleRTT(conn, header.Ack, now)
		}
	default:
		h.metrics.recordDropped("unknown_type")
	}
}

func (h *Host) sampleRTT(conn *Connection, ack uint32, now time.Time) {
	if sample, ok := conn.rtt.sample(ack, now); ok {
		conn.RTT = updateRTT(conn.RTT, sample)
		h.metrics.setRTT(conn.RTT)
	}
}

func (h *Host) findConnection(addr *net.UDPAddr) *Connection {
	for _, conn := range h.connections {
		if conn.Address.IP.Equal(addr.IP) && conn.Address.Port == addr.Port {
			return conn
		}
	}
	return nil
}

func (h *Host) handleConnectRequest(fromAddr *net.UDPAddr, now time.Time) {
	if existing := h.findConnection(fromAddr); existing != nil && existing.State == StateConnected {
		h.sendConnectAccept(existing)
		return
	}

	if !h.limiter.Allow(fromAddr) {
		h.metrics.recordDropped("rate_limited")
		return
	}

	if len(h.connections) >= MaxPlayers {
		h.sendConnectReject(fromAddr, "server full")
		h.metrics.recordConnection("rejected")
		return
	}

	playerID := h.nextPlayerID
	h.nextPlayerID++

	conn := NewConnection(playerID, fromAddr)
	conn.State = StateConnected
	conn.LastReceiveTime = now
	h.connections[playerID] = conn
	h.limiter.Forget(fromAddr)

	state := &PlayerState{
		PlayerID: playerID,
		Position: SpawnPosition(),
		Yaw:      spawnYaw,
	}
	h.players[playerID] = state

	h.logger.Printf("[Host] player %d connected from %s", playerID, fromAddr)
	h.metrics.recordConnection("accepted")

	h.sendConnectAccept(conn)
	h.sendWorldSnapshot(conn)
	h.broadcastEntityCreate(playerID)

	if h.OnPlayerConnected != nil {
		h.OnPlayerConnected(playerID)
	}
}

func (h *Host) handleDisconnect(conn *Connection) {
	playerID := conn.PlayerID
	h.logger.Printf("[Host] player %d disconnected", playerID)

	h.broadcastEntityDestroy(playerID)
	delete(h.players, playerID)
	delete(h.connections, playerID)

	if h.OnPlayerDisconnected != nil {
		h.OnPlayerDisconnected(playerID)
	}
}

func (h *Host) handleInput(conn *Connection, buf *PacketBuffer, payloadSize uint16) {
	inputCount := int(payloadSize) / playerInputWireSize
	for i := 0; i < inputCount; i++ {
		input, err := buf.ReadPlayerInput()
		if err != nil {
			h.metrics.recordDropped("bad_payload")
			return
		}
		if input.Sequence > conn.LastProcessedInput {
			conn.QueueInput(input)
		}
	}
}

func (h *Host) processTick() {
	h.currentTick++
	start := time.Now()

	for playerID, conn := range h.connections {
		for _, input := range conn.DrainInputs() {
			if input.Sequence > conn.LastProcessedInput {
				h.applyInput(playerID, input)
				conn.LastProcessedInput = input.Sequence
				if state, ok := h.players[playerID]; ok {
					state.LastProcessedInput = input.Sequence
				}
			}
		}
	}

	h.metrics.observeTick(time.Since(start))
}

func (h *Host) applyInput(playerID uint32, input PlayerInput) {
	state, ok := h.players[playerID]
	if !ok {
		return
	}
	ApplyInput(state, input)
	state.Tick = h.currentTick
}

// checkTimeouts removes any connection that has not been heard from in
// ConnectionTimeout.
func (h *Host) checkTimeouts(now time.Time) {
	var timedOut []uint32
	for id, conn := range h.connections {
		if now.Sub(conn.LastReceiveTime) > ConnectionTimeout {
			h.logger.Printf("[Host] player %d timed out", id)
			timedOut = append(timedOut, id)
		}
	}
	for _, id := range timedOut {
		h.broadcastEntityDestroy(id)
		delete(h.players, id)
		delete(h.connections, id)
		h.metrics.recordConnection("timed_out")
		if h.OnPlayerDisconnected != nil {
			h.OnPlayerDisconnected(id)
		}
	}
}

func (h *Host) sendStateUpdates() {
	for _, conn := range h.connections {
		if conn.State != StateConnected {
			continue
		}

		var buf PacketBuffer
		header := NewPacketHeader(PacketStateUpdate)
		conn.LocalSequence++
		header.Sequence = conn.LocalSequence
		header.Ack = conn.RemoteSequence
		header.AckBits = conn.AckBits
		header.Tick = h.currentTick

		buf.writePos = headerSize
		buf.writeU8(uint8(len(h.players)))
		for _, state := range h.players {
			buf.WritePlayerState(*state)
		}
		header.PayloadSize = uint16(buf.writePos - headerSize)

		tail := buf.writePos
		buf.writePos = 0
		buf.WriteHeader(header)
		buf.writePos = tail

		h.sendTo(conn, &buf)
	}
}

func (h *Host) sendConnectAccept(conn *Connection) {
	var buf PacketBuffer
	header := NewPacketHeader(PacketConnectAccept)
	conn.LocalSequence++
	header.Sequence = conn.LocalSequence
	header.Tick = h.currentTick
	header.PayloadSize = 8

	buf.WriteHeader(header)
	buf.writeU32(conn.PlayerID)
	buf.writeU32(h.currentTick)

	h.sendTo(conn, &buf)
	conn.LastSendTime = h.clock
}

func (h *Host) sendConnectReject(addr *net.UDPAddr, reason string) {
	var buf PacketBuffer
	header := NewPacketHeader(PacketConnectReject)
	header.Tick = h.currentTick
	reasonBytes := []byte(reason)
	header.PayloadSize = uint16(len(reasonBytes))

	buf.WriteHeader(header)
	buf.writeBytes(reasonBytes)

	h.conn.WriteToUDP(buf.Bytes(), addr)
	h.metrics.recordSent(PacketConnectReject)
}

func (h *Host) sendDisconnect(conn *Connection) {
	var buf PacketBuffer
	header := NewPacketHeader(PacketDisconnect)
	conn.LocalSequence++
	header.Sequence = conn.LocalSequence

	buf.WriteHeader(header)
	h.sendTo(conn, &buf)
}

func (h *Host) sendHeartbeat(conn *Connection) {
	var buf PacketBuffer
	header := NewPacketHeader(PacketHeartbeat)
	conn.LocalSequence++
	header.Sequence = conn.LocalSequence
	header.Ack = conn.RemoteSequence
	header.AckBits = conn.AckBits
	header.Tick = h.currentTick

	buf.WriteHeader(header)
	h.sendTo(conn, &buf)
	conn.LastSendTime = h.clock
}

func (h *Host) sendWorldSnapshot(conn *Connection) {
	var buf PacketBuffer
	header := NewPacketHeader(PacketWorldSnapshot)
	conn.LocalSequence++
	header.Sequence = conn.LocalSequence
	header.Tick = h.currentTick

	buf.writePos = headerSize
	buf.writeU8(uint8(len(h.players)))
	for _, state := range h.players {
		buf.WritePlayerState(*state)
	}

	entities := WorldEntities()
	buf.writeU8(uint8(len(entities)))
	for _, e := range entities {
		buf.WriteEntityState(e)
	}

	header.PayloadSize = uint16(buf.writePos - headerSize)
	tail := buf.writePos
	buf.writePos = 0
	buf.WriteHeader(header)
	buf.writePos = tail

	h.sendTo(conn, &buf)
}

func (h *Host) broadcastEntityCreate(entityID uint32) {
	state, ok := h.players[entityID]
	if !ok {
		return
	}
	for connID, conn := range h.connections {
		if conn.State != StateConnected || connID == entityID {
			continue
		}
		var buf PacketBuffer
		header := NewPacketHeader(PacketEntityCreate)
		conn.LocalSequence++
		header.Sequence = conn.LocalSequence
		header.Tick = h.currentTick
		header.PayloadSize = 17

		buf.WriteHeader(header)
		buf.writeU32(entityID)
		buf.writeU8(0)
		buf.writeVec3(state.Position)

		h.sendTo(conn, &buf)
	}
}

func (h *Host) broadcastEntityDestroy(entityID uint32) {
	for _, conn := range h.connections {
		if conn.State != StateConnected {
			continue
		}
		var buf PacketBuffer
		header := NewPacketHeader(PacketEntityDestroy)
		conn.LocalSequence++
		header.Sequence = conn.LocalSequence
		header.Tick = h.currentTick
		header.PayloadSize = 4

		buf.WriteHeader(header)
		buf.writeU32(entityID)

		h.sendTo(conn, &buf)
	}
}

func (h *Host) sendTo(conn *Connection, buf *PacketBuffer) {
	if _, err := h.conn.WriteToUDP(buf.Bytes(), conn.Address); err != nil {
		h.logger.Printf("[Host] write to %s failed: %v", conn.Address, err)
		return
	}
	conn.rtt.recordSend(conn.LocalSequence, h.clock)
	h.metrics.recordSent(PacketType(buf.data[4]))
}
