package network

import (
	"net"
	"testing"
	"time"

	"github.com/steppen0mad/Pulse/shared"
)

// driveWithStep steps each of steps n times, advancing every call by step.
// Host and Client derive all liveness bookkeeping (timeouts, heartbeat
// cadence) from the deltaTime they are handed rather than the wall clock,
// so this is how tests fast-forward past ConnectionTimeout without an
// actual sleep.
func driveWithStep(t *testing.T, n int, step time.Duration, steps ...func(dt time.Duration)) {
	t.Helper()
	for i := 0; i < n; i++ {
		for _, s := range steps {
			s(step)
		}
	}
}

// drive steps both peers' Update loops for n ticks of TickInterval,
// simulating the fixed-rate cooperative loop a real cmd/host or
// cmd/client process would run.
func drive(t *testing.T, n int, steps ...func(dt time.Duration)) {
	t.Helper()
	driveWithStep(t, n, TickInterval, steps...)
}

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h := NewHost()
	ok, err := h.Start(0)
	if !ok {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.Stop)
	return h
}

func connectTestClient(t *testing.T, h *Host) *Client {
	t.Helper()
	c := NewClient()
	ok, err := c.Connect("127.0.0.1", uint16(h.Addr().Port))
	if !ok {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	drive(t, 20, h.Update, c.Update)
	if !c.IsConnected() {
		t.Fatal("client never reached connected state")
	}
	return c
}

func TestConnectHandshake(t *testing.T) {
	h := newTestHost(t)
	c := connectTestClient(t, h)

	if h.PlayerCount() != 1 {
		t.Fatalf("PlayerCount() = %d, want 1", h.PlayerCount())
	}
	if c.PlayerID() == 0 {
		t.Fatal("expected a nonzero player id")
	}
}

func TestConnectAcceptAssignsDistinctPlayerIDs(t *testing.T) {
	h := newTestHost(t)
	c1 := connectTestClient(t, h)
	c2 := connectTestClient(t, h)

	if c1.PlayerID() == c2.PlayerID() {
		t.Fatalf("expected distinct player ids, both got %d", c1.PlayerID())
	}
	if h.PlayerCount() != 2 {
		t.Fatalf("PlayerCount() = %d, want 2", h.PlayerCount())
	}
}

func TestInputAppliedAuthoritatively(t *testing.T) {
	h := newTestHost(t)
	c := connectTestClient(t, h)

	// At yaw -90 the forward key moves the player towards -Z.
	startZ := h.Players()[c.PlayerID()].Position.Z
	for i := 0; i < 30; i++ {
		c.SendInput(PlayerInput{Keys: KeyForward, Yaw: -90, DeltaTime: float32(TickInterval.Seconds())})
		drive(t, 1, h.Update, c.Update)
	}

	endZ := h.Players()[c.PlayerID()].Position.Z
	if endZ >= startZ {
		t.Fatalf("expected forward movement towards -Z, start=%v end=%v", startZ, endZ)
	}
}

func TestClientPredictionMatchesHostAfterReconciliation(t *testing.T) {
	h := newTestHost(t)
	c := connectTestClient(t, h)

	for i := 0; i < 60; i++ {
		c.SendInput(PlayerInput{Keys: KeyForward, Yaw: -90, DeltaTime: float32(TickInterval.Seconds())})
		drive(t, 1, h.Update, c.Update)
	}
	// Let a few more snapshot intervals flow through so the last
	// reconciliation settles.
	drive(t, 10, h.Update, c.Update)

	hostPos := h.Players()[c.PlayerID()].Position
	localPos := c.LocalState().Position
	if dist := hostPos.Sub(localPos).Length(); dist > 0.5 {
		t.Fatalf("predicted position diverged from host: host=%v local=%v", hostPos, localPos)
	}
}

func TestMaxPlayersRejectsExtraConnections(t *testing.T) {
	h := newTestHost(t)
	clients := make([]*Client, 0, MaxPlayers+1)
	for i := 0; i < MaxPlayers; i++ {
		clients = append(clients, connectTestClient(t, h))
	}
	if h.PlayerCount() != MaxPlayers {
		t.Fatalf("PlayerCount() = %d, want %d", h.PlayerCount(), MaxPlayers)
	}

	overflow := NewClient()
	ok, err := overflow.Connect("127.0.0.1", uint16(h.Addr().Port))
	if !ok {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(overflow.Disconnect)

	drive(t, 20, h.Update, overflow.Update)
	if overflow.IsConnected() {
		t.Fatal("expected the 17th connection to be rejected")
	}
	if h.PlayerCount() != MaxPlayers {
		t.Fatalf("PlayerCount() changed after rejection: %d", h.PlayerCount())
	}
	_ = clients
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	h := newTestHost(t)
	c := connectTestClient(t, h)
	other := connectTestClient(t, h)

	var destroyed []uint32
	other.OnEntityDestroyed = func(entityID uint32) { destroyed = append(destroyed, entityID) }

	leavingID := c.PlayerID()
	c.Disconnect()
	drive(t, 5, h.Update, other.Update)

	if h.PlayerCount() != 1 {
		t.Fatalf("PlayerCount() = %d, want 1 after disconnect", h.PlayerCount())
	}
	if len(destroyed) != 1 || destroyed[0] != leavingID {
		t.Fatalf("other client's OnEntityDestroyed saw %+v, want [%d]", destroyed, leavingID)
	}
}

func TestWorldSnapshotDeliversStaticEntities(t *testing.T) {
	h := newTestHost(t)

	var created []uint32
	c := NewClient()
	c.OnEntityCreated = func(entityID uint32, entityType uint8, _ shared.Vec3) {
		created = append(created, entityID)
	}
	ok, err := c.Connect("127.0.0.1", uint16(h.Addr().Port))
	if !ok {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	drive(t, 20, h.Update, c.Update)

	if len(created) != len(WorldEntities()) {
		t.Fatalf("got %d entity-created callbacks, want %d", len(created), len(WorldEntities()))
	}
}

func TestClientPlayerCountIncludesSelf(t *testing.T) {
	h := newTestHost(t)
	c1 := connectTestClient(t, h)
	c2 := connectTestClient(t, h)

	for i := 0; i < 10; i++ {
		c1.SendInput(PlayerInput{Keys: KeyForward, Yaw: -90, DeltaTime: float32(TickInterval.Seconds())})
		drive(t, 1, h.Update, c1.Update, c2.Update)
	}

	if got := c1.PlayerCount(); got != 2 {
		t.Fatalf("PlayerCount() = %d, want 2 (self + one remote)", got)
	}
}

func TestHostLocalPlayerIsPlayable(t *testing.T) {
	h := newTestHost(t)

	local := h.GetLocalPlayer()
	if local.PlayerID != localPlayerID {
		t.Fatalf("GetLocalPlayer().PlayerID = %d, want %d", local.PlayerID, localPlayerID)
	}
	// At yaw -90 the forward key moves the player towards -Z.
	startZ := local.Position.Z

	for i := 0; i < 30; i++ {
		h.ProcessLocalInput(PlayerInput{Keys: KeyForward, Yaw: -90, DeltaTime: float32(TickInterval.Seconds())})
	}

	endZ := h.GetLocalPlayer().Position.Z
	if endZ >= startZ {
		t.Fatalf("expected the host's local player to move forward, start=%v end=%v", startZ, endZ)
	}
	if h.players[localPlayerID] == nil {
		t.Fatal("expected the local player to be registered in h.players")
	}
}

func TestRemotePlayerInterpolation(t *testing.T) {
	h := newTestHost(t)
	c1 := connectTestClient(t, h)
	c2 := connectTestClient(t, h)

	for i := 0; i < 40; i++ {
		c1.SendInput(PlayerInput{Keys: KeyForward, Yaw: -90, DeltaTime: float32(TickInterval.Seconds())})
		drive(t, 1, h.Update, c1.Update, c2.Update)
	}

	interpolated := c2.InterpolatedPlayers()
	if _, ok := interpolated[c1.PlayerID()]; !ok {
		t.Fatalf("expected an interpolated state for player %d", c1.PlayerID())
	}
}

// deadUDPPort binds an ephemeral UDP socket, reads back its port, and closes
// it immediately, yielding a port number guaranteed to have nothing
// listening on it.
func deadUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return uint16(port)
}

func TestHostTimeoutRemovesStaleConnectionAndNotifiesPeers(t *testing.T) {
	h := newTestHost(t)
	stale := connectTestClient(t, h)
	survivor := connectTestClient(t, h)

	var destroyed []uint32
	survivor.OnEntityDestroyed = func(entityID uint32) { destroyed = append(destroyed, entityID) }

	staleID := stale.PlayerID()

	// Drive only the host and the survivor. The survivor's heartbeats
	// (sent once more than HeartbeatInterval has passed, so every other
	// step here) keep its own connection alive on the host, while the
	// stale client's LastReceiveTime never advances, so it alone crosses
	// ConnectionTimeout.
	iterations := int(ConnectionTimeout/HeartbeatInterval) + 3
	driveWithStep(t, iterations, HeartbeatInterval, h.Update, survivor.Update)

	if h.PlayerCount() != 1 {
		t.Fatalf("PlayerCount() = %d, want 1 after stale peer times out", h.PlayerCount())
	}
	if _, ok := h.Players()[staleID]; ok {
		t.Fatalf("stale player %d still present in Players()", staleID)
	}
	if len(destroyed) != 1 || destroyed[0] != staleID {
		t.Fatalf("survivor's OnEntityDestroyed saw %+v, want [%d]", destroyed, staleID)
	}
}

func TestClientConnectTimeout(t *testing.T) {
	c := NewClient()
	var disconnected bool
	c.OnDisconnected = func() { disconnected = true }

	ok, err := c.Connect("127.0.0.1", deadUDPPort(t))
	if !ok {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	iterations := int(ConnectionTimeout/TickInterval) + 5
	driveWithStep(t, iterations, TickInterval, c.Update)

	if c.IsConnecting() {
		t.Fatal("client should have given up connecting after ConnectionTimeout")
	}
	if !disconnected {
		t.Fatal("expected OnDisconnected to fire after a connect timeout")
	}
}

func TestClientServerTimeout(t *testing.T) {
	h := newTestHost(t)
	c := connectTestClient(t, h)

	var disconnected bool
	c.OnDisconnected = func() { disconnected = true }

	// Go silent on the host side without telling the client: stop driving
	// the host (Stop would send DISCONNECT), then drive only the client so
	// it never hears another packet.
	iterations := int(ConnectionTimeout/HeartbeatInterval) + 3
	driveWithStep(t, iterations, HeartbeatInterval, c.Update)

	if c.IsConnected() {
		t.Fatal("client should have detected server timeout")
	}
	if !disconnected {
		t.Fatal("expected OnDisconnected to fire after a server timeout")
	}
}
