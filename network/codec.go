package network

import (
	"errors"
	"math"

	"github.com/steppen0mad/Pulse/shared"
)

// ErrBufferOverflow is returned by write operations that would run past
// MaxPacketSize, and by reads that would run past the written length.
var ErrBufferOverflow = errors.New("network: packet buffer overflow")

// PacketHeader is the fixed 23-byte preamble of every Pulse packet.
type PacketHeader struct {
	Magic       [4]byte
	Type        PacketType
	Sequence    uint32
	Ack         uint32
	AckBits     uint32
	Tick        uint32
	PayloadSize uint16
}

var pulseMagic = [4]byte{'P', 'U', 'L', 'S'}

// IsValid reports whether h carries the expected magic bytes.
func (h PacketHeader) IsValid() bool {
	return h.Magic == pulseMagic
}

// NewPacketHeader returns a header with the magic bytes already set.
func NewPacketHeader(t PacketType) PacketHeader {
	return PacketHeader{Magic: pulseMagic, Type: t}
}

// PacketBuffer is a fixed-capacity serialization cursor over a single UDP
// datagram. It is a value type sized to MaxPacketSize so sending and
// receiving never allocate.
type PacketBuffer struct {
	data     [MaxPacketSize]byte
	writePos int
	readPos  int
}

// Reset rewinds both cursors to the start of the buffer.
func (b *PacketBuffer) Reset() {
	b.writePos = 0
	b.readPos = 0
}

// Size returns the number of bytes written so far.
func (b *PacketBuffer) Size() int { return b.writePos }

// Bytes returns the written portion of the buffer.
func (b *PacketBuffer) Bytes() []byte { return b.data[:b.writePos] }

// Load replaces the buffer's contents with raw and resets the read cursor,
// for decoding a datagram just received off the wire.
func (b *PacketBuffer) Load(raw []byte) {
	b.writePos = copy(b.data[:], raw)
	b.readPos = 0
}

func (b *PacketBuffer) writeU8(v uint8) error {
	if b.writePos >= MaxPacketSize {
		return ErrBufferOverflow
	}
	b.data[b.writePos] = v
	b.writePos++
	return nil
}

func (b *PacketBuffer) writeU16(v uint16) error {
	if err := b.writeU8(uint8(v & 0xFF)); err != nil {
		return err
	}
	return b.writeU8(uint8((v >> 8) & 0xFF))
}

func (b *PacketBuffer) writeU32(v uint32) error {
	if err := b.writeU16(uint16(v & 0xFFFF)); err != nil {
		return err
	}
	return b.writeU16(uint16((v >> 16) & 0xFFFF))
}

func (b *PacketBuffer) writeFloat(v float32) error {
	return b.writeU32(math.Float32bits(v))
}

func (b *PacketBuffer) writeVec3(v shared.Vec3) error {
	if err := b.writeFloat(v.X); err != nil {
		return err
	}
	if err := b.writeFloat(v.Y); err != nil {
		return err
	}
	return b.writeFloat(v.Z)
}

func (b *PacketBuffer) writeBytes(src []byte) error {
	if b.writePos+len(src) > MaxPacketSize {
		return ErrBufferOverflow
	}
	copy(b.data[b.writePos:], src)
	b.writePos += len(src)
	return nil
}

func (b *PacketBuffer) readU8() (uint8, error) {
	if b.readPos >= b.writePos {
		return 0, ErrBufferOverflow
	}
	v := b.data[b.readPos]
	b.readPos++
	return v, nil
}

func (b *PacketBuffer) readU16() (uint16, error) {
	lo, err := b.readU8()
	if err != nil {
		return 0, err
	}
	hi, err := b.readU8()
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (b *PacketBuffer) readU32() (uint32, error) {
	lo, err := b.readU16()
	if err != nil {
		return 0, err
	}
	hi, err := b.readU16()
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

func (b *PacketBuffer) readFloat() (float32, error) {
	u, err := b.readU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(u), nil
}

func (b *PacketBuffer) readVec3() (shared.Vec3, error) {
	x, err := b.readFloat()
	if err != nil {
		return shared.Vec3{}, err
	}
	y, err := b.readFloat()
	if err != nil {
		return shared.Vec3{}, err
	}
	z, err := b.readFloat()
	if err != nil {
		return shared.Vec3{}, err
	}
	return shared.Vec3{X: x, Y: y, Z: z}, nil
}

func (b *PacketBuffer) readBytes(n int) ([]byte, error) {
	if b.readPos+n > b.writePos {
		return nil, ErrBufferOverflow
	}
	out := make([]byte, n)
	copy(out, b.data[b.readPos:b.readPos+n])
	b.readPos += n
	return out, nil
}

// WriteHeader writes h's 23 fixed bytes. PayloadSize is written as-is; the
// caller is responsible for filling it in before calling WriteHeader, since
// unlike the C++ original this does not patch the field in after the fact.
func (b *PacketBuffer) WriteHeader(h PacketHeader) error {
	if err := b.writeBytes(h.Magic[:]); err != nil {
		return err
	}
	if err := b.writeU8(uint8(h.Type)); err != nil {
		return err
	}
	if err := b.writeU32(h.Sequence); err != nil {
		return err
	}
	if err := b.writeU32(h.Ack); err != nil {
		return err
	}
	if err := b.writeU32(h.AckBits); err != nil {
		return err
	}
	if err := b.writeU32(h.Tick); err != nil {
		return err
	}
	return b.writeU16(h.PayloadSize)
}

// ReadHeader reads the 23-byte fixed preamble.
func (b *PacketBuffer) ReadHeader() (PacketHeader, error) {
	var h PacketHeader
	magic, err := b.readBytes(4)
	if err != nil {
		return h, err
	}
	copy(h.Magic[:], magic)
	typ, err := b.readU8()
	if err != nil {
		return h, err
	}
	h.Type = PacketType(typ)
	if h.Sequence, err = b.readU32(); err != nil {
		return h, err
	}
	if h.Ack, err = b.readU32(); err != nil {
		return h, err
	}
	if h.AckBits, err = b.readU32(); err != nil {
		return h, err
	}
	if h.Tick, err = b.readU32(); err != nil {
		return h, err
	}
	if h.PayloadSize, err = b.readU16(); err != nil {
		return h, err
	}
	return h, nil
}

// WritePlayerInput writes the 21-byte PlayerInput payload.
func (b *PacketBuffer) WritePlayerInput(in PlayerInput) error {
	if err := b.writeU32(in.Sequence); err != nil {
		return err
	}
	if err := b.writeU32(in.Tick); err != nil {
		return err
	}
	if err := b.writeU8(in.Keys); err != nil {
		return err
	}
	if err := b.writeFloat(in.Yaw); err != nil {
		return err
	}
	if err := b.writeFloat(in.Pitch); err != nil {
		return err
	}
	return b.writeFloat(in.DeltaTime)
}

// ReadPlayerInput reads a 21-byte PlayerInput payload.
func (b *PacketBuffer) ReadPlayerInput() (PlayerInput, error) {
	var in PlayerInput
	var err error
	if in.Sequence, err = b.readU32(); err != nil {
		return in, err
	}
	if in.Tick, err = b.readU32(); err != nil {
		return in, err
	}
	if in.Keys, err = b.readU8(); err != nil {
		return in, err
	}
	if in.Yaw, err = b.readFloat(); err != nil {
		return in, err
	}
	if in.Pitch, err = b.readFloat(); err != nil {
		return in, err
	}
	if in.DeltaTime, err = b.readFloat(); err != nil {
		return in, err
	}
	return in, nil
}

// WritePlayerState writes the 32-byte PlayerState payload.
func (b *PacketBuffer) WritePlayerState(s PlayerState) error {
	if err := b.writeU32(s.PlayerID); err != nil {
		return err
	}
	if err := b.writeU32(s.Tick); err != nil {
		return err
	}
	if err := b.writeVec3(s.Position); err != nil {
		return err
	}
	if err := b.writeFloat(s.Yaw); err != nil {
		return err
	}
	if err := b.writeFloat(s.Pitch); err != nil {
		return err
	}
	return b.writeU32(s.LastProcessedInput)
}

// ReadPlayerState reads a 32-byte PlayerState payload.
func (b *PacketBuffer) ReadPlayerState() (PlayerState, error) {
	var s PlayerState
	var err error
	if s.PlayerID, err = b.readU32(); err != nil {
		return s, err
	}
	if s.Tick, err = b.readU32(); err != nil {
		return s, err
	}
	if s.Position, err = b.readVec3(); err != nil {
		return s, err
	}
	if s.Yaw, err = b.readFloat(); err != nil {
		return s, err
	}
	if s.Pitch, err = b.readFloat(); err != nil {
		return s, err
	}
	if s.LastProcessedInput, err = b.readU32(); err != nil {
		return s, err
	}
	return s, nil
}

// WriteEntityState writes the 37-byte EntityState payload.
func (b *PacketBuffer) WriteEntityState(e EntityState) error {
	if err := b.writeU32(e.EntityID); err != nil {
		return err
	}
	if err := b.writeU8(e.EntityType); err != nil {
		return err
	}
	if err := b.writeVec3(e.Position); err != nil {
		return err
	}
	if err := b.writeVec3(e.Velocity); err != nil {
		return err
	}
	if err := b.writeFloat(e.Yaw); err != nil {
		return err
	}
	return b.writeFloat(e.Pitch)
}

// ReadEntityState reads a 37-byte EntityState payload.
func (b *PacketBuffer) ReadEntityState() (EntityState, error) {
	var e EntityState
	var err error
	if e.EntityID, err = b.readU32(); err != nil {
		return e, err
	}
	if e.EntityType, err = b.readU8(); err != nil {
		return e, err
	}
	if e.Position, err = b.readVec3(); err != nil {
		return e, err
	}
	if e.Velocity, err = b.readVec3(); err != nil {
		return e, err
	}
	if e.Yaw, err = b.readFloat(); err != nil {
		return e, err
	}
	if e.Pitch, err = b.readFloat(); err != nil {
		return e, err
	}
	return e, nil
}
