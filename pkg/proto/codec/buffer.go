package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/google/uuid"
)

// Errors returned while decoding typed fields. ErrProtocol covers any
// malformed field; a read that runs past the body returns io.EOF wrapped
// into ErrProtocol so a single packet read stays atomic.
var (
	ErrProtocol    = errors.New("protocol error")
	ErrVarIntTooBig = fmt.Errorf("%w: VarInt is longer than 5 bytes", ErrProtocol)
)

const maxStringLength = 32767 * 4

// Position is a block position carried in packets.
type Position struct {
	X, Y, Z int32
}

// Slot is a wire item stack. A nil *Slot (or ID == -1 on the wire) means the
// slot is empty.
type Slot struct {
	ID     int16
	Count  byte
	Damage int16
	NBT    []byte // raw trailing NBT (or legacy enchantment blob), may be nil
}

// Reader decodes typed protocol fields from a single packet body.
// All methods fail with an error wrapping ErrProtocol on malformed or short
// input; the caller drops the packet or aborts the session.
type Reader struct {
	buf      *bytes.Reader
	protocol proto.Protocol
}

// NewReader returns a field reader over body for the given protocol version.
func NewReader(body []byte, protocol proto.Protocol) *Reader {
	return &Reader{buf: bytes.NewReader(body), protocol: protocol}
}

func (r *Reader) Protocol() proto.Protocol { return r.protocol }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return r.buf.Len() }

func (r *Reader) short(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: short packet body: %v", ErrProtocol, err)
}

func (r *Reader) ReadByte() (int8, error) {
	b, err := r.buf.ReadByte()
	return int8(b), r.short(err)
}

func (r *Reader) ReadUByte() (byte, error) {
	b, err := r.buf.ReadByte()
	return b, r.short(err)
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.buf.ReadByte()
	return b != 0, r.short(err)
}

func (r *Reader) ReadShort() (int16, error) {
	var p [2]byte
	if _, err := io.ReadFull(r.buf, p[:]); err != nil {
		return 0, r.short(err)
	}
	return int16(binary.BigEndian.Uint16(p[:])), nil
}

func (r *Reader) ReadUShort() (uint16, error) {
	v, err := r.ReadShort()
	return uint16(v), err
}

func (r *Reader) ReadInt() (int32, error) {
	var p [4]byte
	if _, err := io.ReadFull(r.buf, p[:]); err != nil {
		return 0, r.short(err)
	}
	return int32(binary.BigEndian.Uint32(p[:])), nil
}

func (r *Reader) ReadLong() (int64, error) {
	var p [8]byte
	if _, err := io.ReadFull(r.buf, p[:]); err != nil {
		return 0, r.short(err)
	}
	return int64(binary.BigEndian.Uint64(p[:])), nil
}

func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadInt()
	return math.Float32frombits(uint32(v)), err
}

func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadLong()
	return math.Float64frombits(uint64(v)), err
}

func (r *Reader) ReadVarInt() (int32, error) {
	return readVarInt(r.buf)
}

func (r *Reader) ReadString() (string, error) {
	length, err := r.ReadVarInt()
	if err != nil {
		return "", err
	}
	if length < 0 || int(length) > maxStringLength {
		return "", fmt.Errorf("%w: string length %d out of bounds", ErrProtocol, length)
	}
	p := make([]byte, length)
	if _, err := io.ReadFull(r.buf, p); err != nil {
		return "", r.short(err)
	}
	return string(p), nil
}

// ReadJSON reads a string field and unmarshals its JSON content into v.
func (r *Reader) ReadJSON(v interface{}) error {
	s, err := r.ReadString()
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: invalid JSON field: %v", ErrProtocol, err)
	}
	return nil
}

// ReadByteArray reads a VarInt-length-prefixed byte array (modern protocols).
func (r *Reader) ReadByteArray() ([]byte, error) {
	length, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if length < 0 || int(length) > r.buf.Len() {
		return nil, fmt.Errorf("%w: byte array length %d out of bounds", ErrProtocol, length)
	}
	p := make([]byte, length)
	_, err = io.ReadFull(r.buf, p)
	return p, r.short(err)
}

// ReadByteArrayShort reads a short-length-prefixed byte array (1.7 login).
func (r *Reader) ReadByteArrayShort() ([]byte, error) {
	length, err := r.ReadShort()
	if err != nil {
		return nil, err
	}
	if length < 0 || int(length) > r.buf.Len() {
		return nil, fmt.Errorf("%w: byte array length %d out of bounds", ErrProtocol, length)
	}
	p := make([]byte, length)
	_, err = io.ReadFull(r.buf, p)
	return p, r.short(err)
}

// ReadPosition reads a block position. For 1.8+ this is the packed
// 26/12/26-bit long; for 1.7 it is int x, short y, int z.
func (r *Reader) ReadPosition() (Position, error) {
	if r.protocol.GreaterEqual(proto.Minecraft_1_8) {
		v, err := r.ReadLong()
		if err != nil {
			return Position{}, err
		}
		return unpackPosition(v), nil
	}
	x, err := r.ReadInt()
	if err != nil {
		return Position{}, err
	}
	y, err := r.ReadShort()
	if err != nil {
		return Position{}, err
	}
	z, err := r.ReadInt()
	if err != nil {
		return Position{}, err
	}
	return Position{X: x, Y: int32(y), Z: z}, nil
}

func unpackPosition(v int64) Position {
	x := int32(v >> 38)
	y := int32((v >> 26) & 0xFFF)
	if y >= 1<<11 {
		y -= 1 << 12
	}
	z := int32(v & 0x3FFFFFF)
	if z >= 1<<25 {
		z -= 1 << 26
	}
	return Position{X: x, Y: y, Z: z}
}

func packPosition(p Position) int64 {
	return (int64(p.X)&0x3FFFFFF)<<38 |
		(int64(p.Y)&0xFFF)<<26 |
		(int64(p.Z) & 0x3FFFFFF)
}

// ReadUUID reads a UUID encoded as two big-endian longs.
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	var p [16]byte
	if _, err := io.ReadFull(r.buf, p[:]); err != nil {
		return uuid.Nil, r.short(err)
	}
	return uuid.FromBytes(p[:])
}

// ReadSlot reads an item stack. withNBT selects whether trailing item data
// is full NBT (1.8+) or the legacy short-prefixed blob.
func (r *Reader) ReadSlot(withNBT bool) (*Slot, error) {
	id, err := r.ReadShort()
	if err != nil {
		return nil, err
	}
	if id == -1 {
		return nil, nil
	}
	s := &Slot{ID: id}
	if s.Count, err = r.ReadUByte(); err != nil {
		return nil, err
	}
	if s.Damage, err = r.ReadShort(); err != nil {
		return nil, err
	}
	if withNBT {
		s.NBT, err = r.readNBT()
	} else {
		var length int16
		if length, err = r.ReadShort(); err != nil {
			return nil, err
		}
		if length >= 0 {
			s.NBT = make([]byte, length)
			_, err = io.ReadFull(r.buf, s.NBT)
			err = r.short(err)
		}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ReadRest consumes and returns all remaining bytes of the body. Also used
// for entity metadata, which the proxy carries as an opaque trailing blob.
func (r *Reader) ReadRest() ([]byte, error) {
	p := make([]byte, r.buf.Len())
	_, err := io.ReadFull(r.buf, p)
	return p, r.short(err)
}

// Writer builds a packet body out of typed protocol fields.
type Writer struct {
	buf      bytes.Buffer
	protocol proto.Protocol
}

// NewWriter returns a field writer for the given protocol version.
func NewWriter(protocol proto.Protocol) *Writer {
	return &Writer{protocol: protocol}
}

// Bytes returns the accumulated body.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteByte(v int8)   { w.buf.WriteByte(byte(v)) }
func (w *Writer) WriteUByte(v byte)  { w.buf.WriteByte(v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteShort(v int16) {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], uint16(v))
	w.buf.Write(p[:])
}

func (w *Writer) WriteUShort(v uint16) { w.WriteShort(int16(v)) }

func (w *Writer) WriteInt(v int32) {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], uint32(v))
	w.buf.Write(p[:])
}

func (w *Writer) WriteLong(v int64) {
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], uint64(v))
	w.buf.Write(p[:])
}

func (w *Writer) WriteFloat(v float32)  { w.WriteInt(int32(math.Float32bits(v))) }
func (w *Writer) WriteDouble(v float64) { w.WriteLong(int64(math.Float64bits(v))) }

func (w *Writer) WriteVarInt(v int32) { writeVarInt(&w.buf, v) }

func (w *Writer) WriteString(s string) {
	w.WriteVarInt(int32(len(s)))
	w.buf.WriteString(s)
}

// WriteJSON marshals v and writes it as a string field.
func (w *Writer) WriteJSON(v interface{}) error {
	p, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.WriteString(string(p))
	return nil
}

func (w *Writer) WriteByteArray(p []byte) {
	w.WriteVarInt(int32(len(p)))
	w.buf.Write(p)
}

func (w *Writer) WriteByteArrayShort(p []byte) {
	w.WriteShort(int16(len(p)))
	w.buf.Write(p)
}

func (w *Writer) WritePosition(p Position) {
	if w.protocol.GreaterEqual(proto.Minecraft_1_8) {
		w.WriteLong(packPosition(p))
		return
	}
	w.WriteInt(p.X)
	w.WriteShort(int16(p.Y))
	w.WriteInt(p.Z)
}

func (w *Writer) WriteUUID(id uuid.UUID) { w.buf.Write(id[:]) }

func (w *Writer) WriteRaw(p []byte) { w.buf.Write(p) }

func readVarInt(r io.ByteReader) (int32, error) {
	var value uint32
	for i := 0; ; i++ {
		if i == 5 {
			return 0, ErrVarIntTooBig
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: short VarInt: %v", ErrProtocol, err)
		}
		value |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			break
		}
	}
	return int32(value), nil
}

func writeVarInt(w *bytes.Buffer, v int32) {
	value := uint32(v)
	for {
		b := byte(value & 0x7F)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if value == 0 {
			return
		}
	}
}

func varIntLen(v int32) int {
	value := uint32(v)
	n := 0
	for {
		n++
		value >>= 7
		if value == 0 {
			return n
		}
	}
}
