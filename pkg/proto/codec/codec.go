package codec

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"io/ioutil"
	"sync"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
)

// Frame is one decoded packet: the wire ID plus the uncompressed body.
// Payload is the complete uncompressed `VarInt id | body` slice, kept so
// uninterpreted packets can be forwarded without re-encoding.
type Frame struct {
	ID      int32
	Body    []byte
	Payload []byte
}

const maxFrameLength = 1 << 21 // 2 MiB, generous for any client-bound chunk data

// Decoder reads length-prefixed frames from a connection. Encryption is
// installed mid-stream by swapping the underlying reader between frames, so
// the cipher flip never splits a frame.
type Decoder struct {
	rd        io.Reader
	direction proto.Direction
	protocol  proto.Protocol

	// compression threshold; -1 while compression is off
	threshold int
}

// NewDecoder returns a Decoder reading frames from r.
func NewDecoder(r io.Reader, direction proto.Direction) *Decoder {
	return &Decoder{rd: r, direction: direction, threshold: -1}
}

func (d *Decoder) SetProtocol(protocol proto.Protocol) { d.protocol = protocol }

// SetCompressionThreshold enables compressed framing for subsequent reads.
func (d *Decoder) SetCompressionThreshold(threshold int) { d.threshold = threshold }

// EnableEncryption routes all subsequent reads through an AES-128/CFB8
// decrypt stream keyed by secret (IV = secret). Must be called between
// frames, by the same goroutine that calls ReadFrame.
func (d *Decoder) EnableEncryption(secret []byte) error {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return err
	}
	d.rd = &cipher.StreamReader{S: NewDecryptStream(block, secret), R: d.rd}
	return nil
}

// ReadFrame reads the next complete packet. A clean EOF before the first
// length byte is returned as io.EOF; any malformed framing is ErrProtocol.
func (d *Decoder) ReadFrame() (*Frame, error) {
	length, err := d.readLength()
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > maxFrameLength {
		return nil, fmt.Errorf("%w: frame length %d out of bounds", ErrProtocol, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(d.rd, payload); err != nil {
		return nil, fmt.Errorf("%w: short frame: %v", ErrProtocol, err)
	}

	if d.threshold >= 0 {
		payload, err = d.inflate(payload)
		if err != nil {
			return nil, err
		}
	}

	body := bytes.NewReader(payload)
	id, err := readVarInt(body)
	if err != nil {
		return nil, err
	}
	rest := make([]byte, body.Len())
	_, _ = io.ReadFull(body, rest)
	return &Frame{ID: id, Body: rest, Payload: payload}, nil
}

// readLength reads the leading VarInt byte-by-byte so a clean disconnect
// between frames surfaces as io.EOF rather than a protocol error.
func (d *Decoder) readLength() (int32, error) {
	var value uint32
	var one [1]byte
	for i := 0; ; i++ {
		if i == 5 {
			return 0, ErrVarIntTooBig
		}
		if _, err := io.ReadFull(d.rd, one[:]); err != nil {
			if i == 0 && err == io.EOF {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("%w: short frame length: %v", ErrProtocol, err)
		}
		value |= uint32(one[0]&0x7F) << (7 * uint(i))
		if one[0]&0x80 == 0 {
			return int32(value), nil
		}
	}
}

func (d *Decoder) inflate(payload []byte) ([]byte, error) {
	body := bytes.NewReader(payload)
	uncompressed, err := readVarInt(body)
	if err != nil {
		return nil, err
	}
	if uncompressed == 0 {
		rest := make([]byte, body.Len())
		_, _ = io.ReadFull(body, rest)
		return rest, nil
	}
	if uncompressed < 0 || uncompressed > maxFrameLength {
		return nil, fmt.Errorf("%w: uncompressed length %d out of bounds", ErrProtocol, uncompressed)
	}
	zr, err := zlib.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: bad zlib stream: %v", ErrProtocol, err)
	}
	defer zr.Close()
	out, err := ioutil.ReadAll(io.LimitReader(zr, int64(uncompressed)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrProtocol, err)
	}
	if len(out) != int(uncompressed) {
		return nil, fmt.Errorf("%w: uncompressed length mismatch: got %d want %d",
			ErrProtocol, len(out), uncompressed)
	}
	return out, nil
}

// Encoder turns packets into wire-ready byte slices: framing, optional zlib
// compression and the send cipher. It is safe for concurrent use; the mutex
// keeps the CFB8 keystream aligned with the emission order of frames.
type Encoder struct {
	mu        sync.Mutex
	direction proto.Direction
	protocol  proto.Protocol
	threshold int
	stream    cipher.Stream
}

// NewEncoder returns an Encoder for the given direction.
func NewEncoder(direction proto.Direction) *Encoder {
	return &Encoder{direction: direction, threshold: -1}
}

func (e *Encoder) SetProtocol(protocol proto.Protocol) {
	e.mu.Lock()
	e.protocol = protocol
	e.mu.Unlock()
}

// SetCompression enables compressed framing for packets at or above
// threshold bytes. Smaller packets are framed uncompressed.
func (e *Encoder) SetCompression(threshold int) {
	e.mu.Lock()
	e.threshold = threshold
	e.mu.Unlock()
}

// EnableEncryption pushes every subsequently encoded byte through an
// AES-128/CFB8 encrypt stream (key = IV = secret). Frames encoded before the
// call are unaffected, frames after are fully enciphered: the flip happens
// on a frame boundary because Encode holds the mutex for the whole frame.
func (e *Encoder) EnableEncryption(secret []byte) error {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.stream = NewEncryptStream(block, secret)
	e.mu.Unlock()
	return nil
}

// Encode frames `id | body` into wire bytes.
func (e *Encoder) Encode(id int32, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(varIntLen(id) + len(body))
	writeVarInt(&buf, id)
	buf.Write(body)
	return e.EncodeRaw(buf.Bytes())
}

// EncodeRaw frames an already-assembled `VarInt id | body` payload.
func (e *Encoder) EncodeRaw(payload []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var frame bytes.Buffer
	if e.threshold < 0 {
		writeVarInt(&frame, int32(len(payload)))
		frame.Write(payload)
	} else if len(payload) < e.threshold {
		// Below threshold: uncompressed_length = 0 marks a stored payload.
		writeVarInt(&frame, int32(len(payload))+1)
		frame.WriteByte(0)
		frame.Write(payload)
	} else {
		var deflated bytes.Buffer
		zw := zlib.NewWriter(&deflated)
		if _, err := zw.Write(payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		inner := varIntLen(int32(len(payload))) + deflated.Len()
		writeVarInt(&frame, int32(inner))
		writeVarInt(&frame, int32(len(payload)))
		frame.Write(deflated.Bytes())
	}

	out := frame.Bytes()
	if e.stream != nil {
		e.stream.XORKeyStream(out, out)
	}
	return out, nil
}
