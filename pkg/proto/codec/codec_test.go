package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeCodec(t *testing.T) (*Encoder, func() *Decoder, *bytes.Buffer) {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := NewEncoder(proto.ClientBound)
	return enc, func() *Decoder { return NewDecoder(buf, proto.ClientBound) }, buf
}

func TestFrameRoundTripPlain(t *testing.T) {
	enc, newDec, buf := pipeCodec(t)

	body := []byte("hello frame")
	wire, err := enc.Encode(0x2A, body)
	require.NoError(t, err)
	buf.Write(wire)

	frame, err := newDec().ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x2A), frame.ID)
	assert.Equal(t, body, frame.Body)

	// Payload keeps the uncompressed id|body form for pass-through.
	re, err := NewEncoder(proto.ClientBound).EncodeRaw(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, wire, re)
}

func TestFrameRoundTripCompressedBelowThreshold(t *testing.T) {
	enc, newDec, buf := pipeCodec(t)
	enc.SetCompression(256)

	body := []byte("small")
	wire, err := enc.Encode(0x01, body)
	require.NoError(t, err)
	// Below the threshold the payload must be stored, not deflated:
	// length, 0x00 marker, id, body.
	assert.Equal(t, byte(0), wire[1])
	buf.Write(wire)

	dec := newDec()
	dec.SetCompressionThreshold(256)
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x01), frame.ID)
	assert.Equal(t, body, frame.Body)
}

func TestFrameRoundTripCompressedAboveThreshold(t *testing.T) {
	enc, newDec, buf := pipeCodec(t)
	enc.SetCompression(64)

	body := bytes.Repeat([]byte("chunkdata"), 100)
	wire, err := enc.Encode(0x21, body)
	require.NoError(t, err)
	assert.Less(t, len(wire), len(body), "payload should deflate")
	buf.Write(wire)

	dec := newDec()
	dec.SetCompressionThreshold(64)
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x21), frame.ID)
	assert.Equal(t, body, frame.Body)
}

func TestFrameRoundTripEncrypted(t *testing.T) {
	secret := []byte("0123456789abcdef")

	enc, newDec, buf := pipeCodec(t)
	require.NoError(t, enc.EnableEncryption(secret))

	dec := newDec()
	require.NoError(t, dec.EnableEncryption(secret))

	for _, body := range [][]byte{[]byte("first"), []byte("second"), {}, []byte("third")} {
		wire, err := enc.Encode(0x07, body)
		require.NoError(t, err)
		buf.Write(wire)
	}
	for _, want := range [][]byte{[]byte("first"), []byte("second"), {}, []byte("third")} {
		frame, err := dec.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, int32(0x07), frame.ID)
		if len(want) == 0 {
			assert.Empty(t, frame.Body)
		} else {
			assert.Equal(t, want, frame.Body)
		}
	}
}

func TestFrameEncryptedCompressed(t *testing.T) {
	secret := []byte("fedcba9876543210")

	enc, newDec, buf := pipeCodec(t)
	enc.SetCompression(32)
	require.NoError(t, enc.EnableEncryption(secret))

	dec := newDec()
	dec.SetCompressionThreshold(32)
	require.NoError(t, dec.EnableEncryption(secret))

	body := bytes.Repeat([]byte{0xAB, 0xCD}, 64)
	wire, err := enc.Encode(0x3F, body)
	require.NoError(t, err)
	buf.Write(wire)

	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, int32(0x3F), frame.ID)
	assert.Equal(t, body, frame.Body)
}

func TestReadFrameCleanEOF(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil), proto.ServerBound)
	_, err := dec.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameTruncated(t *testing.T) {
	// Length says 10 but only 3 bytes follow.
	dec := NewDecoder(bytes.NewReader([]byte{10, 1, 2, 3}), proto.ServerBound)
	_, err := dec.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol), "got %v", err)
}

func TestReadFrameBadLength(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}), proto.ServerBound)
	_, err := dec.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol), "got %v", err)
}

func TestEncryptionFlipsBetweenFrames(t *testing.T) {
	secret := []byte("0000111122223333")
	enc, newDec, buf := pipeCodec(t)

	clear, err := enc.Encode(0x02, []byte("login success"))
	require.NoError(t, err)
	buf.Write(clear)
	require.NoError(t, enc.EnableEncryption(secret))
	ciphered, err := enc.Encode(0x00, []byte("keepalive"))
	require.NoError(t, err)
	buf.Write(ciphered)

	dec := newDec()
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("login success"), frame.Body)

	require.NoError(t, dec.EnableEncryption(secret))
	frame, err = dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("keepalive"), frame.Body)
}
