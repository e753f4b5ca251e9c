package proxy

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"github.com/gammazero/deque"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Indicates a connection is already closed.
var ErrClosedConn = errors.New("connection is closed")

// conn wraps one side's TCP socket with the frame codec and a buffered
// egress queue. The ingress reader is the only goroutine calling nextFrame;
// the egress pump is the only goroutine writing to the socket. Everyone else
// just enqueues wire-ready frames.
type conn struct {
	c       net.Conn
	readBuf *bufio.Reader
	decoder *codec.Decoder
	encoder *codec.Encoder

	outMu    sync.Mutex
	outQueue deque.Deque // of []byte, already framed and enciphered

	closeOnce sync.Once
	closed    atomic.Bool

	flushInterval time.Duration
	writeTimeout  time.Duration
}

// newConn wraps base. in is the direction of packets read from base.
func newConn(base net.Conn, in proto.Direction) *conn {
	out := proto.ClientBound
	if in == proto.ClientBound { // a backend connection: we write server bound
		out = proto.ServerBound
	}
	readBuf := bufio.NewReader(base)
	return &conn{
		c:             base,
		readBuf:       readBuf,
		decoder:       codec.NewDecoder(readBuf, in),
		encoder:       codec.NewEncoder(out),
		flushInterval: 10 * time.Millisecond,
		writeTimeout:  5 * time.Second,
	}
}

func (c *conn) setProtocol(protocol proto.Protocol) {
	c.decoder.SetProtocol(protocol)
	c.encoder.SetProtocol(protocol)
}

// nextFrame reads the next packet. Must only be called by the ingress reader.
func (c *conn) nextFrame() (*codec.Frame, error) {
	return c.decoder.ReadFrame()
}

// bufferPacket frames id|body and appends it to the egress queue.
func (c *conn) bufferPacket(id int32, body []byte) error {
	if c.closed.Load() {
		return ErrClosedConn
	}
	wire, err := c.encoder.Encode(id, body)
	if err != nil {
		return err
	}
	c.enqueue(wire)
	return nil
}

// bufferRaw frames an already-assembled `id | body` payload.
func (c *conn) bufferRaw(payload []byte) error {
	if c.closed.Load() {
		return ErrClosedConn
	}
	wire, err := c.encoder.EncodeRaw(payload)
	if err != nil {
		return err
	}
	c.enqueue(wire)
	return nil
}

func (c *conn) enqueue(wire []byte) {
	c.outMu.Lock()
	c.outQueue.PushBack(wire)
	c.outMu.Unlock()
}

// flush writes every queued frame to the socket in submission order.
func (c *conn) flush() error {
	for {
		c.outMu.Lock()
		if c.outQueue.Len() == 0 {
			c.outMu.Unlock()
			return nil
		}
		wire := c.outQueue.PopFront().([]byte)
		c.outMu.Unlock()

		if err := c.c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
		if _, err := c.c.Write(wire); err != nil {
			return err
		}
	}
}

// flushLoop is the egress pump: it drains the queue every flushInterval
// until the connection closes. Queued bytes accepted before close are either
// written or dropped with the socket, never partially reordered.
func (c *conn) flushLoop(abort *atomic.Bool) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for range ticker.C {
		if abort.Load() || c.closed.Load() {
			return
		}
		if err := c.flush(); err != nil {
			zap.L().Debug("egress pump stopping", zap.Error(err))
			return
		}
	}
}

// setCompression enables compressed framing both ways. The caller must have
// queued the SetCompression packet beforehand.
func (c *conn) setCompression(threshold int) {
	c.encoder.SetCompression(threshold)
	c.decoder.SetCompressionThreshold(threshold)
}

// enableEncryption installs the AES/CFB8 ciphers derived from secret.
// Must run on the ingress goroutine between frames so the stream flip is
// atomic with respect to the next byte in both directions.
func (c *conn) enableEncryption(secret []byte) error {
	if err := c.decoder.EnableEncryption(secret); err != nil {
		return err
	}
	return c.encoder.EnableEncryption(secret)
}

// close shuts the socket down once. Close errors are logged and ignored.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err := c.c.Close(); err != nil {
			zap.L().Debug("error closing connection", zap.Error(err))
		}
	})
}

func (c *conn) isClosed() bool { return c.closed.Load() }

func (c *conn) remoteAddr() net.Addr { return c.c.RemoteAddr() }

// readErrKind classifies an error from nextFrame for the ingress reader.
type readErrKind int

const (
	readEOF readErrKind = iota
	readSocketErr
	readProtocolErr
	readInternalErr
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, io.EOF) {
		return readEOF
	}
	if errors.Is(err, codec.ErrProtocol) {
		return readProtocolErr
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) || errors.Is(err, syscall.EBADF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		strings.Contains(err.Error(), "use of closed") {
		return readSocketErr
	}
	return readInternalErr
}
