package proxy

import (
	"fmt"
	"net"
	"time"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/packet"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ServerConnection states.
const (
	serverStateLogin int32 = 2
	serverStatePlay  int32 = 3
)

// ServerConnection pumps one upstream server socket for a client session.
// The session owns this handle; the back-reference to the client is
// non-owning and only used to push client-bound frames.
type ServerConnection struct {
	client *Client
	proxy  *Proxy

	host string
	port uint16

	conn  *conn
	state atomic.Int32
	abort atomic.Bool
}

func newServerConnection(client *Client, p *Proxy, host string, port uint16) *ServerConnection {
	return &ServerConnection{
		client: client,
		proxy:  p,
		host:   host,
		port:   port,
	}
}

// connect dials the upstream. The wire stays plaintext: the co-hosted server
// runs in offline mode behind the proxy.
func (s *ServerConnection) connect() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	sock, err := s.proxy.dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connect upstream %s: %w", addr, err)
	}
	s.conn = newConn(sock, proto.ClientBound)
	s.conn.setProtocol(s.client.Protocol())
	go s.conn.flushLoop(&s.abort)
	return nil
}

// State returns the upstream handshake state (2=login, 3=play).
func (s *ServerConnection) State() int32 { return s.state.Load() }

func (s *ServerConnection) setState(v int32) { s.state.Store(v) }

// sendPacket frames and queues a server-bound packet.
func (s *ServerConnection) sendPacket(id int32, body []byte) {
	if s.conn != nil {
		_ = s.conn.bufferPacket(id, body)
	}
}

// sendRaw queues an already-assembled `id | body` payload.
func (s *ServerConnection) sendRaw(payload []byte) {
	if s.conn != nil {
		_ = s.conn.bufferRaw(payload)
	}
}

// handle is the upstream pump: it consumes client-bound frames and relays
// them through the client's egress queue. During upstream login it consumes
// the handshake packets itself.
func (s *ServerConnection) handle() {
	defer s.close("upstream pump ended", false)

	for !s.abort.Load() && !s.client.abort.Load() {
		frame, err := s.conn.nextFrame()
		if err != nil {
			if kind := classifyReadErr(err); kind == readEOF || kind == readSocketErr {
				zap.S().Debugf("upstream stream ended (%s): %v", s.client.Username(), err)
			} else {
				zap.S().Debugf("failed to read upstream packet (%s): %v", s.client.Username(), err)
			}
			// A dead upstream takes the client with it, unless this handle
			// was closed deliberately (transfer, lobby return) or already
			// detached from the session.
			if !s.abort.Load() && s.client.currentServer() == s && !s.client.abort.Load() {
				s.client.disconnect("Lost connection to the server.")
			}
			return
		}

		if s.state.Load() == serverStateLogin {
			s.handleLoginFrame(frame)
			continue
		}

		s.relay(frame)
	}
}

// handleLoginFrame consumes the upstream's login responses until it reaches
// the play state.
func (s *ServerConnection) handleLoginFrame(frame *codec.Frame) {
	switch frame.ID {
	case packet.SetCompression:
		r := codec.NewReader(frame.Body, s.client.Protocol())
		threshold, err := r.ReadVarInt()
		if err != nil {
			return
		}
		s.conn.setCompression(int(threshold))

	case packet.LoginSuccess:
		s.setState(serverStatePlay)

	case packet.LoginDisconnect:
		r := codec.NewReader(frame.Body, s.client.Protocol())
		var reason interface{}
		if err := r.ReadJSON(&reason); err == nil {
			s.client.disconnectJSON(reason)
		} else {
			s.client.disconnect("Upstream server refused the login.")
		}
	}
}

// relay forwards one client-bound frame to the client, intercepting the
// packets the proxy must see.
func (s *ServerConnection) relay(frame *codec.Frame) {
	if frame.ID == s.client.pktCB.Disconnect {
		r := codec.NewReader(frame.Body, s.client.Protocol())
		var reason interface{}
		if err := r.ReadJSON(&reason); err == nil {
			zap.S().Debugf("upstream disconnected %s", s.client.Username())
			s.client.disconnectJSON(reason)
			return
		}
	}
	_ = s.client.conn.bufferRaw(frame.Payload)
}

// close tears the upstream down. With killClient the client session aborts
// too; a transfer passes false to keep the client alive while swapping.
func (s *ServerConnection) close(reason string, killClient bool) {
	if s.abort.Swap(true) {
		return
	}
	zap.S().Debugf("closing upstream connection (%s): %s", s.client.Username(), reason)
	if s.conn != nil {
		s.conn.close()
	}
	if killClient {
		s.client.close()
	}
}

// dialTimeout is the default upstream dialer.
func dialTimeout(network, addr string) (net.Conn, error) {
	return net.DialTimeout(network, addr, 5*time.Second)
}
