package proxy

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/drawbridge-mc/drawbridge/pkg/auth"
	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/packet"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// inventorySize is allocated unconditionally; 1.8 and below simply never
// address the top slot.
const inventorySize = 46

const (
	keepAliveInterval = 5 * time.Second
	keepAliveTimeout  = 25 * time.Second
)

// Client is one client session: the per-connection protocol state machine
// between a Minecraft client and the upstream server.
//
// Four goroutines cooperate per session: the ingress reader (handle), the
// egress pump (conn.flushLoop), the keepalive ticker and the upstream pump
// (ServerConnection.handle). All mutable session state below mu is
// serialised by it.
type Client struct {
	proxy *Proxy
	conn  *conn

	abort atomic.Bool
	now   func() time.Time // injectable for keepalive tests

	verifyToken []byte
	serverID    string

	remoteAddr net.Addr
	remoteIP   string

	mu sync.Mutex // protects everything below

	state         proto.State
	clientVersion proto.Protocol
	serverVersion proto.Protocol
	pktSB         *packet.ServerBound
	pktCB         *packet.ClientBound

	username    string
	onlineUUID  uuid.UUID // Nil unless online-mode auth succeeded
	offlineUUID uuid.UUID // always derived from the username
	properties  []auth.Property
	skinBlob    string

	advertisedHost string
	advertisedPort uint16

	gamemode        int32
	dimension       int32
	position        [3]float64 // x, y, z
	head            [2]float32 // yaw, pitch
	slot            int16
	riding          bool
	bedPosition     *codec.Position
	lastPlaceCoords codec.Position
	serverEntityID  int32

	inventory  [inventorySize]*codec.Slot
	cursorItem *codec.Slot

	settings          *clientSettings
	settingsForwarded bool

	keepAliveID        int32
	lastKeepAliveSent  time.Time
	lastClientResponse time.Time

	server     *ServerConnection // current upstream; owned by the session
	serverTemp *ServerConnection // exists only while a transfer is in flight
	isLocal    bool
}

// newClient wraps an accepted client socket. The session starts in the
// handshake state speaking the co-hosted server's protocol version until the
// client declares its own.
func newClient(p *Proxy, sock net.Conn) *Client {
	serverVersion := p.javaServer.ProtocolVersion()
	c := &Client{
		proxy:         p,
		conn:          newConn(sock, proto.ServerBound),
		now:           time.Now,
		verifyToken:   auth.NewVerifyToken(),
		serverID:      auth.NewServerID(),
		remoteAddr:    sock.RemoteAddr(),
		state:         proto.Handshake,
		clientVersion: serverVersion,
		serverVersion: serverVersion,
		isLocal:       true,
	}
	if host, _, err := net.SplitHostPort(c.remoteAddr.String()); err == nil {
		c.remoteIP = host
	}
	c.pktSB = packet.NewServerBound(c.clientVersion)
	c.pktCB = packet.NewClientBound(c.clientVersion)
	c.conn.setProtocol(c.clientVersion)
	return c
}

// handle is the ingress reader: it owns all reads from the client socket and
// drives the state machine until the session aborts.
func (c *Client) handle() {
	go c.conn.flushLoop(&c.abort)
	defer c.close()

	for !c.abort.Load() {
		frame, err := c.conn.nextFrame()
		if err != nil {
			switch classifyReadErr(err) {
			case readEOF:
				zap.S().Debugf("client packet stream ended [EOF] (%s)", c.Username())
			case readSocketErr:
				zap.S().Debugf("failed to read client packet [socket] (%s): %v", c.Username(), err)
			case readProtocolErr:
				zap.S().Debugf("malformed client packet (%s): %v", c.Username(), err)
			default:
				zap.S().Errorf("failed to read client packet (%s): %v", c.Username(), err)
			}
			return
		}

		forward := c.parse(frame)

		// Forwarding gate: only a fully joined upstream receives traffic.
		server := c.currentServer()
		if forward && server != nil && server.State() == serverStatePlay {
			server.sendRaw(frame.Payload)
		}
	}
}

// parse dispatches one server-bound frame by session state. The returned
// bool is whether the raw frame is forwarded upstream.
func (c *Client) parse(frame *codec.Frame) bool {
	switch c.State() {
	case proto.Play:
		return c.parsePlay(frame)
	case proto.Login:
		return c.parseLogin(frame)
	case proto.Status:
		return c.parseStatus(frame)
	case proto.Handshake:
		return c.parseHandshake(frame)
	case proto.Lobby:
		return c.parseLobby(frame)
	}
	zap.S().Errorf("client session in unknown state %v", c.State())
	return false
}

// close aborts the session and tears down the upstream without killing the
// (already dead) client socket.
func (c *Client) close() {
	c.abort.Store(true)
	c.conn.close()

	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()
	if server != nil {
		server.close("client disconnected", false)
	}
	c.proxy.unregisterClient(c)
}

// disconnect sends the user-visible failure surface: a DISCONNECT packet in
// play, a login 0x00 JSON otherwise, then lets the egress pump drain and
// closes. reason is plain text.
func (c *Client) disconnect(reason string) {
	c.disconnectJSON(map[string]interface{}{
		"text": reason,
		"color": "white",
		"bold": false,
	})
}

func (c *Client) disconnectJSON(message interface{}) {
	w := codec.NewWriter(c.Protocol())
	if err := w.WriteJSON(message); err == nil {
		if c.State() == proto.Play {
			_ = c.conn.bufferPacket(c.pktCB.Disconnect, w.Bytes())
		} else {
			_ = c.conn.bufferPacket(packet.LoginDisconnect, w.Bytes())
		}
	}
	time.Sleep(250 * time.Millisecond) // let the pump drain the farewell
	c.close()
}

// keepAliveLoop wakes once per second while the session lives. Pings and the
// idle timeout only apply while the client is in play or lobby on the local
// upstream; a remote hub runs its own keepalives.
func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if c.abort.Load() {
			return
		}
		if !c.keepAliveTick(c.now()) {
			return
		}
	}
}

// keepAliveTick runs one tick; it returns false when the session timed out.
func (c *Client) keepAliveTick(now time.Time) bool {
	c.mu.Lock()
	active := (c.state == proto.Play || c.state == proto.Lobby) && c.isLocal
	if !active {
		c.mu.Unlock()
		return true
	}

	var ping []byte
	var pingID int32
	if now.Sub(c.lastKeepAliveSent) > keepAliveInterval {
		c.keepAliveID = int32(randomUint64() & 0x7FFFFFFF)
		pingID = c.pktCB.KeepAlive
		w := codec.NewWriter(c.clientVersion)
		if c.clientVersion.GreaterEqual(proto.Minecraft_1_8) {
			w.WriteVarInt(c.keepAliveID)
		} else {
			w.WriteInt(c.keepAliveID)
		}
		ping = w.Bytes()
		c.lastKeepAliveSent = now
	}
	timedOut := now.Sub(c.lastClientResponse) > keepAliveTimeout
	if timedOut {
		c.state = proto.Handshake
	}
	c.mu.Unlock()

	if ping != nil {
		_ = c.conn.bufferPacket(pingID, ping)
	}
	if timedOut {
		zap.S().Debugf("closing %s's client due to lack of keepalive response", c.Username())
		c.disconnect("Client closed due to lack of keepalive response")
		return false
	}
	return true
}

// handleKeepAliveReply matches a client KEEP_ALIVE against the outstanding
// id and, on the keepalive boundary, forwards a pending client-settings
// snapshot upstream.
func (c *Client) handleKeepAliveReply(r *codec.Reader) {
	var replied int64
	var err error
	if c.Protocol().GreaterEqual(proto.Minecraft_1_8) {
		var v int32
		v, err = r.ReadVarInt()
		replied = int64(v)
	} else {
		var v int32
		v, err = r.ReadInt()
		replied = int64(v)
	}
	if err != nil {
		return
	}

	c.mu.Lock()
	if int32(replied) == c.keepAliveID {
		c.lastClientResponse = c.now()
	}
	settings := c.settings
	forward := settings != nil && !c.settingsForwarded
	if forward {
		c.settingsForwarded = true
	}
	server := c.server
	version := c.clientVersion
	c.mu.Unlock()

	if forward && server != nil {
		server.sendPacket(c.pktSB.ClientSettings, settings.encode(version))
	}
}

// initPlayer resets inventory and keepalive clocks when the player enters
// play, and refreshes the server protocol version.
func (c *Client) initPlayer() {
	c.mu.Lock()
	for i := range c.inventory {
		c.inventory[i] = nil
	}
	now := c.now()
	c.lastKeepAliveSent = now
	c.lastClientResponse = now
	c.serverVersion = c.proxy.javaServer.ProtocolVersion()
	c.mu.Unlock()
}

// joinPlayer registers the session with the proxy and the server roster.
func (c *Client) joinPlayer() {
	c.proxy.registerClient(c)
	c.proxy.javaServer.AddPlayer(c.Username(), newPlayer(c))
	c.initPlayer()
}

// refreshPacketSets rebuilds the per-version packet id maps after the client
// declared its protocol version.
func (c *Client) refreshPacketSets() {
	c.mu.Lock()
	c.serverVersion = c.proxy.javaServer.ProtocolVersion()
	c.pktSB = packet.NewServerBound(c.clientVersion)
	c.pktCB = packet.NewClientBound(c.clientVersion)
	c.mu.Unlock()
}

// connectToServer opens an upstream connection and replays the login
// handshake. Three modes: first connect (no upstream yet), reconnect to the
// local server (empty ip), and hot-swap to a different upstream while
// keeping the client session alive.
func (c *Client) connectToServer(ip string, port uint16) {
	c.mu.Lock()
	c.settingsForwarded = false
	current := c.server
	if current != nil {
		c.advertisedHost, c.advertisedPort = ip, port
	}
	c.mu.Unlock()

	var server *ServerConnection
	if ip != "" {
		// Hot swap: connect the replacement first, only then detach the old
		// upstream so a failure leaves the session where it was.
		temp := newServerConnection(c, c.proxy, ip, port)
		c.mu.Lock()
		c.serverTemp = temp
		c.mu.Unlock()
		if err := temp.connect(); err != nil {
			temp.close("connect failed", false)
			c.mu.Lock()
			c.serverTemp = nil
			c.mu.Unlock()

			msg := map[string]interface{}{
				"text": "Could not connect to that server!",
				"color": "red",
				"bold": "true",
			}
			w := codec.NewWriter(c.Protocol())
			if err := w.WriteJSON(msg); err == nil {
				if c.State() == proto.Play {
					_ = c.conn.bufferPacket(c.pktCB.ChatMessage, chatBody(c.Protocol(), w.Bytes()))
				} else {
					_ = c.conn.bufferPacket(packet.LoginDisconnect, w.Bytes())
				}
			}
			c.mu.Lock()
			c.advertisedHost, c.advertisedPort = "", 0
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		old := c.server
		c.server = temp
		c.serverTemp = nil
		c.mu.Unlock()
		if old != nil {
			old.close("transferred to another server", false)
		}
		server = temp
	} else {
		server = newServerConnection(c, c.proxy, c.proxy.config.Server.Host, c.proxy.config.Server.Port)
		if err := server.connect(); err != nil {
			c.disconnect(fmt.Sprintf("Proxy client could not connect to the server (%v)", err))
			return
		}
		c.mu.Lock()
		c.server = server
		c.mu.Unlock()
	}

	go server.handle()

	// Replay the login handshake against the new upstream.
	version := c.Protocol()
	host := "localhost"
	if c.proxy.config.Proxy.SpigotMode {
		host = fmt.Sprintf("localhost\x00%s\x00%s", c.remoteIP, hexUUID(c.sessionUUID()))
	}
	w := codec.NewWriter(version)
	w.WriteVarInt(int32(version))
	w.WriteString(host)
	w.WriteUShort(c.proxy.config.Server.Port)
	w.WriteVarInt(int32(proto.Login))
	server.sendPacket(0x00, w.Bytes())

	login := codec.NewWriter(version)
	login.WriteString(c.Username())
	server.sendPacket(packet.LoginStart, login.Bytes())

	server.setState(serverStateLogin)
}

// chatBody wraps a JSON chat payload with the position byte 1.8+ expects.
func chatBody(version proto.Protocol, jsonField []byte) []byte {
	if version.Lower(proto.Minecraft_1_8) {
		return jsonField
	}
	body := make([]byte, 0, len(jsonField)+1)
	body = append(body, jsonField...)
	body = append(body, 0) // chat position: chat box
	return body
}

// sessionUUID is the identity used for upstream forwarding: the online uuid
// when authenticated, the deterministic offline uuid otherwise.
func (c *Client) sessionUUID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onlineUUID != uuid.Nil {
		return c.onlineUUID
	}
	return c.offlineUUID
}

func hexUUID(id uuid.UUID) string {
	s := id.String()
	out := make([]byte, 0, 32)
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (c *Client) currentServer() *ServerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

func (c *Client) State() proto.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s proto.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) Protocol() proto.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientVersion
}

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// RemoteIP is the client's source address, used for ban checks and spigot
// forwarding.
func (c *Client) RemoteIP() string { return c.remoteIP }
