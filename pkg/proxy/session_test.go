package proxy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/drawbridge-mc/drawbridge/pkg/auth"
	"github.com/drawbridge-mc/drawbridge/pkg/config"
	"github.com/drawbridge-mc/drawbridge/pkg/event"
	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/packet"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HiddenOps = []string{"SurestTexas00", "BenBaptist"}
	return cfg
}

func testProxy(t *testing.T, cfg config.Config) *Proxy {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	p.javaServer.SetInfo(proto.Minecraft_1_8.Protocol, "1.8.9", "A Minecraft Server", 20)
	return p
}

// newTestClient returns a session over a pipe plus the test's end of it.
func newTestClient(t *testing.T, p *Proxy) (*Client, net.Conn) {
	t.Helper()
	far, near := net.Pipe()
	c := newClient(p, near)
	t.Cleanup(func() {
		c.abort.Store(true)
		_ = far.Close()
		c.conn.close()
	})
	return c, far
}

// sendFrame writes one server-bound frame into the session's socket.
func sendFrame(t *testing.T, w net.Conn, id int32, body []byte) {
	t.Helper()
	enc := codec.NewEncoder(proto.ServerBound)
	wire, err := enc.Encode(id, body)
	require.NoError(t, err)
	_ = w.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = w.Write(wire)
	require.NoError(t, err)
}

func readFrame(t *testing.T, dec *codec.Decoder, far net.Conn) *codec.Frame {
	t.Helper()
	_ = far.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	return frame
}

func body(version proto.Protocol, build func(w *codec.Writer)) []byte {
	w := codec.NewWriter(version)
	build(w)
	return w.Bytes()
}

func handshakeBody(version proto.Protocol, host string, port uint16, next int32) []byte {
	return body(version, func(w *codec.Writer) {
		w.WriteVarInt(int32(version))
		w.WriteString(host)
		w.WriteUShort(port)
		w.WriteVarInt(next)
	})
}

// attachFakeUpstream installs a pipe-backed upstream in play state and
// returns the test's end of it.
func attachFakeUpstream(t *testing.T, c *Client) (net.Conn, *ServerConnection) {
	t.Helper()
	near, far := net.Pipe()
	s := newServerConnection(c, c.proxy, "localhost", 25565)
	s.conn = newConn(near, proto.ClientBound)
	s.conn.setProtocol(c.Protocol())
	s.setState(serverStatePlay)
	go s.conn.flushLoop(&s.abort)
	c.mu.Lock()
	c.server = s
	c.mu.Unlock()
	t.Cleanup(func() { _ = far.Close() })
	return far, s
}

func rosterPlayer(p *Proxy, name string) *Player {
	c := &Client{proxy: p, username: name, offlineUUID: auth.OfflineUUID(name)}
	return newPlayer(c)
}

func TestStatusFlow(t *testing.T) {
	p := testProxy(t, testConfig())
	p.javaServer.AddPlayer("SurestTexas00", rosterPlayer(p, "SurestTexas00"))
	p.javaServer.AddPlayer("Alice", rosterPlayer(p, "Alice"))
	p.javaServer.AddPlayer("Bob", rosterPlayer(p, "Bob"))

	c, far := newTestClient(t, p)
	go c.handle()
	dec := codec.NewDecoder(far, proto.ClientBound)

	sendFrame(t, far, 0x00, handshakeBody(proto.Minecraft_1_8.Protocol, "localhost", 25565, 1))
	sendFrame(t, far, 0x00, nil)

	frame := readFrame(t, dec, far)
	assert.Equal(t, int32(0x00), frame.ID)
	r := codec.NewReader(frame.Body, proto.Minecraft_1_8.Protocol)
	var status struct {
		Players struct {
			Max    int `json:"max"`
			Online int `json:"online"`
			Sample []struct {
				Name string `json:"name"`
			} `json:"sample"`
		} `json:"players"`
		Version struct {
			Name     string `json:"name"`
			Protocol int32  `json:"protocol"`
		} `json:"version"`
	}
	require.NoError(t, r.ReadJSON(&status))
	assert.Equal(t, int32(proto.Minecraft_1_8.Protocol), status.Version.Protocol)
	assert.Equal(t, 20, status.Players.Max)
	assert.Equal(t, 3, status.Players.Online)
	assert.LessOrEqual(t, len(status.Players.Sample), 5)
	for _, s := range status.Players.Sample {
		assert.NotEqual(t, "SurestTexas00", s.Name, "hidden ops never appear in the sample")
	}

	const payload = int64(0x0123456789abcdef)
	sendFrame(t, far, 0x01, body(proto.Minecraft_1_8.Protocol, func(w *codec.Writer) {
		w.WriteLong(payload)
	}))
	frame = readFrame(t, dec, far)
	assert.Equal(t, int32(0x01), frame.ID)
	r = codec.NewReader(frame.Body, proto.Minecraft_1_8.Protocol)
	echoed, err := r.ReadLong()
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)

	assert.Eventually(t, func() bool { return c.State() == proto.Handshake },
		time.Second, 10*time.Millisecond, "session returns to handshake after the ping")
}

func TestOfflineLogin(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.OnlineMode = false
	p := testProxy(t, cfg)

	upNear, upFar := net.Pipe()
	p.dial = func(network, addr string) (net.Conn, error) { return upNear, nil }
	defer upFar.Close()

	c, far := newTestClient(t, p)
	go c.handle()
	dec := codec.NewDecoder(far, proto.ClientBound)

	sendFrame(t, far, 0x00, handshakeBody(proto.Minecraft_1_8.Protocol, "x", 25565, 2))
	sendFrame(t, far, packet.LoginStart, body(proto.Minecraft_1_8.Protocol, func(w *codec.Writer) {
		w.WriteString("Alex")
	}))

	// The upstream sees the replayed handshake and login.
	upDec := codec.NewDecoder(upFar, proto.ServerBound)
	frame := readFrame(t, upDec, upFar)
	assert.Equal(t, int32(0x00), frame.ID)
	r := codec.NewReader(frame.Body, proto.Minecraft_1_8.Protocol)
	version, err := r.ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(proto.Minecraft_1_8.Protocol), version)
	host, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	port, err := r.ReadUShort()
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Port, port)
	next, err := r.ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(2), next)

	frame = readFrame(t, upDec, upFar)
	assert.Equal(t, packet.LoginStart, frame.ID)
	r = codec.NewReader(frame.Body, proto.Minecraft_1_8.Protocol)
	name, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Alex", name)

	// The client gets a synthesised LoginSuccess with the offline uuid.
	frame = readFrame(t, dec, far)
	assert.Equal(t, packet.LoginSuccess, frame.ID)
	r = codec.NewReader(frame.Body, proto.Minecraft_1_8.Protocol)
	id, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, auth.OfflineUUID("Alex").String(), id)
	user, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Alex", user)

	assert.Eventually(t, func() bool { return c.State() == proto.Play },
		time.Second, 10*time.Millisecond)
	assert.NotNil(t, p.javaServer.PlayerByName("Alex"))
}

type fakeSessions struct {
	profile *auth.Profile
	err     error
}

func (f fakeSessions) HasJoined(username, serverHash string) (*auth.Profile, error) {
	return f.profile, f.err
}

func TestOnlineLogin(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.OnlineMode = true
	p := testProxy(t, cfg)
	p.javaServer.SetInfo(proto.MaximumVersion.Protocol, "1.12.2", "motd", 20)
	p.sessions = fakeSessions{profile: &auth.Profile{
		ID:   "00112233445566778899aabbccddeeff",
		Name: "Bob",
		Properties: []auth.Property{
			{Name: "textures", Value: "blob", Signature: "sig"},
		},
	}}

	upNear, upFar := net.Pipe()
	p.dial = func(network, addr string) (net.Conn, error) { return upNear, nil }
	defer upFar.Close()

	c, far := newTestClient(t, p)
	go c.handle()
	version := proto.MaximumVersion.Protocol
	dec := codec.NewDecoder(far, proto.ClientBound)

	sendFrame(t, far, 0x00, handshakeBody(version, "x", 25565, 2))
	sendFrame(t, far, packet.LoginStart, body(version, func(w *codec.Writer) {
		w.WriteString("Bob")
	}))

	// EncryptionRequest carries server id, public key and verify token.
	frame := readFrame(t, dec, far)
	require.Equal(t, packet.EncryptionRequest, frame.ID)
	r := codec.NewReader(frame.Body, version)
	_, err := r.ReadString()
	require.NoError(t, err)
	pubDER, err := r.ReadByteArray()
	require.NoError(t, err)
	token, err := r.ReadByteArray()
	require.NoError(t, err)
	require.Len(t, token, 16)

	parsed, err := x509.ParsePKIXPublicKey(pubDER)
	require.NoError(t, err)
	pub := parsed.(*rsa.PublicKey)

	secret := make([]byte, 16)
	_, _ = rand.Read(secret)
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, pub, secret)
	require.NoError(t, err)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, pub, token)
	require.NoError(t, err)

	sendFrame(t, far, packet.EncryptionResponse, body(version, func(w *codec.Writer) {
		w.WriteByteArray(encSecret)
		w.WriteByteArray(encToken)
	}))

	// Everything client bound is now enciphered with the shared secret.
	require.NoError(t, dec.EnableEncryption(secret))

	frame = readFrame(t, dec, far)
	require.Equal(t, packet.SetCompression, frame.ID)
	r = codec.NewReader(frame.Body, version)
	threshold, err := r.ReadVarInt()
	require.NoError(t, err)
	assert.Equal(t, int32(256), threshold)
	dec.SetCompressionThreshold(int(threshold))

	frame = readFrame(t, dec, far)
	require.Equal(t, packet.LoginSuccess, frame.ID)
	r = codec.NewReader(frame.Body, version)
	id, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "00112233-4455-6677-8899-aabbccddeeff", id)
	name, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)

	// Upstream got the replayed plaintext handshake.
	upDec := codec.NewDecoder(upFar, proto.ServerBound)
	frame = readFrame(t, upDec, upFar)
	assert.Equal(t, int32(0x00), frame.ID)

	assert.Eventually(t, func() bool { return c.State() == proto.Play },
		time.Second, 10*time.Millisecond)

	online := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	skin, ok := p.SkinByUUID(online)
	assert.True(t, ok)
	assert.Equal(t, "blob", skin)
}

func TestVerifyTokenMismatchDisconnects(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.OnlineMode = true
	p := testProxy(t, cfg)

	c, far := newTestClient(t, p)
	go c.handle()
	version := proto.Minecraft_1_8.Protocol
	dec := codec.NewDecoder(far, proto.ClientBound)

	sendFrame(t, far, 0x00, handshakeBody(version, "x", 25565, 2))
	sendFrame(t, far, packet.LoginStart, body(version, func(w *codec.Writer) {
		w.WriteString("Mallory")
	}))

	frame := readFrame(t, dec, far)
	require.Equal(t, packet.EncryptionRequest, frame.ID)
	r := codec.NewReader(frame.Body, version)
	_, err := r.ReadString()
	require.NoError(t, err)
	pubDER, err := r.ReadByteArray()
	require.NoError(t, err)
	parsed, err := x509.ParsePKIXPublicKey(pubDER)
	require.NoError(t, err)
	pub := parsed.(*rsa.PublicKey)

	secret := make([]byte, 16)
	wrongToken := make([]byte, 16)
	encSecret, _ := rsa.EncryptPKCS1v15(rand.Reader, pub, secret)
	encToken, _ := rsa.EncryptPKCS1v15(rand.Reader, pub, wrongToken)
	sendFrame(t, far, packet.EncryptionResponse, body(version, func(w *codec.Writer) {
		w.WriteByteArray(encSecret)
		w.WriteByteArray(encToken)
	}))

	frame = readFrame(t, dec, far)
	assert.Equal(t, packet.LoginDisconnect, frame.ID)
	r = codec.NewReader(frame.Body, version)
	var reason map[string]interface{}
	require.NoError(t, r.ReadJSON(&reason))
	assert.Contains(t, reason["text"], "Verify tokens")
}

func TestKeepAlivePingAndReply(t *testing.T) {
	p := testProxy(t, testConfig())
	c, far := newTestClient(t, p)
	go c.conn.flushLoop(&c.abort)
	dec := codec.NewDecoder(far, proto.ClientBound)

	now := time.Now()
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.lastKeepAliveSent = now.Add(-6 * time.Second)
	c.lastClientResponse = now
	c.mu.Unlock()

	require.True(t, c.keepAliveTick(now))

	frame := readFrame(t, dec, far)
	assert.Equal(t, c.pktCB.KeepAlive, frame.ID)
	r := codec.NewReader(frame.Body, c.Protocol())
	pingID, err := r.ReadVarInt()
	require.NoError(t, err)

	c.mu.Lock()
	assert.Equal(t, pingID, c.keepAliveID)
	c.lastClientResponse = now.Add(-time.Minute) // stale until the reply lands
	c.mu.Unlock()

	reply := codec.NewReader(body(c.Protocol(), func(w *codec.Writer) {
		w.WriteVarInt(pingID)
	}), c.Protocol())
	c.handleKeepAliveReply(reply)

	c.mu.Lock()
	assert.False(t, c.lastClientResponse.Before(now), "matching reply refreshes the clock")
	c.mu.Unlock()

	// A reply with the wrong id is ignored.
	c.mu.Lock()
	c.lastClientResponse = now.Add(-time.Minute)
	c.mu.Unlock()
	wrong := codec.NewReader(body(c.Protocol(), func(w *codec.Writer) {
		w.WriteVarInt(pingID + 1)
	}), c.Protocol())
	c.handleKeepAliveReply(wrong)
	c.mu.Lock()
	assert.True(t, c.lastClientResponse.Before(now))
	c.mu.Unlock()
}

func TestKeepAliveTimeoutDisconnects(t *testing.T) {
	p := testProxy(t, testConfig())
	c, far := newTestClient(t, p)
	go c.conn.flushLoop(&c.abort)
	dec := codec.NewDecoder(far, proto.ClientBound)

	now := time.Now()
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.lastKeepAliveSent = now
	c.lastClientResponse = now.Add(-26 * time.Second)
	c.mu.Unlock()

	done := make(chan bool, 1)
	go func() { done <- c.keepAliveTick(now) }()

	frame := readFrame(t, dec, far)
	assert.Equal(t, packet.LoginDisconnect, frame.ID, "state moved to handshake before the farewell")
	r := codec.NewReader(frame.Body, c.Protocol())
	var reason map[string]interface{}
	require.NoError(t, r.ReadJSON(&reason))
	assert.Contains(t, reason["text"], "lack of keepalive")

	assert.False(t, <-done, "tick reports the session is gone")
	assert.True(t, c.abort.Load())
}

func TestChatCommandIntercept(t *testing.T) {
	cfg := testConfig()
	cfg.CommandPrefix = "!"
	p := testProxy(t, cfg)
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.username = "Tester"
	c.mu.Unlock()

	var gotCommand string
	var gotArgs []string
	p.events.Subscribe("player.runCommand", func(payload map[string]interface{}) event.Result {
		gotCommand, _ = payload["command"].(string)
		gotArgs, _ = payload["args"].([]string)
		return event.Allow()
	})

	frame := &codec.Frame{ID: c.pktSB.ChatMessage, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteString("!kit diamond")
	})}
	forwarded := c.parsePlay(frame)
	assert.False(t, forwarded, "handled commands never reach the server")
	assert.Equal(t, "kit", gotCommand)
	assert.Equal(t, []string{"diamond"}, gotArgs)
}

func TestChatForwardsMutatedMessage(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.username = "Tester"
	c.mu.Unlock()
	upFar, _ := attachFakeUpstream(t, c)

	p.events.Subscribe("player.rawMessage", func(payload map[string]interface{}) event.Result {
		return event.Replace("censored")
	})

	frame := &codec.Frame{ID: c.pktSB.ChatMessage, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteString("rude words")
	})}
	forwarded := c.parsePlay(frame)
	assert.False(t, forwarded, "the original packet is swallowed")

	upDec := codec.NewDecoder(upFar, proto.ServerBound)
	got := readFrame(t, upDec, upFar)
	assert.Equal(t, c.pktSB.ChatMessage, got.ID)
	r := codec.NewReader(got.Body, c.Protocol())
	msg, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "censored", msg)
}

func TestChatDenyDropsPacket(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.mu.Unlock()
	upFar, _ := attachFakeUpstream(t, c)

	p.events.Subscribe("player.rawMessage", func(map[string]interface{}) event.Result {
		return event.Deny()
	})
	frame := &codec.Frame{ID: c.pktSB.ChatMessage, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteString("dropped")
	})}
	assert.False(t, c.parsePlay(frame))

	_ = upFar.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	upDec := codec.NewDecoder(upFar, proto.ServerBound)
	_, err := upDec.ReadFrame()
	assert.Error(t, err, "nothing was forwarded upstream")
}

func TestLobbyReturnOnHubCommand(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = false
	c.username = "Wanderer"
	c.mu.Unlock()
	_, remote := attachFakeUpstream(t, c)

	localNear, localFar := net.Pipe()
	p.dial = func(network, addr string) (net.Conn, error) { return localNear, nil }
	defer localFar.Close()

	frame := &codec.Frame{ID: c.pktSB.ChatMessage, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteString("/hub")
	})}
	forwarded := c.parsePlay(frame)
	assert.False(t, forwarded, "the /hub packet is swallowed")

	assert.True(t, remote.abort.Load(), "the remote upstream is closed")
	assert.True(t, c.IsLocal())
	assert.NotNil(t, c.currentServer())
	assert.NotEqual(t, remote, c.currentServer())

	// The fresh local upstream sees a replayed login handshake.
	localDec := codec.NewDecoder(localFar, proto.ServerBound)
	got := readFrame(t, localDec, localFar)
	assert.Equal(t, int32(0x00), got.ID)
	got = readFrame(t, localDec, localFar)
	assert.Equal(t, packet.LoginStart, got.ID)
}

func TestTransferFailureKeepsSession(t *testing.T) {
	p := testProxy(t, testConfig())
	c, far := newTestClient(t, p)
	go c.conn.flushLoop(&c.abort)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.mu.Unlock()
	_, current := attachFakeUpstream(t, c)

	p.dial = func(network, addr string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Err: assert.AnError}
	}
	c.connectToServer("198.51.100.9", 25565)

	assert.Equal(t, current, c.currentServer(), "the old upstream stays installed")
	assert.False(t, c.abort.Load())

	dec := codec.NewDecoder(far, proto.ClientBound)
	frame := readFrame(t, dec, far)
	assert.Equal(t, c.pktCB.ChatMessage, frame.ID)
	r := codec.NewReader(frame.Body, c.Protocol())
	var msg map[string]interface{}
	require.NoError(t, r.ReadJSON(&msg))
	assert.Contains(t, msg["text"], "Could not connect")
	assert.Equal(t, "red", msg["color"])
}

func TestClickWindowTriState(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)

	sword := &codec.Slot{ID: 276, Count: 1}
	apple := &codec.Slot{ID: 260, Count: 3}

	steps := []struct {
		slot       int16
		clicked    *codec.Slot
		wantSlot   *codec.Slot
		wantCursor *codec.Slot
	}{
		// empty cursor, empty slot
		{10, nil, nil, nil},
		// pick the sword up
		{11, sword, nil, sword},
		// drop it into an empty slot
		{12, nil, sword, nil},
		// pick the sword again, then swap with the apple
		{12, sword, nil, sword},
		{13, apple, sword, apple},
	}
	for i, step := range steps {
		c.applyInventoryClick(step.slot, step.clicked)
		c.mu.Lock()
		assert.Equal(t, step.wantSlot, c.inventory[step.slot], "step %d slot", i)
		assert.Equal(t, step.wantCursor, c.cursorItem, "step %d cursor", i)
		c.mu.Unlock()
	}
}

func TestClickWindowEventDeny(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.mu.Unlock()

	p.events.Subscribe("player.slotClick", func(map[string]interface{}) event.Result {
		return event.Deny()
	})

	frame := &codec.Frame{ID: c.pktSB.ClickWindow, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteUByte(0)  // wid
		w.WriteShort(10) // slot
		w.WriteByte(0)   // button
		w.WriteShort(1)  // action
		w.WriteByte(0)   // mode
		w.WriteShort(-1) // empty clicked slot
	})}
	assert.False(t, c.parsePlay(frame), "denied clicks are dropped")
}

func TestSettingsForwardedOncePerContent(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.mu.Unlock()
	upFar, _ := attachFakeUpstream(t, c)
	upDec := codec.NewDecoder(upFar, proto.ServerBound)

	settingsBody := body(c.Protocol(), func(w *codec.Writer) {
		w.WriteString("en_GB")
		w.WriteByte(8)      // view distance
		w.WriteByte(0)      // chat mode
		w.WriteBool(true)   // colors
		w.WriteUByte(0x7F)  // skin parts
	})
	assert.True(t, c.parsePlay(&codec.Frame{ID: c.pktSB.ClientSettings, Body: settingsBody}))

	c.mu.Lock()
	assert.False(t, c.settingsForwarded)
	c.lastClientResponse = c.now()
	keepAliveID := c.keepAliveID
	c.mu.Unlock()

	// The keepalive boundary flushes the pending snapshot upstream.
	reply := func() *codec.Reader {
		return codec.NewReader(body(c.Protocol(), func(w *codec.Writer) {
			w.WriteVarInt(keepAliveID)
		}), c.Protocol())
	}
	c.handleKeepAliveReply(reply())

	frame := readFrame(t, upDec, upFar)
	assert.Equal(t, c.pktSB.ClientSettings, frame.ID)
	r := codec.NewReader(frame.Body, c.Protocol())
	locale, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "en_GB", locale)

	// The same snapshot again does not rearm the forward.
	assert.True(t, c.parsePlay(&codec.Frame{ID: c.pktSB.ClientSettings, Body: settingsBody}))
	c.mu.Lock()
	assert.True(t, c.settingsForwarded, "identical settings do not rearm forwarding")
	c.mu.Unlock()

	c.handleKeepAliveReply(reply())
	_ = upFar.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = upDec.ReadFrame()
	assert.Error(t, err, "no duplicate settings forward")
}

func TestPositionAndLookOrderIndependent(t *testing.T) {
	p := testProxy(t, testConfig())

	posBody := body(proto.Minecraft_1_8.Protocol, func(w *codec.Writer) {
		w.WriteDouble(100.5)
		w.WriteDouble(64)
		w.WriteDouble(-20.25)
		w.WriteBool(true)
	})
	lookBody := body(proto.Minecraft_1_8.Protocol, func(w *codec.Writer) {
		w.WriteFloat(90)
		w.WriteFloat(-12.5)
		w.WriteBool(true)
	})

	run := func(order [2]bool) ([3]float64, [2]float32) {
		c, _ := newTestClient(t, p)
		c.mu.Lock()
		c.state = proto.Play
		c.isLocal = true
		c.mu.Unlock()
		for _, first := range order {
			if first {
				assert.True(t, c.parsePlay(&codec.Frame{ID: c.pktSB.PlayerPosition, Body: posBody}))
			} else {
				assert.True(t, c.parsePlay(&codec.Frame{ID: c.pktSB.PlayerLook, Body: lookBody}))
			}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.position, c.head
	}

	posA, headA := run([2]bool{true, false})
	posB, headB := run([2]bool{false, true})
	assert.Equal(t, posA, posB)
	assert.Equal(t, headA, headB)
	assert.Equal(t, [3]float64{100.5, 64, -20.25}, posA)
	assert.Equal(t, [2]float32{90, -12.5}, headA)
}

func TestHeldItemChangeBounds(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.mu.Unlock()

	ok := c.parsePlay(&codec.Frame{ID: c.pktSB.HeldItemChange, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteShort(4)
	})})
	assert.True(t, ok)
	c.mu.Lock()
	assert.Equal(t, int16(4), c.slot)
	c.mu.Unlock()

	ok = c.parsePlay(&codec.Frame{ID: c.pktSB.HeldItemChange, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteShort(9)
	})})
	assert.False(t, ok, "out of range slots are dropped")
}

func TestSpectateRewritesToOfflineUUID(t *testing.T) {
	p := testProxy(t, testConfig())

	target, _ := newTestClient(t, p)
	online := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	target.mu.Lock()
	target.username = "Target"
	target.onlineUUID = online
	target.offlineUUID = auth.OfflineUUID("Target")
	target.mu.Unlock()
	p.registerClient(target)

	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.mu.Unlock()
	upFar, _ := attachFakeUpstream(t, c)

	frame := &codec.Frame{ID: c.pktSB.Spectate, Body: body(c.Protocol(), func(w *codec.Writer) {
		w.WriteUUID(online)
	})}
	assert.False(t, c.parsePlay(frame), "the original spectate is swallowed")

	upDec := codec.NewDecoder(upFar, proto.ServerBound)
	got := readFrame(t, upDec, upFar)
	assert.Equal(t, c.pktSB.Spectate, got.ID)
	r := codec.NewReader(got.Body, c.Protocol())
	rewritten, err := r.ReadUUID()
	require.NoError(t, err)
	assert.Equal(t, auth.OfflineUUID("Target"), rewritten)
}

func TestDiggingEventDiscriminators(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.state = proto.Play
	c.isLocal = true
	c.gamemode = 0
	c.mu.Unlock()

	var actions []string
	p.events.Subscribe("player.dig", func(payload map[string]interface{}) event.Result {
		a, _ := payload["action"].(string)
		actions = append(actions, a)
		return event.Allow()
	})

	dig := func(status int8) *codec.Frame {
		return &codec.Frame{ID: c.pktSB.PlayerDigging, Body: body(c.Protocol(), func(w *codec.Writer) {
			w.WriteByte(status)
			w.WritePosition(codec.Position{X: 1, Y: 64, Z: 1})
			w.WriteByte(1)
		})}
	}
	assert.True(t, c.parsePlay(dig(0)))
	assert.True(t, c.parsePlay(dig(2)))
	assert.Equal(t, []string{"begin_break", "end_break"}, actions)

	// Creative mode reports an immediate end_break on status 0.
	c.mu.Lock()
	c.gamemode = 1
	c.mu.Unlock()
	actions = nil
	assert.True(t, c.parsePlay(dig(0)))
	assert.Equal(t, []string{"end_break"}, actions)
}

func TestStatusJSONMarshalsDescription(t *testing.T) {
	p := testProxy(t, testConfig())
	c, _ := newTestClient(t, p)
	c.mu.Lock()
	c.clientVersion = proto.Minecraft_1_8.Protocol
	c.mu.Unlock()

	status := c.buildStatus()
	raw, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"protocol":47`)
}
