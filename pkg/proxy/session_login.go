package proxy

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/drawbridge-mc/drawbridge/pkg/auth"
	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/packet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// parseLogin drives the login flow: LoginStart, then (online mode) the
// encryption response with session-server auth.
func (c *Client) parseLogin(frame *codec.Frame) bool {
	switch frame.ID {
	case packet.LoginStart:
		return c.handleLoginStart(frame)
	case packet.EncryptionResponse:
		return c.handleEncryptionResponse(frame)
	}
	// Unknown login packet: back to handshake, session over.
	c.setState(proto.Handshake)
	c.abort.Store(true)
	return false
}

func (c *Client) handleLoginStart(frame *codec.Frame) bool {
	r := codec.NewReader(frame.Body, c.Protocol())
	username, err := r.ReadString()
	if err != nil {
		c.abort.Store(true)
		return false
	}

	c.mu.Lock()
	c.username = username
	c.offlineUUID = auth.OfflineUUID(username)
	c.mu.Unlock()

	if c.proxy.config.Proxy.OnlineMode {
		// Rate limit before the session server gets involved.
		if !c.proxy.loginAllowed(c.remoteIP) {
			c.disconnect("You are logging in too fast, please calm down and retry.")
			return false
		}
		// Hand the client our public key and challenge token.
		w := codec.NewWriter(c.Protocol())
		w.WriteString(c.serverID)
		if c.Protocol().Lower(proto.Minecraft_1_8) {
			w.WriteByteArrayShort(c.proxy.keyPair.PublicDER)
			w.WriteByteArrayShort(c.verifyToken)
		} else {
			w.WriteByteArray(c.proxy.keyPair.PublicDER)
			w.WriteByteArray(c.verifyToken)
		}
		_ = c.conn.bufferPacket(packet.EncryptionRequest, w.Bytes())
		return false
	}

	// Offline mode: no encryption handshake, synthesise the login.
	c.connectToServer("", 0)

	w := codec.NewWriter(c.Protocol())
	w.WriteString(c.sessionUUID().String())
	w.WriteString(username)
	_ = c.conn.bufferPacket(packet.LoginSuccess, w.Bytes())

	c.setState(proto.Play)
	zap.S().Infof("%s's client (insecure) LOGON from (IP: %s)", username, c.remoteIP)
	c.joinPlayer()
	go c.keepAliveLoop()
	return false
}

func (c *Client) handleEncryptionResponse(frame *codec.Frame) bool {
	r := codec.NewReader(frame.Body, c.Protocol())
	var encryptedSecret, encryptedToken []byte
	var err error
	if c.Protocol().Lower(proto.Minecraft_1_8) {
		encryptedSecret, err = r.ReadByteArrayShort()
		if err == nil {
			encryptedToken, err = r.ReadByteArrayShort()
		}
	} else {
		encryptedSecret, err = r.ReadByteArray()
		if err == nil {
			encryptedToken, err = r.ReadByteArray()
		}
	}
	if err != nil {
		c.abort.Store(true)
		return false
	}

	sharedSecret, err := c.proxy.keyPair.Decrypt(encryptedSecret)
	if err != nil {
		zap.S().Debugf("failed to decrypt shared secret (%s): %v", c.Username(), err)
		c.abort.Store(true)
		return false
	}
	verifyToken, err := c.proxy.keyPair.Decrypt(encryptedToken)
	if err != nil {
		zap.S().Debugf("failed to decrypt verify token (%s): %v", c.Username(), err)
		c.abort.Store(true)
		return false
	}

	if subtle.ConstantTimeCompare(verifyToken, c.verifyToken) != 1 {
		c.disconnect("Verify tokens are not the same")
		return false
	}

	// From the next byte both directions are AES/CFB8 enciphered.
	if err := c.conn.enableEncryption(sharedSecret); err != nil {
		zap.S().Errorf("failed to enable encryption (%s): %v", c.Username(), err)
		c.abort.Store(true)
		return false
	}

	serverHash := auth.ServerHash(c.serverID, sharedSecret, c.proxy.keyPair.PublicDER)

	profile, err := c.proxy.sessions.HasJoined(c.Username(), serverHash)
	if err != nil {
		var statusErr *auth.StatusError
		if errors.As(err, &statusErr) {
			c.disconnect(fmt.Sprintf("Proxy Client Session Error (HTTP Status Code %d)", statusErr.Code))
		} else {
			zap.S().Errorf("session server lookup failed (%s): %v", c.Username(), err)
			c.disconnect("Proxy client could not reach the session server.")
		}
		return false
	}
	if profile.Name != c.Username() {
		c.disconnect("Client's username did not match Mojang's record")
		return false
	}
	onlineUUID, err := auth.ParseMojangID(profile.ID)
	if err != nil {
		c.disconnect("Proxy client received a malformed profile id.")
		return false
	}

	c.mu.Lock()
	c.onlineUUID = onlineUUID
	c.properties = profile.Properties
	c.mu.Unlock()
	for _, prop := range profile.Properties {
		if prop.Name == "textures" {
			c.mu.Lock()
			c.skinBlob = prop.Value
			c.mu.Unlock()
			c.proxy.cacheSkin(onlineUUID, prop.Value)
		}
	}

	// A player renaming on Mojang's side keeps the name this proxy first
	// recorded for the uuid until its own records catch up.
	if recorded := c.proxy.usernameByUUID(onlineUUID); recorded != "" && recorded != c.Username() {
		zap.S().Infof("%s's client performed LOGON with new name, falling back to %s",
			c.Username(), recorded)
		c.mu.Lock()
		c.username = recorded
		c.offlineUUID = auth.OfflineUUID(recorded)
		c.mu.Unlock()
	}
	c.proxy.recordUsername(onlineUUID, c.Username())

	if c.Protocol() > 26 {
		w := codec.NewWriter(c.Protocol())
		w.WriteVarInt(int32(c.proxy.config.CompressionThreshold))
		_ = c.conn.bufferPacket(packet.SetCompression, w.Bytes())
		c.conn.setCompression(c.proxy.config.CompressionThreshold)
	}

	// Ban enforcement comes after authentication so the uuid is trustworthy.
	if c.proxy.bans.IsIPBanned(c.remoteIP) {
		zap.S().Infof("player %s tried to connect from banned ip: %s", c.Username(), c.remoteIP)
		c.setState(proto.Handshake)
		c.disconnect("Your address is IP-banned from this server!.")
		return false
	}
	if c.proxy.bans.IsUUIDBanned(onlineUUID) {
		reason := c.proxy.bans.UUIDBanReason(onlineUUID)
		zap.S().Infof("banned player %s tried to connect: %s", c.Username(), reason)
		c.setState(proto.Handshake)
		c.disconnect(fmt.Sprintf("Banned: %s", reason))
		return false
	}

	zap.S().Infof("%s's client LOGON occurred: (UUID: %s | IP: %s)",
		c.Username(), onlineUUID, c.remoteIP)

	res := c.proxy.events.Fire("player.preLogin", map[string]interface{}{
		"player":       c.Username(),
		"online_uuid":  onlineUUID.String(),
		"offline_uuid": c.offlineUUIDLocked().String(),
		"ip":           c.remoteIP,
	})
	if res.Denied() {
		c.setState(proto.Handshake)
		c.disconnect("Login denied by a Plugin.")
		return false
	}

	c.joinPlayer()

	w := codec.NewWriter(c.Protocol())
	w.WriteString(onlineUUID.String())
	w.WriteString(c.Username())
	_ = c.conn.bufferPacket(packet.LoginSuccess, w.Bytes())

	c.mu.Lock()
	c.lastClientResponse = c.now()
	c.state = proto.Play
	c.mu.Unlock()

	go c.keepAliveLoop()
	c.connectToServer("", 0)
	return false
}

func (c *Client) offlineUUIDLocked() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offlineUUID
}
