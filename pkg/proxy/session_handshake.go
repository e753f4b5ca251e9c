package proxy

import (
	"fmt"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"go.uber.org/zap"
)

// parseHandshake handles the one valid packet of the entry state: 0x00
// carrying (version, host, port, next_state).
func (c *Client) parseHandshake(frame *codec.Frame) bool {
	if frame.ID != 0x00 {
		// Unknown packet: stay in handshake and wait for a real one.
		return false
	}

	r := codec.NewReader(frame.Body, c.Protocol())
	version, err := r.ReadVarInt()
	if err != nil {
		return false
	}
	host, err := r.ReadString()
	if err != nil {
		return false
	}
	port, err := r.ReadUShort()
	if err != nil {
		return false
	}
	next, err := r.ReadVarInt()
	if err != nil {
		return false
	}

	c.mu.Lock()
	c.clientVersion = proto.Protocol(version)
	c.advertisedHost = host
	c.advertisedPort = port
	c.mu.Unlock()
	c.conn.setProtocol(proto.Protocol(version))

	switch proto.State(next) {
	case proto.Status:
		c.setState(proto.Status)
		// The proxy answers status queries itself, nothing goes upstream.
		return false

	case proto.Login:
		// The id maps must exist before a disconnect can be encoded.
		c.refreshPacketSets()

		c.mu.Lock()
		serverVersion := c.serverVersion
		clientVersion := c.clientVersion
		c.mu.Unlock()

		if serverVersion == -1 {
			c.disconnect("Proxy client was unable to connect to the server.")
			return false
		}
		if c.proxy.javaServer.State() != ServerStarted {
			c.disconnect("Server has not finished booting. Please try connecting again in a few seconds")
			return false
		}
		if clientVersion.Snapshot19() {
			c.disconnect(fmt.Sprintf("You're running an unsupported snapshot (protocol: %d)!", clientVersion))
			return false
		}
		if serverVersion == clientVersion {
			c.setState(proto.Login)
			return true // the co-hosted server switches to login with us
		}
		c.disconnect("You're not running the same Minecraft version as the server!")
		return false
	}

	zap.S().Debugf("invalid handshake next state %d from %s", next, c.remoteAddr)
	c.disconnect(fmt.Sprintf("Invalid client state request for handshake: '%d'", next))
	return false
}
