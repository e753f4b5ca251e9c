package proxy

import (
	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
)

// lobbyReadyFrameID is the legacy frame pair emitted when the client signals
// it is ready to leave the lobby.
const lobbyReadyFrameID = 0x33

// parseLobby handles the hub-to-local handoff state: the client idles on the
// proxy and nothing reaches the server. Only keepalives (timeout tracking)
// and a click-window "ready" signal are accepted.
func (c *Client) parseLobby(frame *codec.Frame) bool {
	switch frame.ID {
	case c.pktSB.KeepAlive:
		r := codec.NewReader(frame.Body, c.Protocol())
		c.handleKeepAliveReply(r)

	case c.pktSB.ClickWindow:
		for _, windowID := range []int32{1, 0} {
			w := codec.NewWriter(c.Protocol())
			w.WriteInt(windowID)
			w.WriteUByte(3)
			w.WriteUByte(0)
			w.WriteString("default")
			_ = c.conn.bufferPacket(lobbyReadyFrameID, w.Bytes())
		}
		c.setState(proto.Play)
		c.connectToServer("", 0)
	}
	return false
}
