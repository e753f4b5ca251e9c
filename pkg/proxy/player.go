package proxy

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/drawbridge-mc/drawbridge/pkg/auth"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"github.com/google/uuid"
	ccodec "go.minekube.com/common/minecraft/component/codec"
	"go.minekube.com/common/minecraft/component"
	"go.uber.org/zap"
)

// Player is the façade handed to plugin hooks. It never exposes raw session
// fields; every accessor goes through the session's lock.
type Player struct {
	client *Client
}

func newPlayer(c *Client) *Player {
	return &Player{client: c}
}

// Username is the player's login name.
func (p *Player) Username() string { return p.client.Username() }

// ID is the uuid the player is known by: the Mojang uuid in online mode,
// the deterministic offline uuid otherwise.
func (p *Player) ID() uuid.UUID { return p.client.sessionUUID() }

// OfflineID is the server-local uuid derived from the username.
func (p *Player) OfflineID() uuid.UUID { return p.client.offlineUUIDLocked() }

// OnlineMode reports whether the session-server authenticated this player.
func (p *Player) OnlineMode() bool {
	p.client.mu.Lock()
	defer p.client.mu.Unlock()
	return p.client.onlineUUID != uuid.Nil
}

// Gamemode returns the player's last known game mode.
func (p *Player) Gamemode() int32 { return p.client.Gamemode() }

// Position returns the mirrored player position.
func (p *Player) Position() (x, y, z float64) {
	p.client.mu.Lock()
	defer p.client.mu.Unlock()
	return p.client.position[0], p.client.position[1], p.client.position[2]
}

// HeldItem returns the item in the active hotbar slot of the mirrored
// inventory, or nil for an empty hand.
func (p *Player) HeldItem() *codec.Slot {
	p.client.mu.Lock()
	defer p.client.mu.Unlock()
	idx := 36 + int(p.client.slot) // hotbar slots live at 36..44
	if idx < 0 || idx >= inventorySize {
		return nil
	}
	return p.client.inventory[idx]
}

// Properties returns the signed profile properties from the session server.
func (p *Player) Properties() []auth.Property {
	p.client.mu.Lock()
	defer p.client.mu.Unlock()
	return p.client.properties
}

var errNoUpstream = errors.New("player has no upstream server connection")

// Chat sends a chat line onto the upstream server as if the player typed it.
func (p *Player) Chat(message string) error {
	server := p.client.currentServer()
	if server == nil {
		return errNoUpstream
	}
	w := codec.NewWriter(p.client.Protocol())
	w.WriteString(message)
	server.sendPacket(p.client.pktSB.ChatMessage, w.Bytes())
	return nil
}

// SendMessage shows a chat component to the player.
func (p *Player) SendMessage(msg component.Component) error {
	b := new(strings.Builder)
	if err := (&ccodec.Json{}).Marshal(b, msg); err != nil {
		return err
	}
	w := codec.NewWriter(p.client.Protocol())
	w.WriteString(b.String())
	return p.client.conn.bufferPacket(p.client.pktCB.ChatMessage,
		chatBody(p.client.Protocol(), w.Bytes()))
}

// SendText shows a plain colored text line to the player.
func (p *Player) SendText(text, color string) error {
	w := codec.NewWriter(p.client.Protocol())
	if err := w.WriteJSON(map[string]interface{}{
		"text":  text,
		"color": color,
	}); err != nil {
		return err
	}
	return p.client.conn.bufferPacket(p.client.pktCB.ChatMessage,
		chatBody(p.client.Protocol(), w.Bytes()))
}

// Disconnect kicks the player with a reason.
func (p *Player) Disconnect(reason string) {
	zap.S().Infof("%s has been disconnected: %s", p.Username(), reason)
	p.client.disconnect(reason)
}

func (p *Player) String() string { return p.Username() }

func randomUint64() uint64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:]) // always succeeds
	return binary.LittleEndian.Uint64(buf[:])
}
