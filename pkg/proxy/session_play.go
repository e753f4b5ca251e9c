package proxy

import (
	"strings"

	"github.com/drawbridge-mc/drawbridge/pkg/event"
	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"go.uber.org/zap"
)

// parsePlay interprets the whitelisted gameplay packets; everything else
// passes through untouched. A parse failure inside a handler drops that
// packet but keeps the session alive.
func (c *Client) parsePlay(frame *codec.Frame) bool {
	r := codec.NewReader(frame.Body, c.Protocol())

	switch frame.ID {
	case c.pktSB.ChatMessage:
		return c.handleChat(r)
	case c.pktSB.KeepAlive:
		c.handleKeepAliveReply(r)
		return false
	}

	// Everything below only matters while attached to the local server;
	// a hub connection passes gameplay straight through.
	if !c.IsLocal() {
		return true
	}

	switch frame.ID {
	case c.pktSB.PlayerPosition:
		return c.handlePlayerPosition(r)
	case c.pktSB.PlayerPosLook:
		return c.handlePlayerPosLook(r)
	case c.pktSB.TeleportConfirm:
		// Reading the body here glitches the client; hands off.
		return true
	case c.pktSB.PlayerLook:
		return c.handlePlayerLook(r)
	case c.pktSB.PlayerDigging:
		return c.handlePlayerDigging(r)
	case c.pktSB.PlayerBlockPlacement:
		return c.handleBlockPlacement(r)
	case c.pktSB.UseItem:
		return c.handleUseItem(r)
	case c.pktSB.HeldItemChange:
		return c.handleHeldItemChange(r)
	case c.pktSB.PlayerUpdateSign:
		return c.handleUpdateSign(r)
	case c.pktSB.ClientSettings:
		return c.handleClientSettings(r)
	case c.pktSB.ClickWindow:
		return c.handleClickWindow(r)
	case c.pktSB.Spectate:
		return c.handleSpectate(r)
	}
	return true
}

func (c *Client) handleChat(r *codec.Reader) bool {
	msg, err := r.ReadString()
	if err != nil {
		return false
	}

	// The lobby escape hatch works even while attached to a remote hub.
	if !c.IsLocal() && (msg == "/lobby" || msg == "/hub") {
		server := c.currentServer()
		if server != nil {
			server.close("Lobbification", false)
		}
		c.mu.Lock()
		c.advertisedHost, c.advertisedPort = "", 0
		c.mu.Unlock()
		c.connectToServer("", 0)
		c.mu.Lock()
		c.isLocal = true
		c.mu.Unlock()
		return false
	}

	res := c.proxy.events.Fire("player.rawMessage", map[string]interface{}{
		"player":  c.playerObject(),
		"message": msg,
	})
	switch res.Kind() {
	case event.KindDeny:
		return false
	case event.KindReplace:
		msg = res.Value()
	case event.KindPatch:
		if v, ok := res.PatchField("message"); ok {
			if s, ok := v.(string); ok {
				msg = s
			}
		}
	}
	if msg == "" {
		return false
	}

	prefix := c.proxy.config.CommandPrefix
	if strings.HasPrefix(msg, prefix) {
		fields := strings.Fields(msg)
		command := strings.ToLower(strings.TrimPrefix(fields[0], prefix))
		args := fields[1:]
		if c.proxy.events.HasSubscribers("player.runCommand") {
			res := c.proxy.events.Fire("player.runCommand", map[string]interface{}{
				"player":  c.playerObject(),
				"command": command,
				"args":    args,
			})
			if !res.Denied() {
				// A hook handled the command; it goes no further.
				zap.S().Debugf("%s command %q handled by a plugin", c.Username(), command)
				return false
			}
		}
	}

	// A non-slash command prefix means a leading slash belongs to the server.
	if prefix != "/" && strings.HasPrefix(msg, "/") {
		msg = msg[1:]
	}

	// Forward the possibly mutated message and swallow the original packet.
	if server := c.currentServer(); server != nil {
		w := codec.NewWriter(c.Protocol())
		w.WriteString(msg)
		server.sendPacket(c.pktSB.ChatMessage, w.Bytes())
	}
	return false
}

func (c *Client) handlePlayerPosition(r *codec.Reader) bool {
	x, err := r.ReadDouble()
	if err != nil {
		return false
	}
	y, err := r.ReadDouble()
	if err != nil {
		return false
	}
	if c.Protocol().Lower(proto.Minecraft_1_8) {
		// 1.7 carries an extra head-y double nobody needs.
		if _, err := r.ReadDouble(); err != nil {
			return false
		}
	}
	z, err := r.ReadDouble()
	if err != nil {
		return false
	}

	c.mu.Lock()
	c.position = [3]float64{x, y, z}
	c.mu.Unlock()
	return true
}

func (c *Client) handlePlayerPosLook(r *codec.Reader) bool {
	x, err := r.ReadDouble()
	if err != nil {
		return false
	}
	y, err := r.ReadDouble()
	if err != nil {
		return false
	}
	if c.Protocol().Lower(proto.Minecraft_1_8) {
		if _, err := r.ReadDouble(); err != nil {
			return false
		}
	}
	z, err := r.ReadDouble()
	if err != nil {
		return false
	}
	yaw, err := r.ReadFloat()
	if err != nil {
		return false
	}
	pitch, err := r.ReadFloat()
	if err != nil {
		return false
	}

	c.mu.Lock()
	c.position = [3]float64{x, y, z}
	c.head = [2]float32{yaw, pitch}
	c.mu.Unlock()
	return true
}

func (c *Client) handlePlayerLook(r *codec.Reader) bool {
	yaw, err := r.ReadFloat()
	if err != nil {
		return false
	}
	pitch, err := r.ReadFloat()
	if err != nil {
		return false
	}
	c.mu.Lock()
	c.head = [2]float32{yaw, pitch}
	c.mu.Unlock()
	return true
}

// Digging statuses on the wire.
const (
	digStarted   = 0
	digFinished  = 2
	digUseFinish = 5
)

func (c *Client) handlePlayerDigging(r *codec.Reader) bool {
	status, err := r.ReadByte()
	if err != nil {
		return false
	}
	var pos codec.Position
	if c.Protocol().Lower(proto.Minecraft_1_8) {
		x, err := r.ReadInt()
		if err != nil {
			return false
		}
		y, err := r.ReadUByte()
		if err != nil {
			return false
		}
		z, err := r.ReadInt()
		if err != nil {
			return false
		}
		pos = codec.Position{X: x, Y: int32(y), Z: z}
	} else {
		if pos, err = r.ReadPosition(); err != nil {
			return false
		}
	}
	face, err := r.ReadByte()
	if err != nil {
		return false
	}

	fireDig := func(action string) bool {
		return !c.proxy.events.Fire("player.dig", map[string]interface{}{
			"player":   c.playerObject(),
			"position": pos,
			"action":   action,
			"face":     face,
		}).Denied()
	}

	switch status {
	case digFinished:
		if !fireDig("end_break") {
			return false
		}
	case digStarted:
		action := "begin_break"
		if c.Gamemode() == 1 { // creative breaks instantly
			action = "end_break"
		}
		if !fireDig(action) {
			return false
		}
	case digUseFinish:
		if int(uint8(face)) == 255 {
			c.mu.Lock()
			playerPos := c.position
			c.mu.Unlock()
			if playerPos != [3]float64{} {
				res := c.proxy.events.Fire("player.interact", map[string]interface{}{
					"player":   c.playerObject(),
					"position": playerPos,
					"action":   "finish_using",
				})
				if res.Denied() {
					return false
				}
			}
		}
	}
	return true
}

func (c *Client) handleBlockPlacement(r *codec.Reader) bool {
	player := c.playerObject()
	var hand int32
	heldItem := player.HeldItem()

	var pos codec.Position
	var face int32

	switch {
	case c.Protocol().Lower(proto.Minecraft_1_8):
		x, err := r.ReadInt()
		if err != nil {
			return false
		}
		y, err := r.ReadUByte()
		if err != nil {
			return false
		}
		z, err := r.ReadInt()
		if err != nil {
			return false
		}
		f, err := r.ReadByte()
		if err != nil {
			return false
		}
		// 1.7 still carries the held item in the packet; later servers
		// track inventory themselves.
		item, err := r.ReadSlot(false)
		if err != nil {
			return false
		}
		pos, face, heldItem = codec.Position{X: x, Y: int32(y), Z: z}, int32(f), item

	case c.Protocol().Lower(proto.Minecraft_1_9):
		p, err := r.ReadPosition()
		if err != nil {
			return false
		}
		f, err := r.ReadByte()
		if err != nil {
			return false
		}
		if _, err := r.ReadSlot(true); err != nil { // in-packet item is ignored
			return false
		}
		pos, face = p, int32(f)

	default:
		p, err := r.ReadPosition()
		if err != nil {
			return false
		}
		f, err := r.ReadVarInt()
		if err != nil {
			return false
		}
		h, err := r.ReadVarInt()
		if err != nil {
			return false
		}
		pos, face, hand = p, f, h
	}

	clickPos := pos
	pos = offsetByFace(pos, face)

	if heldItem == nil {
		res := c.proxy.events.Fire("player.interact", map[string]interface{}{
			"player":   player,
			"position": pos,
			"action":   "useitem",
		})
		if res.Denied() {
			return false
		}
	}

	c.mu.Lock()
	c.lastPlaceCoords = pos
	c.mu.Unlock()

	res := c.proxy.events.Fire("player.place", map[string]interface{}{
		"player":        player,
		"position":      pos,
		"clickposition": clickPos,
		"hand":          hand,
		"item":          heldItem,
	})
	return !res.Denied()
}

// offsetByFace moves one block out from the clicked face:
// 0=-Y 1=+Y 2=-Z 3=+Z 4=-X 5=+X.
func offsetByFace(p codec.Position, face int32) codec.Position {
	switch face {
	case 0:
		p.Y--
	case 1:
		p.Y++
	case 2:
		p.Z--
	case 3:
		p.Z++
	case 4:
		p.X--
	case 5:
		p.X++
	}
	return p
}

func (c *Client) handleUseItem(r *codec.Reader) bool {
	hand, err := r.ReadVarInt()
	if err != nil {
		return false
	}
	if hand != 0 {
		return true
	}
	c.mu.Lock()
	pos := c.lastPlaceCoords
	c.mu.Unlock()
	res := c.proxy.events.Fire("player.interact", map[string]interface{}{
		"player":   c.playerObject(),
		"position": pos,
		"action":   "useitem",
	})
	return !res.Denied()
}

func (c *Client) handleHeldItemChange(r *codec.Reader) bool {
	slot, err := r.ReadShort()
	if err != nil {
		return false
	}
	if slot < 0 || slot > 8 {
		return false
	}
	c.mu.Lock()
	c.slot = slot
	c.mu.Unlock()
	return true
}

func (c *Client) handleUpdateSign(r *codec.Reader) bool {
	var pos codec.Position
	pre18 := c.Protocol().Lower(proto.Minecraft_1_8)
	if pre18 {
		x, err := r.ReadInt()
		if err != nil {
			return false
		}
		y, err := r.ReadShort()
		if err != nil {
			return false
		}
		z, err := r.ReadInt()
		if err != nil {
			return false
		}
		pos = codec.Position{X: x, Y: int32(y), Z: z}
	} else {
		var err error
		if pos, err = r.ReadPosition(); err != nil {
			return false
		}
	}
	var lines [4]string
	for i := range lines {
		line, err := r.ReadString()
		if err != nil {
			return false
		}
		lines[i] = line
	}

	res := c.proxy.events.Fire("player.createsign", map[string]interface{}{
		"player":   c.playerObject(),
		"position": pos,
		"line1":    lines[0],
		"line2":    lines[1],
		"line3":    lines[2],
		"line4":    lines[3],
	})
	if res.Denied() {
		return false
	}
	for i, name := range []string{"line1", "line2", "line3", "line4"} {
		if v, ok := res.PatchField(name); ok {
			if s, ok := v.(string); ok {
				lines[i] = s
			}
		}
	}

	c.editSign(pos, lines, pre18)
	return false
}

// editSign re-emits a sign with the chosen lines to the upstream.
func (c *Client) editSign(pos codec.Position, lines [4]string, pre18 bool) {
	server := c.currentServer()
	if server == nil {
		return
	}
	w := codec.NewWriter(c.Protocol())
	if pre18 {
		w.WriteInt(pos.X)
		w.WriteShort(int16(pos.Y))
		w.WriteInt(pos.Z)
	} else {
		w.WritePosition(pos)
	}
	for _, line := range lines {
		w.WriteString(line)
	}
	server.sendPacket(c.pktSB.PlayerUpdateSign, w.Bytes())
}

func (c *Client) handleClientSettings(r *codec.Reader) bool {
	settings, err := readClientSettings(r, c.Protocol())
	if err != nil {
		return false
	}

	c.mu.Lock()
	if c.settings == nil || !c.settings.equal(settings) {
		c.settings = settings
		c.settingsForwarded = false
	}
	c.mu.Unlock()

	zap.L().Debug("client settings updated",
		zap.String("player", c.Username()),
		zap.String("locale", settings.normalizedLocale()))
	return true
}

func (c *Client) handleClickWindow(r *codec.Reader) bool {
	var wid int32
	var err error
	if c.Protocol().Lower(proto.Minecraft_1_8) {
		var b int8
		b, err = r.ReadByte()
		wid = int32(b)
	} else {
		var b byte
		b, err = r.ReadUByte()
		wid = int32(b)
	}
	if err != nil {
		return false
	}
	slot, err := r.ReadShort()
	if err != nil {
		return false
	}
	button, err := r.ReadByte()
	if err != nil {
		return false
	}
	action, err := r.ReadShort()
	if err != nil {
		return false
	}
	var mode int32
	if c.Protocol().GreaterEqual(proto.Minecraft_1_9) {
		mode, err = r.ReadVarInt()
	} else {
		var b int8
		b, err = r.ReadByte()
		mode = int32(b)
	}
	if err != nil {
		return false
	}
	clicked, err := r.ReadSlot(c.Protocol().GreaterEqual(proto.Minecraft_1_8))
	if err != nil {
		return false
	}

	res := c.proxy.events.Fire("player.slotClick", map[string]interface{}{
		"player":  c.playerObject(),
		"wid":     wid,
		"slot":    slot,
		"button":  button,
		"action":  action,
		"mode":    mode,
		"clicked": clicked,
	})
	if res.Denied() {
		return false
	}

	// Mirror window-0 left/right clicks into the local inventory copy. Other
	// clicks are not mirrored, and the copy is not updated from the server's
	// SET_SLOT packets, which are relayed untouched.
	if wid == 0 && (button == 0 || button == 1) {
		c.applyInventoryClick(slot, clicked)
	}
	return true
}

// applyInventoryClick implements the cursor/slot exchange: whatever was on
// the cursor lands in the clicked slot, whatever was clicked is picked up.
func (c *Client) applyInventoryClick(slot int16, clicked *codec.Slot) {
	if slot < 0 || int(slot) >= inventorySize {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.cursorItem
	if prev == nil {
		c.inventory[slot] = nil
		c.cursorItem = clicked
		return
	}
	c.inventory[slot] = prev
	c.cursorItem = clicked
}

func (c *Client) handleSpectate(r *codec.Reader) bool {
	target, err := r.ReadUUID()
	if err != nil {
		return false
	}
	// Rewrite the target to the server-local uuid of a proxied player.
	for _, other := range c.proxy.clientList() {
		other.mu.Lock()
		match := other.onlineUUID == target
		serverUUID := other.offlineUUID
		other.mu.Unlock()
		if match {
			if server := c.currentServer(); server != nil {
				w := codec.NewWriter(c.Protocol())
				w.WriteUUID(serverUUID)
				server.sendPacket(c.pktSB.Spectate, w.Bytes())
			}
			return false
		}
	}
	return true
}

func (c *Client) playerObject() *Player {
	if p := c.proxy.javaServer.PlayerByName(c.Username()); p != nil {
		return p
	}
	return newPlayer(c)
}

func (c *Client) IsLocal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLocal
}

func (c *Client) Gamemode() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gamemode
}
