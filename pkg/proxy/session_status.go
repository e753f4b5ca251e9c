package proxy

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	ccodec "go.minekube.com/common/minecraft/component/codec"
	"go.minekube.com/common/minecraft/component/codec/legacy"
	"go.uber.org/zap"
)

const statusSampleMax = 5

// statusResponse is the JSON answered to a status request.
type statusResponse struct {
	Description json.RawMessage `json:"description"`
	Players     statusPlayers   `json:"players"`
	Version     statusVersion   `json:"version"`
	Favicon     string          `json:"favicon,omitempty"`
}

type statusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []statusSample `json:"sample"`
}

type statusSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

// parseStatus answers the server list handshake: 0x00 is the status request,
// after which the session stays in status for the ping; 0x01 echoes the ping
// and returns the session to handshake.
func (c *Client) parseStatus(frame *codec.Frame) bool {
	switch frame.ID {
	case 0x01:
		r := codec.NewReader(frame.Body, c.Protocol())
		payload, err := r.ReadLong()
		if err != nil {
			return false
		}
		w := codec.NewWriter(c.Protocol())
		w.WriteLong(payload)
		_ = c.conn.bufferPacket(0x01, w.Bytes())
		c.setState(proto.Handshake)
		return false

	case 0x00:
		status := c.buildStatus()
		w := codec.NewWriter(c.Protocol())
		if err := w.WriteJSON(status); err != nil {
			zap.S().Errorf("failed to encode status response: %v", err)
			return false
		}
		_ = c.conn.bufferPacket(0x00, w.Bytes())
		// Wait for the ping before returning to handshake.
		return false
	}

	c.setState(proto.Handshake)
	c.abort.Store(true)
	return false
}

func (c *Client) buildStatus() statusResponse {
	js := c.proxy.javaServer

	sample := make([]statusSample, 0, statusSampleMax)
	for _, p := range js.PlayerList() {
		if c.proxy.isHiddenOp(p.Username()) {
			continue
		}
		sample = append(sample, statusSample{
			Name: p.Username(),
			ID:   p.ID().String(),
		})
		if len(sample) == statusSampleMax {
			break
		}
	}

	return statusResponse{
		Description: c.motdJSON(js.Motd()),
		Players: statusPlayers{
			Max:    js.MaxPlayers(),
			Online: js.PlayerCount(),
			Sample: sample,
		},
		Version: statusVersion{
			Name:     js.Version(),
			Protocol: int32(c.proxy.javaServer.ProtocolVersion()),
		},
		Favicon: js.ServerIcon(),
	}
}

// motdJSON renders the motd. 1.8+ clients get the legacy color codes parsed
// into a chat component; older clients take the raw string.
func (c *Client) motdJSON(motd string) json.RawMessage {
	if c.Protocol().Lower(proto.Minecraft_1_8) {
		raw, _ := json.Marshal(motd)
		return raw
	}
	motd = processColorCodes(strings.ReplaceAll(motd, `\`, ""))
	comp, err := (&legacy.Legacy{}).Unmarshal([]byte(motd))
	if err != nil {
		raw, _ := json.Marshal(motd)
		return raw
	}
	buf := new(bytes.Buffer)
	if err := (&ccodec.Json{}).Marshal(buf, comp); err != nil {
		raw, _ := json.Marshal(motd)
		return raw
	}
	return json.RawMessage(buf.Bytes())
}

const colorCodeChars = "0123456789abcdefklmnor"

// processColorCodes turns "&"-style formatting codes into the section sign
// the legacy component codec parses.
func processColorCodes(s string) string {
	out := make([]rune, 0, len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '&' && i+1 < len(runes) &&
			strings.ContainsRune(colorCodeChars, unicode.ToLower(runes[i+1])) {
			out = append(out, '§')
			continue
		}
		out = append(out, runes[i])
	}
	return string(out)
}
