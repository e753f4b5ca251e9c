package packet

import (
	"testing"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/stretchr/testify/assert"
)

func TestServerBoundVersionSelection(t *testing.T) {
	for _, p := range []proto.Protocol{
		proto.Minecraft_1_7_0.Protocol,
		proto.Minecraft_1_7_9.Protocol,
		proto.Minecraft_1_8.Protocol,
	} {
		ids := NewServerBound(p)
		assert.Equal(t, int32(0x00), ids.KeepAlive, "%v", p)
		assert.Equal(t, int32(0x01), ids.ChatMessage, "%v", p)
		assert.Equal(t, int32(0x0E), ids.ClickWindow, "%v", p)
		assert.Equal(t, NotInVersion, ids.TeleportConfirm, "%v", p)
		assert.Equal(t, NotInVersion, ids.UseItem, "%v", p)
	}

	for _, p := range []proto.Protocol{
		proto.Minecraft_1_9.Protocol,
		proto.MaximumVersion.Protocol,
	} {
		ids := NewServerBound(p)
		assert.Equal(t, int32(0x00), ids.TeleportConfirm, "%v", p)
		assert.Equal(t, int32(0x0B), ids.KeepAlive, "%v", p)
		assert.Equal(t, int32(0x02), ids.ChatMessage, "%v", p)
		assert.Equal(t, int32(0x1D), ids.UseItem, "%v", p)
	}
}

func TestClientBoundVersionSelection(t *testing.T) {
	old := NewClientBound(proto.Minecraft_1_8.Protocol)
	assert.Equal(t, int32(0x00), old.KeepAlive)
	assert.Equal(t, int32(0x40), old.Disconnect)

	modern := NewClientBound(proto.Minecraft_1_9.Protocol)
	assert.Equal(t, int32(0x1F), modern.KeepAlive)
	assert.Equal(t, int32(0x1A), modern.Disconnect)
}

func TestSupportedRange(t *testing.T) {
	assert.True(t, proto.Minecraft_1_7_0.Protocol.Supported())
	assert.True(t, proto.Minecraft_1_8.Protocol.Supported())
	assert.True(t, proto.Minecraft_1_9.Protocol.Supported())
	assert.True(t, proto.MaximumVersion.Protocol.Supported())
	assert.False(t, proto.Protocol(3).Supported(), "below minimum")
	assert.False(t, proto.Protocol(60).Supported(), "1.9 snapshot")
	assert.False(t, (proto.MaximumVersion.Protocol + 1).Supported())
}
