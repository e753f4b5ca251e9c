// Package packet resolves symbolic packet names to wire ids per protocol
// version and direction. Only the packets the proxy interprets are mapped;
// everything else passes through by raw id.
package packet

import "github.com/drawbridge-mc/drawbridge/pkg/proto"

// NotInVersion marks a packet that does not exist in the selected protocol
// version. It never matches a decoded wire id.
const NotInVersion int32 = -1

// ServerBound holds the play-state wire ids of client -> server packets for
// one protocol version.
type ServerBound struct {
	KeepAlive            int32
	ChatMessage          int32
	PlayerPosition       int32
	PlayerLook           int32
	PlayerPosLook        int32
	TeleportConfirm      int32
	PlayerDigging        int32
	PlayerBlockPlacement int32
	UseItem              int32
	HeldItemChange       int32
	PlayerUpdateSign     int32
	ClientSettings       int32
	ClickWindow          int32
	Spectate             int32
}

// ClientBound holds the play-state wire ids of server -> client packets for
// one protocol version.
type ClientBound struct {
	KeepAlive       int32
	ChatMessage     int32
	ChangeGameState int32
	Disconnect      int32
}

// Login-state ids, stable across the supported range.
const (
	LoginStart         int32 = 0x00
	EncryptionResponse int32 = 0x01
	LoginDisconnect    int32 = 0x00
	EncryptionRequest  int32 = 0x01
	LoginSuccess       int32 = 0x02
	SetCompression     int32 = 0x03
)

// NewServerBound returns the server-bound id set for the protocol version.
func NewServerBound(p proto.Protocol) *ServerBound {
	if p.Lower(proto.Minecraft_1_9_Start) {
		return &ServerBound{
			KeepAlive:            0x00,
			ChatMessage:          0x01,
			PlayerPosition:       0x04,
			PlayerLook:           0x05,
			PlayerPosLook:        0x06,
			PlayerDigging:        0x07,
			PlayerBlockPlacement: 0x08,
			HeldItemChange:       0x09,
			PlayerUpdateSign:     0x12,
			ClickWindow:          0x0E,
			ClientSettings:       0x15,
			Spectate:             0x18,
			TeleportConfirm:      NotInVersion,
			UseItem:              NotInVersion,
		}
	}
	return &ServerBound{
		TeleportConfirm:      0x00,
		ChatMessage:          0x02,
		ClientSettings:       0x04,
		ClickWindow:          0x07,
		KeepAlive:            0x0B,
		PlayerPosition:       0x0C,
		PlayerPosLook:        0x0D,
		PlayerLook:           0x0E,
		PlayerDigging:        0x13,
		HeldItemChange:       0x17,
		PlayerUpdateSign:     0x19,
		Spectate:             0x1B,
		PlayerBlockPlacement: 0x1C,
		UseItem:              0x1D,
	}
}

// NewClientBound returns the client-bound id set for the protocol version.
func NewClientBound(p proto.Protocol) *ClientBound {
	if p.Lower(proto.Minecraft_1_9_Start) {
		return &ClientBound{
			KeepAlive:       0x00,
			ChatMessage:     0x02,
			ChangeGameState: 0x2B,
			Disconnect:      0x40,
		}
	}
	return &ClientBound{
		ChatMessage:     0x0F,
		ChangeGameState: 0x1E,
		KeepAlive:       0x1F,
		Disconnect:      0x1A,
	}
}
