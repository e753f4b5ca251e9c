package proto

import "fmt"

// Protocol is a Minecraft Java Edition protocol version number.
type Protocol int32

// Protocol version boundaries the proxy distinguishes.
// Wire formats of several packets change at these versions.
var (
	Minecraft_1_7_0       = Version{4, "1.7.2"}
	Minecraft_1_7_9       = Version{5, "1.7.9"}
	Minecraft_1_8         = Version{47, "1.8"}
	Minecraft_1_9_Start   = Version{48, "1.9-snapshot"} // first 1.9 snapshot
	Minecraft_1_9         = Version{107, "1.9"}
	Minecraft_1_12_2      = Version{340, "1.12.2"} // declared maximum
	MaximumVersion        = Minecraft_1_12_2
	MinimumVersion        = Minecraft_1_7_0
)

// Version is a named protocol version.
type Version struct {
	Protocol Protocol
	Name     string
}

func (v Version) String() string { return v.Name }

// Supported reports whether p lies in the proxy's declared version range.
// 1.9 snapshots (between 1.9-snapshot start and 1.9 release) are excluded.
func (p Protocol) Supported() bool {
	if p > Minecraft_1_9_Start.Protocol && p < Minecraft_1_9.Protocol {
		return false
	}
	return p >= MinimumVersion.Protocol && p <= MaximumVersion.Protocol
}

// Snapshot19 reports whether p is an unsupported 1.9 development snapshot.
func (p Protocol) Snapshot19() bool {
	return p > Minecraft_1_9_Start.Protocol && p < Minecraft_1_9.Protocol
}

func (p Protocol) GreaterEqual(v Version) bool { return p >= v.Protocol }
func (p Protocol) Lower(v Version) bool        { return p < v.Protocol }

func (p Protocol) String() string { return fmt.Sprintf("protocol %d", int32(p)) }

// Direction of a packet relative to the upstream server.
// The proxy plays both roles simultaneously.
type Direction uint8

const (
	ServerBound Direction = iota // client -> proxy -> server
	ClientBound                  // server -> proxy -> client
)

func (d Direction) String() string {
	if d == ServerBound {
		return "serverbound"
	}
	return "clientbound"
}

// State is a client session state.
type State int

// The five session states. Lobby is proxy-specific: the client idles on the
// proxy while no traffic is passed to the backing server.
const (
	Handshake State = 0
	Status    State = 1
	Login     State = 2
	Play      State = 3
	Lobby     State = 4
)

func (s State) String() string {
	switch s {
	case Handshake:
		return "handshake"
	case Status:
		return "status"
	case Login:
		return "login"
	case Play:
		return "play"
	case Lobby:
		return "lobby"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
