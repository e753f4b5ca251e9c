package proxy

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"sort"
	"sync"

	"github.com/drawbridge-mc/drawbridge/pkg/config"
	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

// JavaServer lifecycle states.
const (
	ServerBooting int32 = iota + 1
	ServerStarted
	ServerStopping
)

// JavaServer mirrors what the proxy knows about the co-hosted server
// process: protocol version, motd, roster and icon. The process supervisor
// feeds these fields; sessions only read them.
type JavaServer struct {
	cfg config.Server

	mu         sync.RWMutex
	state      int32
	protocol   proto.Protocol
	version    string
	motd       string
	maxPlayers int
	serverIcon string // base64 png data uri
	players    map[string]*Player
}

// NewJavaServer returns a JavaServer handle in the booting state.
func NewJavaServer(cfg config.Server) *JavaServer {
	js := &JavaServer{
		cfg:      cfg,
		state:    ServerBooting,
		protocol: -1,
		players:  map[string]*Player{},
	}
	if cfg.Icon != "" {
		if icon, err := loadServerIcon(cfg.Icon); err != nil {
			zap.S().Warnf("could not load server icon %s: %v", cfg.Icon, err)
		} else {
			js.serverIcon = icon
		}
	}
	return js
}

// SetInfo is called by the supervisor once the server process reported its
// version and settings.
func (s *JavaServer) SetInfo(protocol proto.Protocol, version, motd string, maxPlayers int) {
	s.mu.Lock()
	s.protocol = protocol
	s.version = version
	s.motd = motd
	s.maxPlayers = maxPlayers
	s.state = ServerStarted
	s.mu.Unlock()
}

func (s *JavaServer) State() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *JavaServer) SetState(state int32) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ProtocolVersion is -1 until the server process reported in.
func (s *JavaServer) ProtocolVersion() proto.Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

func (s *JavaServer) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *JavaServer) Motd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.motd
}

func (s *JavaServer) MaxPlayers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPlayers
}

func (s *JavaServer) ServerIcon() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverIcon
}

func (s *JavaServer) AddPlayer(name string, p *Player) {
	s.mu.Lock()
	if _, ok := s.players[name]; !ok {
		s.players[name] = p
	}
	s.mu.Unlock()
}

func (s *JavaServer) RemovePlayer(name string) {
	s.mu.Lock()
	delete(s.players, name)
	s.mu.Unlock()
}

func (s *JavaServer) PlayerByName(name string) *Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players[name]
}

func (s *JavaServer) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// PlayerList returns the roster in stable name order.
func (s *JavaServer) PlayerList() []*Player {
	s.mu.RLock()
	names := make([]string, 0, len(s.players))
	for name := range s.players {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	out := make([]*Player, 0, len(names))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		if p, ok := s.players[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// loadServerIcon reads an image, normalizes it to the 64x64 the client
// expects and renders the data uri used in the status response.
func loadServerIcon(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	img = resize.Resize(64, 64, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
