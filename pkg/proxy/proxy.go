package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/drawbridge-mc/drawbridge/pkg/auth"
	"github.com/drawbridge-mc/drawbridge/pkg/config"
	"github.com/drawbridge-mc/drawbridge/pkg/event"
	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const skinCacheSize = 1024

// sessionValidator is the slice of the session server the login flow needs.
type sessionValidator interface {
	HasJoined(username, serverHash string) (*auth.Profile, error)
}

// Proxy is the process-wide hub: it accepts client connections and hands
// each one a Client session, and provides the shared collaborators —
// ban store, skin cache, event bus, name records and the JavaServer handle.
type Proxy struct {
	config     config.Config
	events     *event.Bus
	keyPair    *auth.KeyPair
	sessions   sessionValidator
	bans       *BanStore
	javaServer *JavaServer

	// dial opens upstream connections; swapped out by tests.
	dial func(network, addr string) (net.Conn, error)

	mu       sync.Mutex
	clients  []*Client
	names    map[uuid.UUID]string // last username seen per online uuid
	skins    *lru.Cache
	limiters map[string]*rate.Limiter // per client IP

	closeOnce sync.Once
	listener  net.Listener
}

// New builds a Proxy from cfg. The RSA identity is created up front so every
// session shares one keypair, like the vanilla server.
func New(cfg config.Config) (*Proxy, error) {
	keyPair, err := auth.NewKeyPair()
	if err != nil {
		return nil, err
	}
	js := NewJavaServer(cfg.Server)
	return &Proxy{
		config:     cfg,
		events:     event.NewBus(),
		keyPair:    keyPair,
		sessions:   auth.NewSessionClient(),
		bans:       NewBanStore(),
		javaServer: js,
		dial:       dialTimeout,
		names:      map[uuid.UUID]string{},
		skins:      lru.New(skinCacheSize),
		limiters:   map[string]*rate.Limiter{},
	}, nil
}

// Events returns the hook registry for plugin subscriptions.
func (p *Proxy) Events() *event.Bus { return p.events }

// Server returns the co-hosted server collaborator.
func (p *Proxy) Server() *JavaServer { return p.javaServer }

// Bans returns the ban store.
func (p *Proxy) Bans() *BanStore { return p.bans }

// Run listens for client connections until Shutdown or a listener error.
func (p *Proxy) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.config.Bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", p.config.Bind, err)
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()
	zap.S().Infof("proxy listening on %s", p.config.Bind)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		p.Shutdown()
		return nil
	})
	g.Go(func() error {
		for {
			sock, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			c := newClient(p, sock)
			go c.handle()
		}
	})
	return g.Wait()
}

// Shutdown closes the listener and disconnects every session.
func (p *Proxy) Shutdown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		ln := p.listener
		clients := append([]*Client(nil), p.clients...)
		p.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
		for _, c := range clients {
			c.disconnect("Proxy is shutting down. Please reconnect in a moment!")
		}
	})
}

func (p *Proxy) registerClient(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.clients {
		if existing == c {
			return
		}
	}
	p.clients = append(p.clients, c)
}

func (p *Proxy) unregisterClient(c *Client) {
	p.mu.Lock()
	for i, existing := range p.clients {
		if existing == c {
			p.clients = append(p.clients[:i], p.clients[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.javaServer.RemovePlayer(c.Username())
}

// clientList snapshots the registered sessions.
func (p *Proxy) clientList() []*Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Client(nil), p.clients...)
}

// cacheSkin stores the textures property for an authenticated uuid.
func (p *Proxy) cacheSkin(id uuid.UUID, blob string) {
	p.mu.Lock()
	p.skins.Add(id.String(), blob)
	p.mu.Unlock()
}

// SkinByUUID returns a cached textures blob, if present.
func (p *Proxy) SkinByUUID(id uuid.UUID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.skins.Get(id.String())
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (p *Proxy) recordUsername(id uuid.UUID, name string) {
	p.mu.Lock()
	p.names[id] = name
	p.mu.Unlock()
}

func (p *Proxy) usernameByUUID(id uuid.UUID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.names[id]
}

func (p *Proxy) isHiddenOp(name string) bool {
	for _, hidden := range p.config.HiddenOps {
		if hidden == name {
			return true
		}
	}
	return false
}

// loginAllowed rate-limits session-server logins per client IP to keep a
// misbehaving client from hammering the Mojang API.
func (p *Proxy) loginAllowed(ip string) bool {
	if p.config.LoginsPerSecond <= 0 {
		return true
	}
	p.mu.Lock()
	limiter, ok := p.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.config.LoginsPerSecond), 1)
		p.limiters[ip] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}
