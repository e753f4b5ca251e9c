package proxy

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// banEntry is one ban record. A zero Expires means permanent.
type banEntry struct {
	Reason  string
	Expires time.Time
}

func (b banEntry) expired(now time.Time) bool {
	return !b.Expires.IsZero() && now.After(b.Expires)
}

// BanStore keeps IP and uuid bans with optional expiry. Expired entries are
// dropped lazily on lookup.
type BanStore struct {
	mu       sync.Mutex
	byIP     map[string]banEntry
	byUUID   map[uuid.UUID]banEntry
	now      func() time.Time
}

// NewBanStore returns an empty store.
func NewBanStore() *BanStore {
	return &BanStore{
		byIP:   map[string]banEntry{},
		byUUID: map[uuid.UUID]banEntry{},
		now:    time.Now,
	}
}

// BanIP bans a client address. A zero expires bans permanently.
func (s *BanStore) BanIP(ip, reason string, expires time.Time) {
	s.mu.Lock()
	s.byIP[ip] = banEntry{Reason: reason, Expires: expires}
	s.mu.Unlock()
}

// BanUUID bans a player uuid. A zero expires bans permanently.
func (s *BanStore) BanUUID(id uuid.UUID, reason string, expires time.Time) {
	s.mu.Lock()
	s.byUUID[id] = banEntry{Reason: reason, Expires: expires}
	s.mu.Unlock()
}

// PardonIP lifts an IP ban.
func (s *BanStore) PardonIP(ip string) {
	s.mu.Lock()
	delete(s.byIP, ip)
	s.mu.Unlock()
}

// PardonUUID lifts a uuid ban.
func (s *BanStore) PardonUUID(id uuid.UUID) {
	s.mu.Lock()
	delete(s.byUUID, id)
	s.mu.Unlock()
}

func (s *BanStore) IsIPBanned(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byIP[ip]
	if !ok {
		return false
	}
	if entry.expired(s.now()) {
		delete(s.byIP, ip)
		return false
	}
	return true
}

func (s *BanStore) IsUUIDBanned(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byUUID[id]
	if !ok {
		return false
	}
	if entry.expired(s.now()) {
		delete(s.byUUID, id)
		return false
	}
	return true
}

// UUIDBanReason returns the recorded reason for an active uuid ban.
func (s *BanStore) UUIDBanReason(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byUUID[id]
	if !ok || entry.expired(s.now()) {
		return ""
	}
	return entry.Reason
}
