package keymgmt

import (
	"crypto"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/jonboulle/clockwork"
)

// JWKStore publishes the public halves of every signing key that may still
// have live tokens.
type JWKStore interface {
	Add(kid string, pub crypto.PublicKey, alg string, expiry time.Time) error
	Remove(kid string)
	// SigningPublicKeys never returns a nil set; expired keys are omitted.
	SigningPublicKeys() jose.JSONWebKeySet
	// SigningPublicKey returns a one-entry set, or an empty set when kid is
	// unknown or expired.
	SigningPublicKey(kid string) jose.JSONWebKeySet
	Cleanup() int
}

type jwkEntry struct {
	jwk    jose.JSONWebKey
	expiry time.Time
}

// LocalJWKStore keeps keys in memory. Entries are independent, so it uses a
// sync.Map rather than a store-wide lock.
type LocalJWKStore struct {
	keys   sync.Map
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	timer   clockwork.Timer
	stopped bool
}

var _ JWKStore = (*LocalJWKStore)(nil)

// NewLocalJWKStore returns an empty store. Expiry checks and the cleanup
// timer follow clk.
func NewLocalJWKStore(clk clockwork.Clock, logger *slog.Logger) *LocalJWKStore {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalJWKStore{clock: clk, logger: logger}
}

func (s *LocalJWKStore) Add(kid string, pub crypto.PublicKey, alg string, expiry time.Time) error {
	if kid == "" || pub == nil {
		return errors.New("jwk needs a key id and a public key")
	}
	jwk := jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: alg, Use: "sig"}
	if !jwk.Valid() {
		return errors.New("unsupported public key type")
	}
	s.keys.Store(kid, jwkEntry{jwk: jwk, expiry: expiry})
	return nil
}

func (s *LocalJWKStore) Remove(kid string) {
	s.keys.Delete(kid)
}

func (s *LocalJWKStore) SigningPublicKeys() jose.JSONWebKeySet {
	now := s.clock.Now()
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	var entries []jwkEntry
	s.keys.Range(func(_, v any) bool {
		e := v.(jwkEntry)
		if e.expiry.After(now) {
			entries = append(entries, e)
		}
		return true
	})
	// Newest first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].expiry.After(entries[j].expiry) })
	for _, e := range entries {
		set.Keys = append(set.Keys, e.jwk)
	}
	return set
}

func (s *LocalJWKStore) SigningPublicKey(kid string) jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	if kid == "" {
		return set
	}
	v, ok := s.keys.Load(kid)
	if !ok {
		return set
	}
	e := v.(jwkEntry)
	if e.expiry.After(s.clock.Now()) {
		set.Keys = append(set.Keys, e.jwk)
	}
	return set
}

// Cleanup removes expired keys and reports how many were removed.
func (s *LocalJWKStore) Cleanup() int {
	now := s.clock.Now()
	removed := 0
	s.keys.Range(func(k, v any) bool {
		if !v.(jwkEntry).expiry.After(now) {
			s.keys.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

// StartCleanup runs Cleanup every interval until Stop. Each run arms the
// next one only after it finishes.
func (s *LocalJWKStore) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.timer != nil {
		return
	}
	var run func()
	run = func() {
		if n := s.Cleanup(); n > 0 {
			s.logger.Info("removed expired signing keys", "count", n)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stopped {
			s.timer = s.clock.AfterFunc(interval, run)
		}
	}
	s.timer = s.clock.AfterFunc(interval, run)
}

// Stop cancels the cleanup timer.
func (s *LocalJWKStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
