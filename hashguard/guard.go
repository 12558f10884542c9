package hashguard

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

var duplicatesMetric = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "proofmesh",
	Subsystem: "hashguard",
	Name:      "duplicates_total",
	Help:      "Number of payloads rejected as duplicates",
})

type Config struct {
	Size int `long:"hashguard-size" description:"Number of payload hashes remembered (0 for unbounded)"`
}

func DefaultConfig() Config {
	return Config{Size: 0}
}

type store interface {
	// add inserts hash and reports whether it was already present.
	add(hash string) bool
	remove(hash string)
	len() int
}

// Guard remembers the content hashes of dispatched payloads.
// Check-and-insert is atomic with respect to concurrent callers.
type Guard struct {
	store store
}

func New(cfg Config) (*Guard, error) {
	if cfg.Size <= 0 {
		return &Guard{store: &setStore{set: make(map[string]struct{})}}, nil
	}
	cache, err := lru.New(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("creating hash cache: %w", err)
	}
	return &Guard{store: &lruStore{cache: cache}}, nil
}

// Check hashes the payload and records it. A payload seen before yields types.ErrDuplicateJob.
func (g *Guard) Check(payload []byte) (string, error) {
	hash, err := shared.ContentHash(payload)
	if err != nil {
		return "", fmt.Errorf("hashing payload: %w", err)
	}
	if g.store.add(hash) {
		duplicatesMetric.Inc()
		return hash, types.ErrDuplicateJob
	}
	return hash, nil
}

// Forget evicts a hash so that its payload is accepted again.
func (g *Guard) Forget(hash string) {
	g.store.remove(hash)
}

func (g *Guard) Len() int {
	return g.store.len()
}

type setStore struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func (s *setStore) add(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[hash]; ok {
		return true
	}
	s.set[hash] = struct{}{}
	return false
}

func (s *setStore) remove(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, hash)
}

func (s *setStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

// lruStore keeps only the most recently seen hashes.
type lruStore struct {
	cache *lru.Cache
}

func (s *lruStore) add(hash string) bool {
	found, _ := s.cache.ContainsOrAdd(hash, struct{}{})
	return found
}

func (s *lruStore) remove(hash string) {
	s.cache.Remove(hash)
}

func (s *lruStore) len() int {
	return s.cache.Len()
}
