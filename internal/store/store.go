// Package store provides an in-memory key-value store with TTL support.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/oxfell/keva/internal/logger"
)

// DefaultSweepInterval is the period of the background expiry sweep.
const DefaultSweepInterval = 60 * time.Second

// Entry represents a value with optional expiration.
type Entry struct {
	Value     []byte
	ExpireAt  time.Time
	HasExpire bool
}

// Config controls store behaviour.
type Config struct {
	// SweepInterval is the period of the background expiry sweep.
	// Zero selects DefaultSweepInterval; a negative value disables the
	// sweep entirely, leaving reclamation to lazy eviction on access.
	SweepInterval time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{SweepInterval: DefaultSweepInterval}
}

// Store represents an in-memory key-value store with TTL support.
// It is safe for concurrent use by multiple goroutines. A single RWMutex
// guards the whole keyspace; every mutation is serialised through it.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry

	expired int64 // keys reclaimed lazily on access
	swept   int64 // keys reclaimed by the background sweep

	stopSweep chan struct{}
}

// New creates a new empty Store and starts the background expiry sweep
// at the default interval.
func New() *Store {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new empty Store with the given configuration.
func NewWithConfig(cfg Config) *Store {
	s := &Store{
		data:      make(map[string]*Entry),
		stopSweep: make(chan struct{}),
	}

	interval := cfg.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		go s.sweepLoop(interval)
	}
	return s
}

// sweepLoop periodically removes expired keys.
func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Debug("expiry sweep removed keys", zap.Int("removed", removed))
			}
		case <-s.stopSweep:
			return
		}
	}
}

// Sweep walks the whole keyspace once and removes every expired entry.
// It holds the write lock for the duration of the scan and returns the
// number of entries removed.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for key, entry := range s.data {
		if entry.HasExpire && now.After(entry.ExpireAt) {
			delete(s.data, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		atomic.AddInt64(&s.swept, int64(removed))
	}
	return removed
}

// Close stops the background sweep goroutine.
func (s *Store) Close() {
	close(s.stopSweep)
}

// isExpired checks if an entry is expired (must hold lock).
func (s *Store) isExpired(entry *Entry) bool {
	return entry.HasExpire && time.Now().After(entry.ExpireAt)
}

// Set stores a key-value pair without expiration. Overwriting an entry
// that carried a TTL discards that TTL.
func (s *Store) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &Entry{Value: append([]byte(nil), value...)}
}

// SetWithTTL stores a key-value pair that expires once ttl has elapsed.
// A non-positive ttl produces an entry that is already expired.
func (s *Store) SetWithTTL(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &Entry{
		Value:     append([]byte(nil), value...),
		ExpireAt:  time.Now().Add(ttl),
		HasExpire: true,
	}
}

// Get retrieves a value by key. An expired entry is removed on the spot,
// which is why Get takes the write lock rather than the read lock.
// Returns the value and true if found and not expired, nil and false
// otherwise.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if s.isExpired(entry) {
		delete(s.data, key)
		atomic.AddInt64(&s.expired, 1)
		return nil, false
	}

	// Return a copy to prevent external mutation
	result := make([]byte, len(entry.Value))
	copy(result, entry.Value)
	return result, true
}

// Delete removes a key from the store.
// Returns true only if the key existed and had not expired. An expired
// entry is still removed physically, but does not count as a deletion.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return false
	}
	delete(s.data, key)
	if s.isExpired(entry) {
		atomic.AddInt64(&s.expired, 1)
		return false
	}
	return true
}

// Exists reports whether key holds a live entry. It never evicts, so an
// expired entry merely reads as absent until Get, Delete or the sweep
// reclaims it.
func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data[key]
	return ok && !s.isExpired(entry)
}

// Size returns the number of non-expired keys in the store.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.data {
		if !s.isExpired(entry) {
			count++
		}
	}
	return count
}

// Stats reports point-in-time keyspace counters.
type Stats struct {
	Keys    int   `json:"keys"`
	Expired int64 `json:"expired"`
	Swept   int64 `json:"swept"`
}

// Stats returns a snapshot of the keyspace counters.
func (s *Store) Stats() Stats {
	return Stats{
		Keys:    s.Size(),
		Expired: atomic.LoadInt64(&s.expired),
		Swept:   atomic.LoadInt64(&s.swept),
	}
}

// RegisterMetrics exposes keyspace collectors through registry. The
// collectors sample the store on scrape, so no update loop is needed.
func (s *Store) RegisterMetrics(registry *prometheus.Registry) {
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "keva",
			Name:      "keys",
			Help:      "Number of live keys in the keyspace.",
		}, func() float64 {
			return float64(s.Size())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "keva",
			Name:      "keys_expired_total",
			Help:      "Keys reclaimed lazily on access after their TTL elapsed.",
		}, func() float64 {
			return float64(atomic.LoadInt64(&s.expired))
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "keva",
			Name:      "keys_swept_total",
			Help:      "Keys reclaimed by the background expiry sweep.",
		}, func() float64 {
			return float64(atomic.LoadInt64(&s.swept))
		}),
	)
}
