package store

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSweep builds a store without the background sweep so tests control
// reclamation explicitly.
func noSweep() *Store {
	return NewWithConfig(Config{SweepInterval: -1})
}

func TestStore_SetAndGet(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("key1", []byte("value1"))
	val, ok := s.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("value1"), val)

	val, ok = s.Get("nonexistent")
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestStore_SetOverwrites(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("key1", []byte("old"))
	s.Set("key1", []byte("new"))

	val, ok := s.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), val)
	assert.Equal(t, 1, s.Size())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("key1", []byte("value1"))
	val, _ := s.Get("key1")
	val[0] = 'X'

	val, _ = s.Get("key1")
	assert.Equal(t, []byte("value1"), val)
}

func TestStore_Delete(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("key1", []byte("value1"))
	assert.True(t, s.Delete("key1"))

	val, ok := s.Get("key1")
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestStore_DeleteMissing(t *testing.T) {
	s := noSweep()
	defer s.Close()

	assert.False(t, s.Delete("nonexistent"))
}

func TestStore_DeleteExpired(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.SetWithTTL("key1", []byte("value1"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	// The entry is removed physically but does not count as a deletion.
	assert.False(t, s.Delete("key1"))
	assert.Equal(t, int64(1), s.Stats().Expired)

	assert.False(t, s.Delete("key1"))
	assert.Equal(t, int64(1), s.Stats().Expired)
}

func TestStore_TTL(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.SetWithTTL("key1", []byte("value1"), 100*time.Millisecond)

	val, ok := s.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("value1"), val)

	time.Sleep(150 * time.Millisecond)

	_, ok = s.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.Stats().Expired)
}

func TestStore_SetClearsTTL(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.SetWithTTL("key1", []byte("short-lived"), 50*time.Millisecond)
	s.Set("key1", []byte("permanent"))

	time.Sleep(80 * time.Millisecond)

	val, ok := s.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("permanent"), val)
}

func TestStore_SetWithTTLReplacesTTL(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.SetWithTTL("key1", []byte("v1"), time.Hour)
	s.SetWithTTL("key1", []byte("v2"), 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	_, ok := s.Get("key1")
	assert.False(t, ok)
}

func TestStore_NonPositiveTTL(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.SetWithTTL("key1", []byte("value1"), 0)
	time.Sleep(time.Millisecond)

	_, ok := s.Get("key1")
	assert.False(t, ok)
}

func TestStore_Exists(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("live", []byte("v"))
	s.SetWithTTL("dying", []byte("v"), 10*time.Millisecond)

	assert.True(t, s.Exists("live"))
	assert.True(t, s.Exists("dying"))
	assert.False(t, s.Exists("nonexistent"))

	time.Sleep(30 * time.Millisecond)

	// Exists observes expiry but never evicts.
	assert.False(t, s.Exists("dying"))
	assert.Equal(t, int64(0), s.Stats().Expired)

	_, ok := s.Get("dying")
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.Stats().Expired)
}

func TestStore_Size(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("a", []byte("1"))
	s.Set("b", []byte("2"))
	s.SetWithTTL("c", []byte("3"), 10*time.Millisecond)
	assert.Equal(t, 3, s.Size())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, s.Size())
}

func TestStore_Sweep(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("live1", []byte("v"))
	s.Set("live2", []byte("v"))
	s.SetWithTTL("dead1", []byte("v"), 10*time.Millisecond)
	s.SetWithTTL("dead2", []byte("v"), 10*time.Millisecond)
	s.SetWithTTL("later", []byte("v"), time.Hour)

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, int64(2), s.Stats().Swept)
	assert.True(t, s.Exists("live1"))
	assert.True(t, s.Exists("live2"))
	assert.True(t, s.Exists("later"))

	// Nothing left to reclaim.
	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, int64(2), s.Stats().Swept)
}

func TestStore_SweepLoop(t *testing.T) {
	s := NewWithConfig(Config{SweepInterval: 50 * time.Millisecond})
	defer s.Close()

	s.SetWithTTL("gone", []byte("v"), 20*time.Millisecond)
	s.Set("stays", []byte("v"))

	time.Sleep(200 * time.Millisecond)

	assert.False(t, s.Exists("gone"))
	assert.True(t, s.Exists("stays"))
	assert.Equal(t, int64(1), s.Stats().Swept)
}

func TestStore_Stats(t *testing.T) {
	s := noSweep()
	defer s.Close()

	s.Set("a", []byte("1"))
	s.SetWithTTL("b", []byte("2"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, int64(0), stats.Expired)
	assert.Equal(t, int64(0), stats.Swept)

	_, _ = s.Get("b")
	stats = s.Stats()
	assert.Equal(t, int64(1), stats.Expired)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := noSweep()
	defer s.Close()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			s.Set(string(rune('a'+i%26)), []byte("value"))
		}(i)
		go func(i int) {
			defer wg.Done()
			s.Get(string(rune('a'+i%26)))
		}(i)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				s.Delete(string(rune('a'+i%26)))
			} else {
				s.Exists(string(rune('a'+i%26)))
			}
		}(i)
	}
	go s.Sweep()

	wg.Wait()
}

func TestStore_RegisterMetrics(t *testing.T) {
	s := noSweep()
	defer s.Close()

	registry := prometheus.NewRegistry()
	s.RegisterMetrics(registry)

	s.Set("a", []byte("1"))
	s.SetWithTTL("b", []byte("2"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	s.Sweep()

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, float64(1), values["keva_keys"])
	assert.Equal(t, float64(1), values["keva_keys_swept_total"])
	assert.Equal(t, float64(0), values["keva_keys_expired_total"])
}
