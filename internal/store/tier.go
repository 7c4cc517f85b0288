package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/classdesk/classdesk-portal/pkg/logger"
	"github.com/classdesk/classdesk-portal/pkg/metrics"
)

// Tier is one physical key/value storage tier. Implementations must be safe
// for concurrent use. Writes never fail from the caller's point of view: a
// tier that cannot persist degrades to memory-only for the process lifetime.
type Tier interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemoryTier is the per-tab storage tier: entries live for the lifetime of a
// client's tab session and expire after the configured idle TTL.
type MemoryTier struct {
	cache *gocache.Cache
}

// NewMemoryTier creates a per-tab tier with the given entry TTL.
func NewMemoryTier(ttl time.Duration) *MemoryTier {
	return &MemoryTier{
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

func (t *MemoryTier) Get(key string) (string, bool) {
	v, found := t.cache.Get(key)
	if !found {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		t.cache.Delete(key)
		return "", false
	}
	return s, true
}

func (t *MemoryTier) Set(key, value string) {
	t.cache.SetDefault(key, value)
}

func (t *MemoryTier) Delete(key string) {
	t.cache.Delete(key)
}

// FileTier is the durable storage tier, backed by a single JSON file under
// the gateway state directory. A failed save is non-fatal: the tier keeps
// serving from its in-memory map and retries on the next mutation, so
// callers silently fall back to memory-only behavior.
type FileTier struct {
	mu       sync.RWMutex
	path     string
	entries  map[string]string
	degraded bool
}

// NewFileTier opens (or creates) the durable tier at dir/name.
func NewFileTier(dir, name string) *FileTier {
	t := &FileTier{
		path:    filepath.Join(dir, name),
		entries: make(map[string]string),
	}
	t.load()
	return t
}

func (t *FileTier) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read durable tier file, starting empty",
				zap.String("path", t.path),
				zap.Error(err))
		}
		return
	}
	if err := json.Unmarshal(data, &t.entries); err != nil {
		logger.Warn("Durable tier file is corrupt, starting empty",
			zap.String("path", t.path),
			zap.Error(err))
		t.entries = make(map[string]string)
	}
}

// save must be called with t.mu held.
func (t *FileTier) save() {
	data, err := json.Marshal(t.entries)
	if err != nil {
		t.markDegraded(err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		t.markDegraded(err)
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		t.markDegraded(err)
		return
	}
	if err := os.Rename(tmp, t.path); err != nil {
		t.markDegraded(err)
		return
	}
	t.degraded = false
}

func (t *FileTier) markDegraded(err error) {
	metrics.StorageWriteFailures.WithLabelValues("durable").Inc()
	if !t.degraded {
		logger.Warn("Durable tier write failed, degrading to memory-only",
			zap.String("path", t.path),
			zap.Error(err))
	}
	t.degraded = true
}

func (t *FileTier) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[key]
	return v, ok
}

func (t *FileTier) Set(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = value
	t.save()
}

func (t *FileTier) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	t.save()
}

// Scoped returns a view of tier with every key prefixed by scope. Used to
// namespace per-client state inside the shared physical tiers.
func Scoped(tier Tier, scope string) Tier {
	return &scopedTier{tier: tier, prefix: scope + "/"}
}

type scopedTier struct {
	tier   Tier
	prefix string
}

func (s *scopedTier) Get(key string) (string, bool) { return s.tier.Get(s.prefix + key) }
func (s *scopedTier) Set(key, value string)         { s.tier.Set(s.prefix+key, value) }
func (s *scopedTier) Delete(key string)             { s.tier.Delete(s.prefix + key) }
