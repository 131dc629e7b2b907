package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailkan/pkg/types"
)

// maxEntries bounds the number of (folder, column) lists kept in memory
const maxEntries = 64

// Key identifies a cached message list
type Key struct {
	Folder string
	Column string
}

// String returns the flat form used for invalidation and diagnostics
func (k Key) String() string {
	return k.Folder + "_" + k.Column
}

type entry struct {
	messages   []types.Message
	capturedAt time.Time
}

// Cache is a per-folder TTL cache of parsed message lists. Entries older than
// the TTL are misses for normal reads but remain available as a stale
// fallback until they are twice as old.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[Key, entry]
	ttl     time.Duration
	now     func() time.Time
	logger  *logrus.Logger
}

// New creates a new cache with the given TTL
func New(ttl time.Duration, logger *logrus.Logger) (*Cache, error) {
	entries, err := lru.New[Key, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// SetClock replaces the time source
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// TTL returns the configured time-to-live
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached list for key if it is younger than the TTL.
// forceRefresh always reports a miss.
func (c *Cache) Get(key Key, forceRefresh bool) ([]types.Message, bool) {
	if forceRefresh {
		return nil, false
	}
	return c.lookup(key, c.ttl)
}

// Stale returns the cached list for key if it is younger than twice the TTL
func (c *Cache) Stale(key Key) ([]types.Message, bool) {
	return c.lookup(key, 2*c.ttl)
}

func (c *Cache) lookup(key Key, maxAge time.Duration) ([]types.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.capturedAt) >= maxAge {
		return nil, false
	}
	return cloneMessages(e.messages), true
}

// Put stores messages under key, replacing any previous entry
func (c *Cache) Put(key Key, messages []types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, entry{messages: cloneMessages(messages), capturedAt: c.now()})
	c.logger.WithFields(logrus.Fields{
		"key":   key.String(),
		"count": len(messages),
	}).Debug("Cache updated")
}

// Invalidate removes every entry whose key contains one of folders and
// returns the number of removed entries.
func (c *Cache) Invalidate(folders ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		for _, folder := range folders {
			if folder == "" {
				continue
			}
			if strings.Contains(key.String(), folder) {
				c.entries.Remove(key)
				removed++
				break
			}
		}
	}

	c.logger.WithFields(logrus.Fields{
		"folders": folders,
		"count":   removed,
	}).Debug("Cache invalidated")
	return removed
}

// Clear drops all entries and returns how many there were
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.entries.Len()
	c.entries.Purge()
	return n
}

// Status returns a diagnostic snapshot ordered by key
func (c *Cache) Status() types.CacheStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := types.CacheStatus{
		TTLMillis: c.ttl.Milliseconds(),
		Entries:   []types.CacheEntryStatus{},
	}
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		age := now.Sub(e.capturedAt)
		status.Entries = append(status.Entries, types.CacheEntryStatus{
			Key:        key.String(),
			Folder:     key.Folder,
			Column:     key.Column,
			EmailCount: len(e.messages),
			AgeMillis:  age.Milliseconds(),
			Expired:    age >= c.ttl,
		})
	}
	sort.Slice(status.Entries, func(i, j int) bool {
		return status.Entries[i].Key < status.Entries[j].Key
	})
	status.TotalEntries = len(status.Entries)
	return status
}

func cloneMessages(messages []types.Message) []types.Message {
	if messages == nil {
		return []types.Message{}
	}
	out := make([]types.Message, len(messages))
	copy(out, messages)
	return out
}
