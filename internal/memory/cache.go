package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ManagerFactory builds the Manager for a conversation on first use.
type ManagerFactory func(conversationID string, userRef uuid.UUID) *Manager

// ManagerCache is a bounded cache of per-conversation managers with
// idle-time eviction, so a long-running process does not accumulate one
// manager per conversation ever seen. It also serializes access per
// conversation: Acquire hands out a manager under that conversation's lock,
// making one pipeline run (plus its memory writes) the single writer for
// the id until the release func is called.
type ManagerCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry

	factory    ManagerFactory
	maxEntries int
	idleTTL    time.Duration
	logger     *logrus.Logger

	now func() time.Time
}

type cacheEntry struct {
	manager  *Manager
	runMu    sync.Mutex
	inUse    int
	lastUsed time.Time
}

// NewManagerCache creates the cache. maxEntries bounds how many idle
// managers are retained; idleTTL is how long an unused manager survives
// before eviction. Evicting a manager only drops the in-process handle —
// the Redis and Postgres state it fronts is untouched, and the next Acquire
// rebuilds it.
func NewManagerCache(factory ManagerFactory, maxEntries int, idleTTL time.Duration, logger *logrus.Logger) *ManagerCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ManagerCache{
		entries:    make(map[string]*cacheEntry),
		factory:    factory,
		maxEntries: maxEntries,
		idleTTL:    idleTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Acquire returns the manager for the conversation, creating it if needed,
// locked for exclusive use. The caller must call the release func when the
// run finishes. Acquire blocks while another run holds the same
// conversation's lock.
func (c *ManagerCache) Acquire(conversationID string, userRef uuid.UUID) (*Manager, func()) {
	c.mu.Lock()
	c.evictStaleLocked()

	entry, ok := c.entries[conversationID]
	if !ok {
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
		entry = &cacheEntry{manager: c.factory(conversationID, userRef)}
		c.entries[conversationID] = entry
	}
	entry.inUse++
	entry.lastUsed = c.now()
	c.mu.Unlock()

	entry.runMu.Lock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			entry.runMu.Unlock()
			c.mu.Lock()
			entry.inUse--
			entry.lastUsed = c.now()
			c.mu.Unlock()
		})
	}
	return entry.manager, release
}

// Len returns the number of cached managers
func (c *ManagerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictStaleLocked drops managers idle past the TTL. Callers hold c.mu.
func (c *ManagerCache) evictStaleLocked() {
	cutoff := c.now().Add(-c.idleTTL)
	for id, entry := range c.entries {
		if entry.inUse == 0 && entry.lastUsed.Before(cutoff) {
			delete(c.entries, id)
			c.logger.WithField("conversation_id", id).Debug("evicted idle conversation manager")
		}
	}
}

// evictOldestLocked drops the least recently used idle manager to make room.
// If every entry is in flight the cache grows past its bound rather than
// blocking a live conversation. Callers hold c.mu.
func (c *ManagerCache) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
		found    bool
	)
	for id, entry := range c.entries {
		if entry.inUse > 0 {
			continue
		}
		if !found || entry.lastUsed.Before(oldestAt) {
			oldestID = id
			oldestAt = entry.lastUsed
			found = true
		}
	}
	if found {
		delete(c.entries, oldestID)
		c.logger.WithField("conversation_id", oldestID).Debug("evicted conversation manager to stay within bound")
	}
}
