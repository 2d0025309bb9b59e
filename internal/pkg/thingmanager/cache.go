package thingmanager

import (
	"strings"
	"sync"
	"time"

	"app-fritzbutton-go/internal/pkg/button"
)

// CachedState is the last known value of one channel
type CachedState struct {
	State button.State
	// Event is the last trigger label, empty for state channels
	Event string
	// Triggers counts trigger events since the entry was created
	Triggers  uint32
	Timestamp time.Time
	TTL       time.Duration
}

// IsExpired reports whether the entry outlived its TTL at now
func (c *CachedState) IsExpired(now time.Time) bool {
	return now.Sub(c.Timestamp) > c.TTL
}

// Cache is a thread safe channel state cache keyed by channel UID
type Cache struct {
	data       map[string]*CachedState
	mu         sync.RWMutex
	defaultTTL time.Duration
	now        func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCache(defaultTTL time.Duration) *Cache {
	return &Cache{
		data:       make(map[string]*CachedState),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// SetState stores the state of a channel, keeping its trigger count
func (c *Cache) SetState(channelUID string, state button.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := c.live(channelUID, now)
	entry.State = state
	entry.Timestamp = now
}

// RecordTrigger stores a trigger event and returns the new trigger count
func (c *Cache) RecordTrigger(channelUID string, event string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := c.live(channelUID, now)
	entry.Event = event
	entry.Triggers++
	entry.Timestamp = now
	return entry.Triggers
}

// live returns the unexpired entry of channelUID, creating a fresh one if needed.
// Callers hold c.mu.
func (c *Cache) live(channelUID string, now time.Time) *CachedState {
	entry, ok := c.data[channelUID]
	if !ok || entry.IsExpired(now) {
		entry = &CachedState{TTL: c.defaultTTL}
		c.data[channelUID] = entry
	}
	return entry
}

// Get returns a copy of the unexpired entry of channelUID
func (c *Cache) Get(channelUID string) (CachedState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[channelUID]
	if !ok || entry.IsExpired(c.now()) {
		return CachedState{}, false
	}
	return *entry, true
}

func (c *Cache) Delete(channelUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, channelUID)
}

// DeletePrefix removes every entry whose key starts with prefix and returns how many
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for uid := range c.data {
		if strings.HasPrefix(uid, prefix) {
			delete(c.data, uid)
			count++
		}
	}
	return count
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*CachedState)
}

// Cleanup removes expired entries
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for uid, entry := range c.data {
		if entry.IsExpired(now) {
			delete(c.data, uid)
			count++
		}
	}
	return count
}

// StartPeriodicCleanup runs Cleanup every interval until Stop
func (c *Cache) StartPeriodicCleanup(interval time.Duration, callback func(int)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				count := c.Cleanup()
				if callback != nil && count > 0 {
					callback(count)
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
