package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"qachat-backend/internal/model"
)

const DefaultCapacity = 50

// HistoryCache is a bounded LRU over materialized session histories, keyed by
// session id. It is a pure read accelerator: the chat store stays the source
// of truth, and every write to a session's history must invalidate its entry
// in the same call path. Entries are plain message records, never live
// database handles, so they are safe to share across requests.
type HistoryCache struct {
	entries *lru.Cache[string, []model.Message]
}

func NewHistoryCache(capacity int) (*HistoryCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, []model.Message](capacity)
	if err != nil {
		return nil, fmt.Errorf("create history cache failed: %w", err)
	}
	return &HistoryCache{entries: entries}, nil
}

// Get refreshes the entry's recency on hit.
func (c *HistoryCache) Get(sessionID string) ([]model.Message, bool) {
	return c.entries.Get(sessionID)
}

// Put stores a copy of the history so later appends on the caller's slice
// cannot leak into cached state. Inserting beyond capacity evicts the least
// recently used session.
func (c *HistoryCache) Put(sessionID string, messages []model.Message) {
	entry := make([]model.Message, len(messages))
	copy(entry, messages)
	c.entries.Add(sessionID, entry)
}

func (c *HistoryCache) Invalidate(sessionID string) {
	c.entries.Remove(sessionID)
}

func (c *HistoryCache) Clear() {
	c.entries.Purge()
}

func (c *HistoryCache) Len() int {
	return c.entries.Len()
}
