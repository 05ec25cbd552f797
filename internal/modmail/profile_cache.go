package modmail

import (
	"context"
	"fmt"
	"sync"
)

// profileCache keeps a resolved recipient profile for the lifetime of one
// thread instance.
type profileCache struct {
	mu       sync.RWMutex
	profiles map[int64]RecipientProfile
}

func newProfileCache() *profileCache {
	return &profileCache{profiles: make(map[int64]RecipientProfile)}
}

func (c *profileCache) get(threadID int64) (RecipientProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[threadID]
	return p, ok
}

func (c *profileCache) put(threadID int64, p RecipientProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[threadID] = p
}

func (c *profileCache) evict(threadID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, threadID)
}

// recipientProfile resolves the thread's recipient, consulting the cache first.
func (e *Engine) recipientProfile(ctx context.Context, t Thread) (RecipientProfile, error) {
	if p, ok := e.profileCache.get(t.ID); ok {
		return p, nil
	}
	p, err := e.profiles.ResolveRecipient(ctx, t.RecipientID)
	if err != nil {
		return RecipientProfile{}, fmt.Errorf("resolve recipient %s: %w: %v", t.RecipientID, ErrUnresolvedRecipient, err)
	}
	if p.ID == "" {
		p.ID = t.RecipientID
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	if t.Persisted() {
		e.profileCache.put(t.ID, p)
	}
	return p, nil
}
