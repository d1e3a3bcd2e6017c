package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"parley/cmd/internal/store"
)

const defaultCacheTTL = 5 * time.Minute

// convEntry is the cached membership of one conversation, enough to fan-out
// without a store round-trip.
type convEntry struct {
	Type      store.ConvType
	MemberIDs []int64
}

type convItem struct {
	convEntry
	lastAccess time.Time
}

type memberItem struct {
	members    []store.MemberUser
	lastAccess time.Time
}

// cache holds the two conversation-keyed caches: membership ids for fan-out
// and full member records for member-list queries.
//
// Coherence is by explicit invalidation on every membership-changing write;
// the TTL sweeper is purely a memory bound.
type cache struct {
	log *slog.Logger
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	convs   map[int64]*convItem
	members map[int64]*memberItem
}

func newCache(log *slog.Logger, ttl time.Duration) *cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &cache{
		log:     log,
		ttl:     ttl,
		now:     time.Now,
		convs:   make(map[int64]*convItem),
		members: make(map[int64]*memberItem),
	}
}

func (c *cache) conv(convID int64) (convEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.convs[convID]
	if !ok {
		return convEntry{}, false
	}
	it.lastAccess = c.now()
	return it.convEntry, true
}

func (c *cache) putConv(convID int64, typ store.ConvType, memberIDs []int64) {
	c.mu.Lock()
	c.convs[convID] = &convItem{
		convEntry:  convEntry{Type: typ, MemberIDs: memberIDs},
		lastAccess: c.now(),
	}
	c.mu.Unlock()
}

func (c *cache) memberList(convID int64) ([]store.MemberUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.members[convID]
	if !ok {
		return nil, false
	}
	it.lastAccess = c.now()
	return it.members, true
}

func (c *cache) putMemberList(convID int64, members []store.MemberUser) {
	c.mu.Lock()
	c.members[convID] = &memberItem{members: members, lastAccess: c.now()}
	c.mu.Unlock()
}

// invalidate drops both caches for a conversation. Called on every
// membership-changing operation.
func (c *cache) invalidate(convID int64) {
	c.mu.Lock()
	delete(c.convs, convID)
	delete(c.members, convID)
	c.mu.Unlock()
}

// sweep evicts entries idle longer than the TTL and reports how many fell.
func (c *cache) sweep(now time.Time) int {
	cut := now.Add(-c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, it := range c.convs {
		if it.lastAccess.Before(cut) {
			delete(c.convs, id)
			n++
		}
	}
	for id, it := range c.members {
		if it.lastAccess.Before(cut) {
			delete(c.members, id)
			n++
		}
	}
	return n
}

// run drives the background sweeper until the context ends.
func (c *cache) run(ctx context.Context) {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := c.sweep(now); n > 0 {
				c.log.Debug("cache.sweep", "evicted", n)
			}
		}
	}
}
