package chat

import (
	"testing"
	"time"

	"parley/cmd/internal/store"
)

func TestCacheConvHitMissInvalidate(t *testing.T) {
	t.Parallel()

	c := newCache(discardLogger(), time.Minute)

	if _, hit := c.conv(1); hit {
		t.Fatal("hit on empty cache")
	}

	c.putConv(1, store.ConvGroup, []int64{1, 2, 3})
	e, hit := c.conv(1)
	if !hit || e.Type != store.ConvGroup || len(e.MemberIDs) != 3 {
		t.Fatalf("entry=%+v hit=%v", e, hit)
	}

	c.invalidate(1)
	if _, hit := c.conv(1); hit {
		t.Fatal("hit after invalidate")
	}
}

func TestCacheMemberListInvalidatedTogether(t *testing.T) {
	t.Parallel()

	c := newCache(discardLogger(), time.Minute)
	c.putConv(5, store.ConvGroup, []int64{1})
	c.putMemberList(5, []store.MemberUser{{Member: store.Member{ConversationID: 5, UserID: 1}}})

	if _, hit := c.memberList(5); !hit {
		t.Fatal("member list miss after put")
	}

	// One membership change drops both views.
	c.invalidate(5)
	if _, hit := c.conv(5); hit {
		t.Fatal("conv survived invalidate")
	}
	if _, hit := c.memberList(5); hit {
		t.Fatal("member list survived invalidate")
	}
}

func TestCacheSweepEvictsIdleEntries(t *testing.T) {
	t.Parallel()

	c := newCache(discardLogger(), time.Minute)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }

	c.putConv(1, store.ConvGroup, []int64{1})
	c.putConv(2, store.ConvSingle, []int64{1, 2})

	// Touching entry 1 halfway through keeps it past the first sweep.
	now = base.Add(40 * time.Second)
	c.conv(1)

	if n := c.sweep(base.Add(90 * time.Second)); n != 1 {
		t.Fatalf("sweep evicted %d want 1", n)
	}
	if _, hit := c.conv(1); !hit {
		t.Fatal("recently accessed entry evicted")
	}
	if _, hit := c.conv(2); hit {
		t.Fatal("idle entry survived sweep")
	}
}
