package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration coverage for the Postgres+KV pairing. Runs only against real
// backing services:
//
//	PARLEY_TEST_DATABASE_URL=postgres://... PARLEY_TEST_REDIS_ADDR=localhost:6379 go test ./...
//
// Each run works in a throwaway schema (and matching redis key prefix) that is
// dropped afterwards.
func newIntegrationGateway(t *testing.T) (*Postgres, *KV) {
	t.Helper()

	dsn := os.Getenv("PARLEY_TEST_DATABASE_URL")
	addr := os.Getenv("PARLEY_TEST_REDIS_ADDR")
	if dsn == "" || addr == "" {
		t.Skip("set PARLEY_TEST_DATABASE_URL and PARLEY_TEST_REDIS_ADDR to run integration tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	schema := fmt.Sprintf("parley_it_%d", time.Now().UnixNano())
	ddl := []string{
		`CREATE SCHEMA ` + schema,
		`CREATE TABLE ` + schema + `.conversations (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			owner_user_id BIGINT NOT NULL)`,
		`CREATE TABLE ` + schema + `.conversation_members (
			conversation_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			muted_until_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (conversation_id, user_id))`,
		`CREATE TABLE ` + schema + `.single_index (
			user_lo BIGINT NOT NULL,
			user_hi BIGINT NOT NULL,
			conversation_id BIGINT NOT NULL,
			PRIMARY KEY (user_lo, user_hi))`,
		`CREATE TABLE ` + schema + `.conversation_cursors (
			conversation_id BIGINT PRIMARY KEY,
			next_seq BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		`CREATE TABLE ` + schema + `.messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL,
			sender_id BIGINT NOT NULL,
			seq BIGINT NOT NULL,
			msg_type TEXT NOT NULL,
			content TEXT NOT NULL,
			server_time_ms BIGINT NOT NULL,
			UNIQUE (conversation_id, seq))`,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("ddl %q: %v", stmt, err)
		}
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
	})

	kv, err := NewKV(ctx, KVConfig{Addr: addr, Prefix: schema})
	if err != nil {
		t.Fatalf("NewKV: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	p, err := NewPostgres(pool, WithSchema(schema), WithKV(kv))
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	return p, kv
}

func TestDissolveClearsSeqCounterAndHotWindow(t *testing.T) {
	p, kv := newIntegrationGateway(t)
	ctx := context.Background()

	conv, err := p.CreateGroup(ctx, 1, "crew", []int64{2})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := p.AppendMessage(ctx, conv.ID, 1, MsgText, "m", 0); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if msgs, ok := kv.HotTail(ctx, conv.ID, 10); !ok || len(msgs) != 3 {
		t.Fatalf("hot window before dissolve: ok=%v len=%d", ok, len(msgs))
	}

	if err := p.DissolveConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DissolveConversation: %v", err)
	}

	// Counter and hot window must not outlive the conversation: the window
	// can no longer answer, and a fresh allocation restarts at 1.
	if _, ok := kv.HotTail(ctx, conv.ID, 10); ok {
		t.Fatal("hot window survived dissolution")
	}
	if seq, err := kv.NextSeq(ctx, conv.ID); err != nil || seq != 1 {
		t.Fatalf("seq after dissolve=%d err=%v, want a fresh counter", seq, err)
	}
}
