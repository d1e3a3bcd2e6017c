package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Per-conversation hot window length. Tail history reads that fit inside
	// the window never touch the relational store.
	defaultHotWindow = 100

	kvOpTimeout = 2 * time.Second
)

// KV is the optional auxiliary key-value store: a global message-ID counter,
// per-conversation seq counters, and a capped hot message window per
// conversation.
type KV struct {
	rdb       *redis.Client
	prefix    string
	hotWindow int
}

// KVConfig is the redis connection surface.
type KVConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	PoolSize int
}

// NewKV connects to redis and validates the connection.
func NewKV(ctx context.Context, cfg KVConfig) (*KV, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "parley"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, kvOpTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("kv ping: %w", err)
	}

	return &KV{rdb: rdb, prefix: prefix, hotWindow: defaultHotWindow}, nil
}

// Close releases the redis client.
func (k *KV) Close() error {
	if k == nil || k.rdb == nil {
		return nil
	}
	return k.rdb.Close()
}

func (k *KV) key(parts ...any) string {
	s := k.prefix
	for _, p := range parts {
		s += fmt.Sprintf(":%v", p)
	}
	return s
}

// NextMessageID allocates a globally unique message id.
func (k *KV) NextMessageID(ctx context.Context) (int64, error) {
	return k.rdb.Incr(ctx, k.key("msgid")).Result()
}

// NextSeq advances and returns the conversation's sequence counter.
func (k *KV) NextSeq(ctx context.Context, convID int64) (int64, error) {
	return k.rdb.Incr(ctx, k.key("seq", convID)).Result()
}

// DropSeq removes the conversation's counter (dissolution).
func (k *KV) DropSeq(ctx context.Context, convID int64) error {
	return k.rdb.Del(ctx, k.key("seq", convID), k.key("hot", convID)).Err()
}

// PushHot appends a message to the conversation's hot window, trimming to the
// configured length. Best-effort: callers ignore the error.
func (k *KV) PushHot(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := k.key("hot", msg.ConversationID)
	pipe := k.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, int64(-k.hotWindow), -1)
	_, err = pipe.Exec(ctx)
	return err
}

// HotTail returns the newest messages of a conversation from the hot window
// in ascending seq order. ok is false when the window cannot answer the query
// completely, in which case the caller falls back to the relational store.
func (k *KV) HotTail(ctx context.Context, convID int64, limit int) ([]Message, bool) {
	raw, err := k.rdb.LRange(ctx, k.key("hot", convID), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, false
		}
		msgs = append(msgs, m)
	}

	if len(msgs) >= limit {
		return msgs[len(msgs)-limit:], true
	}
	// Shorter than limit is only complete when the window reaches seq 1.
	if msgs[0].Seq == 1 {
		return msgs, true
	}
	return nil, false
}
