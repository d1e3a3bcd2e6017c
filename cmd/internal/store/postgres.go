package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Gateway over PostgreSQL.
//
// Ownership model:
//   - Postgres does NOT own the pgx pool; the caller closes it. Close() only
//     releases the optional KV client.
//
// Concurrency model:
//   - AppendMessage serializes writers per conversation with a transactional
//     advisory lock, so seq allocation and the insert linearize.
//
// Expected schema (migrations are managed externally):
//
//	users(id BIGSERIAL PK, account TEXT UNIQUE, credential TEXT,
//	      display_name TEXT, avatar_path TEXT)
//	friends(user_id BIGINT, friend_user_id BIGINT, PRIMARY KEY(user_id, friend_user_id))
//	conversations(id BIGSERIAL PK, kind TEXT, name TEXT, owner_user_id BIGINT)
//	conversation_members(conversation_id BIGINT, user_id BIGINT, role TEXT,
//	      muted_until_ms BIGINT DEFAULT 0, PRIMARY KEY(conversation_id, user_id))
//	single_index(user_lo BIGINT, user_hi BIGINT, conversation_id BIGINT,
//	      PRIMARY KEY(user_lo, user_hi))
//	conversation_cursors(conversation_id BIGINT PK, next_seq BIGINT,
//	      updated_at TIMESTAMPTZ)
//	messages(id BIGSERIAL PK, conversation_id BIGINT, sender_id BIGINT,
//	      seq BIGINT, msg_type TEXT, content TEXT, server_time_ms BIGINT,
//	      UNIQUE(conversation_id, seq))
//	friend_requests(id BIGSERIAL PK, from_user_id BIGINT, to_user_id BIGINT,
//	      status TEXT, source TEXT, hello_msg TEXT, created_at_ms BIGINT,
//	      handled_at_ms BIGINT)
//	group_join_requests(id BIGSERIAL PK, from_user_id BIGINT, group_id BIGINT,
//	      status TEXT, hello_msg TEXT, handler_user_id BIGINT,
//	      created_at_ms BIGINT, handled_at_ms BIGINT)
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	kv     *KV
}

// PostgresOption configures the Postgres gateway.
type PostgresOption func(*Postgres) error

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema (default "parley"). The name is validated and
// safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRE.MatchString(schema) {
			return errors.New("store: invalid schema identifier")
		}
		p.schema = schema
		return nil
	}
}

// WithKV attaches the auxiliary KV store. When present, message IDs and seq
// values come from KV counters and the hot message window is maintained.
func WithKV(kv *KV) PostgresOption {
	return func(p *Postgres) error {
		p.kv = kv
		return nil
	}
}

// NewPostgres constructs a Postgres-backed Gateway.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, errors.New("store: nil pool")
	}
	return p, nil
}

// Close releases the KV client. The pgx pool is owned by the caller.
func (p *Postgres) Close() {
	if p.kv != nil {
		_ = p.kv.Close()
	}
}

func (p *Postgres) t(table string) string {
	return pgx.Identifier{p.schema, table}.Sanitize()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- users ----

func (p *Postgres) CreateUser(ctx context.Context, account, credential, displayName string) (User, error) {
	u := User{Account: account, Credential: credential, DisplayName: displayName}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO `+p.t("users")+` (account, credential, display_name, avatar_path)
		 VALUES ($1, $2, $3, '')
		 RETURNING id`,
		account, credential, displayName,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrAccountExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UserByAccount(ctx context.Context, account string) (User, error) {
	return p.scanUser(p.pool.QueryRow(ctx,
		`SELECT id, account, credential, display_name, avatar_path
		   FROM `+p.t("users")+` WHERE account = $1`, account))
}

func (p *Postgres) UserByID(ctx context.Context, id int64) (User, error) {
	return p.scanUser(p.pool.QueryRow(ctx,
		`SELECT id, account, credential, display_name, avatar_path
		   FROM `+p.t("users")+` WHERE id = $1`, id))
}

func (p *Postgres) scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Account, &u.Credential, &u.DisplayName, &u.AvatarPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (p *Postgres) UsersByIDs(ctx context.Context, ids []int64) (map[int64]User, error) {
	if len(ids) == 0 {
		return map[int64]User{}, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, account, credential, display_name, avatar_path
		   FROM `+p.t("users")+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]User, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Account, &u.Credential, &u.DisplayName, &u.AvatarPath); err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (p *Postgres) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, account, credential, display_name, avatar_path
		   FROM `+p.t("users")+`
		  WHERE account ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%'
		  ORDER BY id LIMIT $2`,
		query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Account, &u.Credential, &u.DisplayName, &u.AvatarPath); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE `+p.t("users")+` SET display_name = $2 WHERE id = $1`, userID, displayName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateAvatarPath(ctx context.Context, userID int64, path string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE `+p.t("users")+` SET avatar_path = $2 WHERE id = $1`, userID, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- conversations & membership ----

func (p *Postgres) EnsureWorld(ctx context.Context, id int64, name string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+p.t("conversations")+` (id, kind, name, owner_user_id)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (id) DO NOTHING`,
		id, string(ConvGroup), name)
	return err
}

func (p *Postgres) Conversation(ctx context.Context, id int64) (Conversation, error) {
	var c Conversation
	var kind string
	err := p.pool.QueryRow(ctx,
		`SELECT id, kind, name, owner_user_id FROM `+p.t("conversations")+` WHERE id = $1`, id,
	).Scan(&c.ID, &kind, &c.Name, &c.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.Type = ConvType(kind)
	return c, nil
}

func (p *Postgres) ConversationsOf(ctx context.Context, userID int64) ([]ConvSummary, error) {
	// Title resolution happens in SQL: the peer's display name for SINGLE,
	// the stored name for GROUP.
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, c.kind,
		        CASE WHEN c.kind = 'SINGLE'
		             THEN COALESCE((SELECT u.display_name
		                              FROM `+p.t("conversation_members")+` pm
		                              JOIN `+p.t("users")+` u ON u.id = pm.user_id
		                             WHERE pm.conversation_id = c.id AND pm.user_id <> $1
		                             LIMIT 1), c.name)
		             ELSE c.name END AS title,
		        COALESCE((SELECT max(seq) FROM `+p.t("messages")+` ms WHERE ms.conversation_id = c.id), 0),
		        COALESCE((SELECT server_time_ms FROM `+p.t("messages")+` ms
		                   WHERE ms.conversation_id = c.id ORDER BY seq DESC LIMIT 1), 0)
		   FROM `+p.t("conversations")+` c
		   JOIN `+p.t("conversation_members")+` m ON m.conversation_id = c.id
		  WHERE m.user_id = $1
		  ORDER BY c.id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConvSummary
	for rows.Next() {
		var s ConvSummary
		var kind string
		if err := rows.Scan(&s.ID, &kind, &s.Title, &s.LastSeq, &s.LastServerTimeMS); err != nil {
			return nil, err
		}
		s.Type = ConvType(kind)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) AddMember(ctx context.Context, convID, userID int64, role Role) error {
	if _, err := p.Conversation(ctx, convID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+p.t("conversation_members")+` (conversation_id, user_id, role, muted_until_ms)
		 VALUES ($1, $2, $3, 0)`,
		convID, userID, string(role))
	if isUniqueViolation(err) {
		return ErrAlreadyMember
	}
	return err
}

func (p *Postgres) RemoveMember(ctx context.Context, convID, userID int64) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM `+p.t("conversation_members")+` WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

func (p *Postgres) MemberOf(ctx context.Context, convID, userID int64) (Member, error) {
	var m Member
	var role string
	err := p.pool.QueryRow(ctx,
		`SELECT conversation_id, user_id, role, muted_until_ms
		   FROM `+p.t("conversation_members")+`
		  WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID,
	).Scan(&m.ConversationID, &m.UserID, &role, &m.MutedUntilMS)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, cerr := p.Conversation(ctx, convID); cerr != nil {
			return Member{}, cerr
		}
		return Member{}, ErrNotMember
	}
	if err != nil {
		return Member{}, err
	}
	m.Role = Role(role)
	return m, nil
}

func (p *Postgres) Members(ctx context.Context, convID int64) ([]MemberUser, error) {
	if _, err := p.Conversation(ctx, convID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT m.conversation_id, m.user_id, m.role, m.muted_until_ms,
		        u.account, u.display_name, u.avatar_path
		   FROM `+p.t("conversation_members")+` m
		   JOIN `+p.t("users")+` u ON u.id = m.user_id
		  WHERE m.conversation_id = $1
		  ORDER BY m.user_id`,
		convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemberUser
	for rows.Next() {
		var mu MemberUser
		var role string
		if err := rows.Scan(&mu.ConversationID, &mu.UserID, &role, &mu.MutedUntilMS,
			&mu.Account, &mu.DisplayName, &mu.AvatarPath); err != nil {
			return nil, err
		}
		mu.Role = Role(role)
		out = append(out, mu)
	}
	return out, rows.Err()
}

func (p *Postgres) MemberIDs(ctx context.Context, convID int64) (ConvType, []int64, error) {
	c, err := p.Conversation(ctx, convID)
	if err != nil {
		return "", nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT user_id FROM `+p.t("conversation_members")+`
		  WHERE conversation_id = $1 ORDER BY user_id`, convID)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return "", nil, err
		}
		ids = append(ids, id)
	}
	return c.Type, ids, rows.Err()
}

func (p *Postgres) SetMemberMute(ctx context.Context, convID, userID, untilMS int64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE `+p.t("conversation_members")+` SET muted_until_ms = $3
		  WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID, untilMS)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

func (p *Postgres) SetMemberRole(ctx context.Context, convID, userID int64, role Role) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE `+p.t("conversation_members")+` SET role = $3
		  WHERE conversation_id = $1 AND user_id = $2`,
		convID, userID, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

func (p *Postgres) CreateGroup(ctx context.Context, ownerID int64, name string, memberIDs []int64) (Conversation, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c := Conversation{Type: ConvGroup, Name: name, OwnerID: ownerID}
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+p.t("conversations")+` (kind, name, owner_user_id)
		 VALUES ($1, $2, $3) RETURNING id`,
		string(ConvGroup), name, ownerID,
	).Scan(&c.ID); err != nil {
		return Conversation{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+p.t("conversation_members")+` (conversation_id, user_id, role, muted_until_ms)
		 VALUES ($1, $2, $3, 0)`,
		c.ID, ownerID, string(RoleOwner)); err != nil {
		return Conversation{}, err
	}
	for _, id := range memberIDs {
		if id == ownerID {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+p.t("conversation_members")+` (conversation_id, user_id, role, muted_until_ms)
			 VALUES ($1, $2, $3, 0)
			 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			c.ID, id, string(RoleMember)); err != nil {
			return Conversation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (p *Postgres) DissolveConversation(ctx context.Context, convID int64) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		`DELETE FROM ` + p.t("messages") + ` WHERE conversation_id = $1`,
		`DELETE FROM ` + p.t("conversation_members") + ` WHERE conversation_id = $1`,
		`DELETE FROM ` + p.t("single_index") + ` WHERE conversation_id = $1`,
		`DELETE FROM ` + p.t("conversation_cursors") + ` WHERE conversation_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, convID); err != nil {
			return err
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM `+p.t("conversations")+` WHERE id = $1`, convID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// Best-effort: the seq counter and hot window must not outlive the
	// conversation. A leftover key after a KV hiccup is only garbage; it can
	// never be served because the rows above are gone.
	if p.kv != nil {
		_ = p.kv.DropSeq(ctx, convID)
	}
	return nil
}

func (p *Postgres) OpenSingle(ctx context.Context, a, b int64) (int64, bool, error) {
	lo, hi := pairKey(a, b)

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize per pair so two concurrent accepts cannot race the index.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`,
		lo, hi); err != nil {
		return 0, false, fmt.Errorf("advisory lock: %w", err)
	}

	var convID int64
	err = tx.QueryRow(ctx,
		`SELECT conversation_id FROM `+p.t("single_index")+` WHERE user_lo = $1 AND user_hi = $2`,
		lo, hi).Scan(&convID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return 0, false, err
		}
		return convID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO `+p.t("conversations")+` (kind, name, owner_user_id)
		 VALUES ($1, '', 0) RETURNING id`,
		string(ConvSingle)).Scan(&convID); err != nil {
		return 0, false, err
	}
	for _, uid := range []int64{a, b} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+p.t("conversation_members")+` (conversation_id, user_id, role, muted_until_ms)
			 VALUES ($1, $2, $3, 0)`,
			convID, uid, string(RoleMember)); err != nil {
			return 0, false, err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+p.t("single_index")+` (user_lo, user_hi, conversation_id) VALUES ($1, $2, $3)`,
		lo, hi, convID); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return convID, true, nil
}

func (p *Postgres) SearchGroups(ctx context.Context, query string, limit int) ([]GroupSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, c.name,
		        (SELECT count(*) FROM `+p.t("conversation_members")+` m WHERE m.conversation_id = c.id)
		   FROM `+p.t("conversations")+` c
		  WHERE c.kind = 'GROUP' AND ($1 = '' OR c.name ILIKE '%' || $1 || '%')
		  ORDER BY c.id LIMIT $2`,
		strings.TrimSpace(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupSummary
	for rows.Next() {
		var g GroupSummary
		if err := rows.Scan(&g.ID, &g.Name, &g.MemberCount); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ---- messages ----

func (p *Postgres) AppendMessage(ctx context.Context, convID, senderID int64, msgType MsgType, content string, nowMS int64) (Message, error) {
	if nowMS == 0 {
		nowMS = time.Now().UnixMilli()
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize all writers per conversation: allocate(seq) and insert(msg)
	// must linearize so seq stays dense and strictly increasing.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('conv:' || $1::text, 0))`,
		convID); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM `+p.t("conversations")+` WHERE id = $1`, convID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}

	var seq int64
	if p.kv != nil {
		seq, err = p.kv.NextSeq(ctx, convID)
		if err != nil {
			return Message{}, fmt.Errorf("kv seq: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+p.t("conversation_cursors")+` (conversation_id, next_seq, updated_at)
			 VALUES ($1, 1, now())
			 ON CONFLICT (conversation_id) DO NOTHING`,
			convID); err != nil {
			return Message{}, err
		}
		if err := tx.QueryRow(ctx,
			`UPDATE `+p.t("conversation_cursors")+`
			    SET next_seq = next_seq + 1, updated_at = now()
			  WHERE conversation_id = $1
			RETURNING (next_seq - 1)`,
			convID).Scan(&seq); err != nil {
			return Message{}, err
		}
	}

	msg := Message{
		ConversationID: convID,
		SenderID:       senderID,
		Seq:            seq,
		Type:           msgType,
		Content:        content,
		ServerTimeMS:   nowMS,
	}

	if p.kv != nil {
		id, err := p.kv.NextMessageID(ctx)
		if err != nil {
			return Message{}, fmt.Errorf("kv msg id: %w", err)
		}
		msg.ID = id
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+p.t("messages")+` (id, conversation_id, sender_id, seq, msg_type, content, server_time_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			msg.ID, convID, senderID, seq, string(msgType), content, nowMS); err != nil {
			return Message{}, fmt.Errorf("insert message: %w", err)
		}
	} else {
		if err := tx.QueryRow(ctx,
			`INSERT INTO `+p.t("messages")+` (conversation_id, sender_id, seq, msg_type, content, server_time_ms)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			convID, senderID, seq, string(msgType), content, nowMS).Scan(&msg.ID); err != nil {
			return Message{}, fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	// Hot window maintenance is best-effort; losing it only costs a DB read.
	if p.kv != nil {
		_ = p.kv.PushHot(ctx, msg)
	}

	return msg, nil
}

func (p *Postgres) History(ctx context.Context, convID, beforeSeq, afterSeq int64, limit int) ([]Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if _, err := p.Conversation(ctx, convID); err != nil {
		return nil, false, err
	}

	// Tail reads are served from the KV hot window when it can answer fully.
	if p.kv != nil && beforeSeq == 0 && afterSeq == 0 {
		if msgs, ok := p.kv.HotTail(ctx, convID, limit); ok {
			hasMore := false
			if len(msgs) > 0 && msgs[0].Seq > 1 {
				hasMore = true
			}
			return msgs, hasMore, nil
		}
	}

	fetch := limit + 1
	var (
		rows pgx.Rows
		err  error
	)
	const cols = `id, conversation_id, sender_id, seq, msg_type, content, server_time_ms`

	switch {
	case afterSeq > 0:
		rows, err = p.pool.Query(ctx,
			`SELECT `+cols+` FROM `+p.t("messages")+`
			  WHERE conversation_id = $1 AND seq > $2
			  ORDER BY seq ASC LIMIT $3`,
			convID, afterSeq, fetch)
	case beforeSeq > 0:
		rows, err = p.pool.Query(ctx,
			`SELECT * FROM (
			   SELECT `+cols+` FROM `+p.t("messages")+`
			    WHERE conversation_id = $1 AND seq < $2
			    ORDER BY seq DESC LIMIT $3
			 ) w ORDER BY seq ASC`,
			convID, beforeSeq, fetch)
	default:
		rows, err = p.pool.Query(ctx,
			`SELECT * FROM (
			   SELECT `+cols+` FROM `+p.t("messages")+`
			    WHERE conversation_id = $1
			    ORDER BY seq DESC LIMIT $2
			 ) w ORDER BY seq ASC`,
			convID, fetch)
	}
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var mt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Seq, &mt, &m.Content, &m.ServerTimeMS); err != nil {
			return nil, false, err
		}
		m.Type = MsgType(mt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		if afterSeq > 0 {
			msgs = msgs[:limit]
		} else {
			msgs = msgs[len(msgs)-limit:]
		}
	}
	return msgs, hasMore, nil
}

// ---- friends ----

func (p *Postgres) Friends(ctx context.Context, userID int64) ([]User, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT u.id, u.account, u.credential, u.display_name, u.avatar_path
		   FROM `+p.t("friends")+` f
		   JOIN `+p.t("users")+` u ON u.id = f.friend_user_id
		  WHERE f.user_id = $1
		  ORDER BY u.id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Account, &u.Credential, &u.DisplayName, &u.AvatarPath); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx,
		`SELECT 1 FROM `+p.t("friends")+` WHERE user_id = $1 AND friend_user_id = $2`,
		a, b).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) DeleteFriend(ctx context.Context, a, b int64) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+p.t("friends")+`
		  WHERE (user_id = $1 AND friend_user_id = $2) OR (user_id = $2 AND friend_user_id = $1)`,
		a, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFriend
	}
	return tx.Commit(ctx)
}

func (p *Postgres) CreateFriendRequest(ctx context.Context, from, to int64, source, hello string, nowMS int64) (FriendRequest, error) {
	if _, err := p.UserByID(ctx, to); err != nil {
		return FriendRequest{}, err
	}
	already, err := p.AreFriends(ctx, from, to)
	if err != nil {
		return FriendRequest{}, err
	}
	if already {
		return FriendRequest{}, ErrAlreadyFriends
	}

	lo, hi := pairKey(from, to)
	var one int
	err = p.pool.QueryRow(ctx,
		`SELECT 1 FROM `+p.t("friend_requests")+`
		  WHERE status = 'PENDING'
		    AND least(from_user_id, to_user_id) = $1
		    AND greatest(from_user_id, to_user_id) = $2`,
		lo, hi).Scan(&one)
	if err == nil {
		return FriendRequest{}, ErrAlreadyPending
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return FriendRequest{}, err
	}

	r := FriendRequest{From: from, To: to, Status: ReqPending, Source: source, HelloMsg: hello, CreatedAtMS: nowMS}
	if err := p.pool.QueryRow(ctx,
		`INSERT INTO `+p.t("friend_requests")+` (from_user_id, to_user_id, status, source, hello_msg, created_at_ms, handled_at_ms)
		 VALUES ($1, $2, 'PENDING', $3, $4, $5, 0) RETURNING id`,
		from, to, source, hello, nowMS).Scan(&r.ID); err != nil {
		return FriendRequest{}, err
	}
	return r, nil
}

func (p *Postgres) PendingFriendRequests(ctx context.Context, to int64) ([]FriendRequestUser, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.from_user_id, r.to_user_id, r.status, r.source, r.hello_msg,
		        r.created_at_ms, r.handled_at_ms, u.account, u.display_name
		   FROM `+p.t("friend_requests")+` r
		   JOIN `+p.t("users")+` u ON u.id = r.from_user_id
		  WHERE r.to_user_id = $1 AND r.status = 'PENDING'
		  ORDER BY r.id`,
		to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRequestUser
	for rows.Next() {
		var fr FriendRequestUser
		var status string
		if err := rows.Scan(&fr.ID, &fr.From, &fr.To, &status, &fr.Source, &fr.HelloMsg,
			&fr.CreatedAtMS, &fr.HandledAtMS, &fr.FromAccount, &fr.FromDisplayName); err != nil {
			return nil, err
		}
		fr.Status = ReqStatus(status)
		out = append(out, fr)
	}
	return out, rows.Err()
}

func (p *Postgres) AcceptFriendRequest(ctx context.Context, reqID, actor, nowMS int64) (FriendAccept, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return FriendAccept{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := p.lockFriendRequest(ctx, tx, reqID)
	if err != nil {
		return FriendAccept{}, err
	}
	if r.To != actor {
		return FriendAccept{}, ErrForbidden
	}
	if r.Status != ReqPending {
		return FriendAccept{}, ErrAlreadyHandled
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+p.t("friend_requests")+` SET status = 'ACCEPTED', handled_at_ms = $2 WHERE id = $1`,
		reqID, nowMS); err != nil {
		return FriendAccept{}, err
	}

	// Friendship rows are symmetric within the same transaction.
	for _, pair := range [][2]int64{{r.From, r.To}, {r.To, r.From}} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+p.t("friends")+` (user_id, friend_user_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			pair[0], pair[1]); err != nil {
			return FriendAccept{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return FriendAccept{}, err
	}

	r.Status = ReqAccepted
	r.HandledAtMS = nowMS

	convID, created, err := p.OpenSingle(ctx, r.From, r.To)
	if err != nil {
		return FriendAccept{}, err
	}
	return FriendAccept{Request: r, ConversationID: convID, ConvCreated: created}, nil
}

func (p *Postgres) RejectFriendRequest(ctx context.Context, reqID, actor, nowMS int64) (FriendRequest, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return FriendRequest{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := p.lockFriendRequest(ctx, tx, reqID)
	if err != nil {
		return FriendRequest{}, err
	}
	if r.To != actor {
		return FriendRequest{}, ErrForbidden
	}
	if r.Status != ReqPending {
		return FriendRequest{}, ErrAlreadyHandled
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+p.t("friend_requests")+` SET status = 'REJECTED', handled_at_ms = $2 WHERE id = $1`,
		reqID, nowMS); err != nil {
		return FriendRequest{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return FriendRequest{}, err
	}

	r.Status = ReqRejected
	r.HandledAtMS = nowMS
	return r, nil
}

func (p *Postgres) lockFriendRequest(ctx context.Context, tx pgx.Tx, reqID int64) (FriendRequest, error) {
	var r FriendRequest
	var status string
	err := tx.QueryRow(ctx,
		`SELECT id, from_user_id, to_user_id, status, source, hello_msg, created_at_ms, handled_at_ms
		   FROM `+p.t("friend_requests")+` WHERE id = $1 FOR UPDATE`,
		reqID).Scan(&r.ID, &r.From, &r.To, &status, &r.Source, &r.HelloMsg, &r.CreatedAtMS, &r.HandledAtMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return FriendRequest{}, ErrNotFound
	}
	if err != nil {
		return FriendRequest{}, err
	}
	r.Status = ReqStatus(status)
	return r, nil
}

// ---- group joins ----

func (p *Postgres) CreateGroupJoinRequest(ctx context.Context, from, groupID int64, hello string, nowMS int64) (GroupJoinRequest, error) {
	c, err := p.Conversation(ctx, groupID)
	if err != nil {
		return GroupJoinRequest{}, err
	}
	if c.Type != ConvGroup {
		return GroupJoinRequest{}, ErrNotFound
	}
	if _, err := p.MemberOf(ctx, groupID, from); err == nil {
		return GroupJoinRequest{}, ErrAlreadyMember
	} else if !errors.Is(err, ErrNotMember) {
		return GroupJoinRequest{}, err
	}

	var one int
	err = p.pool.QueryRow(ctx,
		`SELECT 1 FROM `+p.t("group_join_requests")+`
		  WHERE from_user_id = $1 AND group_id = $2 AND status = 'PENDING'`,
		from, groupID).Scan(&one)
	if err == nil {
		return GroupJoinRequest{}, ErrAlreadyPending
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return GroupJoinRequest{}, err
	}

	r := GroupJoinRequest{From: from, GroupID: groupID, Status: ReqPending, HelloMsg: hello, CreatedAtMS: nowMS}
	if err := p.pool.QueryRow(ctx,
		`INSERT INTO `+p.t("group_join_requests")+` (from_user_id, group_id, status, hello_msg, handler_user_id, created_at_ms, handled_at_ms)
		 VALUES ($1, $2, 'PENDING', $3, 0, $4, 0) RETURNING id`,
		from, groupID, hello, nowMS).Scan(&r.ID); err != nil {
		return GroupJoinRequest{}, err
	}
	return r, nil
}

func (p *Postgres) PendingGroupJoinRequests(ctx context.Context, adminID int64) ([]GroupJoinRequestInfo, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.from_user_id, r.group_id, r.status, r.hello_msg,
		        r.handler_user_id, r.created_at_ms, r.handled_at_ms,
		        c.name, u.display_name
		   FROM `+p.t("group_join_requests")+` r
		   JOIN `+p.t("conversations")+` c ON c.id = r.group_id
		   JOIN `+p.t("users")+` u ON u.id = r.from_user_id
		   JOIN `+p.t("conversation_members")+` m
		     ON m.conversation_id = r.group_id AND m.user_id = $1 AND m.role IN ('OWNER','ADMIN')
		  WHERE r.status = 'PENDING'
		  ORDER BY r.id`,
		adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupJoinRequestInfo
	for rows.Next() {
		var info GroupJoinRequestInfo
		var status string
		if err := rows.Scan(&info.ID, &info.From, &info.GroupID, &status, &info.HelloMsg,
			&info.HandlerID, &info.CreatedAtMS, &info.HandledAtMS,
			&info.GroupName, &info.FromDisplayName); err != nil {
			return nil, err
		}
		info.Status = ReqStatus(status)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (p *Postgres) AcceptGroupJoinRequest(ctx context.Context, reqID, actor, nowMS int64) (GroupJoinRequest, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return GroupJoinRequest{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var r GroupJoinRequest
	var status string
	err = tx.QueryRow(ctx,
		`SELECT id, from_user_id, group_id, status, hello_msg, handler_user_id, created_at_ms, handled_at_ms
		   FROM `+p.t("group_join_requests")+` WHERE id = $1 FOR UPDATE`,
		reqID).Scan(&r.ID, &r.From, &r.GroupID, &status, &r.HelloMsg, &r.HandlerID, &r.CreatedAtMS, &r.HandledAtMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return GroupJoinRequest{}, ErrNotFound
	}
	if err != nil {
		return GroupJoinRequest{}, err
	}
	r.Status = ReqStatus(status)

	var role string
	err = tx.QueryRow(ctx,
		`SELECT role FROM `+p.t("conversation_members")+`
		  WHERE conversation_id = $1 AND user_id = $2`,
		r.GroupID, actor).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && role != string(RoleOwner) && role != string(RoleAdmin)) {
		return GroupJoinRequest{}, ErrForbidden
	}
	if err != nil {
		return GroupJoinRequest{}, err
	}
	if r.Status != ReqPending {
		return GroupJoinRequest{}, ErrAlreadyHandled
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+p.t("conversation_members")+` (conversation_id, user_id, role, muted_until_ms)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		r.GroupID, r.From, string(RoleMember)); err != nil {
		return GroupJoinRequest{}, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+p.t("group_join_requests")+`
		    SET status = 'ACCEPTED', handler_user_id = $2, handled_at_ms = $3
		  WHERE id = $1`,
		reqID, actor, nowMS); err != nil {
		return GroupJoinRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return GroupJoinRequest{}, err
	}

	r.Status = ReqAccepted
	r.HandlerID = actor
	r.HandledAtMS = nowMS
	return r, nil
}
