package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process Gateway used when no database is configured and
// by the test suite. One mutex guards everything; operations are O(1) or
// O(members).
type Memory struct {
	mu sync.Mutex

	nextUserID int64
	nextConvID int64
	nextMsgID  int64
	nextReqID  int64

	users          map[int64]*User
	usersByAccount map[string]int64

	convs   map[int64]*Conversation
	members map[int64]map[int64]*Member // convID -> userID -> member
	msgs    map[int64][]Message         // convID -> messages ordered by seq
	nextSeq map[int64]int64

	singleIndex map[[2]int64]int64 // ordered pair -> SINGLE conv id

	friends    map[int64]map[int64]struct{}
	friendReqs map[int64]*FriendRequest
	joinReqs   map[int64]*GroupJoinRequest
}

// NewMemory constructs an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		users:          make(map[int64]*User),
		usersByAccount: make(map[string]int64),
		convs:          make(map[int64]*Conversation),
		members:        make(map[int64]map[int64]*Member),
		msgs:           make(map[int64][]Message),
		nextSeq:        make(map[int64]int64),
		singleIndex:    make(map[[2]int64]int64),
		friends:        make(map[int64]map[int64]struct{}),
		friendReqs:     make(map[int64]*FriendRequest),
		joinReqs:       make(map[int64]*GroupJoinRequest),
	}
}

// Close is a no-op for the in-memory gateway.
func (m *Memory) Close() {}

// ---- users ----

func (m *Memory) CreateUser(ctx context.Context, account, credential, displayName string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.usersByAccount[account]; ok {
		return User{}, ErrAccountExists
	}

	m.nextUserID++
	u := &User{
		ID:          m.nextUserID,
		Account:     account,
		Credential:  credential,
		DisplayName: displayName,
	}
	m.users[u.ID] = u
	m.usersByAccount[account] = u.ID
	m.friends[u.ID] = make(map[int64]struct{})
	return *u, nil
}

func (m *Memory) UserByAccount(ctx context.Context, account string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.usersByAccount[account]
	if !ok {
		return User{}, ErrNotFound
	}
	return *m.users[id], nil
}

func (m *Memory) UserByID(ctx context.Context, id int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (m *Memory) UsersByIDs(ctx context.Context, ids []int64) (map[int64]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int64]User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = *u
		}
	}
	return out, nil
}

func (m *Memory) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]User, 0, limit)
	for _, u := range m.users {
		if strings.Contains(strings.ToLower(u.Account), query) ||
			strings.Contains(strings.ToLower(u.DisplayName), query) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.DisplayName = displayName
	return nil
}

func (m *Memory) UpdateAvatarPath(ctx context.Context, userID int64, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.AvatarPath = path
	return nil
}

// ---- conversations & membership ----

func (m *Memory) EnsureWorld(ctx context.Context, id int64, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[id]; ok {
		return nil
	}
	m.convs[id] = &Conversation{ID: id, Type: ConvGroup, Name: name}
	m.members[id] = make(map[int64]*Member)
	if id > m.nextConvID {
		m.nextConvID = id
	}
	return nil
}

func (m *Memory) Conversation(ctx context.Context, id int64) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

func (m *Memory) ConversationsOf(ctx context.Context, userID int64) ([]ConvSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ConvSummary
	for convID, mm := range m.members {
		if _, ok := mm[userID]; !ok {
			continue
		}
		c := m.convs[convID]
		if c == nil {
			continue
		}

		s := ConvSummary{ID: c.ID, Type: c.Type, Title: c.Name}
		if c.Type == ConvSingle {
			for peerID := range mm {
				if peerID != userID {
					if peer := m.users[peerID]; peer != nil {
						s.Title = peer.DisplayName
					}
				}
			}
		}
		if msgs := m.msgs[convID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			s.LastSeq = last.Seq
			s.LastServerTimeMS = last.ServerTimeMS
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddMember(ctx context.Context, convID, userID int64, role Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addMemberLocked(convID, userID, role)
}

func (m *Memory) addMemberLocked(convID, userID int64, role Role) error {
	if _, ok := m.convs[convID]; !ok {
		return ErrNotFound
	}
	mm := m.members[convID]
	if mm == nil {
		mm = make(map[int64]*Member)
		m.members[convID] = mm
	}
	if _, ok := mm[userID]; ok {
		return ErrAlreadyMember
	}
	mm[userID] = &Member{ConversationID: convID, UserID: userID, Role: role}
	return nil
}

func (m *Memory) RemoveMember(ctx context.Context, convID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mm := m.members[convID]
	if mm == nil {
		return ErrNotFound
	}
	if _, ok := mm[userID]; !ok {
		return ErrNotMember
	}
	delete(mm, userID)
	return nil
}

func (m *Memory) MemberOf(ctx context.Context, convID, userID int64) (Member, error) {
	if err := ctx.Err(); err != nil {
		return Member{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[convID]; !ok {
		return Member{}, ErrNotFound
	}
	mb, ok := m.members[convID][userID]
	if !ok {
		return Member{}, ErrNotMember
	}
	return *mb, nil
}

func (m *Memory) Members(ctx context.Context, convID int64) ([]MemberUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[convID]; !ok {
		return nil, ErrNotFound
	}

	mm := m.members[convID]
	out := make([]MemberUser, 0, len(mm))
	for _, mb := range mm {
		mu := MemberUser{Member: *mb}
		if u := m.users[mb.UserID]; u != nil {
			mu.Account = u.Account
			mu.DisplayName = u.DisplayName
			mu.AvatarPath = u.AvatarPath
		}
		out = append(out, mu)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) MemberIDs(ctx context.Context, convID int64) (ConvType, []int64, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[convID]
	if !ok {
		return "", nil, ErrNotFound
	}
	mm := m.members[convID]
	ids := make([]int64, 0, len(mm))
	for id := range mm {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return c.Type, ids, nil
}

func (m *Memory) SetMemberMute(ctx context.Context, convID, userID, untilMS int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.members[convID][userID]
	if !ok {
		return ErrNotMember
	}
	mb.MutedUntilMS = untilMS
	return nil
}

func (m *Memory) SetMemberRole(ctx context.Context, convID, userID int64, role Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.members[convID][userID]
	if !ok {
		return ErrNotMember
	}
	mb.Role = role
	return nil
}

func (m *Memory) CreateGroup(ctx context.Context, ownerID int64, name string, memberIDs []int64) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextConvID++
	c := &Conversation{ID: m.nextConvID, Type: ConvGroup, Name: name, OwnerID: ownerID}
	m.convs[c.ID] = c
	m.members[c.ID] = make(map[int64]*Member)

	_ = m.addMemberLocked(c.ID, ownerID, RoleOwner)
	for _, id := range memberIDs {
		if id == ownerID {
			continue
		}
		if _, ok := m.users[id]; !ok {
			continue
		}
		_ = m.addMemberLocked(c.ID, id, RoleMember)
	}
	return *c, nil
}

func (m *Memory) DissolveConversation(ctx context.Context, convID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[convID]
	if !ok {
		return ErrNotFound
	}

	delete(m.convs, convID)
	delete(m.members, convID)
	delete(m.msgs, convID)
	delete(m.nextSeq, convID)

	if c.Type == ConvSingle {
		for k, v := range m.singleIndex {
			if v == convID {
				delete(m.singleIndex, k)
			}
		}
	}
	return nil
}

func (m *Memory) OpenSingle(ctx context.Context, a, b int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := pairKey(a, b)
	key := [2]int64{lo, hi}
	if id, ok := m.singleIndex[key]; ok {
		return id, false, nil
	}

	m.nextConvID++
	c := &Conversation{ID: m.nextConvID, Type: ConvSingle}
	m.convs[c.ID] = c
	m.members[c.ID] = map[int64]*Member{
		a: {ConversationID: c.ID, UserID: a, Role: RoleMember},
		b: {ConversationID: c.ID, UserID: b, Role: RoleMember},
	}
	m.singleIndex[key] = c.ID
	return c.ID, true, nil
}

func (m *Memory) SearchGroups(ctx context.Context, query string, limit int) ([]GroupSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if limit <= 0 {
		limit = 20
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []GroupSummary
	for _, c := range m.convs {
		if c.Type != ConvGroup {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(c.Name), query) {
			continue
		}
		out = append(out, GroupSummary{ID: c.ID, Name: c.Name, MemberCount: len(m.members[c.ID])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- messages ----

func (m *Memory) AppendMessage(ctx context.Context, convID, senderID int64, msgType MsgType, content string, nowMS int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if nowMS == 0 {
		nowMS = time.Now().UnixMilli()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[convID]; !ok {
		return Message{}, ErrNotFound
	}

	m.nextSeq[convID]++
	m.nextMsgID++
	msg := Message{
		ID:             m.nextMsgID,
		ConversationID: convID,
		SenderID:       senderID,
		Seq:            m.nextSeq[convID],
		Type:           msgType,
		Content:        content,
		ServerTimeMS:   nowMS,
	}
	m.msgs[convID] = append(m.msgs[convID], msg)
	return msg, nil
}

func (m *Memory) History(ctx context.Context, convID, beforeSeq, afterSeq int64, limit int) ([]Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	if _, ok := m.convs[convID]; !ok {
		m.mu.Unlock()
		return nil, false, ErrNotFound
	}
	snap := append([]Message(nil), m.msgs[convID]...)
	m.mu.Unlock()

	return sliceHistory(snap, beforeSeq, afterSeq, limit)
}

// sliceHistory applies the HISTORY_REQ window rules to a seq-ordered slice.
// Results are always ascending by seq.
func sliceHistory(msgs []Message, beforeSeq, afterSeq int64, limit int) ([]Message, bool, error) {
	switch {
	case afterSeq > 0:
		start := sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq > afterSeq })
		rest := msgs[start:]
		hasMore := len(rest) > limit
		if hasMore {
			rest = rest[:limit]
		}
		return append([]Message(nil), rest...), hasMore, nil

	case beforeSeq > 0:
		end := sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq >= beforeSeq })
		window := msgs[:end]
		hasMore := len(window) > limit
		if hasMore {
			window = window[len(window)-limit:]
		}
		return append([]Message(nil), window...), hasMore, nil

	default:
		hasMore := len(msgs) > limit
		window := msgs
		if hasMore {
			window = msgs[len(msgs)-limit:]
		}
		return append([]Message(nil), window...), hasMore, nil
	}
}

// ---- friends ----

func (m *Memory) Friends(ctx context.Context, userID int64) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]User, 0, len(m.friends[userID]))
	for id := range m.friends[userID] {
		if u := m.users[id]; u != nil {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.friends[a][b]
	return ok, nil
}

func (m *Memory) DeleteFriend(ctx context.Context, a, b int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.friends[a][b]; !ok {
		return ErrNotFriend
	}
	delete(m.friends[a], b)
	delete(m.friends[b], a)
	return nil
}

func (m *Memory) CreateFriendRequest(ctx context.Context, from, to int64, source, hello string, nowMS int64) (FriendRequest, error) {
	if err := ctx.Err(); err != nil {
		return FriendRequest{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[to]; !ok {
		return FriendRequest{}, ErrNotFound
	}
	if _, ok := m.friends[from][to]; ok {
		return FriendRequest{}, ErrAlreadyFriends
	}

	lo, hi := pairKey(from, to)
	for _, r := range m.friendReqs {
		rlo, rhi := pairKey(r.From, r.To)
		if r.Status == ReqPending && rlo == lo && rhi == hi {
			return FriendRequest{}, ErrAlreadyPending
		}
	}

	m.nextReqID++
	r := &FriendRequest{
		ID:          m.nextReqID,
		From:        from,
		To:          to,
		Status:      ReqPending,
		Source:      source,
		HelloMsg:    hello,
		CreatedAtMS: nowMS,
	}
	m.friendReqs[r.ID] = r
	return *r, nil
}

func (m *Memory) PendingFriendRequests(ctx context.Context, to int64) ([]FriendRequestUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FriendRequestUser
	for _, r := range m.friendReqs {
		if r.To != to || r.Status != ReqPending {
			continue
		}
		fr := FriendRequestUser{FriendRequest: *r}
		if u := m.users[r.From]; u != nil {
			fr.FromAccount = u.Account
			fr.FromDisplayName = u.DisplayName
		}
		out = append(out, fr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AcceptFriendRequest(ctx context.Context, reqID, actor, nowMS int64) (FriendAccept, error) {
	if err := ctx.Err(); err != nil {
		return FriendAccept{}, err
	}

	m.mu.Lock()

	r, ok := m.friendReqs[reqID]
	if !ok {
		m.mu.Unlock()
		return FriendAccept{}, ErrNotFound
	}
	if r.To != actor {
		m.mu.Unlock()
		return FriendAccept{}, ErrForbidden
	}
	if r.Status != ReqPending {
		m.mu.Unlock()
		return FriendAccept{}, ErrAlreadyHandled
	}

	r.Status = ReqAccepted
	r.HandledAtMS = nowMS
	if m.friends[r.From] == nil {
		m.friends[r.From] = make(map[int64]struct{})
	}
	if m.friends[r.To] == nil {
		m.friends[r.To] = make(map[int64]struct{})
	}
	m.friends[r.From][r.To] = struct{}{}
	m.friends[r.To][r.From] = struct{}{}
	req := *r
	m.mu.Unlock()

	convID, created, err := m.OpenSingle(ctx, req.From, req.To)
	if err != nil {
		return FriendAccept{}, err
	}
	return FriendAccept{Request: req, ConversationID: convID, ConvCreated: created}, nil
}

func (m *Memory) RejectFriendRequest(ctx context.Context, reqID, actor, nowMS int64) (FriendRequest, error) {
	if err := ctx.Err(); err != nil {
		return FriendRequest{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.friendReqs[reqID]
	if !ok {
		return FriendRequest{}, ErrNotFound
	}
	if r.To != actor {
		return FriendRequest{}, ErrForbidden
	}
	if r.Status != ReqPending {
		return FriendRequest{}, ErrAlreadyHandled
	}
	r.Status = ReqRejected
	r.HandledAtMS = nowMS
	return *r, nil
}

// ---- group joins ----

func (m *Memory) CreateGroupJoinRequest(ctx context.Context, from, groupID int64, hello string, nowMS int64) (GroupJoinRequest, error) {
	if err := ctx.Err(); err != nil {
		return GroupJoinRequest{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[groupID]
	if !ok || c.Type != ConvGroup {
		return GroupJoinRequest{}, ErrNotFound
	}
	if _, ok := m.members[groupID][from]; ok {
		return GroupJoinRequest{}, ErrAlreadyMember
	}
	for _, r := range m.joinReqs {
		if r.From == from && r.GroupID == groupID && r.Status == ReqPending {
			return GroupJoinRequest{}, ErrAlreadyPending
		}
	}

	m.nextReqID++
	r := &GroupJoinRequest{
		ID:          m.nextReqID,
		From:        from,
		GroupID:     groupID,
		Status:      ReqPending,
		HelloMsg:    hello,
		CreatedAtMS: nowMS,
	}
	m.joinReqs[r.ID] = r
	return *r, nil
}

func (m *Memory) PendingGroupJoinRequests(ctx context.Context, adminID int64) ([]GroupJoinRequestInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []GroupJoinRequestInfo
	for _, r := range m.joinReqs {
		if r.Status != ReqPending {
			continue
		}
		mb, ok := m.members[r.GroupID][adminID]
		if !ok || (mb.Role != RoleOwner && mb.Role != RoleAdmin) {
			continue
		}
		info := GroupJoinRequestInfo{GroupJoinRequest: *r}
		if c := m.convs[r.GroupID]; c != nil {
			info.GroupName = c.Name
		}
		if u := m.users[r.From]; u != nil {
			info.FromDisplayName = u.DisplayName
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AcceptGroupJoinRequest(ctx context.Context, reqID, actor, nowMS int64) (GroupJoinRequest, error) {
	if err := ctx.Err(); err != nil {
		return GroupJoinRequest{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.joinReqs[reqID]
	if !ok {
		return GroupJoinRequest{}, ErrNotFound
	}
	mb, ok := m.members[r.GroupID][actor]
	if !ok || (mb.Role != RoleOwner && mb.Role != RoleAdmin) {
		return GroupJoinRequest{}, ErrForbidden
	}
	if r.Status != ReqPending {
		return GroupJoinRequest{}, ErrAlreadyHandled
	}

	if err := m.addMemberLocked(r.GroupID, r.From, RoleMember); err != nil && err != ErrAlreadyMember {
		return GroupJoinRequest{}, err
	}
	r.Status = ReqAccepted
	r.HandlerID = actor
	r.HandledAtMS = nowMS
	return *r, nil
}
