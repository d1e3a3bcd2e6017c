package store

import (
	"context"
	"sync"
	"testing"
)

func seedUsers(t *testing.T, m *Memory, accounts ...string) []User {
	t.Helper()
	ctx := context.Background()
	out := make([]User, 0, len(accounts))
	for _, a := range accounts {
		u, err := m.CreateUser(ctx, a, "secret", "name-"+a)
		if err != nil {
			t.Fatalf("CreateUser(%q): %v", a, err)
		}
		out = append(out, u)
	}
	return out
}

func TestCreateUserDuplicateAccount(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	seedUsers(t, m, "alice")

	if _, err := m.CreateUser(context.Background(), "alice", "x", "y"); err != ErrAccountExists {
		t.Fatalf("duplicate account err=%v want=%v", err, ErrAccountExists)
	}
}

func TestAppendMessageSeqContiguous(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if err := m.EnsureWorld(ctx, 1, "World"); err != nil {
		t.Fatalf("EnsureWorld: %v", err)
	}
	users := seedUsers(t, m, "a", "b", "c", "d")

	const perUser = 50
	var wg sync.WaitGroup
	for _, u := range users {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perUser; i++ {
				if _, err := m.AppendMessage(ctx, 1, u.ID, MsgText, "hi", 0); err != nil {
					t.Errorf("AppendMessage: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	msgs, _, err := m.History(ctx, 1, 0, 0, len(users)*perUser+1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != len(users)*perUser {
		t.Fatalf("messages=%d want=%d", len(msgs), len(users)*perUser)
	}
	for i, msg := range msgs {
		if msg.Seq != int64(i+1) {
			t.Fatalf("seq[%d]=%d want=%d (gap or duplicate)", i, msg.Seq, i+1)
		}
	}
}

func TestHistoryWindows(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	if err := m.EnsureWorld(ctx, 1, "World"); err != nil {
		t.Fatalf("EnsureWorld: %v", err)
	}
	u := seedUsers(t, m, "a")[0]
	for i := 0; i < 10; i++ {
		if _, err := m.AppendMessage(ctx, 1, u.ID, MsgText, "m", 0); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	cases := []struct {
		name     string
		before   int64
		after    int64
		limit    int
		wantSeqs []int64
		wantMore bool
	}{
		{name: "default latest", limit: 3, wantSeqs: []int64{8, 9, 10}, wantMore: true},
		{name: "default all", limit: 20, wantSeqs: []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{name: "before", before: 5, limit: 2, wantSeqs: []int64{3, 4}, wantMore: true},
		{name: "before exhausted", before: 3, limit: 5, wantSeqs: []int64{1, 2}},
		{name: "after", after: 7, limit: 2, wantSeqs: []int64{8, 9}, wantMore: true},
		{name: "after tail", after: 9, limit: 5, wantSeqs: []int64{10}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msgs, more, err := m.History(ctx, 1, tc.before, tc.after, tc.limit)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if more != tc.wantMore {
				t.Fatalf("hasMore=%v want=%v", more, tc.wantMore)
			}
			if len(msgs) != len(tc.wantSeqs) {
				t.Fatalf("len=%d want=%d", len(msgs), len(tc.wantSeqs))
			}
			for i, msg := range msgs {
				if msg.Seq != tc.wantSeqs[i] {
					t.Fatalf("seq[%d]=%d want=%d", i, msg.Seq, tc.wantSeqs[i])
				}
			}
		})
	}
}

func TestOpenSingleIsIdempotentPerPair(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	users := seedUsers(t, m, "a", "b")

	id1, created, err := m.OpenSingle(ctx, users[0].ID, users[1].ID)
	if err != nil || !created {
		t.Fatalf("first OpenSingle id=%d created=%v err=%v", id1, created, err)
	}

	// Reversed order resolves to the same conversation.
	id2, created, err := m.OpenSingle(ctx, users[1].ID, users[0].ID)
	if err != nil {
		t.Fatalf("second OpenSingle: %v", err)
	}
	if created || id2 != id1 {
		t.Fatalf("second OpenSingle id=%d created=%v want id=%d created=false", id2, created, id1)
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	users := seedUsers(t, m, "a", "b")
	a, b := users[0].ID, users[1].ID

	r, err := m.CreateFriendRequest(ctx, a, b, "search", "hi", 100)
	if err != nil {
		t.Fatalf("CreateFriendRequest: %v", err)
	}

	// Pending uniqueness holds in both directions.
	if _, err := m.CreateFriendRequest(ctx, a, b, "", "", 101); err != ErrAlreadyPending {
		t.Fatalf("same direction err=%v want=%v", err, ErrAlreadyPending)
	}
	if _, err := m.CreateFriendRequest(ctx, b, a, "", "", 102); err != ErrAlreadyPending {
		t.Fatalf("reverse direction err=%v want=%v", err, ErrAlreadyPending)
	}

	// Only the recipient can accept.
	if _, err := m.AcceptFriendRequest(ctx, r.ID, a, 103); err != ErrForbidden {
		t.Fatalf("sender accept err=%v want=%v", err, ErrForbidden)
	}

	acc, err := m.AcceptFriendRequest(ctx, r.ID, b, 104)
	if err != nil {
		t.Fatalf("AcceptFriendRequest: %v", err)
	}
	if !acc.ConvCreated || acc.ConversationID == 0 {
		t.Fatalf("accept did not open a SINGLE conversation: %+v", acc)
	}

	ok, err := m.AreFriends(ctx, a, b)
	if err != nil || !ok {
		t.Fatalf("AreFriends=%v err=%v", ok, err)
	}

	// Double handling is rejected.
	if _, err := m.AcceptFriendRequest(ctx, r.ID, b, 105); err != ErrAlreadyHandled {
		t.Fatalf("double accept err=%v want=%v", err, ErrAlreadyHandled)
	}

	// Once friends, new requests are rejected outright.
	if _, err := m.CreateFriendRequest(ctx, a, b, "", "", 106); err != ErrAlreadyFriends {
		t.Fatalf("request while friends err=%v want=%v", err, ErrAlreadyFriends)
	}
}

func TestDeleteFriendKeepsConversation(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	users := seedUsers(t, m, "a", "b")
	a, b := users[0].ID, users[1].ID

	r, _ := m.CreateFriendRequest(ctx, a, b, "", "", 1)
	acc, err := m.AcceptFriendRequest(ctx, r.ID, b, 2)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := m.DeleteFriend(ctx, a, b); err != nil {
		t.Fatalf("DeleteFriend: %v", err)
	}
	if ok, _ := m.AreFriends(ctx, a, b); ok {
		t.Fatal("still friends after delete")
	}
	if _, err := m.Conversation(ctx, acc.ConversationID); err != nil {
		t.Fatalf("SINGLE conversation gone after friend delete: %v", err)
	}
}

func TestDissolveConversationDropsDerivedState(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	users := seedUsers(t, m, "a", "b", "c", "d")

	conv, err := m.CreateGroup(ctx, users[0].ID, "g", []int64{users[1].ID, users[2].ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := m.AppendMessage(ctx, conv.ID, users[0].ID, MsgText, "x", 0); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := m.DissolveConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DissolveConversation: %v", err)
	}

	if _, err := m.Conversation(ctx, conv.ID); err != ErrNotFound {
		t.Fatalf("conversation after dissolve err=%v want=%v", err, ErrNotFound)
	}
	if _, _, err := m.History(ctx, conv.ID, 0, 0, 10); err != ErrNotFound {
		t.Fatalf("history after dissolve err=%v want=%v", err, ErrNotFound)
	}
	if _, err := m.MemberOf(ctx, conv.ID, users[0].ID); err != ErrNotFound {
		t.Fatalf("membership after dissolve err=%v want=%v", err, ErrNotFound)
	}
}

func TestGroupJoinRequestLifecycle(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	users := seedUsers(t, m, "owner", "m1", "m2", "joiner", "outsider")
	owner, joiner, outsider := users[0].ID, users[3].ID, users[4].ID

	conv, err := m.CreateGroup(ctx, owner, "g", []int64{users[1].ID, users[2].ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	r, err := m.CreateGroupJoinRequest(ctx, joiner, conv.ID, "hi", 1)
	if err != nil {
		t.Fatalf("CreateGroupJoinRequest: %v", err)
	}
	if _, err := m.CreateGroupJoinRequest(ctx, joiner, conv.ID, "", 2); err != ErrAlreadyPending {
		t.Fatalf("duplicate join err=%v want=%v", err, ErrAlreadyPending)
	}

	// Visible to the owner, not to a plain member or outsider.
	if reqs, _ := m.PendingGroupJoinRequests(ctx, owner); len(reqs) != 1 {
		t.Fatalf("owner sees %d requests want 1", len(reqs))
	}
	if reqs, _ := m.PendingGroupJoinRequests(ctx, users[1].ID); len(reqs) != 0 {
		t.Fatalf("plain member sees %d requests want 0", len(reqs))
	}

	if _, err := m.AcceptGroupJoinRequest(ctx, r.ID, outsider, 3); err != ErrForbidden {
		t.Fatalf("outsider accept err=%v want=%v", err, ErrForbidden)
	}

	if _, err := m.AcceptGroupJoinRequest(ctx, r.ID, owner, 4); err != nil {
		t.Fatalf("owner accept: %v", err)
	}
	if _, err := m.MemberOf(ctx, conv.ID, joiner); err != nil {
		t.Fatalf("joiner not a member after accept: %v", err)
	}
	if _, err := m.AcceptGroupJoinRequest(ctx, r.ID, owner, 5); err != ErrAlreadyHandled {
		t.Fatalf("double accept err=%v want=%v", err, ErrAlreadyHandled)
	}

	// A member cannot raise a fresh join request.
	if _, err := m.CreateGroupJoinRequest(ctx, joiner, conv.ID, "", 6); err != ErrAlreadyMember {
		t.Fatalf("member join err=%v want=%v", err, ErrAlreadyMember)
	}
}

func TestConversationsOfResolvesSingleTitle(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	users := seedUsers(t, m, "a", "b")

	convID, _, err := m.OpenSingle(ctx, users[0].ID, users[1].ID)
	if err != nil {
		t.Fatalf("OpenSingle: %v", err)
	}

	sums, err := m.ConversationsOf(ctx, users[0].ID)
	if err != nil {
		t.Fatalf("ConversationsOf: %v", err)
	}
	if len(sums) != 1 || sums[0].ID != convID {
		t.Fatalf("summaries=%+v", sums)
	}
	if sums[0].Title != users[1].DisplayName {
		t.Fatalf("title=%q want peer name %q", sums[0].Title, users[1].DisplayName)
	}
}

func TestMuteAndRole(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	users := seedUsers(t, m, "o", "x", "y")

	conv, err := m.CreateGroup(ctx, users[0].ID, "g", []int64{users[1].ID, users[2].ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if err := m.SetMemberMute(ctx, conv.ID, users[1].ID, 12345); err != nil {
		t.Fatalf("SetMemberMute: %v", err)
	}
	mb, err := m.MemberOf(ctx, conv.ID, users[1].ID)
	if err != nil || mb.MutedUntilMS != 12345 {
		t.Fatalf("member=%+v err=%v", mb, err)
	}

	if err := m.SetMemberRole(ctx, conv.ID, users[1].ID, RoleAdmin); err != nil {
		t.Fatalf("SetMemberRole: %v", err)
	}
	mb, _ = m.MemberOf(ctx, conv.ID, users[1].ID)
	if mb.Role != RoleAdmin {
		t.Fatalf("role=%s want=%s", mb.Role, RoleAdmin)
	}

	if err := m.SetMemberMute(ctx, conv.ID, 9999, 1); err != ErrNotMember {
		t.Fatalf("mute non-member err=%v want=%v", err, ErrNotMember)
	}
}
