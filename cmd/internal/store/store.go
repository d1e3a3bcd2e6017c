// Package store is parley's persistence gateway: users, friends,
// conversations, membership, messages, per-conversation sequence cursors, and
// friend/group-join requests.
//
// Two implementations exist: Postgres (production) and Memory (dev/tests).
// Both honor the same contracts:
//   - seq values per conversation are dense, strictly increasing, starting at 1
//   - at most one SINGLE conversation per unordered user pair
//   - at most one PENDING friend request per unordered pair
//   - at most one PENDING group-join request per (user, group)
package store

import (
	"context"
	"errors"
)

// Sentinel errors. Handlers map these to wire error codes.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrAccountExists  = errors.New("store: account exists")
	ErrNotMember      = errors.New("store: not a member")
	ErrAlreadyMember  = errors.New("store: already a member")
	ErrNotFriend      = errors.New("store: not friends")
	ErrAlreadyFriends = errors.New("store: already friends")
	ErrAlreadyPending = errors.New("store: request already pending")
	ErrAlreadyHandled = errors.New("store: request already handled")
	ErrForbidden      = errors.New("store: forbidden")
)

// ConvType distinguishes one-to-one chats from groups.
type ConvType string

const (
	ConvSingle ConvType = "SINGLE"
	ConvGroup  ConvType = "GROUP"
)

// Role is a member's role inside a conversation.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// MsgType is the stored message kind.
type MsgType string

const (
	MsgText   MsgType = "TEXT"
	MsgSystem MsgType = "SYSTEM"
)

// ReqStatus is the lifecycle state of a friend or group-join request.
type ReqStatus string

const (
	ReqPending  ReqStatus = "PENDING"
	ReqAccepted ReqStatus = "ACCEPTED"
	ReqRejected ReqStatus = "REJECTED"
)

// User is the canonical account record. Credential is opaque to the store;
// the password package decides what it means.
type User struct {
	ID          int64
	Account     string
	Credential  string
	DisplayName string
	AvatarPath  string
}

// Conversation is a chat room row.
type Conversation struct {
	ID      int64
	Type    ConvType
	Name    string
	OwnerID int64
}

// Member is one (conversation, user) membership row.
type Member struct {
	ConversationID int64
	UserID         int64
	Role           Role
	MutedUntilMS   int64
}

// MemberUser is a membership row joined with its user record, used for
// member-list responses.
type MemberUser struct {
	Member
	Account     string
	DisplayName string
	AvatarPath  string
}

// Message is a persisted chat message.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Seq            int64
	Type           MsgType
	Content        string
	ServerTimeMS   int64
}

// ConvSummary is one row of a user's conversation list. Title is already
// resolved: the peer's display name for SINGLE, the stored name for GROUP.
type ConvSummary struct {
	ID               int64
	Type             ConvType
	Title            string
	LastSeq          int64
	LastServerTimeMS int64
}

// GroupSummary is one group-search result.
type GroupSummary struct {
	ID          int64
	Name        string
	MemberCount int
}

// FriendRequest is a pending or handled friend request.
type FriendRequest struct {
	ID          int64
	From        int64
	To          int64
	Status      ReqStatus
	Source      string
	HelloMsg    string
	CreatedAtMS int64
	HandledAtMS int64
}

// FriendRequestUser joins a request with the requester's user record.
type FriendRequestUser struct {
	FriendRequest
	FromAccount     string
	FromDisplayName string
}

// FriendAccept is the result of accepting a friend request: the handled
// request plus the SINGLE conversation shared by the new friends.
type FriendAccept struct {
	Request        FriendRequest
	ConversationID int64
	ConvCreated    bool
}

// GroupJoinRequest is a pending or handled group-join request.
type GroupJoinRequest struct {
	ID          int64
	From        int64
	GroupID     int64
	Status      ReqStatus
	HelloMsg    string
	HandlerID   int64
	CreatedAtMS int64
	HandledAtMS int64
}

// GroupJoinRequestInfo joins a request with group and requester records.
type GroupJoinRequestInfo struct {
	GroupJoinRequest
	GroupName       string
	FromDisplayName string
}

// Gateway is the persistence surface the chat server runs against.
type Gateway interface {
	// Users.
	CreateUser(ctx context.Context, account, credential, displayName string) (User, error)
	UserByAccount(ctx context.Context, account string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	UsersByIDs(ctx context.Context, ids []int64) (map[int64]User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]User, error)
	UpdateDisplayName(ctx context.Context, userID int64, displayName string) error
	UpdateAvatarPath(ctx context.Context, userID int64, path string) error

	// Conversations and membership.
	EnsureWorld(ctx context.Context, id int64, name string) error
	Conversation(ctx context.Context, id int64) (Conversation, error)
	ConversationsOf(ctx context.Context, userID int64) ([]ConvSummary, error)
	AddMember(ctx context.Context, convID, userID int64, role Role) error
	RemoveMember(ctx context.Context, convID, userID int64) error
	MemberOf(ctx context.Context, convID, userID int64) (Member, error)
	Members(ctx context.Context, convID int64) ([]MemberUser, error)
	MemberIDs(ctx context.Context, convID int64) (ConvType, []int64, error)
	SetMemberMute(ctx context.Context, convID, userID, untilMS int64) error
	SetMemberRole(ctx context.Context, convID, userID int64, role Role) error
	CreateGroup(ctx context.Context, ownerID int64, name string, memberIDs []int64) (Conversation, error)
	DissolveConversation(ctx context.Context, convID int64) error
	OpenSingle(ctx context.Context, a, b int64) (convID int64, created bool, err error)
	SearchGroups(ctx context.Context, query string, limit int) ([]GroupSummary, error)

	// Messages.
	AppendMessage(ctx context.Context, convID, senderID int64, msgType MsgType, content string, nowMS int64) (Message, error)
	History(ctx context.Context, convID, beforeSeq, afterSeq int64, limit int) ([]Message, bool, error)

	// Friends.
	Friends(ctx context.Context, userID int64) ([]User, error)
	AreFriends(ctx context.Context, a, b int64) (bool, error)
	DeleteFriend(ctx context.Context, a, b int64) error
	CreateFriendRequest(ctx context.Context, from, to int64, source, hello string, nowMS int64) (FriendRequest, error)
	PendingFriendRequests(ctx context.Context, to int64) ([]FriendRequestUser, error)
	AcceptFriendRequest(ctx context.Context, reqID, actor, nowMS int64) (FriendAccept, error)
	RejectFriendRequest(ctx context.Context, reqID, actor, nowMS int64) (FriendRequest, error)

	// Group joins.
	CreateGroupJoinRequest(ctx context.Context, from, groupID int64, hello string, nowMS int64) (GroupJoinRequest, error)
	PendingGroupJoinRequests(ctx context.Context, adminID int64) ([]GroupJoinRequestInfo, error)
	AcceptGroupJoinRequest(ctx context.Context, reqID, actor, nowMS int64) (GroupJoinRequest, error)

	Close()
}

// pairKey orders an unordered user pair for SINGLE-conversation and friend
// request uniqueness.
func pairKey(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
