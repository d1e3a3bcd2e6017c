package wire

import (
	"bytes"
	"fmt"
	"strconv"
)

// ID is an int64 identifier transmitted as a decimal string so that
// JavaScript clients never lose precision. Unmarshal accepts both the string
// form and a bare number for tolerance toward older clients.
type ID int64

// MarshalJSON renders the ID as a quoted decimal string.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(id), 10))), nil
}

// UnmarshalJSON accepts "123", 123, and the empty string (zero).
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("wire: bad id literal: %w", err)
		}
		if s == "" {
			*id = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("wire: bad id %q: %w", s, err)
		}
		*id = ID(n)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("wire: bad id %s: %w", data, err)
	}
	*id = ID(n)
	return nil
}

// Resp is the envelope every response embeds.
type Resp struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode,omitempty"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
}

// OKResp is the shared success envelope.
var OKResp = Resp{OK: true}

// ErrResp builds a failure envelope.
func ErrResp(code, msg string) Resp {
	return Resp{OK: false, ErrorCode: code, ErrorMsg: msg}
}

// ErrorPayload is the out-of-band ERROR frame body.
type ErrorPayload struct {
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
}

// EchoPayload is the diagnostic reply to an unknown command.
type EchoPayload struct {
	Command string `json:"command"`
}

// ---- auth & profile ----

type RegisterReq struct {
	Account         string `json:"account"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type RegisterResp struct {
	Resp
	UserID      ID     `json:"userId,omitempty"`
	Account     string `json:"account,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type LoginReq struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

type LoginResp struct {
	Resp
	UserID              ID     `json:"userId,omitempty"`
	Account             string `json:"account,omitempty"`
	DisplayName         string `json:"displayName,omitempty"`
	AvatarB64           string `json:"avatarB64,omitempty"`
	WorldConversationID ID     `json:"worldConversationId,omitempty"`
}

type ProfileUpdateReq struct {
	DisplayName string `json:"displayName"`
}

type ProfileUpdateResp struct {
	Resp
	DisplayName string `json:"displayName,omitempty"`
}

type AvatarUpdateReq struct {
	AvatarB64 string `json:"avatarB64"`
}

type AvatarUpdateResp struct {
	Resp
}

// ---- messaging ----

type SendMsgReq struct {
	ConversationID   ID     `json:"conversationId"`
	ConversationType string `json:"conversationType,omitempty"`
	SenderID         ID     `json:"senderId,omitempty"` // ignored; the session's user wins
	ClientMsgID      string `json:"clientMsgId,omitempty"`
	MsgType          string `json:"msgType,omitempty"`
	Content          string `json:"content"`
}

type SendAck struct {
	Resp
	ClientMsgID  string `json:"clientMsgId,omitempty"`
	ServerMsgID  ID     `json:"serverMsgId"`
	ServerTimeMS int64  `json:"serverTimeMs"`
	Seq          int64  `json:"seq"`
}

type MsgPush struct {
	ConversationID    ID     `json:"conversationId"`
	ConversationType  string `json:"conversationType"`
	ServerMsgID       ID     `json:"serverMsgId"`
	SenderID          ID     `json:"senderId"`
	SenderDisplayName string `json:"senderDisplayName"`
	MsgType           string `json:"msgType"`
	ServerTimeMS      int64  `json:"serverTimeMs"`
	Seq               int64  `json:"seq"`
	Content           string `json:"content"`
}

type HistoryReq struct {
	ConversationID ID    `json:"conversationId"`
	BeforeSeq      int64 `json:"beforeSeq,omitempty"`
	AfterSeq       int64 `json:"afterSeq,omitempty"`
	Limit          int   `json:"limit,omitempty"`
}

type HistoryResp struct {
	Resp
	ConversationID ID        `json:"conversationId"`
	Messages       []MsgPush `json:"messages"`
	HasMore        bool      `json:"hasMore"`
	NextBeforeSeq  int64     `json:"nextBeforeSeq"`
}

// ---- conversations ----

type ConvListReq struct{}

type ConvSummary struct {
	ConversationID   ID     `json:"conversationId"`
	ConversationType string `json:"conversationType"`
	Title            string `json:"title"`
	LastSeq          int64  `json:"lastSeq"`
	LastServerTimeMS int64  `json:"lastServerTimeMs"`
}

type ConvListResp struct {
	Resp
	Conversations []ConvSummary `json:"conversations"`
}

type ConvMembersReq struct {
	ConversationID ID `json:"conversationId"`
}

type MemberInfo struct {
	UserID       ID     `json:"userId"`
	Account      string `json:"account"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
	MutedUntilMS int64  `json:"mutedUntilMs"`
	AvatarB64    string `json:"avatarB64,omitempty"`
}

type ConvMembersResp struct {
	Resp
	ConversationID ID           `json:"conversationId"`
	Members        []MemberInfo `json:"members"`
}

type LeaveConvReq struct {
	ConversationID ID `json:"conversationId"`
}

type LeaveConvResp struct {
	Resp
	ConversationID ID   `json:"conversationId"`
	Dissolved      bool `json:"dissolved,omitempty"`
}

type OpenSingleConvReq struct {
	PeerUserID ID `json:"peerUserId"`
}

type OpenSingleConvResp struct {
	Resp
	ConversationID ID `json:"conversationId"`
}

type CreateGroupReq struct {
	Name      string `json:"name,omitempty"`
	MemberIDs []ID   `json:"memberIds"`
}

type CreateGroupResp struct {
	Resp
	ConversationID ID     `json:"conversationId"`
	Name           string `json:"name,omitempty"`
}

// ---- member administration ----

type MuteMemberReq struct {
	ConversationID  ID    `json:"conversationId"`
	TargetUserID    ID    `json:"targetUserId"`
	DurationSeconds int64 `json:"durationSeconds"`
}

type MuteMemberResp struct {
	Resp
	MutedUntilMS int64 `json:"mutedUntilMs,omitempty"`
}

type UnmuteMemberReq struct {
	ConversationID ID `json:"conversationId"`
	TargetUserID   ID `json:"targetUserId"`
}

type UnmuteMemberResp struct {
	Resp
}

type SetAdminReq struct {
	ConversationID ID   `json:"conversationId"`
	TargetUserID   ID   `json:"targetUserId"`
	Admin          bool `json:"admin"`
}

type SetAdminResp struct {
	Resp
}

// ---- friends ----

type FriendListReq struct{}

type FriendInfo struct {
	UserID      ID     `json:"userId"`
	Account     string `json:"account"`
	DisplayName string `json:"displayName"`
	AvatarB64   string `json:"avatarB64,omitempty"`
}

type FriendListResp struct {
	Resp
	Friends []FriendInfo `json:"friends"`
}

type FriendSearchReq struct {
	Query string `json:"query"`
}

type FriendSearchResp struct {
	Resp
	Users []FriendInfo `json:"users"`
}

type FriendAddReq struct {
	TargetUserID ID     `json:"targetUserId"`
	Source       string `json:"source,omitempty"`
	HelloMsg     string `json:"helloMsg,omitempty"`
}

type FriendAddResp struct {
	Resp
	RequestID ID `json:"requestId,omitempty"`
}

type FriendReqListReq struct{}

type FriendReqInfo struct {
	RequestID       ID     `json:"requestId"`
	FromUserID      ID     `json:"fromUserId"`
	FromAccount     string `json:"fromAccount"`
	FromDisplayName string `json:"fromDisplayName"`
	Source          string `json:"source,omitempty"`
	HelloMsg        string `json:"helloMsg,omitempty"`
	CreatedAtMS     int64  `json:"createdAtMs"`
}

type FriendReqListResp struct {
	Resp
	Requests []FriendReqInfo `json:"requests"`
}

type FriendAcceptReq struct {
	RequestID ID `json:"requestId"`
}

type FriendAcceptResp struct {
	Resp
	FriendUserID   ID `json:"friendUserId,omitempty"`
	ConversationID ID `json:"conversationId,omitempty"`
}

type FriendRejectReq struct {
	RequestID ID `json:"requestId"`
}

type FriendRejectResp struct {
	Resp
}

type FriendDeleteReq struct {
	FriendUserID ID `json:"friendUserId"`
}

type FriendDeleteResp struct {
	Resp
}

// ---- groups ----

type GroupSearchReq struct {
	Query string `json:"query"`
}

type GroupSummary struct {
	ConversationID ID     `json:"conversationId"`
	Name           string `json:"name"`
	MemberCount    int    `json:"memberCount"`
}

type GroupSearchResp struct {
	Resp
	Groups []GroupSummary `json:"groups"`
}

type GroupJoinReq struct {
	ConversationID ID     `json:"conversationId"`
	HelloMsg       string `json:"helloMsg,omitempty"`
}

type GroupJoinResp struct {
	Resp
	RequestID ID `json:"requestId,omitempty"`
}

type GroupJoinReqListReq struct{}

type GroupJoinReqInfo struct {
	RequestID       ID     `json:"requestId"`
	ConversationID  ID     `json:"conversationId"`
	GroupName       string `json:"groupName"`
	FromUserID      ID     `json:"fromUserId"`
	FromDisplayName string `json:"fromDisplayName"`
	HelloMsg        string `json:"helloMsg,omitempty"`
	CreatedAtMS     int64  `json:"createdAtMs"`
}

type GroupJoinReqListResp struct {
	Resp
	Requests []GroupJoinReqInfo `json:"requests"`
}

type GroupJoinAcceptReq struct {
	RequestID ID `json:"requestId"`
}

type GroupJoinAcceptResp struct {
	Resp
	ConversationID ID `json:"conversationId,omitempty"`
}
