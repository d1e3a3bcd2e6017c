package chat

import (
	"context"

	"parley/cmd/internal/wire"
)

type handlerFunc func(s *Server, ctx context.Context, sess *session, payload []byte)

type command struct {
	resp      string
	needsAuth bool
	// async handlers run on their own goroutine so store I/O never blocks
	// the session's read loop.
	async bool
	fn    handlerFunc
}

// commands is the fixed dispatch table.
var commands = map[string]command{
	wire.CmdPing:     {resp: wire.CmdPong, fn: (*Server).handlePing},
	wire.CmdRegister: {resp: wire.CmdRegisterResp, fn: (*Server).handleRegister},
	wire.CmdLogin:    {resp: wire.CmdLoginResp, fn: (*Server).handleLogin},

	wire.CmdSendMsg:    {resp: wire.CmdSendAck, needsAuth: true, async: true, fn: (*Server).handleSendMsg},
	wire.CmdHistoryReq: {resp: wire.CmdHistoryResp, needsAuth: true, fn: (*Server).handleHistory},

	wire.CmdConvListReq:    {resp: wire.CmdConvListResp, needsAuth: true, fn: (*Server).handleConvList},
	wire.CmdConvMembersReq: {resp: wire.CmdConvMembersResp, needsAuth: true, fn: (*Server).handleConvMembers},
	wire.CmdLeaveConvReq:   {resp: wire.CmdLeaveConvResp, needsAuth: true, fn: (*Server).handleLeaveConv},

	wire.CmdProfileUpdate: {resp: wire.CmdProfileUpdateResp, needsAuth: true, fn: (*Server).handleProfileUpdate},
	wire.CmdAvatarUpdate:  {resp: wire.CmdAvatarUpdateResp, needsAuth: true, fn: (*Server).handleAvatarUpdate},

	wire.CmdFriendListReq:    {resp: wire.CmdFriendListResp, needsAuth: true, fn: (*Server).handleFriendList},
	wire.CmdFriendSearchReq:  {resp: wire.CmdFriendSearchResp, needsAuth: true, fn: (*Server).handleFriendSearch},
	wire.CmdFriendAddReq:     {resp: wire.CmdFriendAddResp, needsAuth: true, fn: (*Server).handleFriendAdd},
	wire.CmdFriendReqListReq: {resp: wire.CmdFriendReqListResp, needsAuth: true, fn: (*Server).handleFriendReqList},
	wire.CmdFriendAcceptReq:  {resp: wire.CmdFriendAcceptResp, needsAuth: true, fn: (*Server).handleFriendAccept},
	wire.CmdFriendRejectReq:  {resp: wire.CmdFriendRejectResp, needsAuth: true, fn: (*Server).handleFriendReject},
	wire.CmdFriendDeleteReq:  {resp: wire.CmdFriendDeleteResp, needsAuth: true, fn: (*Server).handleFriendDelete},

	wire.CmdOpenSingleConvReq: {resp: wire.CmdOpenSingleConvResp, needsAuth: true, fn: (*Server).handleOpenSingleConv},
	wire.CmdCreateGroupReq:    {resp: wire.CmdCreateGroupResp, needsAuth: true, fn: (*Server).handleCreateGroup},

	wire.CmdMuteMemberReq:   {resp: wire.CmdMuteMemberResp, needsAuth: true, fn: (*Server).handleMuteMember},
	wire.CmdUnmuteMemberReq: {resp: wire.CmdUnmuteMemberResp, needsAuth: true, fn: (*Server).handleUnmuteMember},
	wire.CmdSetAdminReq:     {resp: wire.CmdSetAdminResp, needsAuth: true, fn: (*Server).handleSetAdmin},

	wire.CmdGroupSearchReq:      {resp: wire.CmdGroupSearchResp, needsAuth: true, fn: (*Server).handleGroupSearch},
	wire.CmdGroupJoinReq:        {resp: wire.CmdGroupJoinResp, needsAuth: true, fn: (*Server).handleGroupJoin},
	wire.CmdGroupJoinReqListReq: {resp: wire.CmdGroupJoinReqListResp, needsAuth: true, fn: (*Server).handleGroupJoinReqList},
	wire.CmdGroupJoinAcceptReq:  {resp: wire.CmdGroupJoinAcceptResp, needsAuth: true, fn: (*Server).handleGroupJoinAccept},
}
