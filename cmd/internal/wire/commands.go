package wire

// Client requests.
const (
	CmdRegister = "REGISTER"
	CmdLogin    = "LOGIN"
	CmdPing     = "PING"

	CmdSendMsg    = "SEND_MSG"
	CmdHistoryReq = "HISTORY_REQ"

	CmdConvListReq    = "CONV_LIST_REQ"
	CmdConvMembersReq = "CONV_MEMBERS_REQ"
	CmdLeaveConvReq   = "LEAVE_CONV_REQ"

	CmdProfileUpdate = "PROFILE_UPDATE"
	CmdAvatarUpdate  = "AVATAR_UPDATE"

	CmdFriendListReq    = "FRIEND_LIST_REQ"
	CmdFriendSearchReq  = "FRIEND_SEARCH_REQ"
	CmdFriendAddReq     = "FRIEND_ADD_REQ"
	CmdFriendReqListReq = "FRIEND_REQ_LIST_REQ"
	CmdFriendAcceptReq  = "FRIEND_ACCEPT_REQ"
	CmdFriendRejectReq  = "FRIEND_REJECT_REQ"
	CmdFriendDeleteReq  = "FRIEND_DELETE_REQ"

	CmdOpenSingleConvReq = "OPEN_SINGLE_CONV_REQ"
	CmdCreateGroupReq    = "CREATE_GROUP_REQ"

	CmdMuteMemberReq   = "MUTE_MEMBER_REQ"
	CmdUnmuteMemberReq = "UNMUTE_MEMBER_REQ"
	CmdSetAdminReq     = "SET_ADMIN_REQ"

	CmdGroupSearchReq      = "GROUP_SEARCH_REQ"
	CmdGroupJoinReq        = "GROUP_JOIN_REQ"
	CmdGroupJoinReqListReq = "GROUP_JOIN_REQ_LIST_REQ"
	CmdGroupJoinAcceptReq  = "GROUP_JOIN_ACCEPT_REQ"
)

// Server responses and pushes.
const (
	CmdRegisterResp = "REGISTER_RESP"
	CmdLoginResp    = "LOGIN_RESP"
	CmdPong         = "PONG"
	CmdEcho         = "ECHO"
	CmdError        = "ERROR"

	CmdSendAck      = "SEND_ACK"
	CmdMsgPush      = "MSG_PUSH"
	CmdHistoryResp  = "HISTORY_RESP"

	CmdConvListResp    = "CONV_LIST_RESP"
	CmdConvMembersResp = "CONV_MEMBERS_RESP"
	CmdLeaveConvResp   = "LEAVE_CONV_RESP"

	CmdProfileUpdateResp = "PROFILE_UPDATE_RESP"
	CmdAvatarUpdateResp  = "AVATAR_UPDATE_RESP"

	CmdFriendListResp    = "FRIEND_LIST_RESP"
	CmdFriendSearchResp  = "FRIEND_SEARCH_RESP"
	CmdFriendAddResp     = "FRIEND_ADD_RESP"
	CmdFriendReqListResp = "FRIEND_REQ_LIST_RESP"
	CmdFriendAcceptResp  = "FRIEND_ACCEPT_RESP"
	CmdFriendRejectResp  = "FRIEND_REJECT_RESP"
	CmdFriendDeleteResp  = "FRIEND_DELETE_RESP"

	CmdOpenSingleConvResp = "OPEN_SINGLE_CONV_RESP"
	CmdCreateGroupResp    = "CREATE_GROUP_RESP"

	CmdMuteMemberResp   = "MUTE_MEMBER_RESP"
	CmdUnmuteMemberResp = "UNMUTE_MEMBER_RESP"
	CmdSetAdminResp     = "SET_ADMIN_RESP"

	CmdGroupSearchResp      = "GROUP_SEARCH_RESP"
	CmdGroupJoinResp        = "GROUP_JOIN_RESP"
	CmdGroupJoinReqListResp = "GROUP_JOIN_REQ_LIST_RESP"
	CmdGroupJoinAcceptResp  = "GROUP_JOIN_ACCEPT_RESP"
)

// Wire-stable error codes.
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidParam     = "INVALID_PARAM"
	CodePasswordMismatch = "PASSWORD_MISMATCH"

	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeLoginFailed      = "LOGIN_FAILED"
	CodeAccountExists    = "ACCOUNT_EXISTS"

	CodeForbidden        = "FORBIDDEN"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNoPermission     = "NO_PERMISSION"

	CodeNotFound       = "NOT_FOUND"
	CodeNotMember      = "NOT_MEMBER"
	CodeNotFriend      = "NOT_FRIEND"
	CodeAlreadyFriend  = "ALREADY_FRIEND"
	CodeAlreadyPending = "ALREADY_PENDING"
	CodeAlreadyMember  = "ALREADY_MEMBER"
	CodeAlreadyHandled = "ALREADY_HANDLED"
	CodeInvalidState   = "INVALID_STATE"
	CodeMuted          = "MUTED"

	CodeServerError     = "SERVER_ERROR"
	CodeServerErrorDB   = "SERVER_ERROR_DB"
	CodeServerErrorPush = "SERVER_ERROR_PUSH"
	CodeProtocolError   = "PROTOCOL_ERROR"
)

// Conversation types on the wire.
const (
	ConvTypeSingle = "SINGLE"
	ConvTypeGroup  = "GROUP"
)

// Message types on the wire.
const (
	MsgTypeText   = "TEXT"
	MsgTypeSystem = "SYSTEM"
)

// Member roles on the wire.
const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)
