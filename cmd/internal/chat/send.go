package chat

import (
	"context"
	"fmt"
	"time"

	"parley/cmd/internal/store"
	"parley/cmd/internal/wire"
)

// handleSendMsg is the message ingest path: validate, allocate seq, persist,
// ack the sender, broadcast to recipients. It runs on its own goroutine (see
// the dispatch table) so the session keeps draining frames while the store
// round-trip is in flight.
//
// Ordering contract: pushes for one conversation arrive in seq order, and a
// SEND_ACK with seq S is never followed by a push for that conversation with
// seq <= S. The store linearizes seq allocation but not the enqueue that
// follows it, so the persist+ack+broadcast sequence runs under the
// conversation's send lane.
func (s *Server) handleSendMsg(ctx context.Context, sess *session, payload []byte) {
	var req wire.SendMsgReq
	if !s.decodeInto(sess, wire.CmdSendAck, payload, &req) {
		return
	}

	if req.Content == "" {
		sess.send(wire.CmdSendAck, wire.ErrResp(wire.CodeInvalidParam, "content is required"))
		return
	}
	if req.MsgType == wire.MsgTypeSystem {
		sess.send(wire.CmdSendAck, wire.ErrResp(wire.CodeInvalidParam, "SYSTEM is server-only"))
		return
	}

	userID, _ := sess.identity()

	convID := int64(req.ConversationID)
	if convID <= 0 {
		convID = s.cfg.WorldConvID
	}

	if convID != s.cfg.WorldConvID {
		member, err := s.store.MemberOf(ctx, convID, userID)
		if err != nil {
			code, msg := errToCode(err)
			sess.sendErr(code, msg)
			return
		}
		if now := nowMS(); member.MutedUntilMS > now {
			deadline := time.UnixMilli(member.MutedUntilMS).UTC().Format("2006-01-02 15:04:05")
			sess.sendErr(wire.CodeMuted, "muted until "+deadline)
			return
		}
	}

	msgType := store.MsgType(req.MsgType)
	if msgType == "" {
		msgType = store.MsgText
	}

	lane := s.sendLane(convID)
	lane.Lock()
	defer lane.Unlock()

	msg, err := s.store.AppendMessage(ctx, convID, userID, msgType, req.Content, nowMS())
	if err != nil {
		// A session that died mid-persist gets nothing; anyone else gets the
		// out-of-band DB error. No broadcast either way.
		if ctx.Err() != nil || !sess.alive() {
			return
		}
		s.log.Error("send.persist.fail", "session_id", sess.id, "conversation_id", convID, "err", err)
		sess.sendErr(wire.CodeServerErrorDB, "message not stored")
		return
	}
	s.metrics.MessagesPersisted.Inc()

	ack := wire.SendAck{
		Resp:         wire.OKResp,
		ClientMsgID:  req.ClientMsgID,
		ServerMsgID:  wire.ID(msg.ID),
		ServerTimeMS: msg.ServerTimeMS,
		Seq:          msg.Seq,
	}
	sess.send(wire.CmdSendAck, ack)

	if err := s.broadcastMessage(ctx, msg, sess.senderName(), sess); err != nil {
		s.log.Error("send.broadcast.fail", "conversation_id", convID, "err", err)
		sess.sendErr(wire.CodeServerErrorPush, "broadcast failed")
	}
}

// broadcastMessage fans one stored message out to every online session of
// every member, excluding the originating session (it already has the ack;
// the sender's other devices still get the push).
func (s *Server) broadcastMessage(ctx context.Context, msg store.Message, senderName string, exclude *session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast panic: %v", r)
		}
	}()

	convType, memberIDs, ok := s.membership(ctx, msg.ConversationID)

	push := wire.MsgPush{
		ConversationID:    wire.ID(msg.ConversationID),
		ConversationType:  string(convType),
		ServerMsgID:       wire.ID(msg.ID),
		SenderID:          wire.ID(msg.SenderID),
		SenderDisplayName: senderName,
		MsgType:           string(msg.Type),
		ServerTimeMS:      msg.ServerTimeMS,
		Seq:               msg.Seq,
		Content:           msg.Content,
	}
	if msg.Type == store.MsgSystem {
		push.SenderID = 0
		push.SenderDisplayName = ""
	}
	frame := wire.EncodeJSON(wire.CmdMsgPush, push)

	if !ok {
		// Degraded path: membership is unknown, deliver to every
		// authenticated session rather than losing the message.
		s.log.Warn("broadcast.membership.unavailable", "conversation_id", msg.ConversationID)
		for _, t := range s.registry.authenticated() {
			if t != exclude {
				t.enqueue(frame)
			}
		}
		return nil
	}

	for _, uid := range memberIDs {
		for _, t := range s.registry.sessionsFor(uid) {
			if t != exclude {
				t.enqueue(frame)
			}
		}
	}
	return nil
}

// systemMessage persists and broadcasts a SYSTEM message (senderId 0).
// Takes the conversation's send lane for the same ordering reason as
// handleSendMsg.
func (s *Server) systemMessage(ctx context.Context, convID int64, content string) {
	lane := s.sendLane(convID)
	lane.Lock()
	defer lane.Unlock()

	msg, err := s.store.AppendMessage(ctx, convID, 0, store.MsgSystem, content, nowMS())
	if err != nil {
		s.log.Error("system_message.persist.fail", "conversation_id", convID, "err", err)
		return
	}
	s.metrics.MessagesPersisted.Inc()
	if err := s.broadcastMessage(ctx, msg, "", nil); err != nil {
		s.log.Error("system_message.broadcast.fail", "conversation_id", convID, "err", err)
	}
}

// membership resolves a conversation's type and member ids, preferring the
// cache and populating it on a store hit. ok=false means the degraded
// registry-wide fallback applies.
func (s *Server) membership(ctx context.Context, convID int64) (store.ConvType, []int64, bool) {
	if e, hit := s.cache.conv(convID); hit {
		s.metrics.CacheHits.Inc()
		return e.Type, e.MemberIDs, true
	}
	s.metrics.CacheMisses.Inc()

	typ, ids, err := s.store.MemberIDs(ctx, convID)
	if err != nil {
		return "", nil, false
	}
	s.cache.putConv(convID, typ, ids)
	return typ, ids, true
}

// ---- targeted pushes ----

// pushToUser enqueues a frame to every online session of one user.
func (s *Server) pushToUser(userID int64, command string, v any) {
	frame := wire.EncodeJSON(command, v)
	for _, t := range s.registry.sessionsFor(userID) {
		t.enqueue(frame)
	}
}

// pushConvList recomputes and pushes a user's conversation list.
func (s *Server) pushConvList(ctx context.Context, userID int64) {
	resp, err := s.convListResp(ctx, userID)
	if err != nil {
		s.log.Error("push.conv_list.fail", "user_id", userID, "err", err)
		return
	}
	s.pushToUser(userID, wire.CmdConvListResp, resp)
}

// pushFriendList recomputes and pushes a user's friend list.
func (s *Server) pushFriendList(ctx context.Context, userID int64) {
	resp, err := s.friendListResp(ctx, userID)
	if err != nil {
		s.log.Error("push.friend_list.fail", "user_id", userID, "err", err)
		return
	}
	s.pushToUser(userID, wire.CmdFriendListResp, resp)
}

// pushFriendReqList recomputes and pushes a user's incoming friend requests.
func (s *Server) pushFriendReqList(ctx context.Context, userID int64) {
	resp, err := s.friendReqListResp(ctx, userID)
	if err != nil {
		s.log.Error("push.friend_req_list.fail", "user_id", userID, "err", err)
		return
	}
	s.pushToUser(userID, wire.CmdFriendReqListResp, resp)
}

// pushMemberList pushes the refreshed member list to every online member of
// the conversation.
func (s *Server) pushMemberList(ctx context.Context, convID int64) {
	resp, err := s.convMembersResp(ctx, convID)
	if err != nil {
		s.log.Error("push.member_list.fail", "conversation_id", convID, "err", err)
		return
	}
	_, memberIDs, ok := s.membership(ctx, convID)
	if !ok {
		return
	}
	frame := wire.EncodeJSON(wire.CmdConvMembersResp, resp)
	for _, uid := range memberIDs {
		for _, t := range s.registry.sessionsFor(uid) {
			t.enqueue(frame)
		}
	}
}

// pushGroupJoinReqList recomputes and pushes the pending join requests
// visible to one admin.
func (s *Server) pushGroupJoinReqList(ctx context.Context, userID int64) {
	resp, err := s.groupJoinReqListResp(ctx, userID)
	if err != nil {
		s.log.Error("push.group_join_req_list.fail", "user_id", userID, "err", err)
		return
	}
	s.pushToUser(userID, wire.CmdGroupJoinReqListResp, resp)
}

// groupAdminIDs returns the OWNER and ADMIN user ids of a group.
func (s *Server) groupAdminIDs(ctx context.Context, convID int64) []int64 {
	members, err := s.memberUsers(ctx, convID)
	if err != nil {
		return nil
	}
	var out []int64
	for _, m := range members {
		if m.Role == store.RoleOwner || m.Role == store.RoleAdmin {
			out = append(out, m.UserID)
		}
	}
	return out
}
