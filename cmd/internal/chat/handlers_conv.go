package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/cmd/internal/store"
	"parley/cmd/internal/wire"
)

func (s *Server) handleConvList(ctx context.Context, sess *session, payload []byte) {
	userID, _ := sess.identity()
	resp, err := s.convListResp(ctx, userID)
	if err != nil {
		s.fail(sess, wire.CmdConvListResp, err)
		return
	}
	sess.send(wire.CmdConvListResp, resp)
}

func (s *Server) convListResp(ctx context.Context, userID int64) (wire.ConvListResp, error) {
	sums, err := s.store.ConversationsOf(ctx, userID)
	if err != nil {
		return wire.ConvListResp{}, err
	}
	out := make([]wire.ConvSummary, 0, len(sums))
	for _, c := range sums {
		out = append(out, wire.ConvSummary{
			ConversationID:   wire.ID(c.ID),
			ConversationType: string(c.Type),
			Title:            c.Title,
			LastSeq:          c.LastSeq,
			LastServerTimeMS: c.LastServerTimeMS,
		})
	}
	return wire.ConvListResp{Resp: wire.OKResp, Conversations: out}, nil
}

func (s *Server) handleConvMembers(ctx context.Context, sess *session, payload []byte) {
	var req wire.ConvMembersReq
	if !s.decodeInto(sess, wire.CmdConvMembersResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	convID := int64(req.ConversationID)

	if _, err := s.store.MemberOf(ctx, convID, userID); err != nil {
		s.fail(sess, wire.CmdConvMembersResp, err)
		return
	}

	resp, err := s.convMembersResp(ctx, convID)
	if err != nil {
		s.fail(sess, wire.CmdConvMembersResp, err)
		return
	}
	sess.send(wire.CmdConvMembersResp, resp)
}

// memberUsers returns a conversation's joined member records, cache first.
func (s *Server) memberUsers(ctx context.Context, convID int64) ([]store.MemberUser, error) {
	if members, hit := s.cache.memberList(convID); hit {
		s.metrics.CacheHits.Inc()
		return members, nil
	}
	s.metrics.CacheMisses.Inc()

	members, err := s.store.Members(ctx, convID)
	if err != nil {
		return nil, err
	}
	s.cache.putMemberList(convID, members)
	return members, nil
}

func (s *Server) convMembersResp(ctx context.Context, convID int64) (wire.ConvMembersResp, error) {
	members, err := s.memberUsers(ctx, convID)
	if err != nil {
		return wire.ConvMembersResp{}, err
	}
	out := make([]wire.MemberInfo, 0, len(members))
	for _, m := range members {
		out = append(out, wire.MemberInfo{
			UserID:       wire.ID(m.UserID),
			Account:      m.Account,
			DisplayName:  m.DisplayName,
			Role:         string(m.Role),
			MutedUntilMS: m.MutedUntilMS,
			AvatarB64:    s.avatarB64(m.AvatarPath),
		})
	}
	return wire.ConvMembersResp{Resp: wire.OKResp, ConversationID: wire.ID(convID), Members: out}, nil
}

func (s *Server) handleHistory(ctx context.Context, sess *session, payload []byte) {
	var req wire.HistoryReq
	if !s.decodeInto(sess, wire.CmdHistoryResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	convID := int64(req.ConversationID)
	if convID <= 0 {
		convID = s.cfg.WorldConvID
	}

	if _, err := s.store.MemberOf(ctx, convID, userID); err != nil {
		s.fail(sess, wire.CmdHistoryResp, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.HistoryDefaultLimit
	}
	if limit > s.cfg.HistoryMaxLimit {
		limit = s.cfg.HistoryMaxLimit
	}

	msgs, hasMore, err := s.store.History(ctx, convID, req.BeforeSeq, req.AfterSeq, limit)
	if err != nil {
		s.fail(sess, wire.CmdHistoryResp, err)
		return
	}

	// Sender display names resolve in one batch; deleted senders degrade to
	// an empty name rather than failing the page.
	senderIDs := make([]int64, 0, len(msgs))
	seen := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		if m.SenderID != 0 && !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	users, err := s.store.UsersByIDs(ctx, senderIDs)
	if err != nil {
		s.log.Warn("history.sender_lookup.fail", "conversation_id", convID, "err", err)
		users = nil
	}

	convType := wire.ConvTypeGroup
	if t, _, ok := s.membership(ctx, convID); ok {
		convType = string(t)
	}

	out := make([]wire.MsgPush, 0, len(msgs))
	nextBefore := int64(0)
	for _, m := range msgs {
		if nextBefore == 0 || m.Seq < nextBefore {
			nextBefore = m.Seq
		}
		p := wire.MsgPush{
			ConversationID:   wire.ID(convID),
			ConversationType: convType,
			ServerMsgID:      wire.ID(m.ID),
			SenderID:         wire.ID(m.SenderID),
			MsgType:          string(m.Type),
			ServerTimeMS:     m.ServerTimeMS,
			Seq:              m.Seq,
			Content:          m.Content,
		}
		if u, ok := users[m.SenderID]; ok {
			p.SenderDisplayName = u.DisplayName
		}
		out = append(out, p)
	}

	sess.send(wire.CmdHistoryResp, wire.HistoryResp{
		Resp:           wire.OKResp,
		ConversationID: wire.ID(convID),
		Messages:       out,
		HasMore:        hasMore,
		NextBeforeSeq:  nextBefore,
	})
}

func (s *Server) handleLeaveConv(ctx context.Context, sess *session, payload []byte) {
	var req wire.LeaveConvReq
	if !s.decodeInto(sess, wire.CmdLeaveConvResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	convID := int64(req.ConversationID)

	if convID == s.cfg.WorldConvID {
		sess.send(wire.CmdLeaveConvResp, wire.LeaveConvResp{
			Resp: wire.ErrResp(wire.CodeForbidden, "cannot leave the world conversation"),
		})
		return
	}

	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		s.fail(sess, wire.CmdLeaveConvResp, err)
		return
	}
	member, err := s.store.MemberOf(ctx, convID, userID)
	if err != nil {
		s.fail(sess, wire.CmdLeaveConvResp, err)
		return
	}

	members, err := s.store.Members(ctx, convID)
	if err != nil {
		s.fail(sess, wire.CmdLeaveConvResp, err)
		return
	}

	// The owner leaving, or a group shrinking below three remaining members,
	// dissolves the whole conversation; a group never exists with fewer
	// members than creation requires. SINGLE conversations always dissolve.
	dissolve := conv.Type == store.ConvSingle ||
		member.Role == store.RoleOwner ||
		len(members)-1 < 3

	if dissolve {
		// Announce while the membership still exists so everyone gets it.
		s.systemMessage(ctx, convID, fmt.Sprintf("%s dissolved the conversation", sess.senderName()))

		if err := s.store.DissolveConversation(ctx, convID); err != nil {
			s.fail(sess, wire.CmdLeaveConvResp, err)
			return
		}
		s.cache.invalidate(convID)

		sess.send(wire.CmdLeaveConvResp, wire.LeaveConvResp{
			Resp:           wire.OKResp,
			ConversationID: wire.ID(convID),
			Dissolved:      true,
		})
		for _, m := range members {
			s.pushConvList(ctx, m.UserID)
		}
		return
	}

	s.systemMessage(ctx, convID, fmt.Sprintf("%s left the group", sess.senderName()))

	if err := s.store.RemoveMember(ctx, convID, userID); err != nil {
		s.fail(sess, wire.CmdLeaveConvResp, err)
		return
	}
	s.cache.invalidate(convID)

	sess.send(wire.CmdLeaveConvResp, wire.LeaveConvResp{
		Resp:           wire.OKResp,
		ConversationID: wire.ID(convID),
	})

	s.pushConvList(ctx, userID)
	s.pushMemberList(ctx, convID)
}

func (s *Server) handleOpenSingleConv(ctx context.Context, sess *session, payload []byte) {
	var req wire.OpenSingleConvReq
	if !s.decodeInto(sess, wire.CmdOpenSingleConvResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	peerID := int64(req.PeerUserID)

	if peerID <= 0 || peerID == userID {
		sess.send(wire.CmdOpenSingleConvResp, wire.OpenSingleConvResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "peerUserId must name another user"),
		})
		return
	}

	friends, err := s.store.AreFriends(ctx, userID, peerID)
	if err != nil {
		s.fail(sess, wire.CmdOpenSingleConvResp, err)
		return
	}
	if !friends {
		sess.send(wire.CmdOpenSingleConvResp, wire.OpenSingleConvResp{
			Resp: wire.ErrResp(wire.CodeNotFriend, "add them as a friend first"),
		})
		return
	}

	convID, created, err := s.store.OpenSingle(ctx, userID, peerID)
	if err != nil {
		s.fail(sess, wire.CmdOpenSingleConvResp, err)
		return
	}

	sess.send(wire.CmdOpenSingleConvResp, wire.OpenSingleConvResp{
		Resp:           wire.OKResp,
		ConversationID: wire.ID(convID),
	})
	if created {
		s.pushConvList(ctx, userID)
		s.pushConvList(ctx, peerID)
	}
}

func (s *Server) handleCreateGroup(ctx context.Context, sess *session, payload []byte) {
	var req wire.CreateGroupReq
	if !s.decodeInto(sess, wire.CmdCreateGroupResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()

	memberIDs := make([]int64, 0, len(req.MemberIDs))
	seen := map[int64]bool{userID: true}
	for _, id := range req.MemberIDs {
		n := int64(id)
		if n > 0 && !seen[n] {
			seen[n] = true
			memberIDs = append(memberIDs, n)
		}
	}
	if len(memberIDs) < 2 {
		sess.send(wire.CmdCreateGroupResp, wire.CreateGroupResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "a group needs at least two other members"),
		})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = s.defaultGroupName(ctx, userID, memberIDs)
	}

	conv, err := s.store.CreateGroup(ctx, userID, name, memberIDs)
	if err != nil {
		s.fail(sess, wire.CmdCreateGroupResp, err)
		return
	}

	sess.send(wire.CmdCreateGroupResp, wire.CreateGroupResp{
		Resp:           wire.OKResp,
		ConversationID: wire.ID(conv.ID),
		Name:           conv.Name,
	})

	s.systemMessage(ctx, conv.ID, fmt.Sprintf("%s created the group %q", sess.senderName(), conv.Name))

	s.pushConvList(ctx, userID)
	for _, id := range memberIDs {
		s.pushConvList(ctx, id)
	}
}

// defaultGroupName joins up to three participant display names.
func (s *Server) defaultGroupName(ctx context.Context, ownerID int64, memberIDs []int64) string {
	ids := append([]int64{ownerID}, memberIDs...)
	if len(ids) > 3 {
		ids = ids[:3]
	}
	users, err := s.store.UsersByIDs(ctx, ids)
	if err != nil {
		return "Group chat"
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok && u.DisplayName != "" {
			names = append(names, u.DisplayName)
		}
	}
	if len(names) == 0 {
		return "Group chat"
	}
	return strings.Join(names, ", ")
}

// requireGroupAdmin loads the actor's membership and checks it can act on the
// target. Owners outrank admins; nobody acts on the owner.
func (s *Server) requireGroupAdmin(ctx context.Context, convID, actorID, targetID int64) (actor, target store.Member, err error) {
	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		return actor, target, err
	}
	if conv.Type != store.ConvGroup {
		return actor, target, store.ErrForbidden
	}

	actor, err = s.store.MemberOf(ctx, convID, actorID)
	if err != nil {
		return actor, target, err
	}
	if actor.Role != store.RoleOwner && actor.Role != store.RoleAdmin {
		return actor, target, store.ErrForbidden
	}

	target, err = s.store.MemberOf(ctx, convID, targetID)
	if err != nil {
		return actor, target, err
	}
	if target.Role == store.RoleOwner {
		return actor, target, store.ErrForbidden
	}
	// Admins cannot act on fellow admins; only the owner can.
	if target.Role == store.RoleAdmin && actor.Role != store.RoleOwner {
		return actor, target, store.ErrForbidden
	}
	return actor, target, nil
}

func (s *Server) handleMuteMember(ctx context.Context, sess *session, payload []byte) {
	var req wire.MuteMemberReq
	if !s.decodeInto(sess, wire.CmdMuteMemberResp, payload, &req) {
		return
	}

	if req.DurationSeconds <= 0 {
		sess.send(wire.CmdMuteMemberResp, wire.MuteMemberResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "durationSeconds must be positive"),
		})
		return
	}

	userID, _ := sess.identity()
	convID := int64(req.ConversationID)
	targetID := int64(req.TargetUserID)

	if _, _, err := s.requireGroupAdmin(ctx, convID, userID, targetID); err != nil {
		if errors.Is(err, store.ErrForbidden) {
			sess.send(wire.CmdMuteMemberResp, wire.MuteMemberResp{
				Resp: wire.ErrResp(wire.CodeNoPermission, "not allowed to mute this member"),
			})
			return
		}
		s.fail(sess, wire.CmdMuteMemberResp, err)
		return
	}

	untilMS := nowMS() + req.DurationSeconds*1000
	if err := s.store.SetMemberMute(ctx, convID, targetID, untilMS); err != nil {
		s.fail(sess, wire.CmdMuteMemberResp, err)
		return
	}
	s.cache.invalidate(convID)

	sess.send(wire.CmdMuteMemberResp, wire.MuteMemberResp{Resp: wire.OKResp, MutedUntilMS: untilMS})

	name := s.displayNameOf(ctx, targetID)
	until := time.UnixMilli(untilMS).UTC().Format("2006-01-02 15:04:05")
	s.systemMessage(ctx, convID, fmt.Sprintf("%s is muted until %s", name, until))
	s.pushMemberList(ctx, convID)
}

func (s *Server) handleUnmuteMember(ctx context.Context, sess *session, payload []byte) {
	var req wire.UnmuteMemberReq
	if !s.decodeInto(sess, wire.CmdUnmuteMemberResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	convID := int64(req.ConversationID)
	targetID := int64(req.TargetUserID)

	if _, _, err := s.requireGroupAdmin(ctx, convID, userID, targetID); err != nil {
		if errors.Is(err, store.ErrForbidden) {
			sess.send(wire.CmdUnmuteMemberResp, wire.UnmuteMemberResp{
				Resp: wire.ErrResp(wire.CodeNoPermission, "not allowed to unmute this member"),
			})
			return
		}
		s.fail(sess, wire.CmdUnmuteMemberResp, err)
		return
	}

	if err := s.store.SetMemberMute(ctx, convID, targetID, 0); err != nil {
		s.fail(sess, wire.CmdUnmuteMemberResp, err)
		return
	}
	s.cache.invalidate(convID)

	sess.send(wire.CmdUnmuteMemberResp, wire.UnmuteMemberResp{Resp: wire.OKResp})

	s.systemMessage(ctx, convID, fmt.Sprintf("%s is no longer muted", s.displayNameOf(ctx, targetID)))
	s.pushMemberList(ctx, convID)
}

func (s *Server) handleSetAdmin(ctx context.Context, sess *session, payload []byte) {
	var req wire.SetAdminReq
	if !s.decodeInto(sess, wire.CmdSetAdminResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	convID := int64(req.ConversationID)
	targetID := int64(req.TargetUserID)

	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		s.fail(sess, wire.CmdSetAdminResp, err)
		return
	}

	// Promotion and demotion are owner-only, and the owner's own role is
	// immutable.
	actor, err := s.store.MemberOf(ctx, convID, userID)
	if err != nil {
		s.fail(sess, wire.CmdSetAdminResp, err)
		return
	}
	if conv.Type != store.ConvGroup || actor.Role != store.RoleOwner || targetID == userID {
		sess.send(wire.CmdSetAdminResp, wire.SetAdminResp{
			Resp: wire.ErrResp(wire.CodeNoPermission, "only the owner can change admin roles"),
		})
		return
	}

	target, err := s.store.MemberOf(ctx, convID, targetID)
	if err != nil {
		s.fail(sess, wire.CmdSetAdminResp, err)
		return
	}
	if target.Role == store.RoleOwner {
		sess.send(wire.CmdSetAdminResp, wire.SetAdminResp{
			Resp: wire.ErrResp(wire.CodeNoPermission, "the owner's role cannot change"),
		})
		return
	}

	role := store.RoleMember
	verb := "is no longer an admin"
	if req.Admin {
		role = store.RoleAdmin
		verb = "is now an admin"
	}
	if err := s.store.SetMemberRole(ctx, convID, targetID, role); err != nil {
		s.fail(sess, wire.CmdSetAdminResp, err)
		return
	}
	s.cache.invalidate(convID)

	sess.send(wire.CmdSetAdminResp, wire.SetAdminResp{Resp: wire.OKResp})

	s.systemMessage(ctx, convID, fmt.Sprintf("%s %s", s.displayNameOf(ctx, targetID), verb))
	s.pushMemberList(ctx, convID)
}

// displayNameOf resolves one user's display name, "" when unknown.
func (s *Server) displayNameOf(ctx context.Context, userID int64) string {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return ""
	}
	return u.DisplayName
}
