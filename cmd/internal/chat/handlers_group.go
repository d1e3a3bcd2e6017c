package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"parley/cmd/internal/store"
	"parley/cmd/internal/wire"
)

func (s *Server) handleGroupSearch(ctx context.Context, sess *session, payload []byte) {
	var req wire.GroupSearchReq
	if !s.decodeInto(sess, wire.CmdGroupSearchResp, payload, &req) {
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		sess.send(wire.CmdGroupSearchResp, wire.GroupSearchResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "query is required"),
		})
		return
	}

	groups, err := s.store.SearchGroups(ctx, query, searchLimit)
	if err != nil {
		s.fail(sess, wire.CmdGroupSearchResp, err)
		return
	}

	out := make([]wire.GroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, wire.GroupSummary{
			ConversationID: wire.ID(g.ID),
			Name:           g.Name,
			MemberCount:    g.MemberCount,
		})
	}
	sess.send(wire.CmdGroupSearchResp, wire.GroupSearchResp{Resp: wire.OKResp, Groups: out})
}

func (s *Server) handleGroupJoin(ctx context.Context, sess *session, payload []byte) {
	var req wire.GroupJoinReq
	if !s.decodeInto(sess, wire.CmdGroupJoinResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	convID := int64(req.ConversationID)

	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		s.fail(sess, wire.CmdGroupJoinResp, err)
		return
	}
	if conv.Type != store.ConvGroup {
		sess.send(wire.CmdGroupJoinResp, wire.GroupJoinResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "not a group conversation"),
		})
		return
	}

	if _, err := s.store.MemberOf(ctx, convID, userID); err == nil {
		sess.send(wire.CmdGroupJoinResp, wire.GroupJoinResp{
			Resp: wire.ErrResp(wire.CodeAlreadyMember, "already a member"),
		})
		return
	} else if !errors.Is(err, store.ErrNotMember) && !errors.Is(err, store.ErrNotFound) {
		s.fail(sess, wire.CmdGroupJoinResp, err)
		return
	}

	gr, err := s.store.CreateGroupJoinRequest(ctx, userID, convID, req.HelloMsg, nowMS())
	if err != nil {
		s.fail(sess, wire.CmdGroupJoinResp, err)
		return
	}

	sess.send(wire.CmdGroupJoinResp, wire.GroupJoinResp{Resp: wire.OKResp, RequestID: wire.ID(gr.ID)})

	// Every owner/admin of the group sees the pending request.
	for _, adminID := range s.groupAdminIDs(ctx, convID) {
		s.pushGroupJoinReqList(ctx, adminID)
	}
}

func (s *Server) handleGroupJoinReqList(ctx context.Context, sess *session, payload []byte) {
	userID, _ := sess.identity()
	resp, err := s.groupJoinReqListResp(ctx, userID)
	if err != nil {
		s.fail(sess, wire.CmdGroupJoinReqListResp, err)
		return
	}
	sess.send(wire.CmdGroupJoinReqListResp, resp)
}

func (s *Server) groupJoinReqListResp(ctx context.Context, adminID int64) (wire.GroupJoinReqListResp, error) {
	reqs, err := s.store.PendingGroupJoinRequests(ctx, adminID)
	if err != nil {
		return wire.GroupJoinReqListResp{}, err
	}
	out := make([]wire.GroupJoinReqInfo, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, wire.GroupJoinReqInfo{
			RequestID:       wire.ID(r.ID),
			ConversationID:  wire.ID(r.GroupID),
			GroupName:       r.GroupName,
			FromUserID:      wire.ID(r.From),
			FromDisplayName: r.FromDisplayName,
			HelloMsg:        r.HelloMsg,
			CreatedAtMS:     r.CreatedAtMS,
		})
	}
	return wire.GroupJoinReqListResp{Resp: wire.OKResp, Requests: out}, nil
}

func (s *Server) handleGroupJoinAccept(ctx context.Context, sess *session, payload []byte) {
	var req wire.GroupJoinAcceptReq
	if !s.decodeInto(sess, wire.CmdGroupJoinAcceptResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()

	gr, err := s.store.AcceptGroupJoinRequest(ctx, int64(req.RequestID), userID, nowMS())
	if err != nil {
		if errors.Is(err, store.ErrForbidden) {
			sess.send(wire.CmdGroupJoinAcceptResp, wire.GroupJoinAcceptResp{
				Resp: wire.ErrResp(wire.CodeNoPermission, "only a group admin can accept"),
			})
			return
		}
		s.fail(sess, wire.CmdGroupJoinAcceptResp, err)
		return
	}
	s.cache.invalidate(gr.GroupID)

	sess.send(wire.CmdGroupJoinAcceptResp, wire.GroupJoinAcceptResp{
		Resp:           wire.OKResp,
		ConversationID: wire.ID(gr.GroupID),
	})

	s.systemMessage(ctx, gr.GroupID, fmt.Sprintf("%s joined the group", s.displayNameOf(ctx, gr.From)))

	s.pushConvList(ctx, gr.From)
	s.pushMemberList(ctx, gr.GroupID)

	// The request left every admin's pending list, not just the acceptor's.
	for _, adminID := range s.groupAdminIDs(ctx, gr.GroupID) {
		s.pushGroupJoinReqList(ctx, adminID)
	}
}
