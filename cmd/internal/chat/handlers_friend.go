package chat

import (
	"context"
	"errors"
	"strings"

	"parley/cmd/internal/store"
	"parley/cmd/internal/wire"
)

const searchLimit = 20

func (s *Server) handleFriendList(ctx context.Context, sess *session, payload []byte) {
	userID, _ := sess.identity()
	resp, err := s.friendListResp(ctx, userID)
	if err != nil {
		s.fail(sess, wire.CmdFriendListResp, err)
		return
	}
	sess.send(wire.CmdFriendListResp, resp)
}

func (s *Server) friendListResp(ctx context.Context, userID int64) (wire.FriendListResp, error) {
	friends, err := s.store.Friends(ctx, userID)
	if err != nil {
		return wire.FriendListResp{}, err
	}
	out := make([]wire.FriendInfo, 0, len(friends))
	for _, u := range friends {
		out = append(out, wire.FriendInfo{
			UserID:      wire.ID(u.ID),
			Account:     u.Account,
			DisplayName: u.DisplayName,
		})
	}
	return wire.FriendListResp{Resp: wire.OKResp, Friends: out}, nil
}

func (s *Server) handleFriendSearch(ctx context.Context, sess *session, payload []byte) {
	var req wire.FriendSearchReq
	if !s.decodeInto(sess, wire.CmdFriendSearchResp, payload, &req) {
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		sess.send(wire.CmdFriendSearchResp, wire.FriendSearchResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "query is required"),
		})
		return
	}

	users, err := s.store.SearchUsers(ctx, query, searchLimit)
	if err != nil {
		s.fail(sess, wire.CmdFriendSearchResp, err)
		return
	}

	userID, _ := sess.identity()
	out := make([]wire.FriendInfo, 0, len(users))
	for _, u := range users {
		if u.ID == userID {
			continue
		}
		out = append(out, wire.FriendInfo{
			UserID:      wire.ID(u.ID),
			Account:     u.Account,
			DisplayName: u.DisplayName,
		})
	}
	sess.send(wire.CmdFriendSearchResp, wire.FriendSearchResp{Resp: wire.OKResp, Users: out})
}

func (s *Server) handleFriendAdd(ctx context.Context, sess *session, payload []byte) {
	var req wire.FriendAddReq
	if !s.decodeInto(sess, wire.CmdFriendAddResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	targetID := int64(req.TargetUserID)

	if targetID <= 0 || targetID == userID {
		sess.send(wire.CmdFriendAddResp, wire.FriendAddResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "targetUserId must name another user"),
		})
		return
	}
	if _, err := s.store.UserByID(ctx, targetID); err != nil {
		s.fail(sess, wire.CmdFriendAddResp, err)
		return
	}

	friends, err := s.store.AreFriends(ctx, userID, targetID)
	if err != nil {
		s.fail(sess, wire.CmdFriendAddResp, err)
		return
	}
	if friends {
		sess.send(wire.CmdFriendAddResp, wire.FriendAddResp{
			Resp: wire.ErrResp(wire.CodeAlreadyFriend, "already friends"),
		})
		return
	}

	fr, err := s.store.CreateFriendRequest(ctx, userID, targetID, req.Source, req.HelloMsg, nowMS())
	if err != nil {
		s.fail(sess, wire.CmdFriendAddResp, err)
		return
	}

	sess.send(wire.CmdFriendAddResp, wire.FriendAddResp{Resp: wire.OKResp, RequestID: wire.ID(fr.ID)})

	// The target's online sessions see the new request immediately.
	s.pushFriendReqList(ctx, targetID)
}

func (s *Server) handleFriendReqList(ctx context.Context, sess *session, payload []byte) {
	userID, _ := sess.identity()
	resp, err := s.friendReqListResp(ctx, userID)
	if err != nil {
		s.fail(sess, wire.CmdFriendReqListResp, err)
		return
	}
	sess.send(wire.CmdFriendReqListResp, resp)
}

func (s *Server) friendReqListResp(ctx context.Context, userID int64) (wire.FriendReqListResp, error) {
	reqs, err := s.store.PendingFriendRequests(ctx, userID)
	if err != nil {
		return wire.FriendReqListResp{}, err
	}
	out := make([]wire.FriendReqInfo, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, wire.FriendReqInfo{
			RequestID:       wire.ID(r.ID),
			FromUserID:      wire.ID(r.From),
			FromAccount:     r.FromAccount,
			FromDisplayName: r.FromDisplayName,
			Source:          r.Source,
			HelloMsg:        r.HelloMsg,
			CreatedAtMS:     r.CreatedAtMS,
		})
	}
	return wire.FriendReqListResp{Resp: wire.OKResp, Requests: out}, nil
}

func (s *Server) handleFriendAccept(ctx context.Context, sess *session, payload []byte) {
	var req wire.FriendAcceptReq
	if !s.decodeInto(sess, wire.CmdFriendAcceptResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()

	acc, err := s.store.AcceptFriendRequest(ctx, int64(req.RequestID), userID, nowMS())
	if err != nil {
		if errors.Is(err, store.ErrForbidden) {
			sess.send(wire.CmdFriendAcceptResp, wire.FriendAcceptResp{
				Resp: wire.ErrResp(wire.CodeNoPermission, "not your request to accept"),
			})
			return
		}
		s.fail(sess, wire.CmdFriendAcceptResp, err)
		return
	}

	sess.send(wire.CmdFriendAcceptResp, wire.FriendAcceptResp{
		Resp:           wire.OKResp,
		FriendUserID:   wire.ID(acc.Request.From),
		ConversationID: wire.ID(acc.ConversationID),
	})

	// Both sides see the new friendship, the SINGLE conversation it opened,
	// and the request leaving their pending lists.
	s.pushFriendList(ctx, userID)
	s.pushFriendList(ctx, acc.Request.From)
	s.pushConvList(ctx, userID)
	s.pushConvList(ctx, acc.Request.From)
	s.pushFriendReqList(ctx, userID)
	s.pushFriendReqList(ctx, acc.Request.From)
}

func (s *Server) handleFriendReject(ctx context.Context, sess *session, payload []byte) {
	var req wire.FriendRejectReq
	if !s.decodeInto(sess, wire.CmdFriendRejectResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()

	r, err := s.store.RejectFriendRequest(ctx, int64(req.RequestID), userID, nowMS())
	if err != nil {
		if errors.Is(err, store.ErrForbidden) {
			sess.send(wire.CmdFriendRejectResp, wire.FriendRejectResp{
				Resp: wire.ErrResp(wire.CodeNoPermission, "not your request to reject"),
			})
			return
		}
		s.fail(sess, wire.CmdFriendRejectResp, err)
		return
	}

	sess.send(wire.CmdFriendRejectResp, wire.FriendRejectResp{Resp: wire.OKResp})

	// The requester's pending list changed too (their outgoing request died).
	s.pushFriendReqList(ctx, userID)
	s.pushFriendReqList(ctx, r.From)
}

func (s *Server) handleFriendDelete(ctx context.Context, sess *session, payload []byte) {
	var req wire.FriendDeleteReq
	if !s.decodeInto(sess, wire.CmdFriendDeleteResp, payload, &req) {
		return
	}

	userID, _ := sess.identity()
	friendID := int64(req.FriendUserID)

	if friendID <= 0 || friendID == userID {
		sess.send(wire.CmdFriendDeleteResp, wire.FriendDeleteResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "friendUserId must name another user"),
		})
		return
	}

	// The SINGLE conversation and its history survive; only the friendship
	// edge goes away.
	if err := s.store.DeleteFriend(ctx, userID, friendID); err != nil {
		s.fail(sess, wire.CmdFriendDeleteResp, err)
		return
	}

	sess.send(wire.CmdFriendDeleteResp, wire.FriendDeleteResp{Resp: wire.OKResp})

	s.pushFriendList(ctx, userID)
	s.pushFriendList(ctx, friendID)
}
