package chat

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"parley/cmd/internal/store"
	"parley/cmd/internal/wire"
	"parley/cmd/security/password"
)

const (
	minAccountLen     = 3
	maxAccountLen     = 32
	maxDisplayNameLen = 48
	maxAvatarBytes    = 256 << 10
)

func (s *Server) handlePing(ctx context.Context, sess *session, payload []byte) {
	// PONG carries an empty object, not a status envelope.
	sess.send(wire.CmdPong, struct{}{})
}

func (s *Server) handleRegister(ctx context.Context, sess *session, payload []byte) {
	var req wire.RegisterReq
	if !s.decodeInto(sess, wire.CmdRegisterResp, payload, &req) {
		return
	}

	account := strings.TrimSpace(req.Account)
	if l := len(account); l < minAccountLen || l > maxAccountLen {
		sess.send(wire.CmdRegisterResp, wire.RegisterResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, fmt.Sprintf("account must be %d-%d characters", minAccountLen, maxAccountLen)),
		})
		return
	}
	if req.Password != req.ConfirmPassword {
		sess.send(wire.CmdRegisterResp, wire.RegisterResp{
			Resp: wire.ErrResp(wire.CodePasswordMismatch, "passwords do not match"),
		})
		return
	}

	credential, err := s.verifier.Derive(req.Password)
	if err != nil {
		msg := "invalid password"
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			msg = err.Error()
		}
		sess.send(wire.CmdRegisterResp, wire.RegisterResp{Resp: wire.ErrResp(wire.CodeInvalidParam, msg)})
		return
	}

	user, err := s.store.CreateUser(ctx, account, credential, randomDisplayName())
	if err != nil {
		s.fail(sess, wire.CmdRegisterResp, err)
		return
	}

	// Every account joins the world room at birth.
	if err := s.store.AddMember(ctx, s.cfg.WorldConvID, user.ID, store.RoleMember); err != nil {
		s.log.Error("register.world_join.fail", "user_id", user.ID, "err", err)
	}
	s.cache.invalidate(s.cfg.WorldConvID)

	s.log.Info("user.registered", "user_id", user.ID, "account", user.Account)
	sess.send(wire.CmdRegisterResp, wire.RegisterResp{
		Resp:        wire.OKResp,
		UserID:      wire.ID(user.ID),
		Account:     user.Account,
		DisplayName: user.DisplayName,
	})
}

func (s *Server) handleLogin(ctx context.Context, sess *session, payload []byte) {
	var req wire.LoginReq
	if !s.decodeInto(sess, wire.CmdLoginResp, payload, &req) {
		return
	}

	// One identity per connection. Re-binding an authenticated session would
	// leave its old registry entry pointing at the previous user.
	if _, authed := sess.identity(); authed {
		sess.send(wire.CmdLoginResp, wire.LoginResp{
			Resp: wire.ErrResp(wire.CodeInvalidState, "already logged in"),
		})
		return
	}

	// Unknown account and wrong password produce the same reply so the
	// login path does not leak which accounts exist.
	deny := func() {
		sess.send(wire.CmdLoginResp, wire.LoginResp{
			Resp: wire.ErrResp(wire.CodeLoginFailed, "account or password incorrect"),
		})
	}

	user, err := s.store.UserByAccount(ctx, strings.TrimSpace(req.Account))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			deny()
			return
		}
		s.fail(sess, wire.CmdLoginResp, err)
		return
	}

	ok, err := s.verifier.Verify(user.Credential, req.Password)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn("login.verify.fail", "account", user.Account, "err", err)
		}
		deny()
		return
	}

	s.ensureWorldMembership(ctx, user.ID)

	sess.setIdentity(user.ID, user.Account, user.DisplayName, user.AvatarPath)
	s.registry.bind(sess)

	s.log.Info("user.login", "session_id", sess.id, "user_id", user.ID, "account", user.Account)
	sess.send(wire.CmdLoginResp, wire.LoginResp{
		Resp:                wire.OKResp,
		UserID:              wire.ID(user.ID),
		Account:             user.Account,
		DisplayName:         user.DisplayName,
		AvatarB64:           s.avatarB64(user.AvatarPath),
		WorldConversationID: wire.ID(s.cfg.WorldConvID),
	})
}

// ensureWorldMembership repairs a missing world membership. Registration
// joins the world room best-effort; when that write failed, the next login
// heals it instead of leaving the account outside the world forever.
func (s *Server) ensureWorldMembership(ctx context.Context, userID int64) {
	_, err := s.store.MemberOf(ctx, s.cfg.WorldConvID, userID)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrNotMember) && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("login.world_join.fail", "user_id", userID, "err", err)
		return
	}
	if err := s.store.AddMember(ctx, s.cfg.WorldConvID, userID, store.RoleMember); err != nil {
		s.log.Error("login.world_join.fail", "user_id", userID, "err", err)
		return
	}
	s.cache.invalidate(s.cfg.WorldConvID)
}

func (s *Server) handleProfileUpdate(ctx context.Context, sess *session, payload []byte) {
	var req wire.ProfileUpdateReq
	if !s.decodeInto(sess, wire.CmdProfileUpdateResp, payload, &req) {
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
		sess.send(wire.CmdProfileUpdateResp, wire.ProfileUpdateResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "displayName must be 1-48 characters"),
		})
		return
	}

	userID, _ := sess.identity()
	if err := s.store.UpdateDisplayName(ctx, userID, name); err != nil {
		s.fail(sess, wire.CmdProfileUpdateResp, err)
		return
	}
	sess.setDisplayName(name)

	sess.send(wire.CmdProfileUpdateResp, wire.ProfileUpdateResp{Resp: wire.OKResp, DisplayName: name})
}

func (s *Server) handleAvatarUpdate(ctx context.Context, sess *session, payload []byte) {
	var req wire.AvatarUpdateReq
	if !s.decodeInto(sess, wire.CmdAvatarUpdateResp, payload, &req) {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.AvatarB64)
	if err != nil {
		sess.send(wire.CmdAvatarUpdateResp, wire.AvatarUpdateResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "avatarB64 is not valid base64"),
		})
		return
	}
	if len(raw) == 0 || len(raw) > maxAvatarBytes {
		sess.send(wire.CmdAvatarUpdateResp, wire.AvatarUpdateResp{
			Resp: wire.ErrResp(wire.CodeInvalidParam, "avatar must be 1 byte to 256 KiB"),
		})
		return
	}

	userID, _ := sess.identity()
	path, err := s.saveAvatar(userID, raw)
	if err != nil {
		s.log.Error("avatar.save.fail", "user_id", userID, "err", err)
		sess.send(wire.CmdAvatarUpdateResp, wire.AvatarUpdateResp{
			Resp: wire.ErrResp(wire.CodeServerErrorDB, "avatar not stored"),
		})
		return
	}
	if err := s.store.UpdateAvatarPath(ctx, userID, path); err != nil {
		s.fail(sess, wire.CmdAvatarUpdateResp, err)
		return
	}

	sess.send(wire.CmdAvatarUpdateResp, wire.AvatarUpdateResp{Resp: wire.OKResp})
}

// saveAvatar writes avatar bytes under the configured directory and returns
// the stored path. Writes go through a temp file so a crash never leaves a
// half-written avatar behind.
func (s *Server) saveAvatar(userID int64, raw []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.AvatarDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.AvatarDir, fmt.Sprintf("%d.avatar", userID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// avatarB64 loads a stored avatar as base64, or "" when absent/unreadable.
func (s *Server) avatarB64(path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// randomDisplayName seeds a fresh account with a recognizable handle the user
// can change later via PROFILE_UPDATE.
func randomDisplayName() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "user"
	}
	return "user-" + hex.EncodeToString(b[:])
}
