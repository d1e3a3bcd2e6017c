package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"parley/cmd/internal/store"
	"parley/cmd/internal/wire"
	"parley/cmd/security/password"
)

// Config is the chat engine's tuning surface.
type Config struct {
	WorldConvID int64
	WorldName   string

	MaxLineBytes        int
	MaxPendingSendBytes int

	HistoryDefaultLimit int
	HistoryMaxLimit     int

	CacheTTL  time.Duration
	AvatarDir string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WorldConvID:         1,
		WorldName:           "World",
		MaxLineBytes:        wire.DefaultMaxLineBytes,
		MaxPendingSendBytes: wire.MaxPendingSendBytes,
		HistoryDefaultLimit: 50,
		HistoryMaxLimit:     200,
		CacheTTL:            defaultCacheTTL,
		AvatarDir:           "avatars",
	}
}

// Server is the request/broadcast engine. It owns the acceptor, the session
// registry, the conversation cache, and the command handlers.
type Server struct {
	log      *slog.Logger
	cfg      Config
	store    store.Gateway
	verifier password.Verifier
	registry *registry
	cache    *cache
	metrics  *Metrics

	// sendLanes serialize persist+ack+broadcast per conversation. The store
	// linearizes seq allocation, but without a lane two in-flight sends could
	// enqueue their pushes out of seq order. Striped so unrelated
	// conversations never contend.
	sendLanes [64]sync.Mutex
}

// NewServer wires the engine. The store and metrics are required; a nil
// verifier defaults to plaintext comparison (legacy data).
func NewServer(log *slog.Logger, cfg Config, gw store.Gateway, verifier password.Verifier, metrics *Metrics) (*Server, error) {
	if gw == nil {
		return nil, errors.New("chat: nil store")
	}
	if metrics == nil {
		return nil, errors.New("chat: nil metrics")
	}
	if verifier == nil {
		verifier = password.Plain{}
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = wire.DefaultMaxLineBytes
	}
	if cfg.MaxPendingSendBytes <= 0 {
		cfg.MaxPendingSendBytes = wire.MaxPendingSendBytes
	}
	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = 50
	}
	if cfg.HistoryMaxLimit < cfg.HistoryDefaultLimit {
		cfg.HistoryMaxLimit = 200
	}
	if cfg.WorldConvID <= 0 {
		cfg.WorldConvID = 1
	}
	if cfg.WorldName == "" {
		cfg.WorldName = "World"
	}

	return &Server{
		log:      log,
		cfg:      cfg,
		store:    gw,
		verifier: verifier,
		registry: newRegistry(log),
		cache:    newCache(log, cfg.CacheTTL),
		metrics:  metrics,
	}, nil
}

// sendLane returns the mutex serializing message appends for one conversation.
func (s *Server) sendLane(convID int64) *sync.Mutex {
	return &s.sendLanes[uint64(convID)%uint64(len(s.sendLanes))]
}

// Bootstrap ensures the world conversation exists.
func (s *Server) Bootstrap(ctx context.Context) error {
	return s.store.EnsureWorld(ctx, s.cfg.WorldConvID, s.cfg.WorldName)
}

// RunCacheSweeper blocks driving the TTL sweeper until ctx ends.
func (s *Server) RunCacheSweeper(ctx context.Context) {
	s.cache.run(ctx)
}

// Serve accepts connections until the listener closes or ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.HandleConn(ctx, conn)
	}
}

// Shutdown closes every live session.
func (s *Server) Shutdown() {
	s.registry.closeAll("server shutdown")
}

// HandleConn runs one TCP connection to completion.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	s.serveFrames(ctx, newTCPConn(conn, s.cfg.MaxLineBytes))
}

// serveFrames is the shared session loop for all transports.
func (s *Server) serveFrames(ctx context.Context, fc frameConn) {
	sess := newSession(s, fc, s.log)
	s.registry.add(sess)
	s.metrics.SessionsLive.Inc()
	defer s.metrics.SessionsLive.Dec()

	s.log.Info("session.open", "session_id", sess.id, "remote", fc.RemoteAddr())
	defer sess.close("read loop done")

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.closedChan():
			return
		default:
		}

		line, err := fc.ReadFrame()
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				// A frame beyond the limit is unrecoverable; the rest of the
				// stream cannot be re-synchronized.
				sess.sendErr(wire.CodeProtocolError, "frame too large")
				sess.close("oversized frame")
				return
			}
			sess.close("peer closed")
			return
		}
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}

		frame, err := wire.Parse(line)
		if err != nil {
			sess.sendErr(wire.CodeProtocolError, err.Error())
			continue
		}

		s.dispatch(ctx, sess, frame)
	}
}

// dispatch routes one frame to its handler. SEND_MSG runs on its own
// goroutine so persistence never blocks the read loop.
func (s *Server) dispatch(ctx context.Context, sess *session, frame wire.Frame) {
	cmd, ok := commands[frame.Command]
	if !ok {
		sess.send(wire.CmdEcho, wire.EchoPayload{Command: frame.Command})
		return
	}

	if cmd.needsAuth {
		if _, authed := sess.identity(); !authed {
			sess.send(cmd.resp, wire.ErrResp(wire.CodeNotAuthenticated, "login first"))
			return
		}
	}

	if cmd.async {
		payload := append([]byte(nil), frame.Payload...)
		go cmd.fn(s, ctx, sess, payload)
		return
	}
	cmd.fn(s, ctx, sess, frame.Payload)
}

// decodeInto parses a handler payload; on failure it replies INVALID_JSON on
// the command's response and reports false. The connection stays open.
func (s *Server) decodeInto(sess *session, resp string, payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		sess.send(resp, wire.ErrResp(wire.CodeInvalidJSON, "malformed payload"))
		return false
	}
	return true
}

// errToCode maps store errors onto wire error codes.
func errToCode(err error) (string, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return wire.CodeNotFound, "not found"
	case errors.Is(err, store.ErrNotMember):
		return wire.CodeNotMember, "not a member"
	case errors.Is(err, store.ErrAccountExists):
		return wire.CodeAccountExists, "account already exists"
	case errors.Is(err, store.ErrAlreadyFriends):
		return wire.CodeAlreadyFriend, "already friends"
	case errors.Is(err, store.ErrAlreadyPending):
		return wire.CodeAlreadyPending, "request already pending"
	case errors.Is(err, store.ErrAlreadyMember):
		return wire.CodeAlreadyMember, "already a member"
	case errors.Is(err, store.ErrAlreadyHandled):
		return wire.CodeAlreadyHandled, "request already handled"
	case errors.Is(err, store.ErrForbidden):
		return wire.CodeForbidden, "forbidden"
	case errors.Is(err, store.ErrNotFriend):
		return wire.CodeNotFriend, "not friends"
	default:
		return wire.CodeServerErrorDB, "storage failure"
	}
}

// fail replies a mapped store error on the command's response frame.
func (s *Server) fail(sess *session, resp string, err error) {
	code, msg := errToCode(err)
	if code == wire.CodeServerErrorDB {
		s.log.Error("handler.store.fail", "resp", resp, "err", err)
	}
	sess.send(resp, wire.ErrResp(code, msg))
}

func nowMS() int64 { return time.Now().UnixMilli() }
