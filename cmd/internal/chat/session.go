// Package chat implements parley's request/broadcast engine: per-connection
// sessions over the line-framed protocol, the session registry used for
// fan-out, the conversation/member cache, and the command handlers.
package chat

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"parley/cmd/internal/wire"

	"github.com/oklog/ulid/v2"
)

var errLineTooLong = errors.New("chat: line exceeds max frame size")

// frameConn abstracts the transport under a session so TCP and WebSocket
// connections share the same machinery. ReadFrame returns one raw line
// without the trailing newline.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}

// tcpConn is the line-framed TCP transport.
type tcpConn struct {
	conn    net.Conn
	r       *bufio.Reader
	maxLine int
}

func newTCPConn(conn net.Conn, maxLine int) *tcpConn {
	if maxLine <= 0 {
		maxLine = wire.DefaultMaxLineBytes
	}
	return &tcpConn{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 16<<10),
		maxLine: maxLine,
	}
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > c.maxLine {
			return nil, errLineTooLong
		}
		if err == nil {
			return line[:len(line)-1], nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, err
	}
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpConn) Close() error { return c.conn.Close() }

func (c *tcpConn) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// session is one connected client. It owns the ordered outbound queue; a
// single writer goroutine drains it FIFO so frames are never interleaved.
//
// The queue tracks its byte size. When queued bytes plus the next frame would
// exceed the budget, the session is congested: the frame is dropped and the
// socket is closed. A session never buffers unbounded data.
type session struct {
	id  string
	log *slog.Logger
	srv *Server

	conn frameConn

	mu          sync.Mutex
	queue       [][]byte
	queueBytes  int
	closed      bool
	authed      bool
	userID      int64
	account     string
	displayName string
	avatarPath  string

	wake chan struct{}
	done chan struct{}

	closeOnce  sync.Once
	writerDone chan struct{}
}

func newSessionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

func newSession(srv *Server, conn frameConn, log *slog.Logger) *session {
	s := &session{
		id:         newSessionID(),
		log:        log,
		srv:        srv,
		conn:       conn,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// identity returns the authenticated user id, or (0, false).
func (s *session) identity() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.authed
}

func (s *session) senderName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

func (s *session) setIdentity(userID int64, account, displayName, avatarPath string) {
	s.mu.Lock()
	s.authed = true
	s.userID = userID
	s.account = account
	s.displayName = displayName
	s.avatarPath = avatarPath
	s.mu.Unlock()
}

func (s *session) setDisplayName(name string) {
	s.mu.Lock()
	s.displayName = name
	s.mu.Unlock()
}

// enqueue appends an already-encoded frame to the outbound queue.
// Returns false when the session is closed or the byte budget kills it.
func (s *session) enqueue(frame []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.queueBytes+len(frame) > s.srv.cfg.MaxPendingSendBytes {
		s.mu.Unlock()
		s.srv.metrics.BackpressureKills.Inc()
		s.log.Warn("session.backpressure.kill", "session_id", s.id, "queued_bytes", s.queueBytes, "frame_bytes", len(frame))
		s.close("backpressure")
		return false
	}
	s.queue = append(s.queue, frame)
	s.queueBytes += len(frame)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// send encodes and enqueues a frame.
func (s *session) send(command string, v any) bool {
	return s.enqueue(wire.EncodeJSON(command, v))
}

// sendErr emits an out-of-band ERROR frame.
func (s *session) sendErr(code, msg string) {
	s.send(wire.CmdError, wire.ErrorPayload{ErrorCode: code, ErrorMsg: msg})
}

// writeLoop is the session's single writer. Strict FIFO; a write failure
// closes the session and drops whatever is still queued.
func (s *session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			frame := s.queue[0]
			s.queue = s.queue[1:]
			s.queueBytes -= len(frame)
			s.mu.Unlock()

			if err := s.conn.WriteFrame(frame); err != nil {
				s.log.Info("session.write.fail", "session_id", s.id, "err", err)
				s.close("write failed")
				return
			}
		}
	}
}

// close tears the session down (idempotent): marks it closed, closes the
// socket, and removes it from the registry. Queued frames are dropped.
func (s *session) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		dropped := len(s.queue)
		s.queue = nil
		s.queueBytes = 0
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.Close()
		s.srv.registry.remove(s)

		if dropped > 0 {
			s.srv.metrics.FramesDropped.Add(float64(dropped))
		}
		s.log.Info("session.close", "session_id", s.id, "reason", reason, "dropped_frames", dropped)
	})
}

func (s *session) closedChan() <-chan struct{} { return s.done }

func (s *session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *session) String() string {
	return fmt.Sprintf("session(%s)", s.id)
}
