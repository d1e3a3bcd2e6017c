package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const wsWriteTimeout = 5 * time.Second

// wsConn adapts a WebSocket connection to the frameConn interface: each text
// message carries exactly one COMMAND:JSON frame. A trailing newline from
// clients reusing the TCP framing is tolerated.
type wsConn struct {
	ctx    context.Context
	conn   *websocket.Conn
	remote string
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	mt, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("chat: unsupported ws message type %v", mt)
	}
	for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
		data = data[:len(data)-1]
	}
	return data, nil
}

func (c *wsConn) WriteFrame(frame []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
	defer cancel()

	// The TCP encoding keeps the trailing newline; WebSocket framing makes it
	// redundant, so strip it.
	if n := len(frame); n > 0 && frame[n-1] == '\n' {
		frame = frame[:n-1]
	}
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *wsConn) RemoteAddr() string { return c.remote }

// WSOptions is the origin policy for the WebSocket endpoint.
type WSOptions struct {
	// OriginRequired rejects requests with no Origin header.
	OriginRequired bool
	// AllowedOrigins is the origin allowlist; "*" honors any origin.
	AllowedOrigins []string
}

// WSHandler mounts the chat protocol on a WebSocket endpoint. The session
// machinery is shared with TCP; only the framing differs.
func (s *Server) WSHandler(opts WSOptions) http.Handler {
	patterns := originPatterns(opts.AllowedOrigins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" && opts.OriginRequired {
			s.log.Info("ws.reject.origin", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: patterns,
		})
		if err != nil {
			s.log.Error("ws.accept.fail", "err", err)
			return
		}
		conn.SetReadLimit(int64(s.cfg.MaxLineBytes))

		s.serveFrames(r.Context(), &wsConn{
			ctx:    r.Context(),
			conn:   conn,
			remote: r.RemoteAddr,
		})
	})
}

// originPatterns extracts the host patterns websocket.Accept matches against.
func originPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return []string{"*"}
		}
		if i := strings.Index(a, "://"); i >= 0 {
			a = a[i+3:]
		}
		out = append(out, a)
	}
	return out
}
