// Package main provides a CI-friendly TCP smoke test for the parley chat
// server.
//
// It validates:
//   - line framing (COMMAND:JSON\n) round trip
//   - REGISTER + LOGIN for two fresh accounts
//   - SEND_MSG -> SEND_ACK with a positive seq
//   - MSG_PUSH fanout to the second client in the world conversation
//   - HISTORY_REQ returning the sent message
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

const maxLineBytes = 1 << 20

type resp struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
}

type loginResp struct {
	resp
	UserID              string `json:"userId"`
	DisplayName         string `json:"displayName"`
	WorldConversationID string `json:"worldConversationId"`
}

type sendAck struct {
	resp
	ClientMsgID string `json:"clientMsgId"`
	ServerMsgID string `json:"serverMsgId"`
	Seq         int64  `json:"seq"`
}

type msgPush struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	Seq            int64  `json:"seq"`
}

type historyResp struct {
	resp
	Messages []msgPush `json:"messages"`
}

type smokeClient struct {
	name string
	conn net.Conn
	r    *bufio.Reader

	userID string
}

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:9400", "chat server address")
		text    = flag.String("text", "hello parley", "message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	suffix := time.Now().UnixNano()

	a := mustConnect("A", *addr, *timeout)
	defer a.conn.Close()
	b := mustConnect("B", *addr, *timeout)
	defer b.conn.Close()

	worldID := mustSignup(a, fmt.Sprintf("smoke-a-%d", suffix), *timeout)
	mustSignup(b, fmt.Sprintf("smoke-b-%d", suffix), *timeout)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s world=%s\n", a.userID, b.userID, worldID)
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", suffix)
	ack := mustSendAndAssertAck(a, clientMsgID, *text, *timeout)

	mustAssertPush(b, worldID, a.userID, *text, ack.Seq, *timeout)

	mustHistoryContains(b, ack.ServerMsgID, ack.Seq, *text, *timeout)

	fmt.Printf("OK: A=%s B=%s seq=%d server_msg_id=%s\n", a.userID, b.userID, ack.Seq, ack.ServerMsgID)
}

func mustConnect(name, addr string, stepTimeout time.Duration) *smokeClient {
	conn, err := net.DialTimeout("tcp", addr, stepTimeout)
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	return &smokeClient{
		name: name,
		conn: conn,
		r:    bufio.NewReaderSize(conn, maxLineBytes),
	}
}

func (c *smokeClient) write(cmd string, v any, stepTimeout time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal %s payload (%s): %v", cmd, c.name, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(stepTimeout))
	if _, err := fmt.Fprintf(c.conn, "%s:%s\n", cmd, b); err != nil {
		fatalf("write %s (%s): %v", cmd, c.name, err)
	}
}

// readUntil reads frames until the wanted command arrives, skipping pushes
// that interleave. Out-of-band ERROR frames abort the run.
func (c *smokeClient) readUntil(wantCmd string, stepTimeout time.Duration) json.RawMessage {
	deadline := time.Now().Add(stepTimeout)
	for {
		if time.Now().After(deadline) {
			fatalf("timeout waiting for %s (%s)", wantCmd, c.name)
		}
		_ = c.conn.SetReadDeadline(deadline)
		line, err := c.r.ReadString('\n')
		if err != nil {
			fatalf("read while waiting for %s (%s): %v", wantCmd, c.name, err)
		}
		cmd, payload, ok := strings.Cut(strings.TrimSuffix(line, "\n"), ":")
		if !ok {
			fatalf("unframed line (%s): %q", c.name, line)
		}
		if cmd == wantCmd {
			return json.RawMessage(payload)
		}
		if cmd == "ERROR" {
			var e struct {
				ErrorCode string `json:"errorCode"`
				ErrorMsg  string `json:"errorMsg"`
			}
			_ = json.Unmarshal([]byte(payload), &e)
			fatalf("server error (%s): code=%q msg=%q", c.name, e.ErrorCode, e.ErrorMsg)
		}
	}
}

func (c *smokeClient) call(cmd, wantCmd string, req, out any, stepTimeout time.Duration) {
	c.write(cmd, req, stepTimeout)
	payload := c.readUntil(wantCmd, stepTimeout)
	if err := json.Unmarshal(payload, out); err != nil {
		fatalf("unmarshal %s payload (%s): %v", wantCmd, c.name, err)
	}
}

func mustSignup(c *smokeClient, account string, stepTimeout time.Duration) (worldID string) {
	reg := struct {
		Account         string `json:"account"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}{account, "smoke-pass", "smoke-pass"}

	var regResp resp
	c.call("REGISTER", "REGISTER_RESP", reg, &regResp, stepTimeout)
	if !regResp.OK {
		fatalf("register failed (%s): code=%q msg=%q", c.name, regResp.ErrorCode, regResp.ErrorMsg)
	}

	login := struct {
		Account  string `json:"account"`
		Password string `json:"password"`
	}{account, "smoke-pass"}

	var lr loginResp
	c.call("LOGIN", "LOGIN_RESP", login, &lr, stepTimeout)
	if !lr.OK {
		fatalf("login failed (%s): code=%q msg=%q", c.name, lr.ErrorCode, lr.ErrorMsg)
	}
	if strings.TrimSpace(lr.UserID) == "" || lr.UserID == "0" {
		fatalf("login missing userId (%s)", c.name)
	}
	c.userID = lr.UserID
	return lr.WorldConversationID
}

func mustSendAndAssertAck(c *smokeClient, clientMsgID, text string, stepTimeout time.Duration) sendAck {
	send := struct {
		ClientMsgID string `json:"clientMsgId"`
		Content     string `json:"content"`
	}{clientMsgID, text}

	var ack sendAck
	c.call("SEND_MSG", "SEND_ACK", send, &ack, stepTimeout)
	if !ack.OK {
		fatalf("send rejected (%s): code=%q msg=%q", c.name, ack.ErrorCode, ack.ErrorMsg)
	}
	if ack.ClientMsgID != clientMsgID {
		fatalf("ack clientMsgId mismatch (%s): got=%q want=%q", c.name, ack.ClientMsgID, clientMsgID)
	}
	if ack.Seq <= 0 {
		fatalf("ack invalid seq (%s): %d", c.name, ack.Seq)
	}
	if strings.TrimSpace(ack.ServerMsgID) == "" || ack.ServerMsgID == "0" {
		fatalf("ack missing serverMsgId (%s)", c.name)
	}
	return ack
}

func mustAssertPush(c *smokeClient, worldID, senderID, text string, seq int64, stepTimeout time.Duration) {
	var push msgPush
	if err := json.Unmarshal(c.readUntil("MSG_PUSH", stepTimeout), &push); err != nil {
		fatalf("unmarshal MSG_PUSH payload (%s): %v", c.name, err)
	}
	if push.ConversationID != worldID {
		fatalf("push conversationId mismatch (%s): got=%q want=%q", c.name, push.ConversationID, worldID)
	}
	if push.SenderID != senderID {
		fatalf("push senderId mismatch (%s): got=%q want=%q", c.name, push.SenderID, senderID)
	}
	if push.Content != text {
		fatalf("push content mismatch (%s): got=%q want=%q", c.name, push.Content, text)
	}
	if push.Seq != seq {
		fatalf("push seq mismatch (%s): got=%d want=%d", c.name, push.Seq, seq)
	}
}

func mustHistoryContains(c *smokeClient, serverMsgID string, seq int64, text string, stepTimeout time.Duration) {
	req := struct {
		Limit int `json:"limit"`
	}{50}

	var hist historyResp
	c.call("HISTORY_REQ", "HISTORY_RESP", req, &hist, stepTimeout)
	if !hist.OK {
		fatalf("history failed (%s): code=%q msg=%q", c.name, hist.ErrorCode, hist.ErrorMsg)
	}
	for _, m := range hist.Messages {
		if m.Seq == seq && m.Content == text {
			return
		}
	}
	fatalf("history missing message seq=%d server_msg_id=%s (%s)", seq, serverMsgID, c.name)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
