// Package wire defines parley's line-oriented wire protocol: the
// COMMAND:JSON frame codec, the command set, and the payload contracts
// shared by the TCP and WebSocket transports.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Framing limits.
const (
	// DefaultMaxLineBytes bounds a single inbound frame. A peer that sends
	// a longer line is a protocol violation and gets disconnected.
	DefaultMaxLineBytes = 1 << 20 // 1 MiB

	// MaxPendingSendBytes is the per-session outbound byte budget. A session
	// whose queued frames would exceed it is congested and gets closed.
	MaxPendingSendBytes = 10 << 20 // 10 MiB
)

var (
	// ErrNoSeparator reports a frame without the command/payload colon.
	ErrNoSeparator = errors.New("wire: frame missing ':' separator")

	// ErrEmptyCommand reports a frame whose command part is empty.
	ErrEmptyCommand = errors.New("wire: empty command")

	// ErrEmptyPayload reports a frame whose payload part is empty.
	ErrEmptyPayload = errors.New("wire: empty payload")
)

// Frame is one decoded protocol unit.
type Frame struct {
	Command string
	Payload []byte
}

// Encode renders a frame as COMMAND:payload\n. The payload must already be
// single-line JSON; Encode does not re-serialize it.
func Encode(command string, payload []byte) []byte {
	out := make([]byte, 0, len(command)+1+len(payload)+1)
	out = append(out, command...)
	out = append(out, ':')
	out = append(out, payload...)
	out = append(out, '\n')
	return out
}

// EncodeJSON marshals v and renders a frame. Marshal failures are programmer
// errors (all payload types are plain structs), so it panics rather than
// returning an error every caller would ignore.
func EncodeJSON(command string, v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("wire: marshal %s: %v", command, err))
	}
	return Encode(command, b)
}

// Parse splits one line (without the trailing '\n') into a Frame.
// A trailing '\r' is trimmed. Splitting happens at the first ':' so the
// payload may contain colons freely.
func Parse(line []byte) (Frame, error) {
	line = bytes.TrimSuffix(line, []byte{'\r'})

	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return Frame{}, ErrNoSeparator
	}
	cmd := line[:i]
	payload := line[i+1:]

	if len(cmd) == 0 {
		return Frame{}, ErrEmptyCommand
	}
	if len(payload) == 0 {
		return Frame{}, ErrEmptyPayload
	}

	return Frame{Command: string(cmd), Payload: payload}, nil
}
