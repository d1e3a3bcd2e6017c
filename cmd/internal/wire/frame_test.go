package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		wantCmd string
		wantPay string
		wantErr error
	}{
		{name: "simple", in: `PING:{}`, wantCmd: "PING", wantPay: `{}`},
		{name: "payload with colons", in: `SEND_MSG:{"content":"a:b:c"}`, wantCmd: "SEND_MSG", wantPay: `{"content":"a:b:c"}`},
		{name: "trailing cr", in: "PING:{}\r", wantCmd: "PING", wantPay: `{}`},
		{name: "no separator", in: `PING`, wantErr: ErrNoSeparator},
		{name: "empty command", in: `:{}`, wantErr: ErrEmptyCommand},
		{name: "empty payload", in: `PING:`, wantErr: ErrEmptyPayload},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f, err := Parse([]byte(tc.in))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Parse(%q) err=%v want=%v", tc.in, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) err=%v", tc.in, err)
			}
			if f.Command != tc.wantCmd {
				t.Fatalf("command=%q want=%q", f.Command, tc.wantCmd)
			}
			if string(f.Payload) != tc.wantPay {
				t.Fatalf("payload=%q want=%q", f.Payload, tc.wantPay)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	raw := Encode("PONG", []byte(`{"ok":true}`))
	if raw[len(raw)-1] != '\n' {
		t.Fatal("encoded frame missing trailing newline")
	}

	f, err := Parse(bytes.TrimSuffix(raw, []byte("\n")))
	if err != nil {
		t.Fatalf("Parse round trip: %v", err)
	}
	if f.Command != "PONG" || string(f.Payload) != `{"ok":true}` {
		t.Fatalf("round trip got %q %q", f.Command, f.Payload)
	}
}

func TestEncodeJSON(t *testing.T) {
	t.Parallel()

	raw := EncodeJSON("ERROR", ErrorPayload{ErrorCode: "X", ErrorMsg: "y"})
	want := `ERROR:{"errorCode":"X","errorMsg":"y"}` + "\n"
	if string(raw) != want {
		t.Fatalf("EncodeJSON=%q want=%q", raw, want)
	}
}
