package wire

import (
	"encoding/json"
	"testing"
)

func TestIDMarshal(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(ID(9007199254740993)) // beyond float64 precision
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"9007199254740993"` {
		t.Fatalf("marshal=%s want quoted decimal", b)
	}
}

func TestIDUnmarshal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: `"123"`, want: 123},
		{in: `123`, want: 123},
		{in: `""`, want: 0},
		{in: `null`, want: 0},
		{in: `"abc"`, wantErr: true},
	}

	for _, tc := range cases {
		var id ID
		err := json.Unmarshal([]byte(tc.in), &id)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("unmarshal(%s) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unmarshal(%s): %v", tc.in, err)
		}
		if int64(id) != tc.want {
			t.Fatalf("unmarshal(%s)=%d want=%d", tc.in, id, tc.want)
		}
	}
}

func TestErrResp(t *testing.T) {
	t.Parallel()

	r := ErrResp("NOT_MEMBER", "not a member")
	if r.OK || r.ErrorCode != "NOT_MEMBER" || r.ErrorMsg != "not a member" {
		t.Fatalf("ErrResp=%+v", r)
	}
	if !OKResp.OK || OKResp.ErrorCode != "" {
		t.Fatalf("OKResp=%+v", OKResp)
	}
}
