package password

import (
	"errors"
	"strings"
	"testing"
)

func testParams() Params {
	return Params{
		MemoryKiB:   1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestPlainDeriveAndVerify(t *testing.T) {
	t.Parallel()

	v := Plain{}

	stored, err := v.Derive("hunter22")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if stored != "hunter22" {
		t.Fatalf("stored=%q", stored)
	}

	if ok, err := v.Verify(stored, "hunter22"); err != nil || !ok {
		t.Fatalf("Verify match ok=%v err=%v", ok, err)
	}
	if ok, _ := v.Verify(stored, "hunter23"); ok {
		t.Fatal("Verify accepted wrong password")
	}
}

func TestDeriveLengthBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		plain string
		want  error
	}{
		{"too short", "abc", ErrPasswordTooShort},
		{"minimum", "abcdef", nil},
		{"too long", strings.Repeat("x", 257), ErrPasswordTooLong},
		{"maximum", strings.Repeat("x", 256), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := (Plain{}).Derive(tc.plain); !errors.Is(err, tc.want) {
				t.Fatalf("Derive(%d bytes) err=%v want=%v", len(tc.plain), err, tc.want)
			}
		})
	}
}

func TestArgon2idRoundTrip(t *testing.T) {
	t.Parallel()

	v := Argon2id{Params: testParams()}

	stored, err := v.Derive("correct horse")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !strings.HasPrefix(stored, "$argon2id$v=19$") {
		t.Fatalf("stored=%q", stored)
	}
	if stored == "correct horse" {
		t.Fatal("password stored in the clear")
	}

	if ok, err := v.Verify(stored, "correct horse"); err != nil || !ok {
		t.Fatalf("Verify match ok=%v err=%v", ok, err)
	}
	if ok, err := v.Verify(stored, "wrong horse"); err != nil || ok {
		t.Fatalf("Verify mismatch ok=%v err=%v", ok, err)
	}

	// Salts are random, so deriving twice yields distinct credentials that
	// both verify.
	again, err := v.Derive("correct horse")
	if err != nil {
		t.Fatalf("Derive again: %v", err)
	}
	if again == stored {
		t.Fatal("identical hash for two derivations")
	}
	if ok, _ := v.Verify(again, "correct horse"); !ok {
		t.Fatal("second credential does not verify")
	}
}

func TestArgon2idRejectsMalformedHash(t *testing.T) {
	t.Parallel()

	v := Argon2id{Params: testParams()}

	tests := []struct {
		name   string
		stored string
	}{
		{"empty", ""},
		{"plaintext", "hunter22"},
		{"wrong algorithm", "$argon2i$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2Fs$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"wrong version", "$argon2id$v=18$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2Fs$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"bad params", "$argon2id$v=19$m=x,t=y,p=z$c2FsdHNhbHRzYWx0c2Fs$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"bad salt b64", "$argon2id$v=19$m=1024,t=1,p=1$!!!$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"missing field", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0c2Fs"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := v.Verify(tc.stored, "whatever"); !errors.Is(err, ErrInvalidHash) {
				t.Fatalf("Verify(%q) err=%v want=%v", tc.stored, err, ErrInvalidHash)
			}
		})
	}
}

func TestArgon2idCostBounds(t *testing.T) {
	t.Parallel()

	v := Argon2id{Params: testParams()}

	// A credential row demanding far more memory than our ceiling is refused
	// before any key derivation runs.
	hostile := "$argon2id$v=19$m=4194304,t=1,p=1$c2FsdHNhbHRzYWx0c2Fs$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	if _, err := v.Verify(hostile, "whatever"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("Verify hostile cost err=%v want=%v", err, ErrInvalidHash)
	}
}

func TestNewSelectsMode(t *testing.T) {
	t.Parallel()

	if _, ok := New("argon2id").(Argon2id); !ok {
		t.Fatal("argon2id mode not selected")
	}
	if _, ok := New(" Argon2ID ").(Argon2id); !ok {
		t.Fatal("mode matching is not case/space tolerant")
	}
	if _, ok := New("plain").(Plain); !ok {
		t.Fatal("plain mode not selected")
	}
	if _, ok := New("unknown").(Plain); !ok {
		t.Fatal("unknown mode does not fall back to plain")
	}
}
