package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("PARLEY_TEST_STR", "  hello  ")
	if got := EnvString("PARLEY_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString=%q want=%q", got, "hello")
	}
	if got := EnvString("PARLEY_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString missing=%q want=%q", got, "def")
	}
}

func TestEnvBool(t *testing.T) {
	cases := []struct {
		in   string
		def  bool
		want bool
	}{
		{in: "true", def: false, want: true},
		{in: "1", def: false, want: true},
		{in: "false", def: true, want: false},
		{in: "nonsense", def: true, want: true},
		{in: "", def: true, want: true},
	}

	for _, tc := range cases {
		t.Setenv("PARLEY_TEST_BOOL", tc.in)
		if got := EnvBool("PARLEY_TEST_BOOL", tc.def); got != tc.want {
			t.Fatalf("EnvBool(%q, %v)=%v want=%v", tc.in, tc.def, got, tc.want)
		}
	}
}

func TestEnvInt(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{in: "42", want: 42},
		{in: "0", want: 7},
		{in: "-3", want: 7},
		{in: "abc", want: 7},
		{in: "", want: 7},
	}

	for _, tc := range cases {
		t.Setenv("PARLEY_TEST_INT", tc.in)
		if got := EnvInt("PARLEY_TEST_INT", 7); got != tc.want {
			t.Fatalf("EnvInt(%q)=%d want=%d", tc.in, got, tc.want)
		}
	}
}

func TestEnvInt32AllowsZero(t *testing.T) {
	t.Setenv("PARLEY_TEST_I32", "0")
	if got := EnvInt32("PARLEY_TEST_I32", 5); got != 0 {
		t.Fatalf("EnvInt32(\"0\")=%d want=0", got)
	}
	t.Setenv("PARLEY_TEST_I32", "-1")
	if got := EnvInt32("PARLEY_TEST_I32", 5); got != 5 {
		t.Fatalf("EnvInt32(\"-1\")=%d want=5", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("PARLEY_TEST_DUR", "90s")
	if got := EnvDuration("PARLEY_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v want=90s", got)
	}
	t.Setenv("PARLEY_TEST_DUR", "bogus")
	if got := EnvDuration("PARLEY_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("EnvDuration bogus=%v want=1m", got)
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("PARLEY_TEST_CSV", " a, ,b ,c")
	got := EnvCSV("PARLEY_TEST_CSV", "")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("EnvCSV=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EnvCSV[%d]=%q want=%q", i, got[i], want[i])
		}
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	ok := Config{RequireHashedPasswords: true, PasswordMode: "argon2id"}
	if err := ValidateSecurityConfig(ok); err != nil {
		t.Fatalf("argon2id mode rejected: %v", err)
	}

	bad := Config{RequireHashedPasswords: true, PasswordMode: "plain"}
	if err := ValidateSecurityConfig(bad); err == nil {
		t.Fatal("plain mode accepted under RequireHashedPasswords")
	}

	lax := Config{RequireHashedPasswords: false, PasswordMode: "plain"}
	if err := ValidateSecurityConfig(lax); err != nil {
		t.Fatalf("policy disabled but got: %v", err)
	}
}
