package csrf

import (
	"strings"
	"testing"
)

var testSecret = []byte("csrf-test-secret-0123456789abcdef")

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := New(testSecret)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g
}

func TestIssueAndValidate(t *testing.T) {
	g := newTestGuard(t)

	token, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	random, sig, found := strings.Cut(token, ".")
	if !found || len(random) != 64 || len(sig) != 64 {
		t.Fatalf("unexpected token shape %q", token)
	}
	if !g.Validate(token) {
		t.Fatal("expected issued token to validate")
	}

	other, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if other == token {
		t.Fatal("expected distinct tokens")
	}
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	g := newTestGuard(t)

	token, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	random, sig, _ := strings.Cut(token, ".")

	replacements := []string{
		strings.Repeat("0", 64),
		strings.Repeat("f", 64),
		sig[1:] + "0",
	}
	for _, r := range replacements {
		if r == sig {
			continue
		}
		if g.Validate(random + "." + r) {
			t.Fatalf("tampered signature %q accepted", r)
		}
	}

	otherRandom := strings.Repeat("a", 64)
	if g.Validate(otherRandom + "." + sig) {
		t.Fatal("signature reused with a different random part accepted")
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	g := newTestGuard(t)

	token, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	cases := []string{
		"",
		".",
		"single",
		token + ".extra",
		"." + strings.Repeat("a", 64),
		strings.Repeat("a", 64) + ".",
		strings.Repeat("a", 64) + ".abc",
	}
	for _, c := range cases {
		if g.Validate(c) {
			t.Fatalf("Validate(%q) unexpectedly succeeded", c)
		}
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	g := newTestGuard(t)
	other, err := New([]byte("another-secret-0123456789abcdefgh"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	token, err := other.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if g.Validate(token) {
		t.Fatal("token from a different secret accepted")
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New([]byte("short")); err != ErrWeakSecret {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}
