package twofactor

import (
	"regexp"
	"testing"
)

var backupCodePattern = regexp.MustCompile(`^[0-9a-f]{5}-[0-9a-f]{5}$`)

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(BackupCodeCount)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if len(codes) != BackupCodeCount {
		t.Fatalf("expected %d codes, got %d", BackupCodeCount, len(codes))
	}

	seen := map[string]bool{}
	for _, c := range codes {
		if !backupCodePattern.MatchString(c) {
			t.Fatalf("unexpected code format %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	want := "abcde12345"
	for _, in := range []string{"ABCDE-12345", "abcde 12345", "abcde12345", "aBcDe-12345"} {
		if got := CanonicalizeBackupCode(in); got != want {
			t.Fatalf("CanonicalizeBackupCode(%q) = %q", in, got)
		}
	}
}

func TestCodeHasherBindsUserAndPurpose(t *testing.T) {
	h, err := NewCodeHasher([]byte("pepper-0123456789abcdef0123456789"))
	if err != nil {
		t.Fatalf("NewCodeHasher failed: %v", err)
	}

	base := h.Hash("backup", "user-1", "abcde12345")
	if base != h.Hash("backup", "user-1", "abcde12345") {
		t.Fatal("hash is not deterministic")
	}
	if base == h.Hash("backup", "user-2", "abcde12345") {
		t.Fatal("hash not bound to user")
	}
	if base == h.Hash("email", "user-1", "abcde12345") {
		t.Fatal("hash not bound to purpose")
	}
	if !Equal(base, h.Hash("backup", "user-1", "abcde12345")) || Equal(base, base[:10]) {
		t.Fatal("Equal misbehaves")
	}

	if _, err := NewCodeHasher([]byte("short")); err == nil {
		t.Fatal("expected short pepper rejection")
	}
}

func TestNewNumericCode(t *testing.T) {
	code, err := NewNumericCode(6)
	if err != nil {
		t.Fatalf("NewNumericCode failed: %v", err)
	}
	if len(code) != 6 || !isNumeric(code) {
		t.Fatalf("unexpected code %q", code)
	}
	if _, err := NewNumericCode(4); err == nil {
		t.Fatal("expected rejection of short codes")
	}
}
