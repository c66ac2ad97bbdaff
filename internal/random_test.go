package internal

import (
	"encoding/hex"
	"testing"
)

func TestNewResetToken(t *testing.T) {
	a, err := NewResetToken(32)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if _, err := hex.DecodeString(a); err != nil {
		t.Fatalf("token is not hex: %v", err)
	}
	b, _ := NewResetToken(32)
	if a == b {
		t.Fatal("tokens must differ")
	}
	if _, err := NewResetToken(8); err == nil {
		t.Fatal("expected error for short token")
	}
}

func TestSecretEqual(t *testing.T) {
	if !SecretEqual("abc", "abc") {
		t.Fatal("expected match")
	}
	if SecretEqual("abc", "abd") || SecretEqual("", "") {
		t.Fatal("unexpected match")
	}
}
