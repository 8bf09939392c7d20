package httpapi

import (
	"testing"
	"time"
)

func TestCookieCodecRoundTrip(t *testing.T) {
	codec, err := newCookieCodec("secret", time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	token, err := codec.issue("session-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sessionID, err := codec.parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sessionID != "session-1" {
		t.Fatalf("session id = %q, want session-1", sessionID)
	}
}

func TestCookieCodecRejectsTamperedToken(t *testing.T) {
	codec, err := newCookieCodec("secret", time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	token, err := codec.issue("session-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := codec.parse(token + "x"); err == nil {
		t.Fatal("expected error for tampered token")
	}
}

func TestCookieCodecRejectsForeignSecret(t *testing.T) {
	issuer, err := newCookieCodec("secret-a", time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	verifier, err := newCookieCodec("secret-b", time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	token, err := issuer.issue("session-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.parse(token); err == nil {
		t.Fatal("expected error for token signed with a different secret")
	}
}

func TestCookieCodecExpiry(t *testing.T) {
	codec, err := newCookieCodec("secret", time.Minute)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	issuedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	codec.clock = func() time.Time { return issuedAt }
	token, err := codec.issue("session-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	codec.clock = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := codec.parse(token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestCookieCodecRequiresSecret(t *testing.T) {
	if _, err := newCookieCodec("  ", time.Hour); err == nil {
		t.Fatal("expected error for blank secret")
	}
}
