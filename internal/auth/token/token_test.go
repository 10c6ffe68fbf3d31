package token

import (
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	m := NewManager("test", time.Minute, time.Hour)
	tok, exp, err := m.Sign("u1", "u1@example.com", "s1", Access)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatalf("expiry in the past")
	}
	c, err := m.Verify(tok, Access)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Subject != "u1" || c.Email != "u1@example.com" || c.SessionID != "s1" {
		t.Fatalf("unexpected claims: %+v", c)
	}
	if _, err := m.Verify(tok, Refresh); err != ErrInvalid {
		t.Fatalf("access token must not pass as refresh, got %v", err)
	}
	if _, err := NewManager("other", 0, 0).Verify(tok, Access); err != ErrInvalid {
		t.Fatalf("wrong secret should fail, got %v", err)
	}
	if _, err := m.Verify("not.a.token", Access); err != ErrInvalid {
		t.Fatalf("garbage should fail, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	m := NewManager("test", time.Minute, time.Hour)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	tok, _, err := m.Sign("u1", "e", "s1", Access)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(tok, Access); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
