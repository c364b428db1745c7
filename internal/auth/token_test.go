package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAuthority(t *testing.T, clock *fakeClock) *Authority {
	t.Helper()
	a, err := NewAuthority("test-secret", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	return a
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	a := newTestAuthority(t, clock)

	token, issued, err := a.Issue("student@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := issued.ExpiresAt.Sub(issued.IssuedAt); got != time.Hour {
		t.Fatalf("unexpected ttl %v", got)
	}

	clock.Advance(59 * time.Minute)
	id, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Email != issued.Email || !id.IssuedAt.Equal(issued.IssuedAt) || !id.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("claims changed: issued=%+v verified=%+v", issued, id)
	}
}

func TestVerifyExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	a := newTestAuthority(t, clock)

	token, _, err := a.Issue("student@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock.Advance(time.Hour + time.Second)
	if _, err := a.Verify(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	a := newTestAuthority(t, clock)

	token, _, err := a.Issue("student@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	forged := strings.Replace(string(payload), "student@example.com", "mallory@example.com", 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	if _, err := a.Verify(strings.Join(parts, ".")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	other, err := NewAuthority("another-secret", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for foreign secret, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	a := newTestAuthority(t, &fakeClock{t: time.Now()})
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		_, err := a.Verify(tok)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("Verify(%q): expected ErrMalformed, got %v", tok, err)
		}
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected to wrap ErrInvalidToken", tok)
		}
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	a := newTestAuthority(t, &fakeClock{t: time.Now()})
	if _, _, err := a.Issue("  "); !errors.Is(err, ErrEmptyIdentity) {
		t.Fatalf("expected ErrEmptyIdentity, got %v", err)
	}
	if _, err := NewAuthority(""); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity")
	}
	ctx := ContextWithIdentity(context.Background(), Identity{Email: "a@b.c"})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.Email != "a@b.c" {
		t.Fatalf("unexpected identity %+v ok=%v", id, ok)
	}
}
