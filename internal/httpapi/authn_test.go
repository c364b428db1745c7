package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codelab.org/internal/auth"
)

func newGate(t *testing.T, now func() time.Time) (*Gate, *auth.Authority) {
	t.Helper()
	a, err := auth.NewAuthority("gate-secret", auth.WithTTL(time.Hour), auth.WithClock(now))
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	return NewGate(a), a
}

func TestGateAuthorize(t *testing.T) {
	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := issued
	gate, authority := newGate(t, func() time.Time { return now })
	token, _, err := authority.Issue("s@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []struct {
		name    string
		header  string
		at      time.Time
		wantErr error
	}{
		{"valid", "Bearer " + token, issued.Add(time.Minute), nil},
		{"lowercase scheme", "bearer " + token, issued.Add(time.Minute), nil},
		{"no header", "", issued, errMissingBearer},
		{"basic scheme", "Basic Zm9vOmJhcg==", issued, errBadScheme},
		{"malformed", "Bearer not-a-token", issued, auth.ErrMalformed},
		{"expired", "Bearer " + token, issued.Add(2 * time.Hour), auth.ErrExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now = tc.at
			req := httptest.NewRequest(http.MethodPost, "/payments", nil)
			if tc.header != "" {
				req.Header.Set(authHeader, tc.header)
			}
			id, err := gate.Authorize(req)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Authorize: %v", err)
				}
				if id.Email != "s@example.com" {
					t.Fatalf("unexpected identity: %+v", id)
				}
				return
			}
			if !errors.Is(err, auth.ErrUnauthorized) || !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected ErrUnauthorized wrapping %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestGateWithoutAuthorityRejects(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/payments", nil)
	req.Header.Set(authHeader, "Bearer x")
	if _, err := NewGate(nil).Authorize(req); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestProtectedStopsBeforeHandler(t *testing.T) {
	gate, _ := newGate(t, time.Now)
	a := &API{gate: gate}
	called := false
	h := a.protected(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments", nil))

	if called {
		t.Fatal("handler ran for an unauthenticated request")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header set")
	}
}

func TestProtectedPlacesIdentityOnContext(t *testing.T) {
	gate, authority := newGate(t, time.Now)
	token, _, err := authority.Issue("s@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	a := &API{gate: gate}
	var got auth.Identity
	h := a.protected(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/payments", nil)
	req.Header.Set(authHeader, "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.Email != "s@example.com" {
		t.Fatalf("identity not propagated: %+v", got)
	}
}
