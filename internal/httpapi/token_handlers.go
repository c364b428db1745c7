package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"codelab.org/internal/audit"
	"codelab.org/internal/auth"
)

type tokenRequest struct {
	Email string `json:"email"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authority == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token issuing disabled")
		return
	}

	var req tokenRequest
	if err := decodeDocument(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	token, id, err := a.authority.Issue(email)
	if err != nil {
		if errors.Is(err, auth.ErrEmptyIdentity) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"email":      id.Email,
		"expires_at": id.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: id.ExpiresAt,
	})
}
