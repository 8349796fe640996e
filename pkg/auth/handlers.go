package auth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podindex/trunk/pkg/registry"
)

// sessionResponse is the API shape of a session. The bearer token is only
// included on creation; listings show a truncated form.
type sessionResponse struct {
	Token       string `json:"token,omitempty"`
	TokenHint   string `json:"token_hint,omitempty"`
	Description string `json:"description"`
	Verified    bool   `json:"verified"`
	ValidUntil  string `json:"valid_until"`
	CreatedAt   string `json:"created_at"`
	Current     bool   `json:"current,omitempty"`
}

// CreateSessionHandler returns a handler that registers a session for an
// owner, creating the owner on first contact. The session starts
// unverified; the verification token is logged for the out-of-band
// delivery channel to pick up.
func CreateSessionHandler(owners *registry.OwnerStore, sessions *SessionStore, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email       string `json:"email"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
			writeError(w, http.StatusUnprocessableEntity, "an email address is required")
			return
		}

		owner, err := owners.FindOrCreateByEmail(body.Email, body.Name)
		if err != nil {
			if verr, ok := err.(*registry.ValidationError); ok {
				writeError(w, http.StatusUnprocessableEntity, verr.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to resolve owner")
			return
		}

		session, err := sessions.Create(owner, body.Description, clientIP(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}

		verification := ""
		if session.VerificationToken != nil {
			verification = *session.VerificationToken
		}
		logger.Info("session created, verification pending",
			"owner", owner.Email,
			"verificationToken", verification)

		writeJSON(w, http.StatusCreated, sessionResponse{
			Token:       session.Token,
			Description: session.Description,
			Verified:    session.Verified,
			ValidUntil:  session.ValidUntil.Format(time.RFC3339),
			CreatedAt:   session.CreatedAt.Format(time.RFC3339),
		})
	}
}

// VerifySessionHandler returns a handler that activates a session from its
// verification token. The route is public; the token is the credential.
func VerifySessionHandler(sessions *SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if len(token) != VerificationTokenLength {
			writeError(w, http.StatusNotFound, "verification token not recognized")
			return
		}
		session, err := sessions.Verify(token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to verify session")
			return
		}
		if session == nil {
			writeError(w, http.StatusNotFound, "verification token not recognized")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"verified": true})
	}
}

// ListSessionsHandler returns a handler that lists the owner's sessions.
func ListSessionsHandler(sessions *SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := FromContext(r.Context())
		if !ok {
			unauthorized(w, "a bearer token is required")
			return
		}
		list, err := sessions.ListByOwner(rc.Owner)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		out := make([]sessionResponse, 0, len(list))
		for _, s := range list {
			out = append(out, sessionResponse{
				TokenHint:   tokenHint(s.Token),
				Description: s.Description,
				Verified:    s.Verified,
				ValidUntil:  s.ValidUntil.Format(time.RFC3339),
				CreatedAt:   s.CreatedAt.Format(time.RFC3339),
				Current:     rc.Session != nil && s.ID == rc.Session.ID,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
	}
}

// DestroySessionHandler returns a handler that destroys the current
// session, logging the caller out of this client only.
func DestroySessionHandler(sessions *SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := FromContext(r.Context())
		if !ok || rc.Session == nil {
			unauthorized(w, "a bearer token is required")
			return
		}
		if err := sessions.Destroy(rc.Session); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to destroy session")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DestroyAllSessionsHandler returns a handler that destroys every session
// of the owner, including the one making the call.
func DestroyAllSessionsHandler(sessions *SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := FromContext(r.Context())
		if !ok {
			unauthorized(w, "a bearer token is required")
			return
		}
		if err := sessions.DestroyAll(rc.Owner); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to destroy sessions")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// tokenHint truncates a token for display in listings.
func tokenHint(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

// clientIP extracts the remote address, preferring the forwarded header a
// fronting proxy sets.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
