package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/podindex/trunk/pkg/registry"
)

// Policy is the authorization requirement of a route. Every route
// registration takes one explicitly; there is no default, so a route
// without a policy does not compile.
type Policy int

// Route policies.
const (
	// PolicyPublic requires nothing.
	PolicyPublic Policy = iota
	// PolicySession requires a verified, unexpired session token.
	PolicySession
	// PolicyOperator requires the operator role on top of nothing else;
	// it guards administrative surfaces such as dispute settlement.
	PolicyOperator
)

// requestCtxKey is an unexported type used as the context key for the
// authenticated request context.
type requestCtxKey struct{}

// RequestContext carries the authenticated identity through handlers.
type RequestContext struct {
	Owner   *registry.Owner
	Session *registry.Session
}

// WithRequestContext returns a new context with the identity attached.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, rc)
}

// FromContext retrieves the authenticated identity from the context.
// Returns the zero value and false if the request was not authenticated.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestCtxKey{}).(RequestContext)
	return rc, ok
}

// TokenFromHeader extracts the bearer token from an
// "Authorization: Token <32-hex>" header. Returns "" when the header is
// missing or malformed.
func TokenFromHeader(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Token") {
		return ""
	}
	if len(parts[1]) != SessionTokenLength {
		return ""
	}
	return parts[1]
}

// Middleware enforces route policies.
type Middleware struct {
	sessions *SessionStore
	roles    RoleExtractor
}

// NewMiddleware creates policy-enforcing middleware. roles may be nil, in
// which case operator routes always deny.
func NewMiddleware(sessions *SessionStore, roles RoleExtractor) *Middleware {
	return &Middleware{sessions: sessions, roles: roles}
}

// Require wraps next with the checks the policy demands. Session-guarded
// routes get the resolved owner and session attached to the request
// context; failures answer 401 with a JSON error body before next runs.
func (m *Middleware) Require(policy Policy, next http.HandlerFunc) http.HandlerFunc {
	switch policy {
	case PolicyPublic:
		return next
	case PolicySession:
		return func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromHeader(r)
			if token == "" {
				unauthorized(w, "a bearer token is required")
				return
			}
			session, err := m.sessions.FindActiveByToken(token)
			if err != nil {
				unauthorized(w, "unable to verify token")
				return
			}
			if session == nil {
				unauthorized(w, "token is invalid or expired")
				return
			}
			ctx := WithRequestContext(r.Context(), RequestContext{
				Owner:   session.Owner,
				Session: session,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	case PolicyOperator:
		return func(w http.ResponseWriter, r *http.Request) {
			if m.roles == nil || m.roles.ExtractRole(r) != RoleOperator {
				forbidden(w, "operator role required")
				return
			}
			next.ServeHTTP(w, r)
		}
	default:
		return func(w http.ResponseWriter, r *http.Request) {
			forbidden(w, "route has no usable policy")
		}
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusUnauthorized, message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusForbidden, message)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
