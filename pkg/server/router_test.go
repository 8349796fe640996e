package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/podindex/trunk/pkg/auth"
	"github.com/podindex/trunk/pkg/registry"
	"github.com/podindex/trunk/pkg/remote"
)

const testSHA = "0123456789abcdef0123456789abcdef01234567"

// newTestServer assembles a full app context over an in-memory database
// and a stubbed spec repository, and returns the mounted router.
func newTestServer(t *testing.T) (http.Handler, *AppContext) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, registry.AutoMigrate(db))

	repo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"commit":{"sha":%q}}`, testSHA)
	}))
	t.Cleanup(repo.Close)

	app := NewAppContext(db, &Config{
		Remote: &remote.Config{
			BaseURL:   repo.URL,
			RepoOwner: "trunk",
			RepoName:  "specs",
			Branch:    "master",
		},
		Roles: auth.HeaderRoleExtractor{},
	}, slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})))

	return Router(app), app
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

// newVerifiedSession registers and verifies a session directly through the
// stores, returning the bearer token.
func newVerifiedSession(t *testing.T, app *AppContext, email string) string {
	t.Helper()
	owner, err := app.Owners.FindOrCreateByEmail(email, "Test Owner")
	require.NoError(t, err)
	session, err := app.Sessions.Create(owner, "test", "")
	require.NoError(t, err)
	_, err = app.Sessions.Verify(*session.VerificationToken)
	require.NoError(t, err)
	return session.Token
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Token "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_SessionFlow(t *testing.T) {
	router, app := newTestServer(t)

	// Register a session.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/sessions", "", map[string]string{
		"email": "alice@example.org", "name": "Alice", "description": "laptop",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Token    string `json:"token"`
		Verified bool   `json:"verified"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created.Token, auth.SessionTokenLength)
	assert.False(t, created.Verified)

	// The unverified token does not authenticate.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions", created.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Verify it through the public route.
	owner, err := app.Owners.FindByEmail("alice@example.org")
	require.NoError(t, err)
	sessions, err := app.Sessions.ListByOwner(owner)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].VerificationToken)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions/verify/"+*sessions[0].VerificationToken, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Now the token lists its own session.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions", created.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Sessions []struct {
			Current bool `json:"current"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Sessions, 1)
	assert.True(t, listed.Sessions[0].Current)
}

func TestRouter_PushAndRead(t *testing.T) {
	router, app := newTestServer(t)
	token := newVerifiedSession(t, app, "alice@example.org")

	specJSON := `{
		"name": "Foo", "version": "1.0.0", "summary": "A test pod.",
		"license": "MIT", "authors": {"Alice": "alice@example.org"},
		"source": {"git": "https://example.org/repo.git", "tag": "1.0.0"}
	}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/pods", strings.NewReader(specJSON))
	r.Header.Set("Authorization", "Token "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/Foo/versions/1.0.0", rec.Header().Get("Location"))

	// Unauthenticated pushes bounce before the pipeline.
	r = httptest.NewRequest(http.MethodPost, "/api/v1/pods", strings.NewReader(specJSON))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The pod reads back publicly.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/pods/Foo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pod struct {
		Name     string `json:"name"`
		Versions []struct {
			Name string `json:"name"`
		} `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pod))
	assert.Equal(t, "Foo", pod.Name)
	require.Len(t, pod.Versions, 1)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/pods/Foo/versions/1.0.0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var version struct {
		Published bool `json:"published"`
		Commits   []struct {
			SHA string `json:"sha"`
		} `json:"commits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.True(t, version.Published)
	require.Len(t, version.Commits, 1)
	assert.Equal(t, testSHA, version.Commits[0].SHA)

	// Unknown pods are 404.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/pods/Missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_OwnerManagement(t *testing.T) {
	router, app := newTestServer(t)
	aliceToken := newVerifiedSession(t, app, "alice@example.org")
	bobToken := newVerifiedSession(t, app, "bob@example.org")

	alice, err := app.Owners.FindByEmail("alice@example.org")
	require.NoError(t, err)
	_, err = app.Pods.Create("Foo", alice)
	require.NoError(t, err)

	// Bob does not own Foo, so he cannot change its owners.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/pods/Foo/owners", bobToken,
		map[string]string{"email": "bob@example.org"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Alice adds Bob.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/pods/Foo/owners", aliceToken,
		map[string]string{"email": "bob@example.org", "name": "Bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Now Bob can remove Alice.
	rec = doJSON(t, router, http.MethodDelete, "/api/v1/pods/Foo/owners/alice@example.org", bobToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouter_DisputePolicies(t *testing.T) {
	router, app := newTestServer(t)
	token := newVerifiedSession(t, app, "alice@example.org")

	// Opening a dispute needs a session.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/disputes", "",
		map[string]string{"message": "name squatting"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/disputes", token,
		map[string]string{"message": "name squatting"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Listing and settling are operator-only; a plain session is not enough.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/disputes", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/disputes", nil)
	r.Header.Set("X-Trunk-Role", "operator")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	r = httptest.NewRequest(http.MethodPost, "/api/v1/disputes/"+created.ID+"/settle", nil)
	r.Header.Set("X-Trunk-Role", "operator")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_WebhookMediaType(t *testing.T) {
	router, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodPost, "/hooks/spec-repo", strings.NewReader(`{"ref":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
