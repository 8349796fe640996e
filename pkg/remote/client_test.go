package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSHA = "0123456789abcdef0123456789abcdef01234567"

func newTestClient(baseURL string) *Client {
	return NewClient(&Config{
		BaseURL:        baseURL,
		RepoOwner:      "trunk",
		RepoName:       "specs",
		Branch:         "master",
		AuthToken:      "secret",
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
	}, nil)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Success, classify(200))
	assert.Equal(t, Success, classify(201))
	assert.Equal(t, Success, classify(302))
	assert.Equal(t, FailedOnOurSide, classify(404))
	assert.Equal(t, FailedOnOurSide, classify(409))
	assert.Equal(t, FailedOnTheirSide, classify(500))
	assert.Equal(t, FailedOnTheirSide, classify(503))
}

func TestCreateFile_Success(t *testing.T) {
	var gotBody commitRequest
	var gotPath, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"commit":{"sha":%q}}`, testSHA)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result := client.CreateFile(context.Background(),
		"Specs/Foo/1.0.0/Foo.podspec.json", `{"name":"Foo"}`,
		"[add] Foo 1.0.0", "Alice", "alice@example.org", false)

	assert.Equal(t, Success, result.Outcome)
	assert.Equal(t, testSHA, result.SHA)
	assert.Equal(t, "/repos/trunk/specs/contents/Specs/Foo/1.0.0/Foo.podspec.json", gotPath)
	assert.Equal(t, "token secret", gotAuth)
	assert.Equal(t, "[add] Foo 1.0.0", gotBody.Message)
	assert.Equal(t, "master", gotBody.Branch)
	assert.Equal(t, "Alice", gotBody.Author.Name)
	assert.Empty(t, gotBody.SHA, "a plain create carries no prior blob sha")

	decoded, err := base64.StdEncoding.DecodeString(gotBody.Content)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Foo"}`, string(decoded))
}

func TestCreateFile_UpdateResolvesPriorSHA(t *testing.T) {
	var putBody commitRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			// Blob lookup for the file being replaced.
			fmt.Fprint(w, `{"sha":"blobsha123"}`)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
			fmt.Fprintf(w, `{"commit":{"sha":%q}}`, testSHA)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result := client.CreateFile(context.Background(),
		"Specs/Foo/1.0.0/Foo.podspec.json", "{}",
		"[deprecate] Foo 1.0.0", "Alice", "alice@example.org", true)

	assert.Equal(t, Success, result.Outcome)
	assert.Equal(t, "blobsha123", putBody.SHA, "update-in-place carries the current blob sha")
}

func TestCreateFile_FailureClassification(t *testing.T) {
	cases := []struct {
		status int
		want   Outcome
	}{
		{http.StatusConflict, FailedOnOurSide},
		{http.StatusUnauthorized, FailedOnOurSide},
		{http.StatusInternalServerError, FailedOnTheirSide},
		{http.StatusBadGateway, FailedOnTheirSide},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		client := newTestClient(srv.URL)
		result := client.CreateFile(context.Background(), "p", "c", "m", "a", "e", false)
		assert.Equal(t, tc.want, result.Outcome, "status %d", tc.status)
		assert.Equal(t, tc.status, result.StatusCode)
		assert.Contains(t, result.Body, "nope")
		srv.Close()
	}
}

func TestCreateFile_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(&Config{
		BaseURL:        srv.URL,
		RepoOwner:      "trunk",
		RepoName:       "specs",
		ConnectTimeout: time.Second,
		ReadTimeout:    50 * time.Millisecond,
	}, nil)

	result := client.CreateFile(context.Background(), "p", "c", "m", "a", "e", false)
	assert.Equal(t, FailedDueToTimeout, result.Outcome)
}

func TestDeleteFile_CarriesBlobSHA(t *testing.T) {
	var delBody commitRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"sha":"blobsha123"}`)
		case http.MethodDelete:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&delBody))
			fmt.Fprintf(w, `{"commit":{"sha":%q}}`, testSHA)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result := client.DeleteFile(context.Background(), "Specs/Foo/1.0.0/Foo.podspec.json", "[delete] Foo 1.0.0", "Alice", "alice@example.org")

	assert.Equal(t, Success, result.Outcome)
	assert.Equal(t, "blobsha123", delBody.SHA)
	assert.Empty(t, delBody.Content)
}

func TestFileContent_Base64Decoding(t *testing.T) {
	content := `{"name":"Foo","version":"1.0.0"}`
	// The contents API wraps base64 at 60 columns; embedded newlines must
	// not break decoding.
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	wrapped := encoded[:20] + "\n" + encoded[20:]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.URL.Query().Get("ref"))
		fmt.Fprintf(w, `{"content":%q,"encoding":"base64"}`, wrapped)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	got, result := client.FileContent(context.Background(), "Specs/Foo/1.0.0/Foo.podspec.json", "abc123")
	assert.Equal(t, Success, result.Outcome)
	assert.Equal(t, content, got)
}

func TestFileContent_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	got, result := client.FileContent(context.Background(), "nope", "abc")
	assert.Equal(t, FailedOnOurSide, result.Outcome)
	assert.Empty(t, got)
}

func TestRefSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/alice/foo/commits/1.0.0" {
			fmt.Fprintf(w, `{"sha":%q}`, testSHA)
			return
		}
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	sha, ok := client.RefSHA(context.Background(), "alice", "foo", "1.0.0")
	assert.True(t, ok)
	assert.Equal(t, testSHA, sha)

	_, ok = client.RefSHA(context.Background(), "alice", "foo", "9.9.9")
	assert.False(t, ok)
}
