package push

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/podindex/trunk/pkg/registry"
	"github.com/podindex/trunk/pkg/remote"
	"github.com/podindex/trunk/pkg/spec"
)

const testSHA = "0123456789abcdef0123456789abcdef01234567"

// fakeRepo answers CreateFile and DeleteFile from a queue of canned
// results and records what it was asked to write.
type fakeRepo struct {
	results []remote.CommitResult
	paths   []string
	updates []bool
}

func (f *fakeRepo) next() remote.CommitResult {
	if len(f.results) == 0 {
		return remote.CommitResult{Outcome: remote.Success, StatusCode: 201, SHA: testSHA}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func (f *fakeRepo) CreateFile(ctx context.Context, path, content, message, authorName, authorEmail string, update bool) remote.CommitResult {
	f.paths = append(f.paths, path)
	f.updates = append(f.updates, update)
	return f.next()
}

func (f *fakeRepo) DeleteFile(ctx context.Context, path, message, authorName, authorEmail string) remote.CommitResult {
	f.paths = append(f.paths, path)
	return f.next()
}

// alwaysReachable skips the network probe.
type alwaysReachable struct{}

func (alwaysReachable) SourceReachable(ctx context.Context, s *spec.Specification) bool { return true }

type neverReachable struct{}

func (neverReachable) SourceReachable(ctx context.Context, s *spec.Specification) bool { return false }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, registry.AutoMigrate(db))
	return db
}

func newTestPipeline(t *testing.T, db *gorm.DB, repo RepoClient) *Pipeline {
	t.Helper()
	owners := registry.NewOwnerStore(db)
	pods := registry.NewPodStore(db, owners)
	commits := registry.NewCommitStore(db, pods)
	logs := registry.NewLogStore(db)
	return NewPipeline(db, commits, logs, repo, alwaysReachable{}, nil, nil, Config{})
}

func newTestOwner(t *testing.T, db *gorm.DB) *registry.Owner {
	t.Helper()
	owner, err := registry.NewOwnerStore(db).Create("alice@example.org", "Alice")
	require.NoError(t, err)
	return owner
}

func specBody(name, version string) []byte {
	return []byte(fmt.Sprintf(`{
		"name": %q, "version": %q, "summary": "A test pod.",
		"license": "MIT", "authors": {"Alice": "alice@example.org"},
		"source": {"git": "https://example.org/repo.git", "tag": %q}
	}`, name, version, version))
}

func TestPush_PublishesNewPod(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{}
	p := newTestPipeline(t, db, repo)

	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))

	assert.Equal(t, StatePublished, result.State)
	assert.Equal(t, http.StatusFound, result.Status)
	assert.Equal(t, "/Foo/versions/1.0.0", result.Location)
	require.NotNil(t, result.Commit)
	assert.Equal(t, testSHA, result.Commit.SHA)
	assert.False(t, result.Commit.Imported, "API pushes are not imports")

	require.Len(t, repo.paths, 1)
	assert.Equal(t, "Specs/Foo/1.0.0/Foo.podspec.json", repo.paths[0])
	assert.False(t, repo.updates[0], "an add is a create, not an update")

	// The pod exists with the pusher as owner.
	pods := registry.NewPodStore(db, registry.NewOwnerStore(db))
	pod, err := pods.FindByName("Foo", false)
	require.NoError(t, err)
	require.NotNil(t, pod)
	require.Len(t, pod.Owners, 1)
	assert.Equal(t, owner.ID, pod.Owners[0].ID)
}

func TestPush_MalformedBody(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	p := newTestPipeline(t, db, &fakeRepo{})

	result := p.Push(context.Background(), owner, OpAdd, []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, result.Status)
	assert.Equal(t, "Unable to load a pod spec from the provided input.", result.Message)
}

func TestPush_LintRejection(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{}
	p := newTestPipeline(t, db, repo)

	result := p.Push(context.Background(), owner, OpAdd, []byte(`{"name":"Foo"}`))
	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, http.StatusUnprocessableEntity, result.Status)
	require.NotNil(t, result.Lint)
	assert.NotEmpty(t, result.Lint.Errors)
	assert.Empty(t, repo.paths, "nothing reaches the remote on lint failure")
}

func TestPush_UnreachableSource(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	p := NewPipeline(db,
		registry.NewCommitStore(db, registry.NewPodStore(db, registry.NewOwnerStore(db))),
		registry.NewLogStore(db), &fakeRepo{}, neverReachable{}, nil, nil, Config{})

	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, http.StatusUnprocessableEntity, result.Status)
}

func TestPush_PublishedVersionConflicts(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	p := newTestPipeline(t, db, &fakeRepo{})

	first := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	require.Equal(t, StatePublished, first.State)

	second := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StateRejected, second.State)
	assert.Equal(t, http.StatusConflict, second.Status)
	assert.Equal(t, "/Foo/versions/1.0.0", second.Location, "the conflict points at the existing resource")
}

func TestPush_SomeoneElsesPodIsForbidden(t *testing.T) {
	db := newTestDB(t)
	alice := newTestOwner(t, db)
	bob, err := registry.NewOwnerStore(db).Create("bob@example.org", "Bob")
	require.NoError(t, err)
	p := newTestPipeline(t, db, &fakeRepo{})

	first := p.Push(context.Background(), alice, OpAdd, specBody("Foo", "1.0.0"))
	require.Equal(t, StatePublished, first.State)

	result := p.Push(context.Background(), bob, OpAdd, specBody("Foo", "2.0.0"))
	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, http.StatusForbidden, result.Status)
	assert.Contains(t, result.Message, "Alice", "the refusal names the real owners")
}

func TestPush_TimeoutLeavesPlaceholder(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{results: []remote.CommitResult{
		{Outcome: remote.FailedDueToTimeout, Body: "deadline exceeded"},
	}}
	p := newTestPipeline(t, db, repo)

	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, http.StatusGatewayTimeout, result.Status)
	assert.Contains(t, result.Message, "retry")

	// The placeholder rows survive, unpublished, with no commit attached.
	pods := registry.NewPodStore(db, registry.NewOwnerStore(db))
	pod, err := pods.FindByName("Foo", false)
	require.NoError(t, err)
	require.NotNil(t, pod)
	version, err := pods.FindVersion(pod, "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, version)
	published, err := pods.VersionPublished(version)
	require.NoError(t, err)
	assert.False(t, published)

	// A retry reuses the same placeholder and can publish.
	retry := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StatePublished, retry.State)
	require.NotNil(t, retry.Version)
	assert.Equal(t, version.ID, retry.Version.ID)
}

func TestPush_RemoteOutage(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{results: []remote.CommitResult{
		{Outcome: remote.FailedOnTheirSide, StatusCode: 502, Body: "bad gateway"},
	}}
	p := newTestPipeline(t, db, repo)

	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StateRemoteError, result.State)
	assert.Equal(t, http.StatusInternalServerError, result.Status)
	assert.Contains(t, result.Message, "retry")
}

func TestPush_RemoteRejectionIsOpaque(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{results: []remote.CommitResult{
		{Outcome: remote.FailedOnOurSide, StatusCode: 401, Body: "bad credentials"},
	}}
	p := newTestPipeline(t, db, repo)

	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StateInternalError, result.State)
	assert.Equal(t, http.StatusInternalServerError, result.Status)
	assert.NotContains(t, result.Message, "bad credentials", "remote details stay out of client responses")
}

func TestPush_SuccessWithoutSHAIsInternalError(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{results: []remote.CommitResult{
		{Outcome: remote.Success, StatusCode: 200, SHA: ""},
	}}
	p := newTestPipeline(t, db, repo)

	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StateInternalError, result.State)
	assert.Equal(t, http.StatusInternalServerError, result.Status)
}

func TestPush_DeprecateRequiresExistingVersion(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{}
	p := newTestPipeline(t, db, repo)

	result := p.Push(context.Background(), owner, OpDeprecate, specBody("Foo", "1.0.0"))
	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, http.StatusNotFound, result.Status)

	require.Equal(t, StatePublished, p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0")).State)

	repo.results = nil
	result = p.Push(context.Background(), owner, OpDeprecate, specBody("Foo", "1.0.0"))
	assert.Equal(t, StatePublished, result.State)
	assert.True(t, repo.updates[len(repo.updates)-1], "a deprecate overwrites in place")
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{}
	p := newTestPipeline(t, db, repo)

	require.Equal(t, StatePublished, p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0")).State)

	result := p.Delete(context.Background(), owner, "Foo", "1.0.0")
	assert.Equal(t, http.StatusNoContent, result.Status)

	// The version is soft-deleted; the commit trail survives.
	pods := registry.NewPodStore(db, registry.NewOwnerStore(db))
	pod, err := pods.FindByName("Foo", false)
	require.NoError(t, err)
	require.NotNil(t, pod)
	version, err := pods.FindVersion(pod, "1.0.0")
	require.NoError(t, err)
	assert.Nil(t, version, "deleted versions are hidden from plain lookups")

	// Deleting something absent is a 404.
	result = p.Delete(context.Background(), owner, "Foo", "9.9.9")
	assert.Equal(t, http.StatusNotFound, result.Status)
}

func TestPush_RepublishesDeletedVersion(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{}
	p := newTestPipeline(t, db, repo)

	require.Equal(t, StatePublished, p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0")).State)
	require.Equal(t, http.StatusNoContent, p.Delete(context.Background(), owner, "Foo", "1.0.0").Status)

	// Re-pushing a deleted version revives its row instead of colliding
	// with it on the unique index forever.
	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0"))
	assert.Equal(t, StatePublished, result.State)
	assert.Equal(t, http.StatusFound, result.Status)

	pods := registry.NewPodStore(db, registry.NewOwnerStore(db))
	pod, err := pods.FindByName("Foo", false)
	require.NoError(t, err)
	require.NotNil(t, pod)
	version, err := pods.FindVersion(pod, "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, version, "the version is live again")
	assert.False(t, version.Deleted)
}

func TestPush_RevivesDeletedPod(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	p := newTestPipeline(t, db, &fakeRepo{})

	require.Equal(t, StatePublished, p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0")).State)

	pods := registry.NewPodStore(db, registry.NewOwnerStore(db))
	pod, err := pods.FindByName("Foo", false)
	require.NoError(t, err)
	require.NoError(t, pods.MarkPodDeleted(pod, true))

	// A pod name is not lost to its owner just because the pod was
	// deleted; the next push brings it back.
	result := p.Push(context.Background(), owner, OpAdd, specBody("Foo", "2.0.0"))
	assert.Equal(t, StatePublished, result.State)

	revived, err := pods.FindByName("Foo", false)
	require.NoError(t, err)
	require.NotNil(t, revived, "the pod is visible again")
}

func TestDelete_RemoteFailureLeavesVersion(t *testing.T) {
	db := newTestDB(t)
	owner := newTestOwner(t, db)
	repo := &fakeRepo{}
	p := newTestPipeline(t, db, repo)
	require.Equal(t, StatePublished, p.Push(context.Background(), owner, OpAdd, specBody("Foo", "1.0.0")).State)

	repo.results = []remote.CommitResult{{Outcome: remote.FailedOnTheirSide, StatusCode: 500}}
	result := p.Delete(context.Background(), owner, "Foo", "1.0.0")
	assert.Equal(t, StateRemoteError, result.State)

	pods := registry.NewPodStore(db, registry.NewOwnerStore(db))
	pod, _ := pods.FindByName("Foo", false)
	require.NotNil(t, pod)
	version, err := pods.FindVersion(pod, "1.0.0")
	require.NoError(t, err)
	assert.NotNil(t, version, "a failed remote delete leaves the version in place")
}
