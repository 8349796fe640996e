// Package push orchestrates the synchronous publish pipeline: validation,
// authorization, transactional reservation, the remote repository commit,
// and the durable log trail.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"gorm.io/gorm"

	"github.com/podindex/trunk/pkg/metrics"
	"github.com/podindex/trunk/pkg/registry"
	"github.com/podindex/trunk/pkg/remote"
	"github.com/podindex/trunk/pkg/spec"
)

// Operation names the kind of push.
type Operation string

// Operations.
const (
	OpAdd       Operation = "add"
	OpDeprecate Operation = "deprecate"
	OpDelete    Operation = "delete"
)

// State is a push attempt's position in the state machine.
type State string

// Terminal states.
const (
	StatePublished     State = "published"
	StateRejected      State = "rejected"
	StateInternalError State = "internal_error"
	StateRemoteError   State = "remote_error"
	StateTimedOut      State = "timed_out"
)

// Result is the terminal outcome of one push attempt, carrying everything
// the HTTP layer needs to answer the client.
type Result struct {
	State    State
	Status   int
	Location string
	Message  string
	Lint     *spec.LintResult
	Pod      *registry.Pod
	Version  *registry.PodVersion
	Commit   *registry.Commit
}

// RepoClient is the slice of the remote client the pipeline needs.
type RepoClient interface {
	CreateFile(ctx context.Context, path, content, message, authorName, authorEmail string, update bool) remote.CommitResult
	DeleteFile(ctx context.Context, path, message, authorName, authorEmail string) remote.CommitResult
}

// SourceChecker is the slice of the reachability checker the pipeline
// needs.
type SourceChecker interface {
	SourceReachable(ctx context.Context, s *spec.Specification) bool
}

// Config controls pipeline behavior.
type Config struct {
	AllowWarnings bool // Accept specs whose lint yields warnings only.
}

// Pipeline drives a push from raw body to terminal state.
type Pipeline struct {
	db      *gorm.DB
	commits *registry.CommitStore
	logs    *registry.LogStore
	repo    RepoClient
	checker SourceChecker
	metrics metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

// NewPipeline creates a push pipeline.
func NewPipeline(db *gorm.DB, commits *registry.CommitStore, logs *registry.LogStore, repo RepoClient, checker SourceChecker, m metrics.Metrics, logger *slog.Logger, cfg Config) *Pipeline {
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		db:      db,
		commits: commits,
		logs:    logs,
		repo:    repo,
		checker: checker,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

// Push runs an Add or Deprecate push for owner. rawSpec is the request
// body. The returned Result is always terminal.
func (p *Pipeline) Push(ctx context.Context, owner *registry.Owner, op Operation, rawSpec []byte) Result {
	p.metrics.IncPushAttempt(string(op))

	// Received -> Validated.
	parsed := spec.Parse(rawSpec)
	if parsed == nil {
		return p.terminal(op, Result{
			State:   StateInternalError,
			Status:  http.StatusBadRequest,
			Message: "Unable to load a pod spec from the provided input.",
		})
	}
	if lint := parsed.ValidationErrors(); !parsed.Lint(p.cfg.AllowWarnings) {
		return p.terminal(op, Result{
			State:   StateRejected,
			Status:  http.StatusUnprocessableEntity,
			Message: "The pod spec did not pass validation.",
			Lint:    &lint,
		})
	}
	if p.checker != nil && !p.checker.SourceReachable(ctx, parsed) {
		return p.terminal(op, Result{
			State:   StateRejected,
			Status:  http.StatusUnprocessableEntity,
			Message: "The pod spec's source is not reachable.",
		})
	}

	// Validated -> Authorized -> Reserved. The transaction covers only the
	// local row creation; the remote call below must never run inside it.
	reserved, result := p.reserve(owner, op, parsed)
	if result != nil {
		return p.terminal(op, *result)
	}

	// Reserved -> RemoteCommitPending. From here on the placeholder rows
	// stay put no matter what the remote answers; a retry reuses them.
	pretty, err := parsed.PrettyJSON()
	if err != nil {
		return p.terminal(op, Result{
			State:   StateInternalError,
			Status:  http.StatusInternalServerError,
			Message: "There was a problem preparing the spec data.",
			Pod:     reserved.pod,
			Version: reserved.version,
		})
	}

	message := fmt.Sprintf("[%s] %s %s", op, parsed.Name(), parsed.Version())
	commitResult := p.repo.CreateFile(ctx, parsed.FilePath(), pretty, message, owner.Name, owner.Email, op == OpDeprecate)

	return p.terminal(op, p.finish(owner, op, reserved, pretty, commitResult))
}

// Delete runs a Delete push: the spec file is removed from the repository
// and the version is marked deleted locally.
func (p *Pipeline) Delete(ctx context.Context, owner *registry.Owner, podName, versionName string) Result {
	p.metrics.IncPushAttempt(string(OpDelete))

	pods := registry.NewPodStore(p.db, registry.NewOwnerStore(p.db))
	pod, err := pods.FindByNameAndOwner(podName, owner)
	if err != nil {
		if ownErr, ok := err.(*registry.OwnershipError); ok {
			return p.terminal(OpDelete, Result{
				State:   StateRejected,
				Status:  http.StatusForbidden,
				Message: ownErr.Error(),
			})
		}
		return p.internalError(OpDelete, err)
	}
	if pod == nil {
		return p.terminal(OpDelete, Result{
			State:   StateRejected,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("No pod found with the name `%s`.", podName),
		})
	}
	version, err := pods.FindVersion(pod, versionName)
	if err != nil {
		return p.internalError(OpDelete, err)
	}
	if version == nil {
		return p.terminal(OpDelete, Result{
			State:   StateRejected,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("No version `%s` found for pod `%s`.", versionName, podName),
		})
	}

	path := fmt.Sprintf("Specs/%s/%s/%s.podspec.json", pod.Name, version.Name, pod.Name)
	message := fmt.Sprintf("[delete] %s %s", pod.Name, version.Name)
	commitResult := p.repo.DeleteFile(ctx, path, message, owner.Name, owner.Email)

	if commitResult.Outcome == remote.Success {
		if err := pods.MarkVersionDeleted(version, true); err != nil {
			return p.internalError(OpDelete, err)
		}
		p.appendLog(registry.LevelWarning,
			fmt.Sprintf("Version `%s %s` deleted.", pod.Name, version.Name),
			commitResult.Body, version.ID, owner.ID)
		return p.terminal(OpDelete, Result{
			State:   StatePublished,
			Status:  http.StatusNoContent,
			Pod:     pod,
			Version: version,
		})
	}
	return p.terminal(OpDelete, p.remoteFailure(OpDelete, commitResult, pod, version, owner))
}

// reserved holds the rows created or reused during reservation.
type reserved struct {
	pod        *registry.Pod
	version    *registry.PodVersion
	newPod     bool
	newVersion bool
}

// reserve performs Authorized -> Reserved. A non-nil Result is terminal.
func (p *Pipeline) reserve(owner *registry.Owner, op Operation, parsed *spec.Specification) (*reserved, *Result) {
	var out reserved
	txErr := p.db.Transaction(func(tx *gorm.DB) error {
		pods := registry.NewPodStore(tx, registry.NewOwnerStore(tx))

		pod, err := pods.FindByNameAndOwner(parsed.Name(), owner)
		if err != nil {
			return err
		}
		if pod == nil {
			if op == OpDeprecate {
				return &notFoundError{name: parsed.Name()}
			}
			pod, err = pods.Create(parsed.Name(), owner)
			if err != nil {
				return err
			}
			out.newPod = true
		}
		out.pod = pod

		if op == OpDeprecate {
			version, err := pods.FindVersion(pod, parsed.Version())
			if err != nil {
				return err
			}
			if version == nil {
				return &notFoundError{name: parsed.Name(), version: parsed.Version()}
			}
			out.version = version
			return nil
		}

		version, created, err := pods.FindOrCreateVersion(pod, parsed.Version())
		if err != nil {
			return err
		}
		out.version = version
		out.newVersion = created
		return nil
	})
	if txErr == nil {
		return &out, nil
	}

	switch e := txErr.(type) {
	case *registry.OwnershipError:
		return nil, &Result{
			State:   StateRejected,
			Status:  http.StatusForbidden,
			Message: e.Error(),
		}
	case *registry.VersionPublishedError:
		return nil, &Result{
			State:    StateRejected,
			Status:   http.StatusConflict,
			Location: e.Location(),
			Message:  e.Error(),
		}
	case *registry.ValidationError:
		return nil, &Result{
			State:   StateRejected,
			Status:  http.StatusUnprocessableEntity,
			Message: e.Error(),
		}
	case *notFoundError:
		return nil, &Result{
			State:   StateRejected,
			Status:  http.StatusNotFound,
			Message: e.Error(),
		}
	default:
		p.logger.Error("push reservation failed", "error", txErr)
		return nil, &Result{
			State:   StateInternalError,
			Status:  http.StatusInternalServerError,
			Message: "There was a problem reserving the pod version.",
		}
	}
}

// finish performs RemoteCommitPending -> terminal for Add and Deprecate.
func (p *Pipeline) finish(owner *registry.Owner, op Operation, r *reserved, pretty string, commitResult remote.CommitResult) Result {
	if commitResult.Outcome != remote.Success {
		return p.remoteFailure(op, commitResult, r.pod, r.version, owner)
	}

	if !registry.ValidSHA(commitResult.SHA) {
		// The remote accepted the write but the response carried no usable
		// sha; that is a bug in this server's request handling.
		p.logger.Error("remote commit succeeded without a usable sha",
			"pod", r.pod.Name, "version", r.version.Name, "status", commitResult.StatusCode)
		return Result{
			State:   StateInternalError,
			Status:  http.StatusInternalServerError,
			Message: "There was a problem recording the commit.",
			Pod:     r.pod,
			Version: r.version,
		}
	}

	commit, err := p.commits.Create(r.version, owner, commitResult.SHA, pretty)
	if err != nil {
		p.logger.Error("failed to persist commit", "error", err,
			"pod", r.pod.Name, "version", r.version.Name)
		return Result{
			State:   StateInternalError,
			Status:  http.StatusInternalServerError,
			Message: "There was a problem recording the commit.",
			Pod:     r.pod,
			Version: r.version,
		}
	}

	p.appendLog(registry.LevelInfo,
		fmt.Sprintf("Version `%s %s` published.", r.pod.Name, r.version.Name),
		commitResult.SHA, r.version.ID, owner.ID)

	return Result{
		State:    StatePublished,
		Status:   http.StatusFound,
		Location: r.version.ResourcePath(r.pod.Name),
		Pod:      r.pod,
		Version:  r.version,
		Commit:   commit,
	}
}

// remoteFailure maps the non-success arms of the four-way outcome taxonomy
// onto terminal states. The 5xx and timeout arms are ambiguous: the remote
// may have durably written the commit despite the error, and no
// reconciliation is attempted. A resubmission either finds the published
// version (409) or retries cleanly against the surviving placeholder.
func (p *Pipeline) remoteFailure(op Operation, commitResult remote.CommitResult, pod *registry.Pod, version *registry.PodVersion, owner *registry.Owner) Result {
	versionID := ""
	if version != nil {
		versionID = version.ID
	}
	switch commitResult.Outcome {
	case remote.FailedOnOurSide:
		p.logger.Error("remote rejected our commit request",
			"operation", op, "status", commitResult.StatusCode, "body", commitResult.Body)
		p.appendLog(registry.LevelError, "The spec repository rejected the commit request.", commitResult.Body, versionID, owner.ID)
		return Result{
			State:   StateInternalError,
			Status:  http.StatusInternalServerError,
			Message: "There was a problem writing the spec to the repository.",
			Pod:     pod,
			Version: version,
		}
	case remote.FailedDueToTimeout:
		p.appendLog(registry.LevelError, "The spec repository did not respond in time.", commitResult.Body, versionID, owner.ID)
		return Result{
			State:   StateTimedOut,
			Status:  http.StatusGatewayTimeout,
			Message: "The spec repository did not respond in time. The write may still have gone through; please retry in a while.",
			Pod:     pod,
			Version: version,
		}
	default:
		p.appendLog(registry.LevelError, "The spec repository reported an outage.", commitResult.Body, versionID, owner.ID)
		return Result{
			State:   StateRemoteError,
			Status:  http.StatusInternalServerError,
			Message: "The spec repository reported an error. The write may still have gone through; please retry in a while.",
			Pod:     pod,
			Version: version,
		}
	}
}

func (p *Pipeline) internalError(op Operation, err error) Result {
	p.logger.Error("push pipeline failed", "operation", op, "error", err)
	return p.terminal(op, Result{
		State:   StateInternalError,
		Status:  http.StatusInternalServerError,
		Message: "There was an internal problem processing the push.",
	})
}

func (p *Pipeline) terminal(op Operation, result Result) Result {
	p.metrics.IncPushOutcome(string(op), string(result.State))
	return result
}

func (p *Pipeline) appendLog(level registry.LogLevel, message, data, versionID, ownerID string) {
	// Best-effort trail; a failed log write never fails the push.
	if _, err := p.logs.Append(level, message, data, versionID, ownerID); err != nil {
		p.logger.Error("failed to append log message", "error", err)
	}
}

// notFoundError reports a missing pod or version during reservation.
type notFoundError struct {
	name    string
	version string
}

func (e *notFoundError) Error() string {
	if e.version != "" {
		return fmt.Sprintf("No version `%s` found for pod `%s`.", e.version, e.name)
	}
	return fmt.Sprintf("No pod found with the name `%s`.", e.name)
}
