package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/podindex/trunk/pkg/metrics"
	"github.com/podindex/trunk/pkg/registry"
	"github.com/podindex/trunk/pkg/remote"
	"github.com/podindex/trunk/pkg/spec"
)

// FileFetcher is the slice of the remote client the importer needs.
type FileFetcher interface {
	FileContent(ctx context.Context, path, ref string) (string, remote.CommitResult)
}

// Notifier receives imported-commit events. Satisfied by Fanout.
type Notifier interface {
	Notify(event Event)
}

// Importer reconciles push-event payloads into the registry. It races the
// synchronous push pipeline on the same (pod, version) keys; every
// find-or-create it performs rides a unique constraint with
// retry-on-conflict, never an application-level lock.
type Importer struct {
	pods     *registry.PodStore
	owners   *registry.OwnerStore
	commits  *registry.CommitStore
	logs     *registry.LogStore
	fetcher  FileFetcher
	notifier Notifier
	metrics  metrics.Metrics
	logger   *slog.Logger
	branch   string
}

// NewImporter creates an importer for events on the given branch.
// notifier may be nil.
func NewImporter(pods *registry.PodStore, owners *registry.OwnerStore, commits *registry.CommitStore, logs *registry.LogStore, fetcher FileFetcher, notifier Notifier, m metrics.Metrics, logger *slog.Logger, branch string) *Importer {
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if branch == "" {
		branch = "master"
	}
	return &Importer{
		pods:     pods,
		owners:   owners,
		commits:  commits,
		logs:     logs,
		fetcher:  fetcher,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		branch:   branch,
	}
}

// Relevant reports whether the payload is for the canonical branch.
func (i *Importer) Relevant(payload *PushPayload) bool {
	return payload.Ref == "refs/heads/"+i.branch
}

// ProcessPayload imports every qualifying commit of the payload. Per-file
// failures are logged to the trail and skipped; nothing here raises back
// to the webhook handler, which must answer the delivery quickly.
func (i *Importer) ProcessPayload(ctx context.Context, payload *PushPayload) {
	for idx := range payload.Commits {
		commit := &payload.Commits[idx]
		if commit.Merge() {
			// Merge commits duplicate the diffs of the commits they merge.
			i.metrics.IncWebhookIgnored("merge_commit")
			continue
		}
		i.processCommit(ctx, commit)
	}
}

func (i *Importer) processCommit(ctx context.Context, commit *PushedCommit) {
	if !registry.ValidSHA(commit.ID) {
		i.logger.Warn("skipping commit with malformed sha", "sha", commit.ID)
		return
	}

	committer, err := i.owners.FindOrCreateByEmail(commit.Author.Email, commit.Author.Name)
	if err != nil {
		i.logger.Error("failed to resolve committer", "email", commit.Author.Email, "error", err)
		return
	}

	for _, path := range commit.Added {
		if SpecFile(path) {
			i.handleAdded(ctx, commit, committer, path)
		}
	}
	for _, path := range commit.Modified {
		if SpecFile(path) {
			i.handleModified(ctx, commit, committer, path)
		}
	}
	for _, path := range commit.Removed {
		if SpecFile(path) {
			i.handleRemoved(commit, committer, path)
		}
	}
}

// handleAdded imports an added spec file. When no commit matches this
// (pod, version, sha) yet, added and modified handling are the same
// idempotent union.
func (i *Importer) handleAdded(ctx context.Context, commit *PushedCommit, committer *registry.Owner, path string) {
	name, versionName, ok := podVersionFromPath(path)
	if ok {
		pod, err := i.pods.FindByName(name, false)
		if err == nil && pod != nil {
			version, err := i.pods.FindVersion(pod, versionName)
			if err == nil && version != nil {
				existing, err := i.commits.FindBySHA(version, commit.ID)
				if err == nil && existing != nil {
					return
				}
			}
		}
	}
	i.handleModified(ctx, commit, committer, path)
}

func (i *Importer) handleModified(ctx context.Context, commit *PushedCommit, committer *registry.Owner, path string) {
	content, result := i.fetcher.FileContent(ctx, path, commit.ID)
	if result.Outcome != remote.Success {
		i.recordFetchFailure(commit, committer, path, result)
		return
	}

	parsed := spec.Parse([]byte(content))
	if parsed == nil || parsed.Name() == "" || parsed.Version() == "" {
		i.appendLog(registry.LevelWarning,
			fmt.Sprintf("Could not parse spec at `%s` (%s).", path, commit.ID),
			content, "", committer.ID)
		return
	}

	pod, err := i.pods.FindByName(parsed.Name(), true)
	if err != nil {
		i.logger.Error("failed to look up pod", "pod", parsed.Name(), "error", err)
		return
	}
	if pod == nil {
		pod, err = i.pods.Create(parsed.Name(), committer)
		if err != nil {
			// A concurrent push may have created the pod in the meantime.
			pod, err = i.pods.FindByName(parsed.Name(), true)
			if err != nil || pod == nil {
				i.logger.Error("failed to create pod from import", "pod", parsed.Name(), "error", err)
				return
			}
		}
	}

	version, created, err := i.pods.EnsureVersion(pod, parsed.Version())
	if err != nil {
		i.logger.Error("failed to ensure version", "pod", pod.Name, "version", parsed.Version(), "error", err)
		return
	}
	if created {
		i.appendLog(registry.LevelInfo,
			fmt.Sprintf("Version `%s %s` created via import.", pod.Name, version.Name),
			commit.ID, version.ID, committer.ID)
	}

	_, newCommit, err := i.commits.FindOrCreateBySHA(version, committer, commit.ID, content, true)
	if err != nil {
		i.logger.Error("failed to record imported commit", "pod", pod.Name, "version", version.Name, "sha", commit.ID, "error", err)
		return
	}
	if newCommit {
		i.metrics.IncImportedCommit("modified")
		if i.notifier != nil {
			i.notifier.Notify(Event{
				Pod:     pod.Name,
				Version: version.Name,
				SHA:     commit.ID,
			})
		}
	}
}

func (i *Importer) handleRemoved(commit *PushedCommit, committer *registry.Owner, path string) {
	name, versionName, ok := podVersionFromPath(path)
	if !ok {
		return
	}
	pod, err := i.pods.FindByName(name, false)
	if err != nil || pod == nil {
		return
	}
	version, err := i.pods.FindVersion(pod, versionName)
	if err != nil || version == nil {
		return
	}

	i.appendLog(registry.LevelWarning,
		fmt.Sprintf("Version `%s %s` removed from the spec repository (%s).", pod.Name, version.Name, commit.ID),
		path, version.ID, committer.ID)

	if err := i.pods.DeleteVersion(pod, version); err != nil {
		i.logger.Error("failed to delete version from import", "pod", pod.Name, "version", version.Name, "error", err)
		return
	}
	i.metrics.IncImportedCommit("removed")
}

func (i *Importer) recordFetchFailure(commit *PushedCommit, committer *registry.Owner, path string, result remote.CommitResult) {
	i.appendLog(registry.LevelError,
		fmt.Sprintf("Could not fetch `%s` at %s (%s).", path, commit.ID, result.Outcome),
		result.Body, "", committer.ID)
}

func (i *Importer) appendLog(level registry.LogLevel, message, data, versionID, ownerID string) {
	if _, err := i.logs.Append(level, message, data, versionID, ownerID); err != nil {
		i.logger.Error("failed to append log message", "error", err)
	}
}
