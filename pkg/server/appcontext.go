package server

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/podindex/trunk/pkg/auth"
	"github.com/podindex/trunk/pkg/metrics"
	"github.com/podindex/trunk/pkg/push"
	"github.com/podindex/trunk/pkg/registry"
	"github.com/podindex/trunk/pkg/remote"
	"github.com/podindex/trunk/pkg/spec"
	"github.com/podindex/trunk/pkg/webhook"
)

// AppContext bundles every shared dependency of the server. Handlers and
// workers receive what they need from here rather than reaching for
// globals, so tests can assemble a context around an in-memory database.
type AppContext struct {
	DB *gorm.DB

	Owners   *registry.OwnerStore
	Pods     *registry.PodStore
	Commits  *registry.CommitStore
	Logs     *registry.LogStore
	Disputes *registry.DisputeStore
	Sessions *auth.SessionStore

	Remote   *remote.Client
	Checker  *spec.ReachabilityChecker
	Pipeline *push.Pipeline
	Importer *webhook.Importer
	Fanout   *webhook.Fanout

	Auth    *auth.Middleware
	Metrics metrics.Metrics
	Logger  *slog.Logger
}

// Config collects the sub-configs the app context is built from.
type Config struct {
	Remote  *remote.Config
	Session *auth.SessionConfig
	Fanout  *webhook.FanoutConfig
	Push    push.Config
	Roles   auth.RoleExtractor

	// MetricsNamespace enables Prometheus metrics when non-empty.
	MetricsNamespace string
}

// NewAppContext wires the full dependency graph over an open database
// connection. The schema must already be migrated.
func NewAppContext(db *gorm.DB, cfg *Config, logger *slog.Logger) *AppContext {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var m metrics.Metrics = metrics.Noop{}
	if cfg.MetricsNamespace != "" {
		m = metrics.NewProm(cfg.MetricsNamespace)
	}

	owners := registry.NewOwnerStore(db)
	pods := registry.NewPodStore(db, owners)
	commits := registry.NewCommitStore(db, pods)
	logs := registry.NewLogStore(db)
	disputes := registry.NewDisputeStore(db)
	sessions := auth.NewSessionStore(db, cfg.Session)

	remoteClient := remote.NewClient(cfg.Remote, logger)
	checker := spec.NewReachabilityChecker(remoteClient)

	pipeline := push.NewPipeline(db, commits, logs, remoteClient, checker, m, logger, cfg.Push)

	fanout := webhook.NewFanout(cfg.Fanout, logger)
	branch := ""
	if cfg.Remote != nil {
		branch = cfg.Remote.Branch
	}
	importer := webhook.NewImporter(pods, owners, commits, logs, remoteClient, fanout, m, logger, branch)

	return &AppContext{
		DB:       db,
		Owners:   owners,
		Pods:     pods,
		Commits:  commits,
		Logs:     logs,
		Disputes: disputes,
		Sessions: sessions,
		Remote:   remoteClient,
		Checker:  checker,
		Pipeline: pipeline,
		Importer: importer,
		Fanout:   fanout,
		Auth:     auth.NewMiddleware(sessions, cfg.Roles),
		Metrics:  m,
		Logger:   logger,
	}
}
