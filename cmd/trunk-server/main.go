// Package main provides the trunk server entry point: the push API, the
// spec-repo webhook, and the session endpoints under a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/glog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/podindex/trunk/pkg/auth"
	"github.com/podindex/trunk/pkg/push"
	"github.com/podindex/trunk/pkg/registry"
	"github.com/podindex/trunk/pkg/remote"
	"github.com/podindex/trunk/pkg/server"
	"github.com/podindex/trunk/pkg/webhook"
)

func main() {
	var (
		listenAddr       string
		databaseType     string
		databaseDSN      string
		allowWarnings    bool
		metricsNamespace string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "postgres", "Database type (postgres, mysql, or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.BoolVar(&allowWarnings, "allow-warnings", false, "Accept specs whose lint yields warnings only")
	flag.StringVar(&metricsNamespace, "metrics-namespace", "trunk", "Prometheus namespace, empty disables /metrics")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	if err := registry.AutoMigrate(db); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	// Set up auth based on TRUNK_AUTH_MODE.
	var roles auth.RoleExtractor
	switch mode := os.Getenv("TRUNK_AUTH_MODE"); mode {
	case "jwt":
		jwtCfg := auth.JWTRoleConfig{
			RoleClaim:         envOrDefault("TRUNK_JWT_ROLE_CLAIM", "role"),
			OperatorRoleValue: envOrDefault("TRUNK_JWT_OPERATOR_VALUE", "operator"),
			PublicKeyPath:     os.Getenv("TRUNK_JWT_PUBLIC_KEY_PATH"),
			Issuer:            os.Getenv("TRUNK_JWT_ISSUER"),
			Audience:          os.Getenv("TRUNK_JWT_AUDIENCE"),
			Logger:            logger,
		}
		extractor, err := auth.NewJWTRoleExtractor(jwtCfg)
		if err != nil {
			glog.Fatalf("Failed to set up JWT auth: %v", err)
		}
		roles = extractor
		logger.Info("using JWT auth",
			"roleClaim", jwtCfg.RoleClaim,
			"operatorValue", jwtCfg.OperatorRoleValue,
			"hasPublicKey", jwtCfg.PublicKeyPath != "")
	case "header", "":
		// Default: use X-Trunk-Role header (development mode)
		roles = auth.HeaderRoleExtractor{}
		if mode == "" {
			logger.Info("using default header-based auth (X-Trunk-Role)")
		}
	default:
		glog.Fatalf("Unknown auth mode: %q (expected jwt, header, or empty)", mode)
	}

	cfg := &server.Config{
		Remote:           remote.ConfigFromEnv(),
		Session:          auth.SessionConfigFromEnv(),
		Fanout:           webhook.FanoutConfigFromEnv(),
		Push:             push.Config{AllowWarnings: allowWarnings},
		Roles:            roles,
		MetricsNamespace: metricsNamespace,
	}
	app := server.NewAppContext(db, cfg, logger)

	router := server.Router(app)

	// Fanout delivery workers run for the life of the process.
	go app.Fanout.Run(ctx)

	logger.Info("trunk server ready",
		"listen", listenAddr,
		"specRepo", cfg.Remote.RepoOwner+"/"+cfg.Remote.RepoName,
		"branch", cfg.Remote.Branch,
	)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("trunk server stopped")
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
	}
	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = "postgres"
		}
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected postgres, mysql, or sqlite)", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
