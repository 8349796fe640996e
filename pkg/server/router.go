package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/podindex/trunk/pkg/auth"
	"github.com/podindex/trunk/pkg/metrics"
	"github.com/podindex/trunk/pkg/push"
	"github.com/podindex/trunk/pkg/webhook"
)

// route pairs a handler with the policy guarding it. Registration goes
// through register, so a route without a policy cannot be mounted.
type route struct {
	method  string
	pattern string
	policy  auth.Policy
	handler http.HandlerFunc
}

// Router assembles the HTTP surface. Every route carries its policy
// explicitly; there is no catch-all.
func Router(app *AppContext) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(app.Logger))
	r.Use(recoverer(app.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	routes := []route{
		{http.MethodGet, "/health", auth.PolicyPublic, healthHandler(app)},

		{http.MethodPost, "/api/v1/sessions", auth.PolicyPublic,
			auth.CreateSessionHandler(app.Owners, app.Sessions, app.Logger)},
		{http.MethodGet, "/api/v1/sessions/verify/{token}", auth.PolicyPublic,
			auth.VerifySessionHandler(app.Sessions)},
		{http.MethodGet, "/api/v1/sessions", auth.PolicySession,
			auth.ListSessionsHandler(app.Sessions)},
		{http.MethodDelete, "/api/v1/sessions", auth.PolicySession,
			auth.DestroySessionHandler(app.Sessions)},
		{http.MethodDelete, "/api/v1/sessions/all", auth.PolicySession,
			auth.DestroyAllSessionsHandler(app.Sessions)},

		{http.MethodGet, "/api/v1/pods/{name}", auth.PolicyPublic,
			GetPodHandler(app.Pods)},
		{http.MethodGet, "/api/v1/pods/{name}/versions/{version}", auth.PolicyPublic,
			GetVersionHandler(app.Pods, app.Commits, app.Logs)},
		{http.MethodPost, "/api/v1/pods", auth.PolicySession,
			push.PushHandler(app.Pipeline)},
		{http.MethodPatch, "/api/v1/pods", auth.PolicySession,
			push.DeprecateHandler(app.Pipeline)},
		{http.MethodDelete, "/api/v1/pods/{name}/versions/{version}", auth.PolicySession,
			push.DeleteHandler(app.Pipeline)},

		{http.MethodPost, "/api/v1/pods/{name}/owners", auth.PolicySession,
			AddOwnerHandler(app.Pods, app.Owners)},
		{http.MethodDelete, "/api/v1/pods/{name}/owners/{email}", auth.PolicySession,
			RemoveOwnerHandler(app.Pods, app.Owners)},

		{http.MethodPost, "/api/v1/disputes", auth.PolicySession,
			CreateDisputeHandler(app.Disputes)},
		{http.MethodGet, "/api/v1/disputes", auth.PolicyOperator,
			ListDisputesHandler(app.Disputes)},
		{http.MethodPost, "/api/v1/disputes/{id}/settle", auth.PolicyOperator,
			SettleDisputeHandler(app.Disputes)},

		{http.MethodPost, "/hooks/spec-repo", auth.PolicyPublic,
			webhook.Handler(app.Importer, app.Metrics)},
	}
	for _, rt := range routes {
		register(r, app.Auth, rt)
	}

	if _, ok := app.Metrics.(*metrics.Prom); ok {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	return r
}

func register(r chi.Router, m *auth.Middleware, rt route) {
	r.Method(rt.method, rt.pattern, m.Require(rt.policy, rt.handler))
}

// healthHandler answers 200 when the database responds to a ping.
func healthHandler(app *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := app.DB.DB()
		if err != nil || sqlDB.PingContext(r.Context()) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
