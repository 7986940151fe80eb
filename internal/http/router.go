package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/studydesk/internal/api"
	"github.com/jw6ventures/studydesk/internal/assetcache"
	"github.com/jw6ventures/studydesk/internal/auth"
	"github.com/jw6ventures/studydesk/internal/config"
	"github.com/jw6ventures/studydesk/internal/http/csrf"
	"github.com/jw6ventures/studydesk/internal/http/ratelimit"
	"github.com/jw6ventures/studydesk/internal/metrics"
	"github.com/jw6ventures/studydesk/internal/store"
)

// Deps are the pieces the router mounts. Assets may be nil, in which case
// unknown paths are 404.
type Deps struct {
	Config *config.Config
	Store  *store.Store
	Auth   *auth.Service
	API    *api.Handler
	Assets *assetcache.Service
	Log    *zap.Logger
}

// Router is the root handler. Close stops its rate limiters.
type Router struct {
	http.Handler
	limiters []*ratelimit.IPRateLimiter
}

func (rt *Router) Close() {
	for _, l := range rt.limiters {
		l.Close()
	}
}

// NewRouter wires the health, metrics, API, messaging and asset routes.
func NewRouter(d Deps) *Router {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := d.Config
	r := chi.NewRouter()

	// Auth endpoints: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// API endpoints: 50 requests per second, burst of 100
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(50), 100, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.Store.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	h := d.API
	protect := csrf.Middleware(cfg.BaseURL)

	r.Route("/api", func(r chi.Router) {
		r.Use(noCache)

		r.Group(func(r chi.Router) {
			r.Use(authRateLimiter.Middleware())
			r.Post("/auth/signup", h.SignUp)
			r.Post("/auth/signin", h.SignIn)
		})
		r.With(protect).Get("/session", h.Session)
		r.With(d.Auth.RequireSession, protect).Post("/auth/signout", h.SignOut)

		r.Group(func(r chi.Router) {
			r.Use(apiRateLimiter.Middleware())
			r.Use(d.Auth.RequireSession)
			r.Use(protect)

			r.Get("/today", h.Today)
			r.Get("/calendar", h.Calendar)
			r.Get("/timetable.ics", h.Timetable)

			r.Get("/subjects", h.ListSubjects)
			r.Post("/subjects", h.CreateSubject)
			r.Put("/subjects/{id}", h.UpdateSubject)
			r.Delete("/subjects/{id}", h.DeleteSubject)

			r.Get("/tasks", h.ListTasks)
			r.Post("/tasks", h.CreateTask)
			r.Put("/tasks/{id}", h.UpdateTask)
			r.Delete("/tasks/{id}", h.DeleteTask)
			r.Post("/tasks/{id}/toggle", h.ToggleTask)

			r.Get("/classes", h.ListClasses)
			r.Post("/classes", h.CreateClass)
			r.Put("/classes/{id}", h.UpdateClass)
			r.Delete("/classes/{id}", h.DeleteClass)

			r.Get("/goals", h.ListGoals)
			r.Post("/goals", h.CreateGoal)
			r.Put("/goals/{id}", h.UpdateGoal)
			r.Delete("/goals/{id}", h.DeleteGoal)

			r.Get("/focus", h.FocusStats)
			r.Post("/focus", h.RecordFocus)

			r.Get("/backup", h.ExportBackup)
			r.Post("/backup", h.ImportBackup)
			r.Delete("/data", h.ResetData)

			r.Get("/preferences/theme", h.GetTheme)
			r.Put("/preferences/theme", h.SetTheme)

			r.Get("/connectivity", h.Connectivity)
			r.Put("/connectivity", h.SetConnectivity)
			r.Get("/sync/pending", h.PendingChanges)
		})
	})

	if d.Assets != nil {
		r.Get("/sw/events", d.Assets.ServeEvents)
		r.Post("/sw/message", d.Assets.ServeMessage)
		r.Handle("/*", d.Assets)
	}

	return &Router{Handler: r, limiters: []*ratelimit.IPRateLimiter{authRateLimiter, apiRateLimiter}}
}

// noCache makes API responses revalidate on every use. Unlike
// middleware.NoCache it leaves the request's conditional headers alone, so
// handlers can still answer If-None-Match with 304.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-cache, private, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "Thu, 01 Jan 1970 00:00:00 GMT")
		next.ServeHTTP(w, r)
	})
}
