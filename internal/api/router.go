package api

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ticket-inventory/internal/api/middleware"
	"github.com/example/ticket-inventory/internal/auth"
	"github.com/example/ticket-inventory/internal/metrics"
	"github.com/example/ticket-inventory/internal/tracing"
)

type RouterConfig struct {
	JWTService   *auth.JWTService
	AdminKeyHash string
	WebDir       string
}

func NewRouter(handlers *Handlers, sessions *SessionHandlers, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	requireSession := middleware.SessionMiddleware(cfg.JWTService)
	optionalSession := middleware.OptionalSessionMiddleware(cfg.JWTService)
	requireAdmin := middleware.RequireAdminKey(cfg.AdminKeyHash)

	// Static files (web UI)
	if cfg.WebDir != "" {
		fs := http.FileServer(http.Dir(cfg.WebDir))
		mux.Handle("/", fs)
	}

	mux.HandleFunc("/health", handlers.Health)
	mux.Handle("/metrics", promhttp.Handler())

	// Sessions
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			sessions.CreateSession(w, r)
		case http.MethodDelete:
			sessions.EndSession(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Events: /events/{id}/availability, /events/{id}/availability/stream, /events/{id}/status
	mux.Handle("/events/", optionalSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := splitPath(r.URL.Path, "/events/")
		switch {
		case len(parts) == 2 && parts[1] == "availability":
			handlers.GetAvailability(w, r, parts[0])
		case len(parts) == 3 && parts[1] == "availability" && parts[2] == "stream":
			handlers.StreamAvailability(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "status":
			handlers.GetEventStatus(w, r, parts[0])
		default:
			http.NotFound(w, r)
		}
	})))

	// Holds
	mux.Handle("/holds", requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.ListHolds(w, r)
		case http.MethodPost:
			handlers.CreateHold(w, r)
		case http.MethodDelete:
			handlers.ReleaseAllHolds(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/holds/", requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := splitPath(r.URL.Path, "/holds/")
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			handlers.GetHold(w, r, parts[0])
		case len(parts) == 1 && r.Method == http.MethodPut:
			handlers.UpdateHold(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "release" && r.Method == http.MethodPost:
			handlers.ReleaseHold(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "commit" && r.Method == http.MethodPost:
			handlers.CommitHold(w, r, parts[0])
		case len(parts) == 1 || len(parts) == 2:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		default:
			http.NotFound(w, r)
		}
	})))

	// Purchases
	mux.Handle("/purchases", requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlers.Purchase(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Admin
	mux.Handle("/admin/", requireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := splitPath(r.URL.Path, "/admin/")
		switch {
		case len(parts) == 3 && parts[0] == "ticket-types" && parts[2] == "history" && r.Method == http.MethodGet:
			handlers.GetHistory(w, r, parts[1])
		case len(parts) == 3 && parts[0] == "events" && parts[2] == "alerts" && r.Method == http.MethodGet:
			handlers.GetAlerts(w, r, parts[1])
		case len(parts) == 1 && parts[0] == "holds" && r.Method == http.MethodPost:
			requireSession(http.HandlerFunc(handlers.AdminReserve)).ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})))

	return metrics.Middleware(tracing.Middleware(withLogging(mux)))
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Println("[API]", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
