package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/api/auth"
	"github.com/fileferry/fileferry/pkg/api/handlers"
	"github.com/fileferry/fileferry/pkg/api/middleware"
)

// Service bundles the orchestrator surface the API exposes.
type Service interface {
	handlers.FileService
	handlers.QuotaService
	handlers.BreakerProber
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET  /health - Liveness probe
//   - GET  /health/ready - Readiness probe
//   - POST /api/v1/files - Upload a file
//   - GET  /api/v1/files - List own files
//   - GET  /api/v1/files/{id} - Fetch one record (bumps accessed-at)
//   - DELETE /api/v1/files/{id} - Drop a reference / delete
//   - GET  /api/v1/quota - Own quota entry
//   - PUT  /api/v1/quota/{user_id} - Update a byte ceiling (admin)
func NewRouter(service Service, store handlers.Pinger, jwtService *auth.JWTService, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))

	healthHandler := handlers.NewHealthHandler(store, service)
	filesHandler := handlers.NewFilesHandler(service)
	quotaHandler := handlers.NewQuotaHandler(service)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// API routes - bearer token required
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtService))

		r.Route("/files", func(r chi.Router) {
			r.Post("/", filesHandler.Upload)
			r.Get("/", filesHandler.List)
			r.Get("/{id}", filesHandler.Get)
			r.Delete("/{id}", filesHandler.Delete)
		})

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", quotaHandler.Get)
			r.With(middleware.RequireAdmin()).Put("/{user_id}", quotaHandler.SetCeiling)
		})
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
