package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dmagur/passlock/internal/middleware"
)

// NewRouter constructs the HTTP handler serving the relay API.
//
// Public routes:
//
//	POST /api/register
//	POST /api/login
//
// Routes under /sync require a bearer token:
//
//	GET  /sync/{collection}
//	POST /sync/{collection}
func NewRouter(
	authHandler *AuthHandler,
	syncHandler *SyncHandler,
	validator middleware.TokenValidator,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Only allow requests with Content-Type: application/json. GETs
	// without a body pass through unaffected.
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Log each request and its metadata.
	r.Use(middleware.WithRequestLogging(logger))

	// Public endpoints.
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// Protected group: requires a valid bearer token.
	r.Route("/sync", func(r chi.Router) {
		r.Use(middleware.BearerAuth(validator))
		r.Get("/{collection}", syncHandler.Changed)
		r.Post("/{collection}", syncHandler.Push)
	})

	return r
}
