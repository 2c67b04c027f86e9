package httpserver

import (
	"net/http"

	"github.com/yndnr/pksa-go/internal/server/httpserver/handler"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
)

// RouterConfig holds configuration for the admin router.
type RouterConfig struct {
	// Handler serves the health and account endpoints.
	Handler *handler.Handler

	// Metrics serves /metrics. Nil disables the endpoint.
	Metrics http.Handler

	// AllowList restricts clients by IP/CIDR. Empty allows everyone.
	AllowList []string

	Logger logger.Logger
}

// NewRouter wires the admin routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/", cfg.Handler)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return Chain(mux,
		RequestID(),
		Recover(log),
		NetworkACL(cfg.AllowList, log),
		AccessLog(log),
	)
}
