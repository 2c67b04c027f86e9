package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
)

// Store is the part of the credential store the admin API uses.
type Store interface {
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	RevokeSession(ctx context.Context, account, id string) (bool, error)
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}

// Deps are the handler's collaborators.
type Deps struct {
	Store Store

	// RelayState reports the connection manager state name. Nil reports
	// "unknown".
	RelayState func() string

	Logger logger.Logger
	Now    func() time.Time
}

// Handler serves the admin API.
type Handler struct {
	store      Store
	relayState func() string
	log        logger.Logger
	now        func() time.Time
	mux        *http.ServeMux
}

// New creates a Handler.
func New(deps Deps) *Handler {
	h := &Handler{
		store:      deps.Store,
		relayState: deps.RelayState,
		log:        deps.Logger,
		now:        deps.Now,
		mux:        http.NewServeMux(),
	}
	if h.relayState == nil {
		h.relayState = func() string { return "unknown" }
	}
	if h.log == nil {
		h.log = logger.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/accounts", h.handleListAccounts)
	h.mux.HandleFunc("POST /v1/accounts/{account}/sessions/{id}/revoke", h.handleRevokeSession)
	h.mux.HandleFunc("POST /v1/sessions/prune", h.handlePrune)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("X-Error-Code", code)
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// handleServiceError maps a domain error to a response. Causes are logged,
// never returned.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		logger.L(r.Context()).Error("admin request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternal.Code, domain.ErrInternal.Message)
		return
	}
	status := statusFor(de)
	if status >= 500 {
		logger.L(r.Context()).Error("admin request failed", "error", err)
	}
	h.writeError(w, status, de.Code, de.Message)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAccountName), errors.Is(err, domain.ErrMissingField):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRecordCorrupted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
