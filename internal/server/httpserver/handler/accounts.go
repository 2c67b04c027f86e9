package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
)

// SessionView is a session as shown by the admin API. The session key and
// token hash are never included.
type SessionView struct {
	ID       string `json:"id"`
	App      string `json:"app"`
	Expire   string `json:"expire"`
	Created  string `json:"created"`
	LastUsed string `json:"last_used,omitempty"`
	Nonce    int64  `json:"nonce"`
	Expired  bool   `json:"expired"`
}

// AccountView is an account as shown by the admin API.
type AccountView struct {
	Name           string        `json:"name"`
	ActiveSessions int           `json:"active_sessions"`
	Sessions       []SessionView `json:"sessions"`
}

// NewAccountView builds the redacted view of acc at now.
func NewAccountView(acc *domain.Account, now time.Time) AccountView {
	v := AccountView{
		Name:           acc.Name,
		ActiveSessions: len(acc.ActiveSessions(now)),
		Sessions:       make([]SessionView, 0, len(acc.Sessions)),
	}
	for _, s := range acc.Sessions {
		sv := SessionView{
			ID:      s.ID,
			App:     s.App,
			Expire:  s.ExpireTime().UTC().Format(time.RFC3339),
			Created: millis(s.CreatedAt),
			Nonce:   s.Nonce,
			Expired: !s.ValidAt(now),
		}
		if used := s.LastUsedTime(); !used.IsZero() {
			sv.LastUsed = used.UTC().Format(time.RFC3339)
		}
		v.Sessions = append(v.Sessions, sv)
	}
	return v
}

func millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// handleListAccounts handles GET /v1/accounts.
func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	now := h.now()
	views := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, NewAccountView(acc, now))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

// handleRevokeSession handles POST /v1/accounts/{account}/sessions/{id}/revoke.
func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	account, id := r.PathValue("account"), r.PathValue("id")
	if err := domain.ValidateAccountName(account); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	found, err := h.store.RevokeSession(r.Context(), account, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !found {
		h.handleServiceError(w, r, domain.ErrNoSession.WithDetails(id))
		return
	}

	logger.L(r.Context()).Info("session revoked via admin api", "account", account, "session_id", id)
	h.writeJSON(w, http.StatusOK, map[string]any{"revoked": true, "account": account, "id": id})
}

// handlePrune handles POST /v1/sessions/prune.
func (h *Handler) handlePrune(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.PruneExpired(r.Context(), h.now())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pruned": n})
}
