package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/internal/httpserver"
)

// Handler mounts the Admin Surface's HTTP endpoints.
type Handler struct {
	admin  *Admin
	notify func(event, clusterID string)
	logger *slog.Logger
}

// NewHandler builds an admin Handler. notify, if non-nil, is called
// best-effort after a token is created or revoked (internal/notify's Slack
// side-channel); it must not block.
func NewHandler(admin *Admin, logger *slog.Logger, notify func(event, clusterID string)) *Handler {
	return &Handler{admin: admin, logger: logger, notify: notify}
}

// Routes registers the admin endpoints onto r. The four pre-existing
// operations live under /agents per spec.md §6
// ("POST/GET/DELETE /admin/agents[/{cluster_id}[/token|/status]]"); only
// the capabilities lookup — a SPEC_FULL.md supplement with no binding in
// spec.md's own wire table — is mounted under /clusters.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/agents/{clusterID}/token", h.createToken)
	r.Delete("/agents/{clusterID}/token", h.revokeToken)
	r.Get("/agents", h.listClusters)
	r.Get("/agents/{clusterID}/status", h.getStatus)
	r.Get("/clusters/{clusterID}/capabilities", h.getCapabilities)
}

type tokenResponse struct {
	ClusterID string `json:"cluster_id"`
	Token     string `json:"token"`
}

func (h *Handler) createToken(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	token, err := h.admin.CreateExecutorToken(r.Context(), clusterID)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "conflict", err.Error())
		return
	}
	h.notifyAsync("executor_token_created", clusterID)
	httpserver.Respond(w, http.StatusCreated, tokenResponse{ClusterID: clusterID, Token: token})
}

func (h *Handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	if err := h.admin.RevokeExecutorToken(r.Context(), clusterID); err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	h.notifyAsync("executor_token_revoked", clusterID)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) listClusters(w http.ResponseWriter, r *http.Request) {
	ids, err := h.admin.ListClusters(r.Context())
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"clusters": ids})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	status, err := h.admin.GetExecutorStatus(r.Context(), clusterID)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, status)
}

func (h *Handler) getCapabilities(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	profile, err := h.admin.GetCapabilities(r.Context(), clusterID)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	if profile == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "no capability profile reported for this cluster")
		return
	}
	httpserver.Respond(w, http.StatusOK, profile)
}

func (h *Handler) notifyAsync(event, clusterID string) {
	if h.notify == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Warn("admin notify panicked", "event", event, "cluster_id", clusterID, "recover", rec)
		}
	}()
	h.notify(event, clusterID)
}
