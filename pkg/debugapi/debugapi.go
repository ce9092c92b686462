// Package debugapi implements the client-facing /debug/* endpoints (part of
// spec.md §4.8, the Request Frontend): session CRUD, command execution, and
// cluster listing.
package debugapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/internal/httpserver"
	"github.com/wisbric/kdebug/pkg/admin"
	"github.com/wisbric/kdebug/pkg/router"
	"github.com/wisbric/kdebug/pkg/session"
)

// Bounds clamps request-supplied TTL/timeout values to the configured range
// (spec.md §5).
type Bounds struct {
	SessionTTLDefault, SessionTTLMin, SessionTTLMax          int
	CommandTimeoutDefault, CommandTimeoutMin, CommandTimeoutMax int
}

// Handler mounts the /debug/* endpoints.
type Handler struct {
	sessions              *session.Registry
	router                *router.Router
	admin                 *admin.Admin
	bounds                Bounds
	executeRequiresAPIKey bool
}

// New builds a debugapi Handler.
func New(sessions *session.Registry, rt *router.Router, adm *admin.Admin, bounds Bounds, executeRequiresAPIKey bool) *Handler {
	return &Handler{sessions: sessions, router: rt, admin: adm, bounds: bounds, executeRequiresAPIKey: executeRequiresAPIKey}
}

// Routes registers the endpoints onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/session", h.createSession)
	r.Get("/session/{id}", h.getSession)
	r.Delete("/session/{id}", h.endSession)
	r.Post("/execute", h.execute)
	r.Get("/clusters", h.listClusters)
}

func (h *Handler) clampTTL(ttl int) int {
	if ttl == 0 {
		return h.bounds.SessionTTLDefault
	}
	if ttl < h.bounds.SessionTTLMin {
		return h.bounds.SessionTTLMin
	}
	if ttl > h.bounds.SessionTTLMax {
		return h.bounds.SessionTTLMax
	}
	return ttl
}

func (h *Handler) clampTimeout(t int) int {
	if t == 0 {
		return h.bounds.CommandTimeoutDefault
	}
	if t < h.bounds.CommandTimeoutMin {
		return h.bounds.CommandTimeoutMin
	}
	if t > h.bounds.CommandTimeoutMax {
		return h.bounds.CommandTimeoutMax
	}
	return t
}

type createSessionRequest struct {
	ClusterID  string `json:"cluster_id" validate:"required"`
	UserID     string `json:"user_id"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,min=60,max=3600"`
}

type sessionResponse struct {
	*session.Session
	Status string `json:"status"`
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	active, err := h.sessions.IsClusterActive(r.Context(), sess.ClusterID)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, sessionResponse{Session: sess, Status: sess.Status(active)})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	correlationID := r.Header.Get("X-Correlation-Id")
	serviceIdentity := r.Header.Get("X-Service-Identity")
	if identity, ok := auth.FromContext(r.Context()); ok && serviceIdentity == "" {
		serviceIdentity = identity.Subject
	}

	sess, err := h.sessions.CreateSession(r.Context(), req.ClusterID, req.UserID, correlationID, serviceIdentity, h.clampTTL(req.TTLSeconds))
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}

	active, err := h.sessions.IsClusterActive(r.Context(), sess.ClusterID)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusCreated, sessionResponse{Session: sess, Status: sess.Status(active)})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	if sess == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	h.respondSession(w, r, sess)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.EndSession(r.Context(), id); err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "not_found", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type executeRequest struct {
	ClusterID     string   `json:"cluster_id" validate:"required"`
	SessionID     string   `json:"session_id"`
	CommandType   string   `json:"command_type" validate:"required"`
	Args          []string `json:"args" validate:"required,min=1,max=20"`
	Namespace     string   `json:"namespace"`
	ExtraArgs     []string `json:"extra_args"`
	TimeoutSecs   int      `json:"timeout_seconds" validate:"omitempty,min=1,max=60"`
}

// execute implements POST /debug/execute (spec.md §4.8, §4.4). When
// executeRequiresAPIKey is set, only api_key-authenticated callers may reach
// it (spec.md §9 open question, resolved at config time).
func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	if h.executeRequiresAPIKey {
		identity, ok := auth.FromContext(r.Context())
		if !ok || identity.Method != auth.MethodAPIKey {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "execute requires an API key credential")
			return
		}
	}

	var req executeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	args := append([]string{req.CommandType}, req.Args...)
	result, err := h.router.Execute(r.Context(), router.ExecuteRequest{
		ClusterID:     req.ClusterID,
		SessionID:     req.SessionID,
		Args:          args,
		Namespace:     req.Namespace,
		ExtraArgs:     req.ExtraArgs,
		TimeoutSecs:   h.clampTimeout(req.TimeoutSecs),
		CorrelationID: r.Header.Get("X-Correlation-Id"),
	})
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "bad_request", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) listClusters(w http.ResponseWriter, r *http.Request) {
	ids, err := h.admin.ListClusters(r.Context())
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "service_unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"clusters": ids})
}
