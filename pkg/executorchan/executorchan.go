// Package executorchan implements the Executor Channel (spec.md §4.5): the
// per-cluster long-lived push stream the executor subscribes to, and the
// short POST endpoint executors use to report results.
package executorchan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/internal/auth"
	"github.com/wisbric/kdebug/internal/httpserver"
	"github.com/wisbric/kdebug/internal/telemetry"
	"github.com/wisbric/kdebug/pkg/capability"
	"github.com/wisbric/kdebug/pkg/keystore"
	"github.com/wisbric/kdebug/pkg/router"
	"github.com/wisbric/kdebug/pkg/session"
)

const (
	connectMarkerTTL = 90 * time.Second
	keepaliveEvery   = 20 * time.Second
	resultTTL        = 60 * time.Second
)

// Handler wires the SSE stream and results endpoint onto the executor's
// authenticated router.
type Handler struct {
	ks           keystore.Keystore
	sessions     *session.Registry
	tokens       *auth.ExecutorTokens
	capabilities *capability.Registry
	logger       *slog.Logger
}

// New builds an executorchan Handler.
func New(ks keystore.Keystore, sessions *session.Registry, tokens *auth.ExecutorTokens, capabilities *capability.Registry, logger *slog.Logger) *Handler {
	return &Handler{ks: ks, sessions: sessions, tokens: tokens, capabilities: capabilities, logger: logger}
}

// authenticateExecutor validates the executor bearer + X-Cluster-Id pair
// (spec.md §6 transport: "Authorization: Bearer <executor_token>" and
// "X-Cluster-Id: <id>").
func (h *Handler) authenticateExecutor(r *http.Request) (string, error) {
	clusterID := r.Header.Get("X-Cluster-Id")
	if clusterID == "" {
		return "", apperror.New(apperror.InvalidCredentials, "missing X-Cluster-Id header")
	}

	bearer := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(bearer) <= len(prefix) || bearer[:len(prefix)] != prefix {
		return "", apperror.New(apperror.InvalidCredentials, "missing executor bearer token")
	}
	token := bearer[len(prefix):]

	ok, err := h.tokens.Authenticate(r.Context(), token, clusterID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperror.New(apperror.InvalidCredentials, "invalid executor token")
	}
	return clusterID, nil
}

// Stream implements GET /executor/stream (spec.md §4.5).
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	clusterID, err := h.authenticateExecutor(r)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "invalid_credentials", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	ctx := r.Context()

	// Create cluster_active with set-if-absent semantics: an existing marker
	// keeps its current TTL until the next command or keepalive refreshes
	// it. A failure here is logged but non-fatal (spec.md §4.5 step 2).
	if _, err := h.ks.SetNX(ctx, "cluster_active/"+clusterID, clusterID, connectMarkerTTL); err != nil {
		h.logger.Warn("executor connect: marking cluster active failed", "cluster_id", clusterID, "error", err)
	}

	sub := h.ks.Subscribe(ctx, "executor_commands/"+clusterID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "connected", fmt.Sprintf(`{"cluster_id":%q}`, clusterID))
	flusher.Flush()

	telemetry.ExecutorConnectionsActive.Inc()
	defer telemetry.ExecutorConnectionsActive.Dec()

	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Channel():
			if !ok {
				return
			}
			writeEvent(w, "command", payload)
			flusher.Flush()
			if err := h.sessions.MarkClusterActive(ctx, clusterID, connectMarkerTTL); err != nil {
				h.logger.Warn("refreshing cluster_active after command delivery failed", "cluster_id", clusterID, "error", err)
			}
		case <-ticker.C:
			writeEvent(w, "keepalive", `{}`)
			flusher.Flush()
			if err := h.sessions.MarkClusterActive(ctx, clusterID, connectMarkerTTL); err != nil {
				h.logger.Warn("refreshing cluster_active on keepalive failed", "cluster_id", clusterID, "error", err)
			}
		}
	}
}

// resultRequest is the wire shape for POST /executor/results.
type resultRequest struct {
	CommandID       string `json:"command_id" validate:"required"`
	Status          string `json:"status" validate:"required,oneof=success failure"`
	Output          string `json:"output"`
	Error           string `json:"error"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Results implements POST /executor/results (spec.md §4.5).
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticateExecutor(r); err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "invalid_credentials", err.Error())
		return
	}

	var req resultRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result := router.Result{
		CommandID:       req.CommandID,
		Status:          req.Status,
		Output:          req.Output,
		Error:           req.Error,
		ExecutionTimeMs: req.ExecutionTimeMs,
		ExecutedAt:      &now,
	}

	ctx := r.Context()
	if err := h.ks.SetJSONEx(ctx, "result/"+req.CommandID, result, resultTTL); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "service_unavailable", "keystore unavailable")
		return
	}

	b, _ := json.Marshal(result)
	if err := h.ks.Publish(ctx, "result_ready/"+req.CommandID, string(b)); err != nil {
		h.logger.Warn("publishing result_ready failed", "command_id", req.CommandID, "error", err)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

// capabilityReportRequest is the wire shape for POST /executor/capabilities.
type capabilityReportRequest struct {
	Mode                capability.Mode `json:"mode" validate:"required,oneof=readOnly extendedReadOnly fullAccess"`
	AllowedVerbs        []string        `json:"allowed_verbs"`
	RestrictedResources []string        `json:"restricted_resources"`
	AllowedFlags        []string        `json:"allowed_flags"`
	ExecutorVersion     string          `json:"executor_version"`
}

// Capabilities implements POST /executor/capabilities: an executor reports
// (or refreshes) its advertised capability profile (spec.md §4.6).
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	clusterID, err := h.authenticateExecutor(r)
	if err != nil {
		httpserver.RespondError(w, apperror.StatusFor(err), "invalid_credentials", err.Error())
		return
	}

	var req capabilityReportRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	profile, err := h.capabilities.Store(r.Context(), clusterID, req.Mode, req.AllowedVerbs, req.RestrictedResources, req.AllowedFlags, req.ExecutorVersion)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, profile)
}

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
