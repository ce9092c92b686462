// Package router implements the Command Router (spec.md §4.4): the heart
// of the gateway. It accepts a request for (cluster, command), publishes it
// to the cluster's executor channel, awaits a correlated reply within a
// timeout, and returns the result or a timeout outcome.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/kdebug/internal/apperror"
	"github.com/wisbric/kdebug/internal/telemetry"
	"github.com/wisbric/kdebug/pkg/keystore"
	"github.com/wisbric/kdebug/pkg/session"
)

const (
	commandTrackingKeyPrefix = "command_tracking/"
	resultKeyPrefix          = "result/"
	executorCommandsPrefix   = "executor_commands/"
	resultReadyPrefix        = "result_ready/"

	// clusterActiveMarkTTL is the short TTL the router refreshes
	// cluster_active with on every dispatched command (spec.md §4.4 step 2).
	clusterActiveMarkTTL = 60 * time.Second

	// pollCap is the interval of the fixed-rate fallback poll that runs
	// alongside the result_ready subscription in awaitResult.
	pollCap = time.Second
)

// forbiddenVerbs are rejected as a case-insensitive substring anywhere in
// args, per spec.md §6.
var forbiddenVerbs = []string{"delete", "apply", "create", "patch", "edit", "replace", "scale"}

// allowedExtraFlags is the allow-list of safe flags in extra_args, per
// spec.md §6. A flag's value must be attached in "=" form (the part before
// "=" is looked up); a value passed as a separate token is itself checked
// against these lists and rejected.
var allowedExtraFlags = map[string]bool{
	"-o": true, "--output": true,
	"-l": true, "--selector": true,
	"--field-selector": true,
	"--show-labels":    true,
	"--show-kind":      true,
	"--no-headers":     true,
	"-w": true, "--watch": true,
	"--sort-by": true,
	"-A": true, "--all-namespaces": true,
}

var deniedExtraFlags = []string{
	"--token", "--kubeconfig", "--server", "--insecure", "--username", "--password",
	"--client-certificate", "--as", "--as-group", "--certificate-authority",
	"-f", "--filename", "--recursive",
}

// Command is spec.md §3's Command entity, the payload published to the
// executor channel.
type Command struct {
	ID            string   `json:"id"`
	ClusterID     string   `json:"cluster_id"`
	Args          []string `json:"args"`
	TimeoutSecs   int      `json:"timeout_seconds"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Result is spec.md §3's Result entity.
type Result struct {
	CommandID       string  `json:"command_id"`
	Status          string  `json:"status"` // success|failure|timeout
	Output          string  `json:"output,omitempty"`
	Error           string  `json:"error,omitempty"`
	ExecutionTimeMs int64   `json:"execution_time_ms,omitempty"`
	ExecutedAt      *string `json:"executed_at,omitempty"`
}

// ExecuteRequest is the Command Router's execute() contract (spec.md §4.4).
type ExecuteRequest struct {
	ClusterID     string
	Args          []string
	Namespace     string
	ExtraArgs     []string
	TimeoutSecs   int
	CorrelationID string
	SessionID     string
}

// trackingEntry is command_tracking/<id>'s stored value.
type trackingEntry struct {
	ClusterID string    `json:"cluster_id"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Router implements execute() over a Keystore and the Session Registry.
type Router struct {
	ks       keystore.Keystore
	sessions *session.Registry
}

// New builds a Router.
func New(ks keystore.Keystore, sessions *session.Registry) *Router {
	return &Router{ks: ks, sessions: sessions}
}

// ValidateArgs enforces spec.md §6's forbidden-verb rule. No request
// containing a forbidden token in args may reach the executor channel
// (spec.md §8).
func ValidateArgs(args []string) error {
	if len(args) < 1 || len(args) > 20 {
		return apperror.New(apperror.Forbidden, "args must contain 1 to 20 entries")
	}
	for _, a := range args {
		lower := strings.ToLower(a)
		for _, verb := range forbiddenVerbs {
			if strings.Contains(lower, verb) {
				return apperror.New(apperror.Forbidden, fmt.Sprintf("forbidden verb %q in args", verb))
			}
		}
	}
	return nil
}

// ValidateExtraArgs enforces spec.md §6's extra_args allow/deny lists.
func ValidateExtraArgs(extraArgs []string) error {
	for _, a := range extraArgs {
		lower := strings.ToLower(a)
		flag, _, _ := strings.Cut(lower, "=")
		for _, denied := range deniedExtraFlags {
			if flag == denied || strings.HasPrefix(lower, denied) {
				return apperror.New(apperror.Forbidden, fmt.Sprintf("disallowed flag %q in extra_args", a))
			}
		}
		rawFlag, _, _ := strings.Cut(a, "=")
		if !allowedExtraFlags[flag] && !allowedExtraFlags[rawFlag] {
			return apperror.New(apperror.Forbidden, fmt.Sprintf("flag %q is not in the allow-list", a))
		}
	}
	return nil
}

// Execute runs spec.md §4.4's algorithm end to end.
func (r *Router) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	// 1. Validate.
	var sess *session.Session
	if req.SessionID != "" {
		s, err := r.sessions.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, apperror.New(apperror.NotFound, "session not found")
		}
		if s.ClusterID != req.ClusterID {
			return nil, apperror.New(apperror.SessionClusterMismatch, "session belongs to a different cluster")
		}
		sess = s
	}
	if err := ValidateArgs(req.Args); err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(req.ExtraArgs); err != nil {
		return nil, err
	}

	finalArgs := composeArgs(req.Args, req.Namespace, req.ExtraArgs)

	// 2. Mark active — unconditionally, independent of session presence.
	if err := r.sessions.MarkClusterActive(ctx, req.ClusterID, clusterActiveMarkTTL); err != nil {
		return nil, err
	}

	// 3. Keep session alive, if supplied.
	if sess != nil {
		if _, err := r.sessions.KeepAlive(ctx, req.SessionID); err != nil {
			return nil, err
		}
	}

	// 4. Form Command.
	cmd := Command{
		ID:            uuid.NewString(),
		ClusterID:     req.ClusterID,
		Args:          finalArgs,
		TimeoutSecs:   req.TimeoutSecs,
		CorrelationID: req.CorrelationID,
	}
	timeout := time.Duration(req.TimeoutSecs) * time.Second
	tracking := trackingEntry{ClusterID: req.ClusterID, QueuedAt: time.Now().UTC()}
	if err := r.ks.SetJSONEx(ctx, commandTrackingKeyPrefix+cmd.ID, tracking, timeout+5*time.Second); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "recording command tracking", err)
	}

	// 5. Publish — fire and forget, no ack.
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "encoding command", err)
	}
	if err := r.ks.Publish(ctx, executorCommandsPrefix+req.ClusterID, string(payload)); err != nil {
		return nil, apperror.Wrap(apperror.ServiceUnavailable, "publishing command", err)
	}
	telemetry.CommandsDispatchedTotal.WithLabelValues(req.ClusterID).Inc()

	// 6. Await result.
	result, err := r.awaitResult(ctx, cmd.ID, timeout)
	if err != nil {
		return nil, err
	}

	// 7. Outcome.
	if result.Status == "success" && sess == nil {
		if err := r.sessions.MarkClusterActive(ctx, req.ClusterID, clusterActiveMarkTTL); err != nil {
			return nil, err
		}
	}
	telemetry.CommandResultsTotal.WithLabelValues(result.Status).Inc()

	return result, nil
}

// composeArgs builds spec.md §4.4 step 1's final args list:
// [verb, ...args, '-n', namespace?, ...extra_args?].
func composeArgs(args []string, namespace string, extraArgs []string) []string {
	out := make([]string, 0, len(args)+len(extraArgs)+2)
	out = append(out, args...)
	if namespace != "" {
		out = append(out, "-n", namespace)
	}
	out = append(out, extraArgs...)
	return out
}

// awaitResult implements spec.md §4.4 step 6: an immediate read followed by
// a pub/sub subscription on result_ready/<id> raced against the deadline —
// the native alternative to the reference's poll loop, grounded on the
// teacher's escalation engine Subscribe/Channel loop shape.
func (r *Router) awaitResult(ctx context.Context, commandID string, timeout time.Duration) (*Result, error) {
	if result, ok, err := r.tryReadResult(ctx, commandID); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	sub := r.ks.Subscribe(ctx, resultReadyPrefix+commandID)
	defer sub.Close()

	poll := time.NewTicker(pollCap)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, apperror.Wrap(apperror.ServiceUnavailable, "request cancelled", ctx.Err())
		case <-deadline.C:
			return &Result{
				CommandID: commandID,
				Status:    "timeout",
				Error:     "Command execution timeout",
			}, nil
		case <-sub.Channel():
			if result, ok, err := r.tryReadResult(ctx, commandID); err != nil {
				return nil, err
			} else if ok {
				return result, nil
			}
		case <-poll.C:
			// Safety net in case the notification raced the write or was
			// dropped by the pub/sub transport.
			if result, ok, err := r.tryReadResult(ctx, commandID); err != nil {
				return nil, err
			} else if ok {
				return result, nil
			}
		}
	}
}

func (r *Router) tryReadResult(ctx context.Context, commandID string) (*Result, bool, error) {
	var result Result
	err := r.ks.GetJSON(ctx, resultKeyPrefix+commandID, &result)
	if err == keystore.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperror.Wrap(apperror.ServiceUnavailable, "reading result", err)
	}
	return &result, true, nil
}
