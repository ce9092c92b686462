package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wisbric/kdebug/pkg/keystore"
)

const auditRingKey = "auth_audit"

// AuditEvent is an append-only record of an authentication attempt, kept
// in the trimmed auth_audit ring (spec.md §3 AuditEvent). Middleware records
// one event per request it authenticates (exempt paths and loopback callers
// are not recorded); executor-token checks in pkg/executorchan are not
// recorded, and no caller sets ClusterID.
type AuditEvent struct {
	Time      time.Time `json:"time"`
	Method    string    `json:"method"`
	Success   bool      `json:"success"`
	Identity  string    `json:"identity,omitempty"`
	ClusterID string    `json:"cluster_id,omitempty"`
	RemoteIP  string    `json:"remote_ip,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// AuditWriter buffers AuditEvents and flushes them to the keystore ring in
// batches, the way the teacher's internal/audit.Writer buffers database
// inserts — adapted here from a Postgres batch INSERT to a keystore
// LPUSH+LTRIM ring (spec.md's explicit non-goal of durable audit storage).
type AuditWriter struct {
	ks       keystore.Keystore
	limit    int64
	logger   *slog.Logger
	events   chan AuditEvent
	flushInt time.Duration

	wg     sync.WaitGroup
	done   chan struct{}
	cancel context.CancelFunc
}

// NewAuditWriter constructs a writer bounded to limit entries, flushing
// every flushInterval or when 32 events have queued, whichever comes first.
func NewAuditWriter(ks keystore.Keystore, limit int64, flushInterval time.Duration, logger *slog.Logger) *AuditWriter {
	return &AuditWriter{
		ks:       ks,
		limit:    limit,
		logger:   logger,
		events:   make(chan AuditEvent, 256),
		flushInt: flushInterval,
		done:     make(chan struct{}),
	}
}

// Start launches the background flush loop. Call Close to drain and stop.
func (w *AuditWriter) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *AuditWriter) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInt)
	defer ticker.Stop()

	var batch []AuditEvent
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(context.Background(), batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			close(w.done)
			return
		case ev := <-w.events:
			batch = append(batch, ev)
			if len(batch) >= 32 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *AuditWriter) flush(ctx context.Context, batch []AuditEvent) {
	for _, ev := range batch {
		b, err := json.Marshal(ev)
		if err != nil {
			w.logger.Error("encoding audit event", "error", err)
			continue
		}
		if err := w.ks.LPush(ctx, auditRingKey, string(b)); err != nil {
			w.logger.Error("writing audit event", "error", err)
			continue
		}
	}
	if err := w.ks.LTrim(ctx, auditRingKey, 0, w.limit-1); err != nil {
		w.logger.Error("trimming audit ring", "error", err)
	}
}

// Log enqueues ev for asynchronous persistence. Never blocks the caller's
// request path; a full buffer drops the event with a logged warning.
func (w *AuditWriter) Log(ev AuditEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("audit buffer full, dropping event", "method", ev.Method)
	}
}

// Close stops the flush loop and waits for the final flush to complete.
func (w *AuditWriter) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
	w.wg.Wait()
}

// ClientIP extracts the caller's IP from X-Forwarded-For, X-Real-IP, or
// RemoteAddr, in that order, matching internal/audit's clientIP helper.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsLoopback reports whether r's actual TCP peer (r.RemoteAddr) is a
// loopback address, used by the middleware's internal-agent exemption
// (spec.md §4.2: "address-based (loopback/localhost only)"). This must
// never consult ClientIP's forwarded-header heuristic: those headers are
// attacker-controlled and a spoofed "X-Forwarded-For: 127.0.0.1" would
// otherwise bypass authentication entirely. RemoteAddr is the one value a
// remote caller cannot set.
func IsLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
