// Package handlers implements the HTTP surface: POST /eval, plus the
// ungated /healthz endpoint. /metrics is served by internal/metrics.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/RyanPotat/eval-server/internal/api"
	"github.com/RyanPotat/eval-server/internal/auth"
)

// evalRequest mirrors the POST /eval request body: {code, msg}.
type evalRequest struct {
	Code string                 `json:"code"`
	Msg  map[string]interface{} `json:"msg"`
}

// Enqueuer is the Admission Queue surface the handler depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, code string, msg map[string]interface{}) (string, error)
}

// Eval handles POST /eval: authenticate, decode, enqueue, respond.
type Eval struct {
	queue      Enqueuer
	authSecret string
}

// NewEval builds an Eval handler backed by queue, gated by authSecret.
func NewEval(queue Enqueuer, authSecret string) *Eval {
	return &Eval{queue: queue, authSecret: authSecret}
}

func (h *Eval) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !auth.Verify(r, h.authSecret) {
		api.AuthFailed(w, elapsedMS(start))
		return
	}

	var req evalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.InternalError(w, elapsedMS(start), err)
		return
	}

	result, err := h.queue.Enqueue(r.Context(), req.Code, req.Msg)
	if err != nil {
		api.InternalError(w, elapsedMS(start), err)
		return
	}

	api.Success(w, result, elapsedMS(start))
}

// elapsedMS reports the duration since start in milliseconds rounded to
// 4 decimal places, matching spec.md §4.6.
func elapsedMS(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000
	return roundTo4(ms)
}

func roundTo4(v float64) float64 {
	const scale = 10000
	return float64(int64(v*scale+0.5)) / scale
}

// ConnStats is the TCP accept-path surface a Health handler reports on.
// Implemented by *internal/listener.ConnLimiter.
type ConnStats interface {
	Stats() (total int64, uniqueIPs int)
}

// QueueDepth is the admission queue surface a Health handler reports on.
// Implemented by *internal/sandbox/queue.Queue.
type QueueDepth interface {
	Depth() int
}

type healthBody struct {
	Status        string `json:"status"`
	Connections   int64  `json:"connections"`
	ConnectionIPs int    `json:"connectionIPs"`
	QueueDepth    int    `json:"queueDepth"`
	QueueCapacity int    `json:"queueCapacity"`
}

// Health reports liveness plus the two saturation points a caller is
// actually at risk of hitting: the TCP accept path (internal/listener)
// and the admission queue (internal/sandbox/queue) ahead of the single
// isolate. Unauthenticated.
type Health struct {
	conns         ConnStats
	queue         QueueDepth
	queueCapacity int
}

// NewHealth builds a Health handler. conns or queue may be nil if that
// surface isn't available; its fields are then still present in the
// body, reported as zero.
func NewHealth(conns ConnStats, queue QueueDepth, queueCapacity int) *Health {
	return &Health{conns: conns, queue: queue, queueCapacity: queueCapacity}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", QueueCapacity: h.queueCapacity}
	if h.conns != nil {
		body.Connections, body.ConnectionIPs = h.conns.Stats()
	}
	if h.queue != nil {
		body.QueueDepth = h.queue.Depth()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
