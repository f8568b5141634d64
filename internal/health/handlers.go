package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrNotConfigured marks an optional dependency that is intentionally absent.
var ErrNotConfigured = errors.New("not configured")

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the process readiness flag. The API clears it when shutdown begins
// so load balancers drain traffic before the listener closes.
func SetReady(v bool) {
	ready.Store(v)
}

// Checker represents dependencies that can be checked for readiness.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
	GatewayReady(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency checks.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	redisStatus, redisOK := dependencyStatus(h.Checker.PingRedis(ctx, h.redisTimeout()))
	gatewayStatus, gatewayOK := dependencyStatus(h.Checker.GatewayReady(ctx))
	status := map[string]string{
		"redis":   redisStatus,
		"gateway": gatewayStatus,
	}
	code := http.StatusOK
	if !ready.Load() {
		status["shutdown"] = "draining"
		code = http.StatusServiceUnavailable
	}
	if !redisOK || !gatewayOK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func dependencyStatus(err error) (string, bool) {
	switch {
	case err == nil:
		return "ok", true
	case errors.Is(err, ErrNotConfigured):
		return "disabled", true
	default:
		return err.Error(), false
	}
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
