package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	// IdempotencyHeader carries the client-chosen key for order creation.
	IdempotencyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks a response served from the stored result.
	IdempotentReplayHeader = "Idempotent-Replayed"

	defaultIdemTTL  = 24 * time.Hour
	defaultIdemLock = time.Minute
)

// Idem makes order creation safe to retry. The first request holding a key runs;
// a 2xx result is stored for TTL and replayed to later requests with the same key
// and body, while any other result releases the key so the client can try again.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
	// Lock bounds how long an unfinished request holds its key.
	Lock time.Duration
}

type idemRecord struct {
	Done        bool   `json:"done"`
	Fingerprint string `json:"fp"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func idemKey(r *http.Request, header string) string {
	return "idem:" + Sha256Hex(r.Method+" "+r.URL.Path+" "+header)
}

// Middleware applies the key held in IdempotencyHeader. Requests without the
// header, or without Redis, pass through untouched.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		body, err := readAndRestore(r)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
			return
		}
		fp := Sha256Hex(string(body))
		key := idemKey(r, header)
		ctx := r.Context()

		pending, _ := json.Marshal(idemRecord{Fingerprint: fp})
		acquired, err := i.R.SetNX(ctx, key, pending, i.lock()).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "Please retry shortly", nil)
			return
		}
		if !acquired {
			i.answerHeld(ctx, w, key, fp)
			return
		}

		// the outcome must be settled even if the client went away
		settleCtx := context.WithoutCancel(ctx)
		rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				_ = i.R.Del(settleCtx, key).Err()
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)
		i.settle(settleCtx, key, fp, rec)
	})
}

func (i Idem) answerHeld(ctx context.Context, w http.ResponseWriter, key, fp string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "Please retry shortly", nil)
		return
	}
	var held idemRecord
	if len(raw) == 0 || json.Unmarshal(raw, &held) != nil || !held.Done {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "A request with this key is still in progress", nil)
		return
	}
	if held.Fingerprint != fp {
		JSONError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency key was used with a different request", nil)
		return
	}
	if held.ContentType != "" {
		w.Header().Set("Content-Type", held.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(held.Status)
	_, _ = w.Write(held.Body)
}

func (i Idem) settle(ctx context.Context, key, fp string, rec *capturingWriter) {
	if rec.status < 200 || rec.status >= 300 {
		_ = i.R.Del(ctx, key).Err()
		return
	}
	done, err := json.Marshal(idemRecord{
		Done:        true,
		Fingerprint: fp,
		Status:      rec.status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        rec.body.Bytes(),
	})
	if err != nil {
		_ = i.R.Del(ctx, key).Err()
		return
	}
	_ = i.R.Set(ctx, key, done, i.ttl()).Err()
}

func (i Idem) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return defaultIdemTTL
}

func (i Idem) lock() time.Duration {
	if i.Lock > 0 {
		return i.Lock
	}
	return defaultIdemLock
}

func readAndRestore(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, err
}

// capturingWriter passes the response through while keeping a copy of it.
type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
