package obs

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

type annotationsKey struct{}

// Annotations are checkout details (order id, coupon, verification outcome)
// recorded by handlers and emitted on the request log line.
type Annotations struct {
	mu     sync.Mutex
	values map[string]string
}

// WithAnnotations attaches an empty annotation set to ctx. An existing set is reused.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	if a := AnnotationsFrom(ctx); a != nil {
		return ctx, a
	}
	a := &Annotations{values: make(map[string]string)}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// AnnotationsFrom returns the set attached to ctx, or nil.
func AnnotationsFrom(ctx context.Context) *Annotations {
	if ctx == nil {
		return nil
	}
	a, _ := ctx.Value(annotationsKey{}).(*Annotations)
	return a
}

// Annotate records key=value for the current request. Empty values and requests
// without an annotation set are ignored.
func Annotate(ctx context.Context, key, value string) {
	a := AnnotationsFrom(ctx)
	if a == nil || key == "" || value == "" {
		return
	}
	a.mu.Lock()
	a.values[key] = value
	a.mu.Unlock()
}

// Each visits the recorded values in key order.
func (a *Annotations) Each(fn func(key, value string)) {
	if a == nil {
		return
	}
	a.mu.Lock()
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, a.values[k]})
	}
	a.mu.Unlock()
	for _, p := range pairs {
		fn(p[0], p[1])
	}
}

// AnnotationsMiddleware gives every request an annotation set.
func AnnotationsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := WithAnnotations(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
