package middleware

import (
	"net/http"

	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
	"github.com/R3E-Network/marketpulse/internal/httputil"
)

// WorkerLimiter bounds how many requests are handled at once. Requests beyond
// the limit wait for a free slot until their context ends.
type WorkerLimiter struct {
	slots chan struct{}
}

// NewWorkerLimiter allows n concurrent requests; n below one means one.
func NewWorkerLimiter(n int) *WorkerLimiter {
	if n < 1 {
		n = 1
	}
	return &WorkerLimiter{slots: make(chan struct{}, n)}
}

// Capacity reports the number of request slots.
func (l *WorkerLimiter) Capacity() int { return cap(l.slots) }

// InUse reports how many slots are held.
func (l *WorkerLimiter) InUse() int { return len(l.slots) }

// Handler returns the worker limiting middleware handler
func (l *WorkerLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case l.slots <- struct{}{}:
		case <-r.Context().Done():
			httputil.WriteServiceError(w, svcerrors.Unavailable("server is busy", r.Context().Err()))
			return
		}
		defer func() { <-l.slots }()

		next.ServeHTTP(w, r)
	})
}
