package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
	"github.com/R3E-Network/marketpulse/internal/httputil"
	"github.com/R3E-Network/marketpulse/pkg/logger"
)

// Recovery converts handler panics into a 500 JSON response.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithContext(r.Context()).
					WithField("panic", fmt.Sprint(rec)).
					WithField("stack", string(debug.Stack())).
					Error("handler panicked")
				if !rw.written {
					httputil.WriteServiceError(rw, svcerrors.Internal("internal server error", nil))
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
