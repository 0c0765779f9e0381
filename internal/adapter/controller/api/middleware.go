package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/YoshitsuguKoike/odoogen/internal/app"
)

// RequestLogger logs method, path, status and duration of every request
func RequestLogger(logger app.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http %s %s status=%d duration_ms=%d request_id=%s",
				r.Method, r.URL.Path, ww.Status(), time.Since(start).Milliseconds(), middleware.GetReqID(r.Context()))
		})
	}
}

// Recovery catches panics and returns a 500
func Recovery(logger app.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered path=%s: %v", r.URL.Path, rec)
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Message: "internal server error"}})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
