package handlers

import (
	"net/http"

	"github.com/hossein1376/grape"

	"github.com/kamune-org/taskbag/internal/services"
)

func rateLimitMiddleware(
	srvc *services.Service,
) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !srvc.RateLimit(clientIP(r)) {
				grape.Respond(
					r.Context(),
					w,
					http.StatusTooManyRequests,
					http.StatusText(http.StatusTooManyRequests),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
