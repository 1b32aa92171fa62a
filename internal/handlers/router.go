package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/hossein1376/grape"
)

func newRouter(h *Handler) *grape.Router {
	r := grape.NewRouter()
	r.UseAll(
		grape.RequestIDMiddleware,
		grape.LoggerMiddleware,
		grape.RecoverMiddleware,
		grape.CORSMiddleware,
	)

	r.Get("/health", h.HealthHandler)

	queues := r.Group("/queues")
	queues.Get("", h.StatsHandler)
	queues.Post("/{key}", h.PublishHandler)
	queues.Get("/{key}/count", h.CountHandler)
	queues.Get("/{key}/peek", h.PeekHandler)
	queues.Post("/{key}/take", h.TakeHandler)

	r.Get("/configuration", h.GetConfigurationHandler)
	r.Post("/configuration", h.SetConfigurationHandler)

	r.Get("/cursor", h.CursorHandler)
	r.Post("/cursor/advance", h.AdvanceCursorHandler)

	return r
}

// keyParam reads the {key} segment of a /queues/{key}/... path.
func keyParam(r *http.Request) string {
	if key := r.PathValue("key"); key != "" {
		return key
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/queues/")
	if !ok {
		return ""
	}
	key, _, _ := strings.Cut(rest, "/")
	return key
}

func clientIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip == "" {
		ip = r.Header.Get("X-Forwarded-For")
	}
	if ip == "" {
		ip = r.Header.Get("CF-Connecting-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return ip
}
