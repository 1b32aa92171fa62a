package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/hossein1376/grape"
	"github.com/hossein1376/grape/errs"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/services"
	"github.com/kamune-org/taskbag/pkg/span"
)

type Handler struct {
	service *services.Service
	name    string
	started time.Time
}

// New returns the HTTP gateway of the bag.
func New(service *services.Service, cfg config.Config) http.Handler {
	h := &Handler{service: service, name: cfg.Server.Name, started: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", h.EventsHandler)
	mux.Handle("/", newRouter(h))

	var handler http.Handler = mux
	if cfg.RateLimit.Enabled {
		handler = rateLimitMiddleware(service)(handler)
	}
	return handler
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	grape.Respond(r.Context(), w, http.StatusOK, grape.Map{
		"status": "ok",
		"name":   h.name,
		"uptime": span.New(time.Since(h.started).Round(time.Second)),
	})
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Stats(ctx)
	if err != nil {
		grape.ExtractFromErr(ctx, w, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, stats)
}

func (h *Handler) CountHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := keyParam(r)
	n, err := h.service.Count(ctx, key)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, grape.Map{"key": key, "count": n})
}

func (h *Handler) PeekHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := keyParam(r)
	batch, ok, err := h.service.Peek(ctx, key)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, batchResponse{Key: key, OK: ok, Batch: batch})
}

func (h *Handler) TakeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := keyParam(r)
	batch, ok, err := h.service.Take(ctx, key)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, batchResponse{Key: key, OK: ok, Batch: batch})
}

func (h *Handler) PublishHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := keyParam(r)
	req, err := publishBinder(w, r)
	if err != nil {
		grape.ExtractFromErr(ctx, w, errs.BadRequest(errs.WithErr(err)))
		return
	}
	if err := h.service.Publish(ctx, key, req.Batch); err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusCreated, grape.Map{"key": key})
}

func (h *Handler) GetConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.service.Configuration(ctx)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, cfg)
}

func (h *Handler) SetConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := configurationBinder(w, r)
	if err != nil {
		grape.ExtractFromErr(ctx, w, errs.BadRequest(errs.WithErr(err)))
		return
	}
	if err := h.service.SetConfiguration(ctx, cfg); err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, cfg)
}

func (h *Handler) CursorHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cursor, err := h.service.TaskCursor(ctx)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, grape.Map{"cursor": cursor})
}

func (h *Handler) AdvanceCursorHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.AdvanceTaskCursor(ctx); err != nil {
		respondErr(w, r, err)
		return
	}
	cursor, err := h.service.TaskCursor(ctx)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, grape.Map{"cursor": cursor})
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyKey),
		errors.Is(err, taskbag.ErrInvalidConfiguration):
		err = errs.BadRequest(errs.WithErr(err))
	}
	grape.ExtractFromErr(r.Context(), w, err)
}
