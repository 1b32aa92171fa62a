package taskbag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	ErrNoHandler      = errors.New("no handler registered for route")
	ErrHandlerExists  = errors.New("handler already registered for route")
	ErrRouterClosed   = errors.New("router is closed")
	ErrInvalidHandler = errors.New("handler cannot be nil")
	ErrInvalidRoute   = errors.New("invalid route")
)

// RouteHandler serves a single request and builds its response. The response
// ID is filled in by the server.
type RouteHandler func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a RouteHandler to provide cross-cutting concerns like
// logging or panic recovery.
type Middleware func(next RouteHandler) RouteHandler

// Router dispatches incoming requests to registered handlers based on their
// route.
type Router struct {
	handlers   map[Route]RouteHandler
	middleware []Middleware
	mu         sync.RWMutex
	closed     bool

	// Error handler for route processing errors
	errorHandler func(route Route, err error)
}

func NewRouter() *Router {
	return &Router{
		handlers:   make(map[Route]RouteHandler),
		middleware: make([]Middleware, 0),
	}
}

// Handle registers a handler for a specific route.
func (r *Router) Handle(route Route, handler RouteHandler) error {
	if handler == nil {
		return ErrInvalidHandler
	}
	if !route.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRoute, route)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if _, exists := r.handlers[route]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, route)
	}

	r.handlers[route] = handler
	return nil
}

// SetErrorHandler sets the error handler for route processing errors.
func (r *Router) SetErrorHandler(handler func(route Route, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorHandler = handler
}

// Use adds middleware to the router. Middleware is applied in the order it is
// added.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// Dispatch routes req to its handler.
func (r *Router) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrRouterClosed
	}
	handler, exists := r.handlers[req.Route]
	middleware := r.middleware
	errorHandler := r.errorHandler
	r.mu.RUnlock()

	if !exists {
		err := fmt.Errorf("%w: %s", ErrNoHandler, req.Route)
		if errorHandler != nil {
			errorHandler(req.Route, err)
		}
		return nil, err
	}

	// Apply middleware in reverse order so they execute in registration order
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}

	resp, err := handler(ctx, req)
	if err != nil && errorHandler != nil {
		errorHandler(req.Route, err)
	}
	return resp, err
}

// Routes returns all registered routes.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]Route, 0, len(r.handlers))
	for route := range r.handlers {
		routes = append(routes, route)
	}
	return routes
}

// Close closes the router and prevents further dispatch operations.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.handlers = nil
}

// LoggingMiddleware logs every dispatched request with its outcome. Routes
// that change the bag are logged at info level, reads at debug.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next RouteHandler) RouteHandler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				slog.String("route", req.Route.String()),
				slog.String("request_id", req.ID),
				slog.Duration("elapsed", time.Since(start)),
			}
			if req.Key != "" {
				attrs = append(attrs, slog.String("key", req.Key))
			}
			if err != nil {
				logger.ErrorContext(ctx, "dispatch", append(attrs, slog.Any("error", err))...)
				return resp, err
			}
			level := slog.LevelDebug
			if req.Route.IsMutating() {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "dispatch", attrs...)
			return resp, nil
		}
	}
}

// RecoveryMiddleware recovers from panics in handlers and turns them into
// errors.
func RecoveryMiddleware(onPanic func(r any)) Middleware {
	return func(next RouteHandler) RouteHandler {
		return func(ctx context.Context, req *Request) (resp *Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(r)
					} else {
						slog.Error(
							"panic in route handler",
							slog.Any("panic", r),
							slog.String("stack", string(debug.Stack())),
						)
					}
					err = fmt.Errorf("panic in route handler: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// bagRoutes registers a handler for every bag operation.
func bagRoutes(r *Router, bag Bag) error {
	routes := map[Route]RouteHandler{
		RoutePublish: func(ctx context.Context, req *Request) (*Response, error) {
			if err := bag.Publish(ctx, req.Key, req.Batch); err != nil {
				return nil, err
			}
			return &Response{}, nil
		},
		RouteTake: func(ctx context.Context, req *Request) (*Response, error) {
			b, ok, err := bag.Take(ctx, req.Key)
			if err != nil {
				return nil, err
			}
			return &Response{OK: ok, Batch: b}, nil
		},
		RoutePeek: func(ctx context.Context, req *Request) (*Response, error) {
			b, ok, err := bag.Peek(ctx, req.Key)
			if err != nil {
				return nil, err
			}
			return &Response{OK: ok, Batch: b}, nil
		},
		RouteCount: func(ctx context.Context, req *Request) (*Response, error) {
			n, err := bag.Count(ctx, req.Key)
			if err != nil {
				return nil, err
			}
			return &Response{Count: int64(n)}, nil
		},
		RouteSetConfiguration: func(ctx context.Context, req *Request) (*Response, error) {
			if err := bag.SetConfiguration(ctx, req.Configuration); err != nil {
				return nil, err
			}
			return &Response{}, nil
		},
		RouteConfiguration: func(ctx context.Context, _ *Request) (*Response, error) {
			cfg, err := bag.Configuration(ctx)
			if err != nil {
				return nil, err
			}
			return &Response{Configuration: cfg}, nil
		},
		RouteTaskCursor: func(ctx context.Context, _ *Request) (*Response, error) {
			cursor, err := bag.TaskCursor(ctx)
			if err != nil {
				return nil, err
			}
			return &Response{Cursor: cursor}, nil
		},
		RouteAdvanceTaskCursor: func(ctx context.Context, _ *Request) (*Response, error) {
			if err := bag.AdvanceTaskCursor(ctx); err != nil {
				return nil, err
			}
			return &Response{}, nil
		},
	}
	for route, handler := range routes {
		if err := r.Handle(route, handler); err != nil {
			return fmt.Errorf("registering %s: %w", route, err)
		}
	}
	return nil
}
