package taskbag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"

	"github.com/xtaci/kcp-go/v5"
)

// Server exposes a Bag to remote clients. Each connection is served on its
// own goroutine and its requests are handled one at a time.
type Server struct {
	addr     string
	name     string
	connType connType
	bag      Bag
	router   *Router
	logger   *slog.Logger
	connOpts []ConnOption
	extraMW  []Middleware

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

func NewServer(addr string, bag Bag, opts ...ServerOption) (*Server, error) {
	if bag == nil {
		return nil, errors.New("bag cannot be nil")
	}
	s := &Server{
		addr:     addr,
		name:     DefaultName,
		connType: tcp,
		bag:      bag,
		router:   NewRouter(),
		logger:   slog.Default(),
		conns:    make(map[*Conn]struct{}),
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	s.router.Use(
		RecoveryMiddleware(func(r any) {
			s.logger.Error(
				"panic in route handler",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}),
		LoggingMiddleware(s.logger),
	)
	s.router.Use(s.extraMW...)
	// handler failures are logged by the middleware; requests that never
	// reach a handler only show up here
	s.router.SetErrorHandler(func(route Route, err error) {
		if errors.Is(err, ErrNoHandler) {
			s.logger.Warn(
				"unroutable request",
				slog.String("route", route.String()),
				slog.Any("error", err),
			)
		}
	})
	if err := bagRoutes(s.router, bag); err != nil {
		return nil, fmt.Errorf("registering routes: %w", err)
	}
	return s, nil
}

func (s *Server) Name() string { return s.name }

// Addr returns the bound address once the server is listening, or the
// configured one before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Listen binds the listener without accepting connections yet.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if s.listener != nil {
		return nil
	}
	l, err := s.listen()
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	s.listener = l
	return nil
}

// ListenAndServe accepts connections until ctx is done or Close is called.
// It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.logger.Info(
		"serving bag",
		slog.String("name", s.name),
		slog.String("transport", s.connType.String()),
		slog.String("address", l.Addr().String()),
		slog.Int("routes", len(s.router.Routes())),
	)
	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("accept conn", slog.Any("error", err))
			continue
		}
		// idle clients are kept until they hang up or the server closes
		opts := append([]ConnOption{ConnWithReadTimeout(0)}, s.connOpts...)
		conn, err := newConn(c, opts...)
		if err != nil {
			s.logger.Error("new conn", slog.Any("error", err))
			_ = c.Close()
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			if err := s.serve(ctx, conn); err != nil {
				s.logger.Warn(
					"serve conn",
					slog.String("remote", conn.RemoteAddr()),
					slog.Any("error", err),
				)
			}
		}()
	}
}

// Close stops accepting connections, closes the open ones and rejects any
// request still on its way to the router.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.router.Close()

	var err error
	if l != nil {
		if e := l.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
			err = fmt.Errorf("closing listener: %w", e)
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) listen() (net.Listener, error) {
	switch s.connType {
	case tcp:
		return net.Listen("tcp", s.addr)
	case udp:
		return kcp.Listen(s.addr)
	default:
		panic(fmt.Sprintf("unknown conn type: %v", s.connType))
	}
}

func (s *Server) serve(ctx context.Context, conn *Conn) error {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Error("serve panic", slog.Any("error", err))
		}
		err := conn.Close()
		if err != nil && !errors.Is(err, ErrConnClosed) {
			s.logger.Error("close conn", slog.Any("error", err))
		}
	}()

	if err := receiveIntroduction(conn, s.name); err != nil {
		return fmt.Errorf("receive introduction: %w", err)
	}

	// Requests are read on their own goroutine so a peer hanging up cancels
	// the call in flight, such as a take that is still waiting.
	ctx, cancel := context.WithCancelCause(ctx)
	requests := make(chan []byte)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readRequests(ctx, cancel, conn, requests)
	}()
	defer func() {
		cancel(nil)
		_ = conn.Close()
		<-readerDone
	}()

	for {
		var payload []byte
		select {
		case <-ctx.Done():
			err := context.Cause(ctx)
			if errors.Is(err, ErrConnClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		case payload = <-requests:
		}

		var req Request
		if err := req.Unmarshal(payload); err != nil {
			return fmt.Errorf("deserializing request: %w", err)
		}

		resp, err := s.router.Dispatch(ctx, &req)
		if ctx.Err() != nil {
			// nobody is left to answer
			continue
		}
		if err != nil {
			resp = &Response{Err: err.Error()}
		} else if resp == nil {
			resp = &Response{}
		}
		resp.ID = req.ID
		if err := conn.WriteFrame(resp.Marshal()); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// readRequests forwards frames from conn until reading fails, then cancels
// ctx with the read error as its cause.
func readRequests(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	conn *Conn,
	out chan<- []byte,
) {
	for {
		payload, err := conn.ReadFrame()
		if err != nil {
			cancel(err)
			return
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

type ServerOption func(*Server) error

func ServeWithName(name string) ServerOption {
	return func(s *Server) error {
		if name == "" {
			return errors.New("bag name cannot be empty")
		}
		s.name = name
		return nil
	}
}

func ServeWithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// ServeWithMiddleware appends middleware to every bag route, after the
// built-in recovery and logging.
func ServeWithMiddleware(mw ...Middleware) ServerOption {
	return func(s *Server) error {
		s.extraMW = append(s.extraMW, mw...)
		return nil
	}
}

func ServeWithTCP(opts ...ConnOption) ServerOption {
	return func(s *Server) error {
		if s.connOpts != nil {
			return errors.New("server already has a conn opts")
		}
		s.connType = tcp
		s.connOpts = opts
		return nil
	}
}

func ServeWithUDP(opts ...ConnOption) ServerOption {
	return func(s *Server) error {
		if s.connOpts != nil {
			return errors.New("server already has a conn opts")
		}
		s.connType = udp
		s.connOpts = opts
		return nil
	}
}
