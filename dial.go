package taskbag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/xtaci/kcp-go/v5"
)

type connType int

const (
	tcp connType = iota
	udp
)

func (t connType) String() string {
	switch t {
	case tcp:
		return "tcp"
	case udp:
		return "udp"
	default:
		return "unknown"
	}
}

type dialer struct {
	conn         net.Conn
	name         string
	connType     connType
	readTimeout  time.Duration
	writeTimeout time.Duration
	dialTimeout  time.Duration
	retryFor     time.Duration
	connOpts     []ConnOption
}

// Dial connects to the bag served at addr and introduces itself with the bag
// name. Each remote call on the returned client blocks until the response
// arrives or the connection fails.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Client, error) {
	d, err := newDialer(opts)
	if err != nil {
		return nil, err
	}

	var client *Client
	operation := func() error {
		c, err := d.connect(ctx, addr)
		if err != nil {
			if errors.Is(err, ErrUnknownBag) || isRemote(err) {
				return backoff.Permanent(err)
			}
			slog.Warn(
				"connecting to bag, will retry",
				slog.String("address", addr),
				slog.Any("error", err),
			)
			return err
		}
		client = c
		return nil
	}

	if d.retryFor <= 0 || d.conn != nil {
		if err := operation(); err != nil {
			var permanent *backoff.PermanentError
			if errors.As(err, &permanent) {
				return nil, permanent.Err
			}
			return nil, err
		}
		return client, nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxElapsedTime(d.retryFor),
	)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return client, nil
}

func (d *dialer) connect(ctx context.Context, addr string) (*Client, error) {
	raw := d.conn
	if raw == nil {
		var err error
		raw, err = d.dial(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("dialing: %w", err)
		}
	}

	opts := append([]ConnOption{
		ConnWithReadTimeout(d.readTimeout),
		ConnWithWriteTimeout(d.writeTimeout),
	}, d.connOpts...)
	conn, err := newConn(raw, opts...)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("new %s conn: %w", d.connType, err)
	}

	id := uuid.NewString()
	if err := sendIntroduction(conn, id, d.name); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send introduction: %w", err)
	}
	if err := awaitIntroduction(conn, id); err != nil {
		_ = conn.Close()
		if isRemote(err) {
			return nil, fmt.Errorf("%w: %w", ErrUnknownBag, err)
		}
		return nil, fmt.Errorf("receive introduction: %w", err)
	}

	return &Client{conn: conn, name: d.name, addr: addr}, nil
}

func (d *dialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	switch d.connType {
	case tcp:
		nd := &net.Dialer{Timeout: d.dialTimeout}
		c, err := nd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing tcp: %w", err)
		}
		return c, nil
	case udp:
		c, err := kcp.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dialing udp: %w", err)
		}
		return c, nil
	default:
		panic(fmt.Errorf("unknown connection type: %v", d.connType))
	}
}

func newDialer(opts []DialOption) (*dialer, error) {
	d := &dialer{
		connType:     tcp,
		name:         DefaultName,
		readTimeout:  2 * time.Minute,
		writeTimeout: 10 * time.Second,
		dialTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}
	return d, nil
}

type DialOption func(*dialer) error

func DialWithName(name string) DialOption {
	return func(d *dialer) error {
		if name == "" {
			return errors.New("bag name cannot be empty")
		}
		d.name = name
		return nil
	}
}

// DialWithExistingConn skips dialing and introduces itself over conn.
func DialWithExistingConn(conn net.Conn) DialOption {
	return func(d *dialer) error {
		if d.conn != nil {
			return errors.New("already have a conn override")
		}
		d.conn = conn
		return nil
	}
}

// DialWithReadTimeout bounds how long a single call waits for its response.
// It must exceed the bag's take timeout.
func DialWithReadTimeout(timeout time.Duration) DialOption {
	return func(d *dialer) error {
		d.readTimeout = timeout
		return nil
	}
}

func DialWithWriteTimeout(timeout time.Duration) DialOption {
	return func(d *dialer) error {
		d.writeTimeout = timeout
		return nil
	}
}

func DialWithDialTimeout(timeout time.Duration) DialOption {
	return func(d *dialer) error {
		d.dialTimeout = timeout
		return nil
	}
}

// DialWithRetry keeps retrying the initial connection with exponential
// backoff for up to the given duration.
func DialWithRetry(maxElapsed time.Duration) DialOption {
	return func(d *dialer) error {
		d.retryFor = maxElapsed
		return nil
	}
}

func DialWithTCP(opts ...ConnOption) DialOption {
	return func(d *dialer) error {
		d.connType = tcp
		d.connOpts = opts
		return nil
	}
}

func DialWithUDP(opts ...ConnOption) DialOption {
	return func(d *dialer) error {
		d.connType = udp
		d.connOpts = opts
		return nil
	}
}
