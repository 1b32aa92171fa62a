package taskbag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RemoteError is an error reported by the serving end for a call.
type RemoteError struct {
	Route   Route
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Route, e.Message)
}

func isRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

// Client is a Bag backed by a remote server. Calls are serialized over a
// single connection.
type Client struct {
	mu   sync.Mutex
	conn *Conn
	name string
	addr string
}

var _ Bag = (*Client)(nil)

func (c *Client) Name() string { return c.name }

func (c *Client) Addr() string { return c.addr }

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// A cancelled context tears the connection down so a blocked read
	// returns immediately.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	req.ID = uuid.NewString()
	if err := c.conn.WriteFrame(req.Marshal()); err != nil {
		return nil, c.wrap(ctx, req.Route, fmt.Errorf("writing request: %w", err))
	}
	payload, err := c.conn.ReadFrame()
	if err != nil {
		return nil, c.wrap(ctx, req.Route, fmt.Errorf("reading response: %w", err))
	}

	var resp Response
	if err := resp.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("%s: deserializing response: %w", req.Route, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%s: %w", req.Route, ErrResponseMismatch)
	}
	if resp.Err != "" {
		return nil, &RemoteError{Route: req.Route, Message: resp.Err}
	}
	return &resp, nil
}

func (c *Client) wrap(ctx context.Context, route Route, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", route, ctxErr)
	}
	return fmt.Errorf("%s: %w", route, err)
}

func (c *Client) Publish(ctx context.Context, key string, batch Batch) error {
	_, err := c.call(ctx, &Request{Route: RoutePublish, Key: key, Batch: batch})
	return err
}

func (c *Client) Take(ctx context.Context, key string) (Batch, bool, error) {
	resp, err := c.call(ctx, &Request{Route: RouteTake, Key: key})
	if err != nil {
		return nil, false, err
	}
	return resp.Batch, resp.OK, nil
}

func (c *Client) Peek(ctx context.Context, key string) (Batch, bool, error) {
	resp, err := c.call(ctx, &Request{Route: RoutePeek, Key: key})
	if err != nil {
		return nil, false, err
	}
	return resp.Batch, resp.OK, nil
}

func (c *Client) Count(ctx context.Context, key string) (int, error) {
	resp, err := c.call(ctx, &Request{Route: RouteCount, Key: key})
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (c *Client) SetConfiguration(ctx context.Context, cfg Configuration) error {
	_, err := c.call(ctx, &Request{Route: RouteSetConfiguration, Configuration: cfg})
	return err
}

func (c *Client) Configuration(ctx context.Context) (Configuration, error) {
	resp, err := c.call(ctx, &Request{Route: RouteConfiguration})
	if err != nil {
		return Configuration{}, err
	}
	return resp.Configuration, nil
}

func (c *Client) TaskCursor(ctx context.Context) (int64, error) {
	resp, err := c.call(ctx, &Request{Route: RouteTaskCursor})
	if err != nil {
		return 0, err
	}
	return resp.Cursor, nil
}

func (c *Client) AdvanceTaskCursor(ctx context.Context) error {
	_, err := c.call(ctx, &Request{Route: RouteAdvanceTaskCursor})
	return err
}
