package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-resty/resty/v2"
)

type gateway struct {
	base  string
	resty *resty.Client
}

func newGateway(base string, timeout time.Duration) *gateway {
	base = strings.TrimRight(base, "/")
	r := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &gateway{base: base, resty: r}
}

func (g *gateway) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	req := g.resty.R().SetContext(ctx)
	if body != nil {
		req = req.SetBody(body)
	}
	res, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf(
			"%s %s | returned http code %d: %s",
			method, path, res.StatusCode(), strings.TrimSpace(res.String()),
		)
	}
	return res.Body(), nil
}

func (g *gateway) get(ctx context.Context, path string) ([]byte, error) {
	return g.do(ctx, http.MethodGet, path, nil)
}

func (g *gateway) post(ctx context.Context, path string, body any) ([]byte, error) {
	return g.do(ctx, http.MethodPost, path, body)
}

// watch streams every bag event to w as one JSON document per line.
func (g *gateway) watch(ctx context.Context, w io.Writer) error {
	url := "ws" + strings.TrimPrefix(g.base, "http") + "/events"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", url, err)
	}
	defer c.CloseNow()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading event: %w", err)
		}
		if _, err := fmt.Fprintln(w, string(bytes.TrimSpace(data))); err != nil {
			return err
		}
	}
}

func printJSON(w io.Writer, data []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		// not JSON, print as is
		_, err = fmt.Fprintln(w, string(bytes.TrimSpace(data)))
		return err
	}
	_, err := fmt.Fprintln(w, out.String())
	return err
}
