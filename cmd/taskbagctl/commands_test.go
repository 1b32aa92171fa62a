package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/handlers"
	"github.com/kamune-org/taskbag/internal/services"
	"github.com/kamune-org/taskbag/internal/storage"
)

func newTestGateway(t *testing.T) (string, *services.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.LogLevel = slog.LevelError
	cfg.Bag.PollInterval = 20 * time.Millisecond
	cfg.Bag.TakeTimeout = 200 * time.Millisecond

	store, err := storage.New(cfg.Storage)
	require.NoError(t, err)
	srvc, err := services.New(store, cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(handlers.New(srvc, cfg))
	t.Cleanup(func() {
		srvc.Close()
		ts.Close()
		_ = store.Close()
	})
	return ts.URL, srvc
}

func execute(t *testing.T, ctx context.Context, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(ctx)
	return strings.Join(strings.Fields(out.String()), ""), err
}

func TestPublishAndTake(t *testing.T) {
	a := require.New(t)
	server, srvc := newTestGateway(t)
	ctx := context.Background()

	_, err := execute(t, ctx, server, "publish", "tasks", "4", "5", "6")
	a.NoError(err)

	n, err := srvc.Count(ctx, taskbag.TasksKey)
	a.NoError(err)
	a.Equal(1, n)

	out, err := execute(t, ctx, server, "count", "tasks")
	a.NoError(err)
	a.Contains(out, `"count":1`)

	out, err = execute(t, ctx, server, "take", "tasks")
	a.NoError(err)
	a.Contains(out, `[4,5,6]`)

	_, err = execute(t, ctx, server, "publish", "tasks", "four")
	a.Error(err)
}

func TestConfigCommands(t *testing.T) {
	a := require.New(t)
	server, srvc := newTestGateway(t)
	ctx := context.Background()

	_, err := execute(t, ctx, server, "config", "set", "--max", "50", "--granularity", "5")
	a.NoError(err)
	cfg, err := srvc.Configuration(ctx)
	a.NoError(err)
	a.Equal(taskbag.Configuration{RangeCeiling: 50, BatchSize: 5}, cfg)

	out, err := execute(t, ctx, server, "config", "get")
	a.NoError(err)
	a.Contains(out, `"range_ceiling":50`)

	_, err = execute(t, ctx, server, "config", "set", "--max", "0")
	a.Error(err)
}

func TestCursorCommands(t *testing.T) {
	a := require.New(t)
	server, _ := newTestGateway(t)
	ctx := context.Background()

	out, err := execute(t, ctx, server, "cursor", "advance")
	a.NoError(err)
	a.Contains(out, `"cursor":1`)

	out, err = execute(t, ctx, server, "cursor")
	a.NoError(err)
	a.Contains(out, `"cursor":1`)
}

func TestWatch(t *testing.T) {
	server, srvc := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		out, _ := execute(t, ctx, server, "watch")
		done <- out
	}()

	require.Eventually(t, func() bool {
		st, err := srvc.Stats(ctx)
		return err == nil && st.Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, srvc.Publish(ctx, "results", taskbag.Batch{3}))
	srvc.Close()

	select {
	case out := <-done:
		assert.Contains(t, out, `"key":"results"`)
	case <-ctx.Done():
		t.Fatal("watch did not return")
	}
}

func TestArgs(t *testing.T) {
	_, err := execute(t, context.Background(), "http://127.0.0.1:1", "count")
	assert.Error(t, err)
}
