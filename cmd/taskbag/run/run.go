package run

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/hossein1376/grape/slogger"
	"golang.org/x/sync/errgroup"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/handlers"
	"github.com/kamune-org/taskbag/internal/services"
	"github.com/kamune-org/taskbag/internal/storage"
)

func Run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "config path, built-in defaults when empty")
	flag.Parse()

	cfg, err := config.New(cfgPath)
	if err != nil {
		return fmt.Errorf("new config: %w", err)
	}
	slogger.NewDefault(slogger.WithLevel(cfg.Server.LogLevel))

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	srvc, err := services.New(store, cfg)
	if err != nil {
		return fmt.Errorf("new service: %w", err)
	}
	defer srvc.Close()

	transport := taskbag.ServeWithTCP(rpcConnOpts(cfg.RPC)...)
	if cfg.RPC.Transport == config.TransportUDP {
		transport = taskbag.ServeWithUDP(rpcConnOpts(cfg.RPC)...)
	}
	bagServer, err := taskbag.NewServer(
		cfg.RPC.Address,
		srvc,
		taskbag.ServeWithName(cfg.Server.Name),
		transport,
	)
	if err != nil {
		return fmt.Errorf("new bag server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := bagServer.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serving bag: %w", err)
		}
		return nil
	})

	if cfg.HTTP.Enabled {
		server := &http.Server{
			Addr:         cfg.HTTP.Address,
			Handler:      handlers.New(srvc, cfg),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
		g.Go(func() error {
			slog.Info("starting gateway", slog.String("address", server.Addr))
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("starting gateway: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			slogger.Info(ctx, "shutting down gateway")
			// takes and event streams in flight are released before the
			// gateway drains
			srvc.Close()
			shutdownCtx, cancel := context.WithTimeout(
				context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout,
			)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("gateway shutdown: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("stopped", slog.String("name", cfg.Server.Name))
	return nil
}

func rpcConnOpts(cfg config.RPC) []taskbag.ConnOption {
	return []taskbag.ConnOption{
		taskbag.ConnWithWriteTimeout(cfg.WriteTimeout),
		taskbag.ConnWithMaxFrameSize(cfg.MaxFrameSize),
	}
}
