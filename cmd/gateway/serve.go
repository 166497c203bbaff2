package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multidoc/gateway/internal/auth"
	"github.com/multidoc/gateway/internal/history"
	"github.com/multidoc/gateway/internal/log"
	"github.com/multidoc/gateway/internal/model"
	"github.com/multidoc/gateway/internal/server"
	"github.com/multidoc/gateway/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const readHeaderTimeout = 10 * time.Second

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("gateway",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	return serve(ctx, config, nil)
}

// serve runs the gateway until ctx is done. If ln is nil, it listens on
// config.Server.Addr.
func serve(ctx context.Context, cfg model.Config, ln net.Listener) error {
	verifier, err := auth.NewStaticVerifier(cfg.Auth.Users)
	if err != nil {
		return err
	}
	if verifier.Len() == 0 {
		slog.WarnContext(ctx, "no users configured, nobody can log in")
	}

	ttl, err := cfg.Auth.SessionTTLDuration()
	if err != nil {
		return fmt.Errorf("parsing auth.session_ttl: %w", err)
	}
	sessions, err := auth.NewMemoryStore(ttl)
	if err != nil {
		return err
	}
	sweeper, err := auth.NewSweeper(ctx, cfg.Auth.Sweep, sessions)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}()

	store, err := history.New(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("initializing history: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.ErrorContext(ctx, "closing history has failed", "error", err)
		}
	}()

	supervisor, err := service.SupervisorFromConfig(cfg)
	if err != nil {
		return err
	}

	handler, err := server.New(ctx, cfg, server.Deps{
		Verifier: verifier,
		Sessions: sessions,
		History:  store,
		Invoker:  supervisor,
	})
	if err != nil {
		return err
	}

	shutdownTimeout, err := cfg.Server.ShutdownTimeoutDuration()
	if err != nil {
		return fmt.Errorf("parsing server.shutdown_timeout: %w", err)
	}

	addr := cfg.Server.Addr
	if addr == "" {
		addr = model.DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout(supervisor),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if ln != nil {
			slog.InfoContext(ctx, "listening", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		} else {
			slog.InfoContext(ctx, "listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down", "timeout", shutdownTimeout)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// writeTimeout leaves room for the response of the longest allowed run.
func writeTimeout(s *service.Supervisor) time.Duration {
	return max(s.Deadline(false), s.Deadline(true)) + time.Minute
}
