package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/projectchat/internal/auth"
	"github.com/Tyrowin/projectchat/internal/chat"
	"github.com/Tyrowin/projectchat/internal/observability"
	"github.com/Tyrowin/projectchat/internal/server"
	"github.com/Tyrowin/projectchat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func loadConfig(opts *rootOptions) (*server.Config, error) {
	cfg, err := server.LoadConfig(opts.configPath, opts.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.New(server.Options{
		Config:    cfg,
		Store:     st,
		Validator: auth.NewValidator(cfg.JWTSecret),
		Logger:    logger,
		Registry:  reg,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func runMigrate(ctx context.Context, out io.Writer, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	// Open applies the schema.
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer st.Close()

	_, err = fmt.Fprintf(out, "schema up to date (%s)\n", cfg.Database.Driver)
	return err
}

// runToken signs a token for identity. A negative expiry selects the
// configured TOKEN_EXPIRY.
func runToken(out io.Writer, opts *rootOptions, identity chat.Identity, expiry time.Duration) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if expiry < 0 {
		expiry = cfg.TokenExpiry
	}

	token, err := auth.NewIssuer(cfg.JWTSecret, expiry).Issue(identity)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runUserAdd(ctx context.Context, out io.Writer, opts *rootOptions, profile chat.Sender) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.UpsertUser(ctx, profile); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "saved user %s\n", profile.ID)
	return err
}
