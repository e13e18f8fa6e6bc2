package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andy6609/roster-chat/internal/chat"
	"github.com/andy6609/roster-chat/internal/config"
	"github.com/andy6609/roster-chat/internal/version"
	chatlog "github.com/andy6609/roster-chat/pkg/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chat-server:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("chat-server", pflag.ContinueOnError)
	config.Flags(fs)
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.Get())
		return nil
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger, err := chatlog.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	defer undo()

	srv, err := chat.NewServer(cfg.Server.Addr, serverOptions(cfg), logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("chat server running", zap.Stringer("version", version.Get()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		ms := newMetricsServer(cfg.Metrics.Addr)
		g.Go(func() error {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "metrics: serve on %s", cfg.Metrics.Addr)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := ms.Shutdown(sctx); err != nil {
				logger.Warn("metrics shutdown", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		srv.Stop()
		return nil
	})

	return g.Wait()
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serverOptions(cfg *config.Config) chat.Options {
	opts := chat.DefaultOptions()
	opts.Capacity = cfg.Server.Capacity
	opts.OutboundQueue = cfg.Server.OutboundQueue
	opts.MaxSessions = cfg.Server.MaxSessions
	opts.ShutdownTimeout = cfg.Server.ShutdownTimeout
	opts.Session = chat.SessionConfig{
		MaxNameLength: cfg.Server.MaxNameLength,
		MaxLineLength: cfg.Server.MaxLineLength,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
	}
	return opts
}
