package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"storkvalidator/internal/cognito"
	"storkvalidator/internal/config"
	"storkvalidator/internal/coordinator"
	"storkvalidator/internal/ipinfo"
	"storkvalidator/internal/observability"
	"storkvalidator/internal/oracle"
	"storkvalidator/internal/proxy"
	"storkvalidator/internal/report"
	"storkvalidator/internal/scheduler"
	"storkvalidator/internal/token"
	"storkvalidator/internal/validator"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.LogLevel))

	proxies, err := proxy.LoadFile(cfg.Threads.ProxyFile)
	if err != nil {
		return &config.ConfigError{Problems: []string{fmt.Sprintf("threads.proxy_file: %v", err)}}
	}
	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"proxies", len(proxies),
		"max_workers", cfg.Threads.MaxWorkers,
		"interval", cfg.Oracle.Interval)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received interrupt signal, shutting down")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("storkvalidator", reg)

	reporter := report.NewAsync(report.NewConsole(os.Stdout, false), 16)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		if err := reporter.Close(closeCtx); err != nil {
			slog.Warn("stats reporter did not drain", "error", err)
		}
	}()

	sched := newScheduler(cfg, proxies, metrics, reporter, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
		g.Go(func() error {
			return observability.Serve(gctx, cfg.MetricsAddr, reg)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newScheduler wires the clients, token managers and orchestrator for cfg.
func newScheduler(cfg *config.Config, proxies []proxy.Proxy, metrics *observability.Metrics, reporter report.Reporter, logger *slog.Logger) *scheduler.Scheduler {
	identity := cognito.NewClient(cognito.Config{
		Region:     cfg.Cognito.Region,
		ClientID:   cfg.Cognito.ClientID,
		UserPoolID: cfg.Cognito.UserPoolID,
		BaseURL:    cfg.Cognito.BaseURL,
	}, cognito.WithTimeout(cfg.Oracle.RequestTimeout))

	oracleClient := oracle.NewClient(oracle.Options{
		BaseURL:   cfg.Oracle.BaseURL,
		UserAgent: cfg.Oracle.UserAgent,
		Origin:    cfg.Oracle.Origin,
		Timeout:   cfg.Oracle.RequestTimeout,
	})

	store := token.NewStore(cfg.Token.Path)

	orchestrator := coordinator.New(coordinator.Options{
		Submitter:     oracleClient,
		Validator:     validator.New(time.Now),
		SubmitTimeout: cfg.Threads.SubmitTimeout,
		Metrics:       metrics,
		Logger:        logger,
	})

	return scheduler.New(scheduler.Options{
		Accounts: cfg.Accounts,
		Proxies:  proxies,
		NewTokenSource: func(acct config.Account) scheduler.TokenSource {
			return token.NewManager(token.Options{
				Username:      acct.Username,
				Password:      acct.Password,
				Authenticator: identity,
				Store:         store,
				Metrics:       metrics,
				Logger:        logger.With("account", report.MaskEmail(acct.Username)),
			})
		},
		Store:           store,
		Oracle:          oracleClient,
		Orchestrator:    orchestrator,
		IPLookup:        ipinfo.New(cfg.IPCheckURL),
		Reporter:        reporter,
		MaxWorkers:      cfg.Threads.MaxWorkers,
		Interval:        cfg.Oracle.Interval,
		RefreshInterval: cfg.Token.RefreshInterval,
		Metrics:         metrics,
		Logger:          logger,
	})
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
