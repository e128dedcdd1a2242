// Package scheduler rotates through accounts, running one validation cycle
// per account with a fixed delay between them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storkvalidator/internal/config"
	"storkvalidator/internal/coordinator"
	"storkvalidator/internal/observability"
	"storkvalidator/internal/oracle"
	"storkvalidator/internal/proxy"
	"storkvalidator/internal/report"
	"storkvalidator/internal/token"
)

// ErrNoAccounts is returned by Run when there is nothing to schedule.
var ErrNoAccounts = errors.New("no accounts to schedule")

// TokenSource hands out an account's access token.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	StartAutoRefresh(ctx context.Context, interval time.Duration) (stop func())
	Persist() error
}

// TokenLoader reads the persisted token set.
type TokenLoader interface {
	Load() (token.TokenSet, error)
}

// OracleAPI is the read side of the oracle.
type OracleAPI interface {
	FetchRecords(ctx context.Context, token string) ([]oracle.SignedRecord, error)
	FetchStats(ctx context.Context, token string) (oracle.AccountStats, error)
}

// Orchestrator validates and submits one batch of records.
type Orchestrator interface {
	RunCycle(ctx context.Context, token string, records []oracle.SignedRecord, proxies []proxy.Proxy, maxWorkers int) coordinator.Result
}

// IPLookup reports the egress IP seen through a proxy.
type IPLookup interface {
	CurrentIP(ctx context.Context, p proxy.Proxy) (string, error)
}

// Options configures a Scheduler.
type Options struct {
	Accounts []config.Account
	Proxies  []proxy.Proxy

	// NewTokenSource builds the token source for an account. It is called
	// once per account; the result is reused on later rotations.
	NewTokenSource func(acct config.Account) TokenSource
	Store          TokenLoader
	Oracle         OracleAPI
	Orchestrator   Orchestrator
	// IPLookup is optional.
	IPLookup IPLookup
	Reporter report.Reporter

	MaxWorkers      int
	Interval        time.Duration
	RefreshInterval time.Duration

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Scheduler drives the account rotation. Accounts run strictly one at a time.
type Scheduler struct {
	opts    Options
	sources []TokenSource
	logger  *slog.Logger
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	return &Scheduler{
		opts:    opts,
		sources: make([]TokenSource, len(opts.Accounts)),
		logger:  opts.Logger,
	}
}

// Run steps through the accounts until ctx is done, waiting Interval after
// each account. It returns the first token acquisition error, or nil once ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.opts.Accounts) == 0 {
		return ErrNoAccounts
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	index := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		next, err := s.Step(ctx, index)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		index = next

		s.logger.Debug("next account scheduled", "in", s.opts.Interval, "index", index)
		timer.Reset(s.opts.Interval)
	}
}

// Step runs one account's turn and returns the index of the next account.
// Only a failure to obtain a token is returned; cycle errors are logged.
func (s *Scheduler) Step(ctx context.Context, index int) (int, error) {
	n := len(s.opts.Accounts)
	if n == 0 {
		return 0, ErrNoAccounts
	}
	index = ((index % n) + n) % n
	next := (index + 1) % n

	acct := s.opts.Accounts[index]
	logger := s.logger.With("account", report.MaskEmail(acct.Username))

	s.logCurrentIP(ctx, index, logger)
	logger.Info("starting process for account")

	src := s.tokenSource(index)
	if _, err := src.GetValidToken(ctx); err != nil {
		return index, fmt.Errorf("account %s: %w", report.MaskEmail(acct.Username), err)
	}
	logger.Info("sign-in/auth flow completed")

	if err := src.Persist(); err != nil {
		logger.Error("validation cycle skipped", "error", err)
		return next, nil
	}

	stop := src.StartAutoRefresh(ctx, s.opts.RefreshInterval)
	err := s.runCycle(ctx, logger)
	stop()

	if err != nil {
		logger.Error("validation sequence aborted", "error", err)
	}
	return next, nil
}

func (s *Scheduler) tokenSource(index int) TokenSource {
	if s.sources[index] == nil {
		s.sources[index] = s.opts.NewTokenSource(s.opts.Accounts[index])
	}
	return s.sources[index]
}

func (s *Scheduler) logCurrentIP(ctx context.Context, index int, logger *slog.Logger) {
	if s.opts.IPLookup == nil {
		return
	}
	p := proxy.ForBatch(s.opts.Proxies, index)
	ip, err := s.opts.IPLookup.CurrentIP(ctx, p)
	if err != nil {
		logger.Error("failed to fetch current IP", "proxy", p.String(), "error", err)
		return
	}
	logger.Info("current IP", "ip", ip, "proxy", p.String())
}

func (s *Scheduler) runCycle(ctx context.Context, logger *slog.Logger) (err error) {
	started := time.Now()
	logger = logger.With("cycle_id", uuid.NewString())
	defer func() {
		s.opts.Metrics.ObserveCycle(err, time.Since(started))
	}()

	logger.Info("initiating validation run")

	tokens, err := s.opts.Store.Load()
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	access := tokens.AccessToken

	initial, err := s.opts.Oracle.FetchStats(ctx, access)
	if err != nil {
		return fmt.Errorf("unable to retrieve initial stats: %w", err)
	}

	records, err := s.opts.Oracle.FetchRecords(ctx, access)
	if err != nil {
		return fmt.Errorf("fetch signed prices: %w", err)
	}
	s.opts.Metrics.AddRecordsFetched(len(records))

	if len(records) == 0 {
		logger.Info("no new items found for validation")
		stats, err := s.opts.Oracle.FetchStats(ctx, access)
		if err != nil {
			return fmt.Errorf("fetch stats: %w", err)
		}
		s.display(stats)
		return nil
	}

	logger.Info("processing items", "count", len(records), "max_workers", s.opts.MaxWorkers)
	res := s.opts.Orchestrator.RunCycle(ctx, access, records, s.opts.Proxies, s.opts.MaxWorkers)
	logger.Info(fmt.Sprintf("Completed %d out of %d validations", res.Succeeded, res.Attempted),
		"judged_valid", res.Valid,
		"judged_invalid", res.Invalid,
		"failed", len(res.Failures))

	updated, err := s.opts.Oracle.FetchStats(ctx, access)
	if err != nil {
		return fmt.Errorf("fetch updated stats: %w", err)
	}
	s.display(updated)

	logger.Info("validation report",
		"total", updated.ValidCount+updated.InvalidCount,
		"valid", updated.ValidCount,
		"invalid", updated.InvalidCount,
		"valid_delta", updated.ValidCount-initial.ValidCount,
		"invalid_delta", updated.InvalidCount-initial.InvalidCount)
	return nil
}

func (s *Scheduler) display(stats oracle.AccountStats) {
	email := stats.Email
	if email == "" {
		email = "N/A"
	}
	user := report.MaskEmail(email)
	s.opts.Metrics.SetAccountStats(user, stats.ValidCount, stats.InvalidCount)
	if s.opts.Reporter == nil {
		return
	}
	s.opts.Reporter.Report(report.Row{
		User:         user,
		Valid:        stats.ValidCount,
		Invalid:      stats.InvalidCount,
		LastVerified: stats.LastVerifiedAt,
	})
}
