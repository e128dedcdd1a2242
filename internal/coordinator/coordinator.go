// Package coordinator fans a batch of signed records out to concurrent
// validate-and-submit units and aggregates what comes back.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"storkvalidator/internal/observability"
	"storkvalidator/internal/oracle"
	"storkvalidator/internal/proxy"
	"storkvalidator/internal/remote"
	"storkvalidator/internal/validator"
)

const defaultSubmitTimeout = 30 * time.Second

// Submitter sends one validation decision to the oracle.
type Submitter interface {
	SubmitValidation(ctx context.Context, token, msgHash string, valid bool, p proxy.Proxy) (oracle.Ack, error)
}

// Decider judges a single record.
type Decider interface {
	Decide(rec oracle.SignedRecord) (bool, validator.Reason)
}

// Outcome is what a single unit reports. Success means the submission call
// completed, regardless of the verdict.
type Outcome struct {
	MsgHash string
	Valid   bool
	Success bool
	Err     error
}

// Result aggregates the outcomes of one cycle.
type Result struct {
	Attempted int
	Succeeded int
	Valid     int
	Invalid   int
	Failures  []Outcome
}

// Options configures a Coordinator.
type Options struct {
	Submitter     Submitter
	Validator     Decider
	SubmitTimeout time.Duration
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Coordinator runs validation cycles. It is safe for sequential reuse across
// accounts.
type Coordinator struct {
	submitter     Submitter
	validator     Decider
	submitTimeout time.Duration
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.Validator == nil {
		opts.Validator = validator.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		submitter:     opts.Submitter,
		validator:     opts.Validator,
		submitTimeout: opts.SubmitTimeout,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
}

// Partition splits records into contiguous batches of ceil(len/maxWorkers),
// preserving order. A non-positive maxWorkers is treated as 1.
func Partition(records []oracle.SignedRecord, maxWorkers int) [][]oracle.SignedRecord {
	if len(records) == 0 {
		return nil
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	size := (len(records) + maxWorkers - 1) / maxWorkers

	batches := make([][]oracle.SignedRecord, 0, maxWorkers)
	for start := 0; start < len(records) && len(batches) < maxWorkers; start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return batches
}

// RunCycle validates and submits every record, one concurrent unit per
// record. Batch i submits through proxies[i mod len(proxies)], or directly
// when no proxies are configured. It returns once every unit has reported.
func (c *Coordinator) RunCycle(ctx context.Context, token string, records []oracle.SignedRecord, proxies []proxy.Proxy, maxWorkers int) Result {
	batches := Partition(records, maxWorkers)
	if len(batches) == 0 {
		return Result{}
	}

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	outcomes := make(chan Outcome, total)

	var wg conc.WaitGroup
	for i, batch := range batches {
		p := proxy.ForBatch(proxies, i)
		c.logger.Debug("dispatching batch", "batch", i, "size", len(batch), "proxy", p.String())
		for _, rec := range batch {
			rec := rec
			wg.Go(func() {
				outcomes <- c.runUnit(ctx, token, rec, p)
			})
		}
	}
	wg.Wait()
	close(outcomes)

	var res Result
	for o := range outcomes {
		res.Attempted++
		if o.Valid {
			res.Valid++
		} else {
			res.Invalid++
		}
		if o.Success {
			res.Succeeded++
			continue
		}
		res.Failures = append(res.Failures, o)
	}
	return res
}

// runUnit always yields an Outcome, even if the submitter panics.
func (c *Coordinator) runUnit(ctx context.Context, token string, rec oracle.SignedRecord, p proxy.Proxy) Outcome {
	out := Outcome{MsgHash: rec.MsgHash}

	var pc panics.Catcher
	pc.Try(func() {
		valid, reason := c.validator.Decide(rec)
		out.Valid = valid
		c.metrics.ObserveVerdict(valid)

		subCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()

		_, err := c.submitter.SubmitValidation(subCtx, token, rec.MsgHash, valid, p)
		c.metrics.ObserveSubmission(err)
		if err != nil {
			out.Err = err
			c.logger.Warn("submission failed",
				"msg_hash", remote.ShortHash(rec.MsgHash),
				"proxy", p.String(),
				"error", err)
			return
		}
		out.Success = true
		c.logger.Debug("submitted validation",
			"asset", rec.Asset,
			"msg_hash", remote.ShortHash(rec.MsgHash),
			"valid", valid,
			"reason", reason)
	})

	if r := pc.Recovered(); r != nil {
		out.Success = false
		out.Err = fmt.Errorf("validation unit panicked: %w", r.AsError())
		c.logger.Error("validation unit panicked",
			"msg_hash", remote.ShortHash(rec.MsgHash),
			"panic", r.Value)
	}
	return out
}
