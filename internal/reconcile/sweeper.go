package reconcile

import (
	"context"
	"errors"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"
	"callbilling/pkg/metrics"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	out := c
	if out.Interval <= 0 {
		out.Interval = time.Minute
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 200 * time.Millisecond
	}
	if out.MaxDelay < out.BaseDelay {
		out.MaxDelay = 5 * time.Second
	}
	return out
}

// Sweeper bills completed calls whose debit failed during webhook handling.
// It takes the same per-call lock as the Reconciler.
type Sweeper struct {
	calls  *calls.Service
	locker calls.Locker
	biller *Biller
	cfg    SweeperConfig
	retry  failsafe.Executor[calls.Call]
}

func NewSweeper(callSvc *calls.Service, locker calls.Locker, biller *Biller, cfg SweeperConfig) *Sweeper {
	cfg = cfg.withDefaults()
	policy := retrypolicy.NewBuilder[calls.Call]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ calls.Call, err error) bool {
			return retryableBillingError(err)
		}).
		ReturnLastFailure().
		Build()

	return &Sweeper{
		calls:  callSvc,
		locker: locker,
		biller: biller,
		cfg:    cfg,
		retry:  failsafe.With[calls.Call](policy),
	}
}

// Insufficient funds and bad input do not change between attempts.
func retryableBillingError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, wallet.ErrInsufficientFunds) &&
		!errors.Is(err, wallet.ErrInvalidArgument) &&
		!errors.Is(err, wallet.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.From(ctx).With("component", "billing_sweeper")
	ctx = logger.With(ctx, log)
	log.Info("billing sweeper started", "interval", s.cfg.Interval.String(), "batch_size", s.cfg.BatchSize)

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("billing sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			log.Info("billing sweeper stopped")
			return
		case <-t.C:
		}
	}
}

// RunOnce bills one batch of unbilled calls and returns how many were billed.
// Failures on individual calls are logged and left for the next sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.calls.ListUnbilled(ctx, s.cfg.BatchSize)
	if err != nil {
		metrics.SweeperRuns.WithLabelValues("error").Inc()
		return 0, err
	}

	log := logger.From(ctx)
	billed := 0
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			metrics.SweeperRuns.WithLabelValues("canceled").Inc()
			return billed, err
		}
		out, err := s.billOne(ctx, c.ID)
		if err != nil {
			log.Warn("deferred billing still failing", "call_id", c.ID, "organization_id", c.OrganizationID, "err", err)
			continue
		}
		if out.Billed() {
			billed++
			metrics.SweeperBilled.Inc()
		}
	}

	metrics.SweeperRuns.WithLabelValues("ok").Inc()
	if len(pending) > 0 {
		log.Info("billing sweep finished", "pending", len(pending), "billed", billed)
	}
	return billed, nil
}

// billOne takes the call lock per attempt so webhooks for the call are never
// blocked through a retry backoff.
func (s *Sweeper) billOne(ctx context.Context, callID string) (calls.Call, error) {
	return s.retry.WithContext(ctx).Get(func() (calls.Call, error) {
		unlock, err := s.locker.Lock(ctx, callID)
		if err != nil {
			return calls.Call{}, err
		}
		defer unlock()

		// Re-read under the lock: a webhook may have billed it meanwhile.
		c, err := s.calls.Get(ctx, callID)
		if err != nil {
			return calls.Call{}, err
		}
		return s.biller.Bill(ctx, c)
	})
}
