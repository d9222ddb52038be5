// Package app wires configuration into the services shared by the API
// server and the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"callbilling/internal/audit"
	"callbilling/internal/auth"
	"callbilling/internal/calls"
	"callbilling/internal/config"
	"callbilling/internal/credits"
	"callbilling/internal/dispatch"
	"callbilling/internal/enrichment"
	"callbilling/internal/payments"
	"callbilling/internal/pricing"
	"callbilling/internal/reconcile"
	"callbilling/internal/reporting"
	"callbilling/internal/routing"
	"callbilling/internal/telephony"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// callLockTTL bounds how long one webhook or sweeper pass may hold a call.
const callLockTTL = 30 * time.Second

type App struct {
	Config config.Config

	Auth       *auth.Manager
	Audit      *audit.Service
	Calls      *calls.Service
	Wallet     *wallet.Service
	Credits    *credits.Gate
	Pricing    *pricing.Service
	Routing    *routing.RoutingEngine
	Dispatcher *dispatch.Dispatcher
	Reconciler *reconcile.Reconciler
	Sweeper    *reconcile.Sweeper
	Enrichment *enrichment.Pipeline
	Reports    *reporting.Service
	Stripe     *payments.StripeWebhook
}

// New builds every service against Postgres and Redis.
func New(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client) (*App, error) {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	tokens, err := telephony.NewCallTokens(cfg.Twilio.WebhookSecret, 0)
	if err != nil {
		return nil, fmt.Errorf("call tokens: %w", err)
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	callSvc := calls.NewService(calls.NewPostgresStore(db))
	policy := wallet.OverdraftPolicy(cfg.Billing.OverdraftPolicy)
	walletSvc := wallet.NewService(wallet.NewPostgresRepository(db),
		wallet.WithOverdraftPolicy(policy),
		wallet.WithCurrency(cfg.Billing.Currency),
		wallet.WithAudit(auditSvc),
	)
	gate := credits.NewGate(credits.NewPostgresRepository(db), auditSvc)
	pricingSvc := pricing.NewService(pricing.NewPostgresRepo(db), cfg.Billing.RatePerMinuteMinor)

	locker := calls.NewRedisLocker(rdb, callLockTTL)
	slots := dispatch.NewRedisSlots(rdb, cfg.Dispatch.MaxConcurrentCallsPerOrg, cfg.Dispatch.SlotTTL)
	urls := telephony.NewCallbackURLs(cfg.Twilio.PublicBaseURL)

	directory := routing.NewMemoryDirectory(cfg.Routing.InboundNumbers, destinations(cfg.Routing.Destinations))
	router := routing.NewRoutingEngine(directory, walletSvc, policy, cfg.Billing.RatePerMinuteMinor, nil)

	biller := reconcile.NewBiller(callSvc, pricingSvc, walletSvc)

	var archiver enrichment.Archiver
	if cfg.Recordings.ArchiveEnabled() {
		s3, err := enrichment.NewS3Archiver(ctx, cfg.Recordings)
		if err != nil {
			return nil, fmt.Errorf("recordings archive: %w", err)
		}
		archiver = s3
	} else {
		logger.From(ctx).Info("recording archive disabled")
	}
	ai := enrichment.NewOpenAIClient(cfg.AI)

	return &App{
		Config:     cfg,
		Auth:       authManager,
		Audit:      auditSvc,
		Calls:      callSvc,
		Wallet:     walletSvc,
		Credits:    gate,
		Pricing:    pricingSvc,
		Routing:    router,
		Dispatcher: dispatch.NewDispatcher(callSvc, telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken), tokens, urls, slots, cfg.Twilio.CallerID),
		Reconciler: reconcile.NewReconciler(reconcile.Options{
			Calls:    callSvc,
			Locker:   locker,
			Biller:   biller,
			Tokens:   tokens,
			URLs:     urls,
			Router:   router,
			Slots:    slots,
			CallerID: cfg.Twilio.CallerID,
		}),
		Sweeper: reconcile.NewSweeper(callSvc, locker, biller, reconcile.SweeperConfig{
			Interval:  cfg.Billing.SweepInterval,
			BatchSize: cfg.Billing.SweepBatchSize,
		}),
		Enrichment: enrichment.NewPipeline(enrichment.Options{
			Calls:       callSvc,
			Credits:     gate,
			Fetcher:     enrichment.NewTwilioRecordingFetcher(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.AI.Timeout),
			Transcriber: ai,
			Analyst:     ai,
			Archiver:    archiver,
			Prices:      enrichment.Prices{Transcribe: cfg.AI.TranscribeCredits, Summarize: cfg.AI.SummarizeCredits},
		}),
		Reports: reporting.NewService(reporting.Sources{Calls: callSvc, Ledger: walletSvc}),
		Stripe:  payments.NewStripeWebhook(cfg.Stripe.WebhookSecret, walletSvc, cfg.Billing.Currency),
	}, nil
}

func destinations(in map[string][]config.RoutingDestination) map[string][]routing.WeightedDestination {
	out := make(map[string][]routing.WeightedDestination, len(in))
	for org, ds := range in {
		for _, d := range ds {
			out[org] = append(out[org], routing.WeightedDestination{TargetURI: d.Target, Weight: d.Weight})
		}
	}
	return out
}
