package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"callbilling/internal/wallet"
	"callbilling/pkg/logger"
	"callbilling/pkg/metrics"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	ErrInvalidPayload   = errors.New("payments: invalid webhook payload")
)

// MetadataOrganizationID is the checkout session metadata key naming the wallet to top up.
const MetadataOrganizationID = "organization_id"

// Wallet is the slice of wallet.Service used for top-ups.
type Wallet interface {
	Credit(ctx context.Context, organizationID string, amountMinor int64, reference, description string) (wallet.Transaction, error)
	OpenWallet(ctx context.Context, organizationID string, initialBalanceMinor int64) (wallet.Balance, error)
}

type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// StripeWebhook turns paid checkout sessions into wallet credits.
type StripeWebhook struct {
	secret   string
	wallet   Wallet
	currency string
}

// NewStripeWebhook builds the handler. currency, when set, must match the
// session currency (case-insensitive); other sessions are ignored.
func NewStripeWebhook(secret string, w Wallet, currency string) *StripeWebhook {
	return &StripeWebhook{secret: secret, wallet: w, currency: strings.ToLower(currency)}
}

// Handle verifies and applies one webhook delivery. Redeliveries of the same
// session are absorbed by the ledger's reference uniqueness.
func (s *StripeWebhook) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.secret)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("stripe", "rejected").Inc()
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log := logger.From(ctx).With("stripe_event_id", event.ID, "stripe_event_type", string(event.Type))

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		log.Debug("stripe event ignored")
		metrics.WebhookEvents.WithLabelValues("stripe", string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}

	var sess stripe.CheckoutSession
	if event.Data == nil {
		return "", fmt.Errorf("%w: event has no data", ErrInvalidPayload)
	}
	if err := sess.UnmarshalJSON(event.Data.Raw); err != nil {
		return "", fmt.Errorf("%w: checkout session: %v", ErrInvalidPayload, err)
	}

	out, err := s.apply(ctx, log, &sess)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("stripe", "error").Inc()
		return "", err
	}
	metrics.WebhookEvents.WithLabelValues("stripe", string(out)).Inc()
	return out, nil
}

func (s *StripeWebhook) apply(ctx context.Context, log *slog.Logger, sess *stripe.CheckoutSession) (Outcome, error) {
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.Info("checkout session not paid yet", "session_id", sess.ID, "payment_status", string(sess.PaymentStatus))
		return OutcomeIgnored, nil
	}
	orgID := sess.Metadata[MetadataOrganizationID]
	if orgID == "" {
		log.Warn("checkout session without organization", "session_id", sess.ID)
		return OutcomeIgnored, nil
	}
	if sess.AmountTotal <= 0 {
		log.Warn("checkout session without amount", "session_id", sess.ID)
		return OutcomeIgnored, nil
	}
	if s.currency != "" && strings.ToLower(string(sess.Currency)) != s.currency {
		log.Warn("checkout session currency mismatch", "session_id", sess.ID, "currency", string(sess.Currency))
		return OutcomeIgnored, nil
	}

	description := "stripe checkout " + sess.ID
	_, err := s.wallet.Credit(ctx, orgID, sess.AmountTotal, sess.ID, description)
	if errors.Is(err, wallet.ErrNotFound) {
		if _, oerr := s.wallet.OpenWallet(ctx, orgID, 0); oerr != nil && !errors.Is(oerr, wallet.ErrWalletExists) {
			return "", fmt.Errorf("open wallet: %w", oerr)
		}
		_, err = s.wallet.Credit(ctx, orgID, sess.AmountTotal, sess.ID, description)
	}
	switch {
	case err == nil:
		log.Info("wallet topped up", "organization_id", orgID, "session_id", sess.ID, "amount_minor", sess.AmountTotal)
		return OutcomeCredited, nil
	case errors.Is(err, wallet.ErrDuplicateReference):
		return OutcomeDuplicate, nil
	default:
		return "", fmt.Errorf("credit wallet: %w", err)
	}
}
