package payments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"callbilling/internal/wallet"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType string, session map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func paidSession(id, org string, amount int64) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   amount,
		"currency":       "usd",
		"metadata":       map[string]string{MetadataOrganizationID: org},
	}
}

func newWallet(t *testing.T) *wallet.Service {
	t.Helper()
	svc := wallet.NewService(wallet.NewMemoryRepository(), wallet.WithCurrency("USD"))
	_, err := svc.OpenWallet(context.Background(), "org_1", 100)
	require.NoError(t, err)
	return svc
}

func TestStripeWebhookCreditsOnce(t *testing.T) {
	w := newWallet(t)
	h := NewStripeWebhook(testSecret, w, "USD")
	payload, sig := signedEvent(t, "checkout.session.completed", paidSession("cs_1", "org_1", 5000))

	out, err := h.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeCredited, out)

	out, err = h.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, out)

	bal, err := w.GetBalance(context.Background(), "org_1")
	require.NoError(t, err)
	require.Equal(t, int64(5100), bal.BalanceMinor)

	txs, err := w.Transactions(context.Background(), "org_1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "cs_1", txs[0].Reference)
}

func TestStripeWebhookOpensMissingWallet(t *testing.T) {
	w := newWallet(t)
	h := NewStripeWebhook(testSecret, w, "")
	payload, sig := signedEvent(t, "checkout.session.completed", paidSession("cs_2", "org_new", 700))

	out, err := h.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeCredited, out)

	bal, err := w.GetBalance(context.Background(), "org_new")
	require.NoError(t, err)
	require.Equal(t, int64(700), bal.BalanceMinor)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	h := NewStripeWebhook(testSecret, newWallet(t), "")
	payload, _ := signedEvent(t, "checkout.session.completed", paidSession("cs_1", "org_1", 5000))

	_, err := h.Handle(context.Background(), payload, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeWebhookIgnoresUnpaidAndOtherEvents(t *testing.T) {
	w := newWallet(t)
	h := NewStripeWebhook(testSecret, w, "USD")

	unpaid := paidSession("cs_3", "org_1", 5000)
	unpaid["payment_status"] = "unpaid"
	payload, sig := signedEvent(t, "checkout.session.completed", unpaid)
	out, err := h.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, out)

	payload, sig = signedEvent(t, "customer.created", map[string]any{"id": "cus_1", "object": "customer"})
	out, err = h.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, out)

	eur := paidSession("cs_4", "org_1", 5000)
	eur["currency"] = "eur"
	payload, sig = signedEvent(t, "checkout.session.completed", eur)
	out, err = h.Handle(context.Background(), payload, sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, out)

	bal, err := w.GetBalance(context.Background(), "org_1")
	require.NoError(t, err)
	require.Equal(t, int64(100), bal.BalanceMinor)
}
