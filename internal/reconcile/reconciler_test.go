package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/dispatch"
	"callbilling/internal/pricing"
	"callbilling/internal/routing"
	"callbilling/internal/telephony"
	"callbilling/internal/wallet"

	"github.com/stretchr/testify/require"
)

const testRate = 150

type fixture struct {
	calls  *calls.Service
	wallet *wallet.Service
	tokens *telephony.CallTokens
	slots  *dispatch.MemorySlots
	dir    *routing.MemoryDirectory
	biller *Biller
	locker *calls.KeyedMutex
	rec    *Reconciler
}

func newFixture(t *testing.T, policy wallet.OverdraftPolicy) *fixture {
	t.Helper()
	tokens, err := telephony.NewCallTokens("reconcile-test-secret-01", time.Hour)
	require.NoError(t, err)

	f := &fixture{
		calls:  calls.NewService(calls.NewMemoryStore()),
		wallet: wallet.NewService(wallet.NewMemoryRepository(), wallet.WithOverdraftPolicy(policy)),
		tokens: tokens,
		slots:  dispatch.NewMemorySlots(10),
		dir: routing.NewMemoryDirectory(
			map[string]string{"+15550001111": "org_1"},
			map[string][]routing.WeightedDestination{"org_1": {{TargetURI: "+15550003333", Weight: 1}}},
		),
		locker: calls.NewKeyedMutex(),
	}
	f.biller = NewBiller(f.calls, pricing.NewService(&pricing.MemoryRepo{}, testRate), f.wallet)
	f.rec = NewReconciler(Options{
		Calls:    f.calls,
		Locker:   f.locker,
		Biller:   f.biller,
		Tokens:   tokens,
		URLs:     telephony.NewCallbackURLs("https://calls.example.test"),
		Router:   routing.NewRoutingEngine(f.dir, f.wallet, policy, testRate, rand.New(rand.NewSource(1))),
		Slots:    f.slots,
		CallerID: "+15550000000",
	})
	return f
}

// dialed mirrors what the dispatcher leaves behind: an initiated outbound
// call holding a slot, with its provider id attached.
func (f *fixture) dialed(t *testing.T, org, providerCallID string) (calls.Call, string) {
	t.Helper()
	ctx := context.Background()
	ok, err := f.slots.Acquire(ctx, org)
	require.NoError(t, err)
	require.True(t, ok)

	c, err := f.calls.CreateCall(ctx, calls.NewCall{
		Direction:      calls.DirectionOutbound,
		PhoneNumber:    "+15557654321",
		OrganizationID: org,
		UserID:         "user_1",
	})
	require.NoError(t, err)
	_, err = f.calls.AttachProviderCallID(ctx, c.ID, providerCallID)
	require.NoError(t, err)
	c, err = f.calls.Transition(ctx, c.ID, calls.CallStatusInitiated, time.Now())
	require.NoError(t, err)

	tok, err := f.tokens.Sign(c.ID)
	require.NoError(t, err)
	return c, tok
}

func statusEvent(providerCallID, token, status string, duration int) telephony.Event {
	return telephony.Event{
		Kind:            telephony.EventStatus,
		ProviderCallID:  providerCallID,
		CallToken:       token,
		CallStatus:      status,
		Direction:       "outbound-api",
		DurationSeconds: duration,
		OccurredAt:      time.Now(),
	}
}

func TestHandle_OutboundLifecycleBillsOnce(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 1000)
	require.NoError(t, err)
	c, tok := f.dialed(t, "org_1", "CA1")

	for _, st := range []string{"ringing", "answered"} {
		res := f.rec.Handle(ctx, statusEvent("CA1", tok, st, 0))
		require.Equal(t, telephony.ControlHangup, res.Action)
	}
	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.CallStatusInProgress, got.Status)
	require.NotNil(t, got.StartTime)

	f.rec.Handle(ctx, statusEvent("CA1", tok, "completed", 125))

	got, err = f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.CallStatusCompleted, got.Status)
	require.Equal(t, 125, got.DurationSeconds)
	require.NotNil(t, got.CostMinor)
	require.Equal(t, int64(313), *got.CostMinor)
	require.NotNil(t, got.EndTime)

	bal, err := f.wallet.GetBalance(ctx, "org_1")
	require.NoError(t, err)
	require.Equal(t, int64(687), bal.BalanceMinor)
	require.Equal(t, 0, f.slots.InUse("org_1"))

	// Re-delivery: no second debit, recording metadata still applied.
	again := statusEvent("CA1", tok, "completed", 125)
	again.RecordingURL = "https://api.twilio.com/rec/RE1"
	again.RecordingID = "RE1"
	f.rec.Handle(ctx, again)

	got, err = f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "RE1", got.RecordingID)
	require.Equal(t, int64(313), *got.CostMinor)

	txs, err := f.wallet.Transactions(ctx, "org_1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	bal, _ = f.wallet.GetBalance(ctx, "org_1")
	require.Equal(t, int64(687), bal.BalanceMinor)
}

func TestHandle_ConcurrentDuplicateCompletionsDebitOnce(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 1000)
	require.NoError(t, err)
	c, tok := f.dialed(t, "org_1", "CA1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the deliveries carry the token, half only the provider id.
			token := tok
			if i%2 == 1 {
				token = ""
			}
			f.rec.Handle(ctx, statusEvent("CA1", token, "completed", 125))
		}(i)
	}
	wg.Wait()

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(313), *got.CostMinor)

	txs, err := f.wallet.Transactions(ctx, "org_1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, 0, f.slots.InUse("org_1"))
}

func TestHandle_ConcurrentCallsSameOrganization(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 10000)
	require.NoError(t, err)

	const n = 8
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		_, tokens[i] = f.dialed(t, "org_1", fmt.Sprintf("CA%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for rep := 0; rep < 2; rep++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				f.rec.Handle(ctx, statusEvent(fmt.Sprintf("CA%d", i), tokens[i], "completed", 60))
			}(i)
		}
	}
	wg.Wait()

	bal, err := f.wallet.GetBalance(ctx, "org_1")
	require.NoError(t, err)
	require.Equal(t, int64(10000-n*testRate), bal.BalanceMinor)

	txs, err := f.wallet.Transactions(ctx, "org_1", 0)
	require.NoError(t, err)
	require.Len(t, txs, n)
}

func TestHandle_NonBillableTerminalNotCharged(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 1000)
	require.NoError(t, err)
	c, tok := f.dialed(t, "org_1", "CA1")

	f.rec.Handle(ctx, statusEvent("CA1", tok, "busy", 0))
	// A late completed after busy is rejected by the state machine.
	f.rec.Handle(ctx, statusEvent("CA1", tok, "completed", 30))

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.CallStatusBusy, got.Status)
	require.Nil(t, got.CostMinor)
	require.Nil(t, got.EndTime)

	bal, _ := f.wallet.GetBalance(ctx, "org_1")
	require.Equal(t, int64(1000), bal.BalanceMinor)
	require.Equal(t, 0, f.slots.InUse("org_1"))
}

func TestHandle_DebitFailureDefersToSweeper(t *testing.T) {
	f := newFixture(t, wallet.OverdraftReject)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 100)
	require.NoError(t, err)
	c, tok := f.dialed(t, "org_1", "CA1")

	res := f.rec.Handle(ctx, statusEvent("CA1", tok, "completed", 125))
	require.Equal(t, telephony.ControlHangup, res.Action)

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.CallStatusCompleted, got.Status)
	require.Nil(t, got.CostMinor)
	require.NotEmpty(t, got.BillingError)

	sw := NewSweeper(f.calls, f.locker, f.biller, SweeperConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	n, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = f.wallet.Credit(ctx, "org_1", 1000, "topup-1", "top-up")
	require.NoError(t, err)

	n, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err = f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(313), *got.CostMinor)
	require.Empty(t, got.BillingError)

	bal, _ := f.wallet.GetBalance(ctx, "org_1")
	require.Equal(t, int64(787), bal.BalanceMinor)

	n, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// downLedger fails every debit and reports each attempt on debits.
type downLedger struct{ debits chan struct{} }

func (l downLedger) Debit(ctx context.Context, organizationID string, amountMinor int64, reference, description string) (wallet.Transaction, error) {
	select {
	case l.debits <- struct{}{}:
	default:
	}
	return wallet.Transaction{}, errors.New("ledger unavailable")
}

func TestSweeper_RetryBackoffDoesNotBlockWebhooks(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	c, tok := f.dialed(t, "org_1", "CA1")

	ledger := downLedger{debits: make(chan struct{}, 16)}
	biller := NewBiller(f.calls, pricing.NewService(&pricing.MemoryRepo{}, testRate), ledger)
	rec := NewReconciler(Options{
		Calls:  f.calls,
		Locker: f.locker,
		Biller: biller,
		Tokens: f.tokens,
		URLs:   telephony.NewCallbackURLs("https://calls.example.test"),
	})
	rec.Handle(ctx, statusEvent("CA1", tok, "completed", 125))
	<-ledger.debits

	sw := NewSweeper(f.calls, f.locker, biller, SweeperConfig{MaxRetries: 3, BaseDelay: 300 * time.Millisecond, MaxDelay: 300 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sw.RunOnce(ctx)
	}()
	// The sweeper's first attempt failed; it is now in backoff.
	<-ledger.debits

	again := statusEvent("CA1", tok, "completed", 125)
	again.RecordingURL = "https://api.twilio.com/rec/RE1"
	again.RecordingID = "RE1"
	start := time.Now()
	rec.Handle(ctx, again)
	require.Less(t, time.Since(start), 200*time.Millisecond)

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "RE1", got.RecordingID)
	require.Nil(t, got.CostMinor)
	<-done
}

func TestHandle_LockWaitIsBounded(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	c, tok := f.dialed(t, "org_1", "CA1")

	rec := NewReconciler(Options{
		Calls:    f.calls,
		Locker:   f.locker,
		Biller:   f.biller,
		Tokens:   f.tokens,
		URLs:     telephony.NewCallbackURLs("https://calls.example.test"),
		LockWait: 20 * time.Millisecond,
	})
	unlock, err := f.locker.Lock(ctx, c.ID)
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	res := rec.Handle(ctx, statusEvent("CA1", tok, "ringing", 0))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, telephony.ControlHangup, res.Action)

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.CallStatusInitiated, got.Status)
}

func TestBiller_DuplicateReferenceStampsWithoutDebiting(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 1000)
	require.NoError(t, err)
	c, _ := f.dialed(t, "org_1", "CA1")

	// A previous attempt debited but crashed before stamping the cost.
	_, err = f.wallet.Debit(ctx, "org_1", 313, c.ID, "call charge")
	require.NoError(t, err)
	c, err = f.calls.Mutate(ctx, c.ID, func(call *calls.Call) (bool, error) {
		if _, err := call.Transition(calls.CallStatusCompleted, time.Now()); err != nil {
			return false, err
		}
		return call.ApplyDuration(125), nil
	})
	require.NoError(t, err)

	billed, err := f.biller.Bill(ctx, c)
	require.NoError(t, err)
	require.Equal(t, int64(313), *billed.CostMinor)

	bal, _ := f.wallet.GetBalance(ctx, "org_1")
	require.Equal(t, int64(687), bal.BalanceMinor)
}

func TestHandle_InboundIngestionRoutesAndRecords(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 1000)
	require.NoError(t, err)

	res := f.rec.Handle(ctx, telephony.Event{
		Kind:           telephony.EventVoice,
		ProviderCallID: "CA-in-1",
		CallStatus:     "ringing",
		Direction:      "inbound",
		From:           "+15559998888",
		To:             "+15550001111",
		OccurredAt:     time.Now(),
	})
	require.Equal(t, telephony.ControlDial, res.Action)
	require.Equal(t, "+15550003333", res.Destination)
	require.Contains(t, res.RecordingCallbackURL, telephony.PathRecordingWebhook)

	c, err := f.calls.FindByProviderCallID(ctx, "CA-in-1")
	require.NoError(t, err)
	require.Equal(t, calls.DirectionInbound, c.Direction)
	require.Equal(t, "org_1", c.OrganizationID)
	require.Equal(t, "+15559998888", c.PhoneNumber)

	f.rec.Handle(ctx, telephony.Event{Kind: telephony.EventStatus, ProviderCallID: "CA-in-1", CallStatus: "completed", Direction: "inbound", DurationSeconds: 60, OccurredAt: time.Now()})

	c, err = f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(testRate), *c.CostMinor)
}

func TestHandle_UnknownInboundNumberFallsBack(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	res := f.rec.Handle(context.Background(), telephony.Event{
		Kind:           telephony.EventVoice,
		ProviderCallID: "CA-in-2",
		CallStatus:     "ringing",
		Direction:      "inbound",
		To:             "+19999999999",
		OccurredAt:     time.Now(),
	})
	require.Equal(t, telephony.ControlSayHangup, res.Action)
}

func TestHandle_OutboundAnswerDialsContact(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	_, tok := f.dialed(t, "org_1", "CA1")

	res := f.rec.Handle(context.Background(), telephony.Event{
		Kind:           telephony.EventVoice,
		ProviderCallID: "CA1",
		CallToken:      tok,
		CallStatus:     "in-progress",
		Direction:      "outbound-api",
		OccurredAt:     time.Now(),
	})
	require.Equal(t, telephony.ControlDial, res.Action)
	require.Equal(t, "+15557654321", res.Destination)
	require.Equal(t, "+15550000000", res.CallerID)
}

func TestHandle_MostRecentOutboundFallback(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	_, err := f.wallet.OpenWallet(ctx, "org_1", 1000)
	require.NoError(t, err)
	c, _ := f.dialed(t, "org_1", "CA1")

	f.rec.Handle(ctx, telephony.Event{Kind: telephony.EventRecording, RecordingURL: "https://api.twilio.com/rec/RE9", RecordingID: "RE9", OccurredAt: time.Now()})

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "RE9", got.RecordingID)
}

func TestHandle_InvalidTokenFallsBackToProviderID(t *testing.T) {
	f := newFixture(t, wallet.OverdraftAllow)
	ctx := context.Background()
	c, _ := f.dialed(t, "org_1", "CA1")

	f.rec.Handle(ctx, statusEvent("CA1", "not-a-token", "ringing", 0))

	got, err := f.calls.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, calls.CallStatusRinging, got.Status)
}
