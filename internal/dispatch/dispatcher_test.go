package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/telephony"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu   sync.Mutex
	reqs []telephony.DialRequest
	err  error
	n    int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Dial(_ context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return telephony.DialResult{}, f.err
	}
	f.n++
	return telephony.DialResult{ProviderCallID: fmt.Sprintf("CA%d", f.n)}, nil
}

type fixture struct {
	calls    *calls.Service
	provider *fakeProvider
	slots    *MemorySlots
	tokens   *telephony.CallTokens
	d        *Dispatcher
}

func newFixture(t *testing.T, limit int) fixture {
	t.Helper()
	tokens, err := telephony.NewCallTokens("dispatch-test-secret-0123", time.Hour)
	require.NoError(t, err)
	f := fixture{
		calls:    calls.NewService(calls.NewMemoryStore()),
		provider: &fakeProvider{},
		slots:    NewMemorySlots(limit),
		tokens:   tokens,
	}
	f.d = NewDispatcher(f.calls, f.provider, tokens, telephony.NewCallbackURLs("https://calls.example.test"), f.slots, "+15550000000")
	return f
}

func TestDispatch_AttachesProviderIDAndInitiates(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	call, err := f.d.Dispatch(ctx, Request{OrganizationID: "org-1", UserID: "u-1", PhoneNumber: "+15557654321"})
	require.NoError(t, err)
	require.Equal(t, calls.CallStatusInitiated, call.Status)
	require.Equal(t, "CA1", call.ProviderCallID)
	require.Equal(t, 1, f.slots.InUse("org-1"))

	require.Len(t, f.provider.reqs, 1)
	req := f.provider.reqs[0]
	require.Equal(t, "client:u-1", req.To)
	require.Equal(t, "+15550000000", req.CallerID)
	require.Contains(t, req.StatusCallbackURL, telephony.PathStatusWebhook)

	byProvider, err := f.calls.FindByProviderCallID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, call.ID, byProvider.ID)
}

func TestDispatch_CallbackURLsCarryCallToken(t *testing.T) {
	f := newFixture(t, 1)
	call, err := f.d.Dispatch(context.Background(), Request{OrganizationID: "org-1", UserID: "u-1", PhoneNumber: "+1555"})
	require.NoError(t, err)

	tok := callTokenFrom(t, f.provider.reqs[0].RecordingCallbackURL)
	id, err := f.tokens.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, call.ID, id)
}

func TestDispatch_ProviderRejectionFailsCallAndReleasesSlot(t *testing.T) {
	f := newFixture(t, 1)
	f.provider.err = fmt.Errorf("%w: invalid number", telephony.ErrProviderRejected)

	call, err := f.d.Dispatch(context.Background(), Request{OrganizationID: "org-1", UserID: "u-1", PhoneNumber: "+1"})
	require.ErrorIs(t, err, telephony.ErrProviderRejected)
	require.Equal(t, calls.CallStatusFailed, call.Status)
	require.Empty(t, call.ProviderCallID)
	require.Nil(t, call.CostMinor)
	require.Equal(t, 0, f.slots.InUse("org-1"))
}

func TestDispatch_ConcurrencyCap(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.d.Dispatch(ctx, Request{OrganizationID: "org-1", UserID: "u-1", PhoneNumber: "+1"})
	require.NoError(t, err)

	_, err = f.d.Dispatch(ctx, Request{OrganizationID: "org-1", UserID: "u-2", PhoneNumber: "+2"})
	require.ErrorIs(t, err, ErrConcurrencyLimit)

	_, err = f.d.Dispatch(ctx, Request{OrganizationID: "org-2", UserID: "u-3", PhoneNumber: "+3"})
	require.NoError(t, err)
	require.Len(t, f.provider.reqs, 2)
}

func TestDispatch_Validates(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.d.Dispatch(context.Background(), Request{OrganizationID: "org-1"})
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Empty(t, f.provider.reqs)
	require.Equal(t, 0, f.slots.InUse("org-1"))
}

func TestRedisSlots(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisSlots(rdb, 1, time.Minute)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "org-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Acquire(ctx, "org-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Release(ctx, "org-1"))
	ok, err = s.Acquire(ctx, "org-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func callTokenFrom(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get(telephony.CallTokenParam)
}
