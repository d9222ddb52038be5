package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateCall_InitialStatusByDirection(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	out, err := svc.CreateCall(ctx, NewCall{Direction: DirectionOutbound, PhoneNumber: "+15550001111", OrganizationID: "org_1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, CallStatusQueued, out.Status)
	require.Empty(t, out.ProviderCallID)

	in, err := svc.CreateCall(ctx, NewCall{Direction: DirectionInbound, PhoneNumber: "+15550002222", OrganizationID: "org_1", ProviderCallID: "CA9"})
	require.NoError(t, err)
	require.Equal(t, CallStatusRinging, in.Status)

	got, err := svc.FindByProviderCallID(ctx, "CA9")
	require.NoError(t, err)
	require.Equal(t, in.ID, got.ID)
}

func TestCreateCall_Validates(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.CreateCall(context.Background(), NewCall{Direction: DirectionOutbound, PhoneNumber: "+1"})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.CreateCall(context.Background(), NewCall{Direction: "sideways", PhoneNumber: "+1", OrganizationID: "o"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_AttachAndTransition(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	c, err := svc.CreateCall(ctx, NewCall{Direction: DirectionOutbound, PhoneNumber: "+1555", OrganizationID: "org_1"})
	require.NoError(t, err)

	c, err = svc.AttachProviderCallID(ctx, c.ID, "CA1")
	require.NoError(t, err)
	require.Equal(t, int64(1), c.Version)

	_, err = svc.AttachProviderCallID(ctx, c.ID, "CA2")
	require.ErrorIs(t, err, ErrProviderCallIDAlreadySet)

	c, err = svc.Transition(ctx, c.ID, CallStatusInitiated, time.Now())
	require.NoError(t, err)
	require.Equal(t, CallStatusInitiated, c.Status)

	recent, err := svc.FindMostRecentOutbound(ctx)
	require.NoError(t, err)
	require.Equal(t, c.ID, recent.ID)

	c, err = svc.Transition(ctx, c.ID, CallStatusCompleted, time.Now())
	require.NoError(t, err)
	version := c.Version

	// Duplicate terminal delivery: no write, no version bump.
	again, err := svc.Transition(ctx, c.ID, CallStatusCompleted, time.Now())
	require.NoError(t, err)
	require.Equal(t, version, again.Version)

	_, err = svc.Transition(ctx, c.ID, CallStatusInProgress, time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStore_UpdateDetectsStaleVersion(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	c, err := svc.CreateCall(ctx, NewCall{Direction: DirectionOutbound, PhoneNumber: "+1555", OrganizationID: "org_1"})
	require.NoError(t, err)

	stale := c
	c.Notes = "first"
	_, err = store.Update(ctx, c)
	require.NoError(t, err)

	stale.Notes = "second"
	_, err = store.Update(ctx, stale)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestMemoryStore_WriteOnceFieldsSurviveStaleWriter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, Call{ID: "c1", OrganizationID: "o", Status: CallStatusCompleted, DurationSeconds: 60}))

	c, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	c.SetCost(150)
	c, err = store.Update(ctx, c)
	require.NoError(t, err)

	c.CostMinor = nil
	c, err = store.Update(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, c.CostMinor)
	require.Equal(t, int64(150), *c.CostMinor)
}

func TestService_MutateRetriesConflicts(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	c, err := svc.CreateCall(ctx, NewCall{Direction: DirectionOutbound, PhoneNumber: "+1555", OrganizationID: "org_1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Mutate(ctx, c.ID, func(c *Call) (bool, error) {
				c.Notes += "x"
				return true, nil
			})
			if err != nil && !errors.Is(err, ErrConcurrencyConflict) {
				t.Errorf("mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(len(got.Notes)), got.Version)
}

func TestListUnbilledAndByOrganization(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	cost := int64(10)

	require.NoError(t, store.Insert(ctx, Call{ID: "a", OrganizationID: "o1", Status: CallStatusCompleted, DurationSeconds: 30, CreatedAt: base}))
	require.NoError(t, store.Insert(ctx, Call{ID: "b", OrganizationID: "o1", Status: CallStatusCompleted, DurationSeconds: 30, CostMinor: &cost, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Insert(ctx, Call{ID: "c", OrganizationID: "o2", Status: CallStatusBusy, CreatedAt: base}))

	unbilled, err := store.ListUnbilled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unbilled, 1)
	require.Equal(t, "a", unbilled[0].ID)

	list, err := store.ListByOrganization(ctx, "o1", ListFilter{From: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "b", list[0].ID)
}
