package credits

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"callbilling/internal/audit"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestGate_CheckReportsCounts(t *testing.T) {
	repo := NewMemoryRepository()
	g := NewGate(repo, nil)
	ctx := context.Background()
	_, err := g.Grant(ctx, "org_1", 4, "grant-1")
	require.NoError(t, err)

	_, err = g.Check(ctx, "org_1", 6)
	require.ErrorIs(t, err, ErrInsufficientCredits)

	var ice *InsufficientCreditsError
	require.True(t, errors.As(err, &ice))
	require.Equal(t, int64(6), ice.Required)
	require.Equal(t, int64(4), ice.Available)
}

func TestGate_SpendIsConditional(t *testing.T) {
	auditRepo := audit.NewMemoryRepo()
	g := NewGate(NewMemoryRepository(), audit.NewService(auditRepo))
	ctx := context.Background()
	_, err := g.Grant(ctx, "org_1", 10, "grant-1")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Spend(ctx, "org_1", 3, "call-x"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, success)
	left, err := g.Available(ctx, "org_1")
	require.NoError(t, err)
	require.Equal(t, int64(1), left)
	// one grant + three spends
	require.Len(t, auditRepo.Events(), 4)
}

func TestGate_SpendZeroIsNoop(t *testing.T) {
	g := NewGate(NewMemoryRepository(), nil)
	remaining, err := g.Spend(context.Background(), "org_1", 0, "call-1")
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestPostgresRepository_SpendIfAvailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE organization_ai_credits")).
		WithArgs("org_1", int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM organization_ai_credits")).
		WithArgs("org_1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(int64(4)))

	remaining, ok, err := NewPostgresRepository(db).SpendIfAvailable(context.Background(), "org_1", 6)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(4), remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}
