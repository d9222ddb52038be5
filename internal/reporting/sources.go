package reporting

import (
	"context"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/wallet"
)

type CallLister interface {
	ListByOrganization(ctx context.Context, organizationID string, f calls.ListFilter) ([]calls.Call, error)
}

type LedgerReader interface {
	GetBalance(ctx context.Context, organizationID string) (wallet.Balance, error)
	Transactions(ctx context.Context, organizationID string, limit int) ([]wallet.Transaction, error)
}

// Sources reads reporting rows from the call store and the wallet ledger.
type Sources struct {
	Calls  CallLister
	Ledger LedgerReader
}

func (s Sources) ListCalls(ctx context.Context, organizationID string, from, to time.Time) ([]calls.Call, error) {
	return s.Calls.ListByOrganization(ctx, organizationID, calls.ListFilter{From: from, To: to})
}

func (s Sources) ListTransactions(ctx context.Context, organizationID string, from, to time.Time) ([]wallet.Transaction, error) {
	txs, err := s.Ledger.Transactions(ctx, organizationID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]wallet.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s Sources) Balance(ctx context.Context, organizationID string) (wallet.Balance, error) {
	return s.Ledger.GetBalance(ctx, organizationID)
}
