package wallet

import (
	"context"
	"sync"
)

// MemoryRepository keeps wallets in process. Each organization has its own mutex,
// so posts for different organizations never contend.
type MemoryRepository struct {
	mu      sync.Mutex
	wallets map[string]*memWallet
}

type memWallet struct {
	mu   sync.Mutex
	w    Wallet
	txs  []Transaction
	refs map[TransactionType]map[string]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{wallets: map[string]*memWallet{}}
}

func (r *MemoryRepository) Create(ctx context.Context, w Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[w.OrganizationID]; ok {
		return ErrWalletExists
	}
	r.wallets[w.OrganizationID] = &memWallet{
		w: w,
		refs: map[TransactionType]map[string]int{
			TransactionTypeDebit:  {},
			TransactionTypeCredit: {},
		},
	}
	return nil
}

func (r *MemoryRepository) get(organizationID string) (*memWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mw, ok := r.wallets[organizationID]
	if !ok {
		return nil, ErrNotFound
	}
	return mw, nil
}

func (r *MemoryRepository) GetBalance(ctx context.Context, organizationID string) (Balance, error) {
	mw, err := r.get(organizationID)
	if err != nil {
		return Balance{}, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.balance(), nil
}

func (r *MemoryRepository) Post(ctx context.Context, entry Transaction, check func(Balance) error) (Transaction, Balance, error) {
	mw, err := r.get(entry.OrganizationID)
	if err != nil {
		return Transaction{}, Balance{}, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if i, ok := mw.refs[entry.Type][entry.Reference]; ok {
		return mw.txs[i], mw.balance(), ErrDuplicateReference
	}
	if check != nil {
		if err := check(mw.balance()); err != nil {
			return Transaction{}, Balance{}, err
		}
	}

	mw.w.BalanceMinor += entry.Type.delta(entry.AmountMinor)
	mw.w.UpdatedAt = entry.CreatedAt
	entry.BalanceAfterMinor = mw.w.BalanceMinor
	mw.refs[entry.Type][entry.Reference] = len(mw.txs)
	mw.txs = append(mw.txs, entry)
	return entry, mw.balance(), nil
}

func (r *MemoryRepository) Transactions(ctx context.Context, organizationID string, limit int) ([]Transaction, error) {
	mw, err := r.get(organizationID)
	if err != nil {
		return nil, err
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	out := make([]Transaction, 0, len(mw.txs))
	for i := len(mw.txs) - 1; i >= 0; i-- {
		out = append(out, mw.txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (mw *memWallet) balance() Balance {
	return Balance{
		OrganizationID: mw.w.OrganizationID,
		Currency:       mw.w.Currency,
		BalanceMinor:   mw.w.BalanceMinor,
		UpdatedAt:      mw.w.UpdatedAt,
	}
}
