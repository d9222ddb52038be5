package routing

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"callbilling/internal/wallet"
)

// RoutingEngine picks the forward destination for an inbound call.
//
// Priority:
//  1. Wallet balance (only under the reject overdraft policy)
//  2. Weighted destination selection
//
// Route has no side effects.
type RoutingEngine struct {
	Directory Directory

	Wallet          wallet.BalanceService
	Policy          wallet.OverdraftPolicy
	MinBalanceMinor int64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRoutingEngine(dir Directory, walletSvc wallet.BalanceService, policy wallet.OverdraftPolicy, minBalanceMinor int64, rng *rand.Rand) *RoutingEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RoutingEngine{
		Directory:       dir,
		Wallet:          walletSvc,
		Policy:          policy,
		MinBalanceMinor: minBalanceMinor,
		rng:             rng,
	}
}

// OrganizationForNumber exposes the directory lookup used for inbound ingestion.
func (e *RoutingEngine) OrganizationForNumber(ctx context.Context, number string) (string, error) {
	return e.Directory.OrganizationForNumber(ctx, number)
}

func (e *RoutingEngine) Route(ctx context.Context, organizationID string) (Decision, error) {
	if organizationID == "" {
		return Decision{}, errors.New("routing: organization_id required")
	}

	if e.Policy == wallet.OverdraftReject && e.Wallet != nil {
		bal, err := e.Wallet.GetBalance(ctx, organizationID)
		if errors.Is(err, wallet.ErrNotFound) {
			return Decision{OrganizationID: organizationID, Action: ActionReject, Reason: "wallet_not_found"}, nil
		}
		if err != nil {
			return Decision{}, err
		}
		if bal.BalanceMinor < e.MinBalanceMinor {
			return Decision{OrganizationID: organizationID, Action: ActionReject, Reason: "insufficient_balance"}, nil
		}
	}

	dests, err := e.Directory.Destinations(ctx, organizationID)
	if err != nil {
		return Decision{}, err
	}
	if dest, ok := e.pickDestination(dests); ok {
		return Decision{OrganizationID: organizationID, Action: ActionConnect, ConnectTo: dest, Reason: "selected"}, nil
	}
	return Decision{OrganizationID: organizationID, Action: ActionReject, Reason: "no_eligible_destination"}, nil
}

func (e *RoutingEngine) pickDestination(dests []WeightedDestination) (string, bool) {
	var total int
	for _, d := range dests {
		if d.Weight <= 0 {
			continue
		}
		total += d.Weight
	}
	if total <= 0 {
		return "", false
	}

	e.mu.Lock()
	r := e.rng.Intn(total) // 0..total-1
	e.mu.Unlock()

	var acc int
	for _, d := range dests {
		if d.Weight <= 0 {
			continue
		}
		acc += d.Weight
		if r < acc {
			return d.TargetURI, true
		}
	}
	return "", false
}
