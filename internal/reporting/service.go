package reporting

import (
	"context"
	"errors"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// Methods must filter by organization.
type Repository interface {
	ListCalls(ctx context.Context, organizationID string, from, to time.Time) ([]calls.Call, error)
	ListTransactions(ctx context.Context, organizationID string, from, to time.Time) ([]wallet.Transaction, error)
	Balance(ctx context.Context, organizationID string) (wallet.Balance, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OrganizationID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.OrganizationID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OrganizationID: req.OrganizationID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.Direction == calls.DirectionInbound {
			out.InboundCalls++
		} else {
			out.OutboundCalls++
		}
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.Billed() {
			out.BilledCalls++
			out.BilledCostMinor += *c.CostMinor
		} else if c.NeedsBilling() {
			out.PendingBilling++
		}
		if c.Outcome != "" {
			if out.Outcomes == nil {
				out.Outcomes = map[string]int{}
			}
			out.Outcomes[c.Outcome]++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.OrganizationID == "" || !validRange(req.Range) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	bal, err := s.repo.Balance(ctx, req.OrganizationID)
	if err != nil {
		return SpendSummary{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, req.OrganizationID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{OrganizationID: req.OrganizationID, Currency: bal.Currency, BalanceMinor: bal.BalanceMinor}
	for _, tx := range txs {
		switch tx.Type {
		case wallet.TransactionTypeDebit:
			out.DebitCount++
			out.TotalDebitMinor += tx.AmountMinor
		case wallet.TransactionTypeCredit:
			out.CreditCount++
			out.TotalCreditMinor += tx.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
