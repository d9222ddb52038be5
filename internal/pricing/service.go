package pricing

import (
	"context"
	"errors"
	"time"
)

// RateRepository abstracts pricing persistence.
type RateRepository interface {
	FindMinutePricing(ctx context.Context, organizationID string, direction CallDirection, at time.Time) (MinutePricing, bool, error)
}

// Service resolves the per-minute rate for a call and computes its cost.
// Pure calculation plus repository lookups; no provider calls.
type Service struct {
	repo        RateRepository
	defaultRate int64
	clock       func() time.Time
}

func NewService(repo RateRepository, defaultRatePerMinuteMinor int64) *Service {
	return &Service{repo: repo, defaultRate: defaultRatePerMinuteMinor, clock: time.Now}
}

type CallCostRequest struct {
	OrganizationID  string
	Direction       CallDirection
	DurationSeconds int
	// At selects the effective rate. If zero, the service clock is used.
	At time.Time
}

type CallCost struct {
	RatePerMinuteMinor int64
	TotalMinor         int64
	// Source is "organization" when a MinutePricing row matched, "default" otherwise.
	Source string
}

var ErrInvalidPricingReq = errors.New("invalid pricing request")

// CalculateCallCost returns ceil(duration * rate / 60) in minor units.
func (s *Service) CalculateCallCost(ctx context.Context, req CallCostRequest) (CallCost, error) {
	if req.OrganizationID == "" || req.DurationSeconds <= 0 {
		return CallCost{}, ErrInvalidPricingReq
	}
	if req.Direction != CallDirectionInbound && req.Direction != CallDirectionOutbound {
		return CallCost{}, ErrInvalidPricingReq
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	rate, source := s.defaultRate, "default"
	if s.repo != nil {
		mp, ok, err := s.repo.FindMinutePricing(ctx, req.OrganizationID, req.Direction, at)
		if err != nil {
			return CallCost{}, err
		}
		if ok {
			rate, source = mp.RatePerMinuteMinor, "organization"
		}
	}
	if rate <= 0 {
		return CallCost{}, ErrInvalidPricingReq
	}

	return CallCost{
		RatePerMinuteMinor: rate,
		TotalMinor:         CostMinor(req.DurationSeconds, rate),
		Source:             source,
	}, nil
}

// DefaultRate is the configured fallback rate per minute.
func (s *Service) DefaultRate() int64 { return s.defaultRate }

// CostMinor computes ceil(durationSeconds / 60 * ratePerMinute) with integer arithmetic.
func CostMinor(durationSeconds int, ratePerMinuteMinor int64) int64 {
	if durationSeconds <= 0 || ratePerMinuteMinor <= 0 {
		return 0
	}
	num := int64(durationSeconds) * ratePerMinuteMinor
	return (num + 59) / 60
}
