package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Organization isolation: OrganizationID is required.
type CallsSummaryRequest struct {
	OrganizationID string    `json:"organization_id"`
	Range          TimeRange `json:"range"`
}

type CallsSummary struct {
	OrganizationID string `json:"organization_id"`

	TotalCalls      int `json:"total_calls"`
	InboundCalls    int `json:"inbound_calls"`
	OutboundCalls   int `json:"outbound_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	BilledCalls     int   `json:"billed_calls"`
	BilledCostMinor int64 `json:"billed_cost_minor"`
	// PendingBilling counts completed calls the sweeper has not billed yet.
	PendingBilling int `json:"pending_billing"`

	Outcomes map[string]int `json:"outcomes,omitempty"`
}

// SpendSummaryRequest requests aggregated spend metrics.
// Spend is derived from the immutable wallet ledger.
type SpendSummaryRequest struct {
	OrganizationID string    `json:"organization_id"`
	Range          TimeRange `json:"range"`
}

type SpendSummary struct {
	OrganizationID string `json:"organization_id"`
	Currency       string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	DebitCount  int `json:"debit_count"`
	CreditCount int `json:"credit_count"`

	BalanceMinor int64 `json:"balance_minor"`
}
