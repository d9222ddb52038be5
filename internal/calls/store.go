package calls

import "context"

// Store persists call records. Update is a conditional write on Call.Version:
// it fails with ErrConcurrencyConflict when the stored version differs and
// returns the call with its new version on success.
type Store interface {
	Insert(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	FindByProviderCallID(ctx context.Context, providerCallID string) (Call, error)
	// FindMostRecentOutbound returns the newest outbound call that is initiated
	// or in-progress. It is a heuristic and can pick the wrong call under load.
	FindMostRecentOutbound(ctx context.Context) (Call, error)
	Update(ctx context.Context, c Call) (Call, error)
	ListUnbilled(ctx context.Context, limit int) ([]Call, error)
	ListByOrganization(ctx context.Context, organizationID string, f ListFilter) ([]Call, error)
}
