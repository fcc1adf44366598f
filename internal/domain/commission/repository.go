package commission

import "context"

type Repository interface {
	// ListCandidates returns every rate that could apply to the vendor or
	// category, including wildcard and platform-default entries, regardless
	// of effective interval. Interval and precedence filtering happen in
	// Resolve so the policy stays testable without storage.
	ListCandidates(ctx context.Context, vendorID, categoryID string) ([]*Rate, error)

	Insert(ctx context.Context, r *Rate) error
}
