package commission

import "time"

// Scope is one tier of the rate precedence hierarchy. A nil field is a
// wildcard: the tier matches only rates that leave the same field unset.
type Scope struct {
	VendorID   *string
	CategoryID *string
}

// ScopeChain returns the precedence tiers for a vendor/category pair, most
// specific first: (vendor, category), (vendor, *), (*, category), (*, *).
// Keeping the policy as an ordered list rather than nested conditionals is
// what makes it auditable in isolation.
func ScopeChain(vendorID, categoryID string) []Scope {
	return []Scope{
		{VendorID: &vendorID, CategoryID: &categoryID},
		{VendorID: &vendorID},
		{CategoryID: &categoryID},
		{},
	}
}

// Matches reports whether a rate belongs to exactly this tier.
func (s Scope) Matches(r *Rate) bool {
	if !optEqual(s.VendorID, r.VendorID) {
		return false
	}
	return optEqual(s.CategoryID, r.CategoryID)
}

func optEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Resolution carries the winning rate plus a flag for the policy-data
// anomaly where more than one rate in the same tier covered the timestamp.
type Resolution struct {
	Rate    *Rate
	Anomaly bool
}

// Resolve selects the effective rate among candidates for a vendor/category
// at the given instant. Tiers are evaluated in fixed precedence order; within
// a tier the rate whose interval contains the instant wins, and when several
// qualify (a data error) the most recently created one is chosen and the
// resolution is flagged as an anomaly. ErrNoApplicableRate is returned only
// when even the platform default is absent.
func Resolve(candidates []*Rate, vendorID, categoryID string, at time.Time) (Resolution, error) {
	for _, scope := range ScopeChain(vendorID, categoryID) {
		var winner *Rate
		matched := 0
		for _, r := range candidates {
			if !scope.Matches(r) || !r.ActiveAt(at) {
				continue
			}
			matched++
			if winner == nil || r.CreatedAt.After(winner.CreatedAt) {
				winner = r
			}
		}
		if winner != nil {
			return Resolution{Rate: winner, Anomaly: matched > 1}, nil
		}
	}
	return Resolution{}, ErrNoApplicableRate
}
