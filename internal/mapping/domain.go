// Package mapping aggregates ASN assignments with active prefix leases for
// downstream consumers.
package mapping

// UserMapping is the aggregated view of one user's assignments. Email is
// best-effort enrichment and nil whenever the provider cannot supply it.
type UserMapping struct {
	UserHash string
	RawID    string
	Email    *string
	ASN      int32
	Prefixes []string
}
