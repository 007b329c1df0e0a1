package interfaces

// PolicySPI is the single inbound hook every policy or sub-policy
// implements (component H). It is called synchronously during
// enter_encumbrance; returning an error vetoes the enrollment and unwinds
// the lease that triggered it.
type PolicySPI interface {
	NotifyEnrollment(manager Principal, account WalletAddress, assets []AssetTag, expiration uint64, data []byte) error
}

// PolicyRegistry resolves a principal to the PolicySPI it implements. The
// kernel holds one of these instead of a vtable/inheritance hierarchy
// (spec §9, "Dynamic dispatch to policies").
type PolicyRegistry interface {
	Resolve(principal Principal) (PolicySPI, bool)
	Register(principal Principal, policy PolicySPI)
}
