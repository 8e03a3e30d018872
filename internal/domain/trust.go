package domain

// Identity names the principal a mutation is attributed to.
type Identity struct {
	Principal string
}

// TrustGate admits only mutations performed by the service's own
// principal. Out-of-band writes (admin tooling, manual SQL, backfills)
// pass a different identity and never generate activity.
type TrustGate struct {
	principal string
}

// NewTrustGate builds a gate for the configured service principal.
func NewTrustGate(servicePrincipal string) TrustGate {
	return TrustGate{principal: servicePrincipal}
}

// Admit reports whether the actor is the trusted service principal.
// Any ambiguity, including an unconfigured gate, rejects.
func (g TrustGate) Admit(actor Identity) bool {
	if g.principal == "" || actor.Principal == "" {
		return false
	}
	return actor.Principal == g.principal
}
