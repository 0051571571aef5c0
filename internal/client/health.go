package client

// HealthKind classifies the outcome of a server health probe.
type HealthKind string

const (
	HealthSuccess           HealthKind = "success"
	HealthNoInternet        HealthKind = "no_internet"
	HealthDNSFailure        HealthKind = "dns_failure"
	HealthConnectionRefused HealthKind = "connection_refused"
	HealthTimeout           HealthKind = "timeout"
	HealthError             HealthKind = "error"
)

// HealthStatus is the classified result of one probe. Message carries
// detail for the non-success kinds.
type HealthStatus struct {
	Kind    HealthKind
	Message string
}

// Reachable reports whether the probe proved the server answers.
func (h HealthStatus) Reachable() bool {
	return h.Kind == HealthSuccess
}
