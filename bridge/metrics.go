package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts authentication outcomes. A nil *Metrics records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	ambiguous prometheus.Counter
	synced    prometheus.Counter
}

// NewMetrics creates the bridge collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldap_bridge",
			Name:      "authentications_total",
			Help:      "Authentication attempts by source and directory failure cause.",
		}, []string{"source", "cause"}),
		ambiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldap_bridge",
			Name:      "ambiguous_matches_total",
			Help:      "Directory lookups that matched more than one entry.",
		}),
		synced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldap_bridge",
			Name:      "synced_identities_total",
			Help:      "Local identities refreshed from the directory by the sync job.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.attempts, m.ambiguous, m.synced)
	}

	return m
}

func (m *Metrics) observe(outcome Outcome) {
	if m == nil {
		return
	}

	source := string(outcome.Source)
	if !outcome.Authenticated() {
		source = "denied"
	}

	m.attempts.WithLabelValues(source, outcome.Cause.String()).Inc()
}

func (m *Metrics) ambiguousMatch() {
	if m == nil {
		return
	}

	m.ambiguous.Inc()
}

func (m *Metrics) syncedIdentities(n int) {
	if m == nil {
		return
	}

	m.synced.Add(float64(n))
}
