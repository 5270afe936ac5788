package node

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeAdopted = "adopted"
	outcomeKept    = "kept"
	outcomeEmpty   = "empty"
	outcomeFailed  = "failed"
)

// Metrics counts node activity. A nil *Metrics records nothing.
type Metrics struct {
	reconciles     *prometheus.CounterVec
	changesApplied prometheus.Counter
	changesMissed  prometheus.Counter
	rootChanges    prometheus.Counter
}

// NewMetrics registers the node collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hashsync",
			Name:      "reconcile_rounds_total",
			Help:      "Reconciliation rounds by outcome.",
		}, []string{"outcome"}),
		changesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashsync",
			Name:      "changes_applied_total",
			Help:      "Peer hash changes that matched a stored hash.",
		}),
		changesMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashsync",
			Name:      "changes_missed_total",
			Help:      "Peer hash changes whose old hash was not stored.",
		}),
		rootChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hashsync",
			Name:      "root_changes_total",
			Help:      "Times the published root hash was recomputed after a mutation.",
		}),
	}
	reg.MustRegister(m.reconciles, m.changesApplied, m.changesMissed, m.rootChanges)
	return m
}

func (m *Metrics) observeReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeChanges(applied, missed int) {
	if m == nil {
		return
	}
	m.changesApplied.Add(float64(applied))
	m.changesMissed.Add(float64(missed))
}

func (m *Metrics) observeRootChange() {
	if m == nil {
		return
	}
	m.rootChanges.Inc()
}
