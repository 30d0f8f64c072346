// Package metrics exposes table activity counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	seatChanges     *prometheus.CounterVec
	seatConflicts   prometheus.Counter
	roundsStarted   prometheus.Counter
	duplicateRounds prometheus.Counter
	roundsCompleted prometheus.Counter
	statUpdates     prometheus.Counter
	bonusWrites     *prometheus.CounterVec
	viewReloads     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		seatChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "seat_changes_total",
			Help:      "Seat mutations by kind.",
		}, []string{"kind"}),
		seatConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "seat_conflicts_total",
			Help:      "Joins or moves that lost the race for a position.",
		}),
		roundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "rounds_started_total",
			Help:      "Rounds opened.",
		}),
		duplicateRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "rounds_duplicate_total",
			Help:      "Round starts rejected because another caller opened the same number.",
		}),
		roundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "rounds_completed_total",
			Help:      "Rounds whose every stat row was submitted.",
		}),
		statUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "stat_updates_total",
			Help:      "Round stat rows written.",
		}),
		bonusWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "bonus_writes_total",
			Help:      "Bonus override writes by outcome.",
		}, []string{"outcome"}),
		viewReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jantaku",
			Name:      "view_reloads_total",
			Help:      "Table view reloads by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.seatChanges, m.seatConflicts, m.roundsStarted, m.duplicateRounds,
			m.roundsCompleted, m.statUpdates, m.bonusWrites, m.viewReloads)
	}
	return m
}

func (m *Metrics) SeatChanged(kind string) {
	if m == nil {
		return
	}
	m.seatChanges.WithLabelValues(kind).Inc()
}

func (m *Metrics) SeatConflict() {
	if m == nil {
		return
	}
	m.seatConflicts.Inc()
}

func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.roundsStarted.Inc()
}

func (m *Metrics) DuplicateRound() {
	if m == nil {
		return
	}
	m.duplicateRounds.Inc()
}

func (m *Metrics) RoundCompleted() {
	if m == nil {
		return
	}
	m.roundsCompleted.Inc()
}

func (m *Metrics) StatUpdated() {
	if m == nil {
		return
	}
	m.statUpdates.Inc()
}

// BonusWritten records "ok" or "stale".
func (m *Metrics) BonusWritten(outcome string) {
	if m == nil {
		return
	}
	m.bonusWrites.WithLabelValues(outcome).Inc()
}

// ViewReloaded records "ok" or "error".
func (m *Metrics) ViewReloaded(outcome string) {
	if m == nil {
		return
	}
	m.viewReloads.WithLabelValues(outcome).Inc()
}
