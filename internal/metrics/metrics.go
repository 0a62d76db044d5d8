package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "reservations_total",
		Help:      "Order reservation attempts by outcome.",
	}, []string{"outcome"})

	ReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "releases_total",
		Help:      "Order release operations.",
	})

	CommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "commits_total",
		Help:      "Order commit operations.",
	})

	ConflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "conflict_retries_total",
		Help:      "Ledger operations retried after transient storage conflicts.",
	})

	ExpiredReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "expired_reservations_total",
		Help:      "Reservations released by the expiry sweep.",
	})
)

// Reservation outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeShortfall = "shortfall"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)
