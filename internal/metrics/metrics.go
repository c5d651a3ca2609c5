// Package metrics registers the session collectors on the default prometheus
// registry, exposed by the kiosk's /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_checkins_total",
		Help: "Successful single-person check-ins.",
	})
	CheckOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_checkouts_total",
		Help: "Successful single-person check-outs.",
	})
	BulkCheckouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_bulk_checkouts_total",
		Help: "Completed bulk checkout calls.",
	})
	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_refresh_failures_total",
		Help: "Fetches that failed and left the previous snapshot in place.",
	})
	CheckedIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_checked_in",
		Help: "People currently checked in, per the latest server snapshot.",
	})
	RosterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_roster_size",
		Help: "Roster size in the latest snapshot.",
	})
)
