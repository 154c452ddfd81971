// Package metrics exposes Prometheus collectors for the ledger, raids and HTTP
// traffic, and implements the service observer interfaces on top of them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

const namespace = "sect"

// Registry holds every collector of the service on its own Prometheus registry
type Registry struct {
	registry *prometheus.Registry

	ContributionsTotal *prometheus.CounterVec
	EnergyCredited     *prometheus.CounterVec
	LevelUps           *prometheus.CounterVec
	LedgerConflicts    prometheus.Counter

	RaidAttacks    *prometheus.CounterVec
	RaidDamage     *prometheus.HistogramVec
	BossesDefeated prometheus.Counter

	DailyStatsPruned prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewRegistry creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		ContributionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contributions_total",
				Help:      "Contribution evaluations by type and result reason",
			},
			[]string{"type", "reason"},
		),

		EnergyCredited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "energy_credited_total",
				Help:      "Spirit energy credited to sects by contribution type",
			},
			[]string{"type"},
		),

		LevelUps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "level_ups_total",
				Help:      "Sect level-ups by level reached",
			},
			[]string{"level"},
		),

		LedgerConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_conflicts_total",
				Help:      "Ledger commits aborted by a concurrent writer",
			},
		),

		RaidAttacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raid_attacks_total",
				Help:      "Raid attacks by attack type and whether they crit",
			},
			[]string{"attack_type", "crit"},
		),

		RaidDamage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "raid_damage",
				Help:      "Damage dealt per raid attack",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"attack_type"},
		),

		BossesDefeated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raid_bosses_defeated_total",
				Help:      "Raid bosses brought to zero health",
			},
		),

		DailyStatsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "daily_stats_pruned_total",
				Help:      "Expired daily stat records removed by the pruner",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route pattern and status",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route pattern",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ContributionsTotal,
		r.EnergyCredited,
		r.LevelUps,
		r.LedgerConflicts,
		r.RaidAttacks,
		r.RaidDamage,
		r.BossesDefeated,
		r.DailyStatsPruned,
		r.HTTPRequests,
		r.HTTPDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and custom exporters
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ContributionEvaluated implements service.LedgerObserver
func (r *Registry) ContributionEvaluated(contributionType model.ContributionType, reason string, delta int64) {
	r.ContributionsTotal.WithLabelValues(string(contributionType), reason).Inc()
	if delta > 0 {
		r.EnergyCredited.WithLabelValues(string(contributionType)).Add(float64(delta))
	}
}

// SectLeveledUp implements service.LedgerObserver
func (r *Registry) SectLeveledUp(level int) {
	r.LevelUps.WithLabelValues(strconv.Itoa(level)).Inc()
}

// LedgerConflict implements service.LedgerObserver
func (r *Registry) LedgerConflict() {
	r.LedgerConflicts.Inc()
}

// AttackResolved implements service.RaidObserver
func (r *Registry) AttackResolved(attackType model.AttackType, damage int64, crit bool) {
	r.RaidAttacks.WithLabelValues(string(attackType), strconv.FormatBool(crit)).Inc()
	r.RaidDamage.WithLabelValues(string(attackType)).Observe(float64(damage))
}

// BossDefeated implements service.RaidObserver
func (r *Registry) BossDefeated() {
	r.BossesDefeated.Inc()
}

// DailyStatsPrunedAdd counts daily stat rows removed by the pruning job
func (r *Registry) DailyStatsPrunedAdd(n int) {
	r.DailyStatsPruned.Add(float64(n))
}

// ObserveRequest records one served HTTP request
func (r *Registry) ObserveRequest(method, route string, status int, duration time.Duration) {
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

var (
	_ service.LedgerObserver = (*Registry)(nil)
	_ service.RaidObserver   = (*Registry)(nil)
)
