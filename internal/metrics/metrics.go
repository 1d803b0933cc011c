// Package metrics wires the pool's Prometheus collectors, grounded on the
// teacher's internal/monitoring/prometheus.go (a registry-owning client
// exposing named counters/gauges, served over HTTP via promhttp), narrowed
// to the fixed set of pool-domain metrics this core emits rather than the
// teacher's fully dynamic name-keyed registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the pool emits.
type Metrics struct {
	Registry *prometheus.Registry

	SharesTotal      *prometheus.CounterVec // labels: pool_id, result (valid/invalid)
	BlocksFoundTotal *prometheus.CounterVec // labels: pool_id, acceptance (accepted/orphan/unknown)
	ActiveMiners     *prometheus.GaugeVec   // labels: pool_id, port
	PoolDifficulty   *prometheus.GaugeVec   // labels: pool_id
	BannedIPs        *prometheus.GaugeVec   // labels: pool_id
	JobsEmittedTotal *prometheus.CounterVec // labels: pool_id, clean
}

// New builds and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		SharesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratum_shares_total",
			Help: "Total processed shares by result.",
		}, []string{"pool_id", "result"}),
		BlocksFoundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratum_blocks_found_total",
			Help: "Total block candidates submitted by acceptance outcome.",
		}, []string{"pool_id", "acceptance"}),
		ActiveMiners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratum_active_miners",
			Help: "Currently connected miner sockets.",
		}, []string{"pool_id", "port"}),
		PoolDifficulty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratum_pool_difficulty",
			Help: "Current network difficulty as reported by the daemon.",
		}, []string{"pool_id"}),
		BannedIPs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratum_banned_ips",
			Help: "Currently banned remote IPs.",
		}, []string{"pool_id"}),
		JobsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratum_jobs_emitted_total",
			Help: "Total jobs emitted to miners, split by clean-job flag.",
		}, []string{"pool_id", "clean"}),
	}

	reg.MustRegister(
		m.SharesTotal,
		m.BlocksFoundTotal,
		m.ActiveMiners,
		m.PoolDifficulty,
		m.BannedIPs,
		m.JobsEmittedTotal,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
