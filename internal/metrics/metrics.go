// Package metrics exposes Prometheus instrumentation for the trading core:
//   - trader_opens_total                    – positions opened
//   - trader_closes_total{trigger}          – positions closed, by exit trigger
//   - trader_rejections_total{reason}       – sizing rejections
//   - trader_execution_retries_total{op}    – order execution retries
//   - trader_equity                         – equity snapshot (gauge)
//   - trader_budget_remaining               – tradable budget (gauge)
//   - trader_open_positions                 – currently open positions (gauge)
//
// Registered in init() and served at /metrics by cmd/main.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	opensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trader_opens_total",
		Help: "Positions opened",
	})

	closesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_closes_total",
		Help: "Positions closed, split by exit trigger",
	}, []string{"trigger"})

	rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_rejections_total",
		Help: "Sizing rejections by reason class",
	}, []string{"reason"})

	executionRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_execution_retries_total",
		Help: "Order execution attempts beyond the first",
	}, []string{"op"})

	equityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_equity",
		Help: "Equity in session currency",
	})

	budgetGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_budget_remaining",
		Help: "Remaining tradable budget",
	})

	openPositionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Currently open positions",
	})
)

func init() {
	prometheus.MustRegister(
		opensTotal,
		closesTotal,
		rejectionsTotal,
		executionRetries,
		equityGauge,
		budgetGauge,
		openPositionsGauge,
	)
}

func IncOpen()                    { opensTotal.Inc() }
func IncClose(trigger string)     { closesTotal.WithLabelValues(trigger).Inc() }
func IncRejection(reason string)  { rejectionsTotal.WithLabelValues(reason).Inc() }
func IncExecutionRetry(op string) { executionRetries.WithLabelValues(op).Inc() }

func SetEquity(v float64)          { equityGauge.Set(v) }
func SetBudgetRemaining(v float64) { budgetGauge.Set(v) }
func SetOpenPositions(n int)       { openPositionsGauge.Set(float64(n)) }

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler { return promhttp.Handler() }
