// Package metrics exposes Prometheus instrumentation for the trading
// engine. Collectors are registered once at package load via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts completed grid cycles per symbol.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_cycles_total",
		Help: "Completed grid trading cycles.",
	}, []string{"symbol"})

	// FillsTotal counts detected grid fills.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_fills_total",
		Help: "Detected grid order fills.",
	}, []string{"symbol", "side"})

	// RealizedPnL accumulates realized profit per symbol in quote currency.
	RealizedPnL = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_realized_pnl_total",
		Help: "Cumulative realized PnL in quote currency.",
	}, []string{"symbol"})

	// OrdersPlaced counts successfully submitted limit orders.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_orders_placed_total",
		Help: "Successfully submitted limit orders.",
	}, []string{"symbol", "side"})

	// OrdersRejected counts orders rejected by local filter validation.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_orders_rejected_total",
		Help: "Orders rejected locally before submission.",
	}, []string{"symbol"})

	// APIErrors counts exchange call failures by error kind.
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_api_errors_total",
		Help: "Exchange API errors by classified kind.",
	}, []string{"kind"})

	// ActiveWorkers tracks the number of running grid workers.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_active_workers",
		Help: "Currently running per-symbol grid workers.",
	})

	// ProtectiveOrders counts protective orders placed by the TPSL monitor.
	ProtectiveOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_protective_orders_total",
		Help: "Protective take-profit/stop-loss orders placed.",
	}, []string{"symbol", "type"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
