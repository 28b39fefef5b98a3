// Package metrics prometheus-метрики движков и супервизора.
// Регистрируются в init и отдаются api-модулем на /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_orders_placed_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"exchange", "purpose"},
	)

	OrderRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_order_rejects_total",
			Help: "Orders rejected by the exchange",
		},
		[]string{"exchange", "purpose"},
	)

	CycleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_cycle_errors_total",
			Help: "Engine cycles that ended with a transient error",
		},
		[]string{"exchange"},
	)

	GuardTrips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbot_guard_trips_total",
			Help: "Safety stops caused by unexplained orders",
		},
	)

	// результат сделки: win|loss
	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_trades_closed_total",
			Help: "Closed grid cycles",
		},
		[]string{"result"},
	)

	TradePnl = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridbot_trade_pnl_usd",
			Help:    "Realized PnL per closed cycle",
			Buckets: []float64{-100, -25, -5, -1, 0, 1, 5, 25, 100},
		},
	)

	RunningEngines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_running_engines",
			Help: "Engines currently supervised",
		},
	)

	SupervisorActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_supervisor_actions_total",
			Help: "Operator actions by result",
		},
		[]string{"action", "result"},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrderRejects, CycleErrors, GuardTrips)
	prometheus.MustRegister(TradesClosed, TradePnl)
	prometheus.MustRegister(RunningEngines, SupervisorActions)
}
