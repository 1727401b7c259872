// Package telemetry exposes Prometheus metrics for the grid bot and a small
// HTTP server serving /metrics and /health.
//
// Metric naming follows grid_<subject>_<unit>{labels}:
//   - grid_orders_placed_total{symbol,side}      — orders placed
//   - grid_orders_cancelled_total{symbol,reason} — orders cancelled, by diff reason
//   - grid_fills_total{symbol,direction}         — executions processed
//   - grid_equity_usd{strat_id}                  — current equity snapshot (gauge)
//   - grid_position_size{strat_id,direction}     — current position size (gauge)
//   - grid_kill_switch_active                    — 1 while the run-wide kill switch is engaged
//   - grid_ws_reconnects_total{feed}             — websocket reconnect count
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_placed_total",
			Help: "Orders placed, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	ordersCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_cancelled_total",
			Help: "Orders cancelled, by symbol and diff reason.",
		},
		[]string{"symbol", "reason"},
	)

	fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_fills_total",
			Help: "Executions processed, by symbol and direction.",
		},
		[]string{"symbol", "direction"},
	)

	equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_equity_usd",
			Help: "Current equity snapshot per strategy.",
		},
		[]string{"strat_id"},
	)

	positionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_position_size",
			Help: "Current position size per strategy and direction.",
		},
		[]string{"strat_id", "direction"},
	)

	killSwitchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_kill_switch_active",
			Help: "1 while the run-wide kill switch is engaged, 0 otherwise.",
		},
	)

	wsReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_ws_reconnects_total",
			Help: "Websocket reconnect count, by feed.",
		},
		[]string{"feed"},
	)
)

func init() {
	prometheus.MustRegister(
		ordersPlaced,
		ordersCancelled,
		fills,
		equity,
		positionSize,
		killSwitchActive,
		wsReconnects,
	)
}

// IncOrdersPlaced records a placed order.
func IncOrdersPlaced(symbol, side string) { ordersPlaced.WithLabelValues(symbol, side).Inc() }

// IncOrdersCancelled records a cancelled order with its diff reason.
func IncOrdersCancelled(symbol, reason string) { ordersCancelled.WithLabelValues(symbol, reason).Inc() }

// IncFills records a processed execution.
func IncFills(symbol, direction string) { fills.WithLabelValues(symbol, direction).Inc() }

// SetEquity reports the latest equity snapshot for a strategy.
func SetEquity(stratID string, value float64) { equity.WithLabelValues(stratID).Set(value) }

// SetPositionSize reports the latest position size for a strategy/direction.
func SetPositionSize(stratID, direction string, value float64) {
	positionSize.WithLabelValues(stratID, direction).Set(value)
}

// SetKillSwitchActive reports the run-wide kill switch state.
func SetKillSwitchActive(active bool) {
	if active {
		killSwitchActive.Set(1)
		return
	}
	killSwitchActive.Set(0)
}

// IncWSReconnects records a websocket reconnect for a feed ("public"/"private").
func IncWSReconnects(feed string) { wsReconnects.WithLabelValues(feed).Inc() }

// Server serves /metrics (Prometheus exposition) and /health (liveness).
type Server struct {
	httpServer *http.Server
}

// NewServer creates a metrics/health server bound to the given port.
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Run starts serving until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
