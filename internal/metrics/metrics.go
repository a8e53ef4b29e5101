// Package metrics records per-cycle Prometheus metrics.
//
// The runner is a short-lived process, so nothing is served over HTTP:
// the registry is written once per cycle to a node_exporter textfile.
//
//	portfolio_orders_total{side,reason}   orders suggested this cycle
//	portfolio_warnings_total              eligibility warnings
//	portfolio_fetch_failures_total        snapshots that failed or timed out
//	portfolio_capital_usd                 capital used for sizing
//	portfolio_mtm_usd                     mark-to-market of held shares
//	portfolio_cash_usd                    estimated cash (capital - MTM)
//	portfolio_position_shares{ticker}     shares held after the cycle
//	portfolio_last_run_timestamp_seconds  completion time of the cycle
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"microcap_portfolio/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle holds one cycle's metrics on a private registry.
type Cycle struct {
	reg *prometheus.Registry

	orders        *prometheus.CounterVec
	warnings      prometheus.Counter
	fetchFailures prometheus.Counter
	capital       prometheus.Gauge
	mtm           prometheus.Gauge
	cash          prometheus.Gauge
	shares        *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

// New builds and registers the cycle metrics.
func New() *Cycle {
	m := &Cycle{
		reg: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_orders_total",
				Help: "Order suggestions emitted",
			},
			[]string{"side", "reason"},
		),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_warnings_total",
			Help: "Eligibility warnings emitted",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_fetch_failures_total",
			Help: "Market snapshots that failed or timed out",
		}),
		capital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_capital_usd",
			Help: "Capital used for sizing",
		}),
		mtm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_mtm_usd",
			Help: "Mark-to-market value of held shares",
		}),
		cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_cash_usd",
			Help: "Estimated cash: capital minus mark-to-market",
		}),
		shares: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portfolio_position_shares",
				Help: "Shares held per ticker after the cycle",
			},
			[]string{"ticker"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_last_run_timestamp_seconds",
			Help: "Unix time the last cycle completed",
		}),
	}
	m.reg.MustRegister(m.orders, m.warnings, m.fetchFailures, m.capital, m.mtm, m.cash, m.shares, m.lastRun)
	return m
}

// ObserveOrder counts one suggestion under its side and reason kind.
func (m *Cycle) ObserveOrder(o models.OrderSuggestion) {
	m.orders.WithLabelValues(string(o.Side), ReasonKind(o.Reason)).Inc()
}

func (m *Cycle) ObserveWarnings(n int) { m.warnings.Add(float64(n)) }

func (m *Cycle) ObserveFetchFailure() { m.fetchFailures.Inc() }

// SetShares records the shares held in ticker after the cycle.
func (m *Cycle) SetShares(ticker string, n int64) {
	m.shares.WithLabelValues(ticker).Set(float64(n))
}

// SetTotals records the portfolio line printed at the end of the cycle.
func (m *Cycle) SetTotals(capital, mtm, cash float64) {
	m.capital.Set(capital)
	m.mtm.Set(mtm)
	m.cash.Set(cash)
}

// WriteTextfile writes the registry in text exposition format. An empty
// path disables the export.
func (m *Cycle) WriteTextfile(path string, now time.Time) error {
	if path == "" {
		return nil
	}
	m.lastRun.Set(float64(now.Unix()))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("metrics dir: %w", err)
	}
	// WriteToTextfile renames a temp file into place, so collectors never see a partial file
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ReasonKind collapses an order reason to a low-cardinality label.
func ReasonKind(reason string) string {
	switch {
	case strings.HasPrefix(reason, "Initial tranche"), strings.HasPrefix(reason, "Tranche on dip"):
		return "tranche"
	case strings.HasPrefix(reason, "Hard stop"):
		return "hard_stop"
	case strings.HasPrefix(reason, "Trailing stop"):
		return "trailing_stop"
	case strings.HasPrefix(reason, "Pre-event"):
		return "pre_event_trim"
	case strings.HasPrefix(reason, "Take-profit"):
		return "take_profit"
	default:
		return "other"
	}
}
