// Package metrics exposes ledger and portfolio activity as Prometheus
// series:
//
//	riskbook_positions_opened_total{session,side}
//	riskbook_exits_total{session,reason,side}   full and partial exits
//	riskbook_realized_pnl_usd_total{session}    signed, so a gauge
//	riskbook_rejections_total{session,check}    admission checks that failed
//	riskbook_capital_available_usd{session}
//	riskbook_portfolio_heat{session}            fraction of total capital at risk
//	riskbook_exposure_pct{session}
//	riskbook_open_positions{session}
//	riskbook_margin_usage_pct{session}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/ledger"
	"github.com/rustyeddy/riskbook/risk"
)

// Recorder implements ledger.Observer and portfolio.Metrics.
type Recorder struct {
	opened     *prometheus.CounterVec
	exits      *prometheus.CounterVec
	realized   *prometheus.GaugeVec
	rejections *prometheus.CounterVec

	capital  *prometheus.GaugeVec
	heat     *prometheus.GaugeVec
	exposure *prometheus.GaugeVec
	open     *prometheus.GaugeVec
	margin   *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbook_positions_opened_total",
			Help: "Positions opened",
		}, []string{"session", "side"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbook_exits_total",
			Help: "Full and partial exits split by reason and side",
		}, []string{"session", "reason", "side"}),
		realized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskbook_realized_pnl_usd_total",
			Help: "Cumulative realized P&L in USD",
		}, []string{"session"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskbook_rejections_total",
			Help: "Opens refused by an admission check",
		}, []string{"session", "check"}),
		capital: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskbook_capital_available_usd",
			Help: "Available capital in USD",
		}, []string{"session"}),
		heat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskbook_portfolio_heat",
			Help: "Risk at stake over total capital",
		}, []string{"session"}),
		exposure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskbook_exposure_pct",
			Help: "Position value as a percent of total capital",
		}, []string{"session"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskbook_open_positions",
			Help: "Live positions",
		}, []string{"session"}),
		margin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskbook_margin_usage_pct",
			Help: "Margin in use as a percent of available capital",
		}, []string{"session"}),
	}
	reg.MustRegister(r.opened, r.exits, r.realized, r.rejections)
	reg.MustRegister(r.capital, r.heat, r.exposure, r.open, r.margin)
	return r
}

func (r *Recorder) OnTransition(e ledger.Event) {
	r.capital.WithLabelValues(e.SessionID).Set(e.Capital)
	switch e.Action {
	case journal.ActionOpen:
		r.opened.WithLabelValues(e.SessionID, string(e.Position.Side)).Inc()
	case journal.ActionReduce, journal.ActionClose:
		if e.Closed == nil {
			return
		}
		r.exits.WithLabelValues(e.SessionID, string(e.Closed.Reason), string(e.Closed.Side)).Inc()
		r.realized.WithLabelValues(e.SessionID).Add(e.Closed.RealizedPnL)
	}
}

func (r *Recorder) Rejected(sessionID, check string) {
	r.rejections.WithLabelValues(sessionID, check).Inc()
}

func (r *Recorder) Snapshot(s journal.Snapshot) {
	r.capital.WithLabelValues(s.SessionID).Set(s.AvailableCapital)
	r.heat.WithLabelValues(s.SessionID).Set(s.PortfolioHeat)
	r.exposure.WithLabelValues(s.SessionID).Set(s.ExposurePct)
	r.open.WithLabelValues(s.SessionID).Set(float64(s.OpenPositions))
}

func (r *Recorder) Margin(sessionID string, m risk.MarginStatus) {
	r.margin.WithLabelValues(sessionID).Set(m.UsagePct)
}
