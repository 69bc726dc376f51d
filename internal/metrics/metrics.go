// Package metrics exposes the auction state to Prometheus. Gauges are
// refreshed from a fresh sample of the service on every scrape.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/research-ag/icrc1-auction/internal/auction"
	. "github.com/research-ag/icrc1-auction/internal/common"
)

// Source is sampled once per scrape.
type Source interface {
	Stats() auction.Stats
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	source Source

	mu sync.Mutex

	bidsCount  *prometheus.GaugeVec
	bidsVolume *prometheus.GaugeVec
	asksCount  *prometheus.GaugeVec
	asksVolume *prometheus.GaugeVec

	accounts         prometheus.Gauge
	users            prometheus.Gauge
	usersWithCredits prometheus.Gauge
	sessions         prometheus.Gauge
}

var bookLabels = []string{"asset_id", "order_book"}

func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		bidsCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bids_count",
			Help: "Number of resting bids",
		}, bookLabels),
		bidsVolume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bids_volume",
			Help: "Total volume of resting bids",
		}, bookLabels),
		asksCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asks_count",
			Help: "Number of resting asks",
		}, bookLabels),
		asksVolume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asks_volume",
			Help: "Total volume of resting asks",
		}, bookLabels),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "accounts_count",
			Help: "Number of non-empty credit accounts",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "users_count",
			Help: "Number of users ever credited",
		}),
		usersWithCredits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "users_with_credits_count",
			Help: "Number of users holding credit",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_counter",
			Help: "Number of the next session",
		}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.bidsCount, c.bidsVolume, c.asksCount, c.asksVolume,
		c.accounts, c.users, c.usersWithCredits, c.sessions,
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.update(c.source.Stats())
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

func (c *Collector) update(st auction.Stats) {
	// Books of assets that disappeared must not linger.
	for _, v := range []*prometheus.GaugeVec{c.bidsCount, c.bidsVolume, c.asksCount, c.asksVolume} {
		v.Reset()
	}
	for _, b := range st.Books {
		labels := prometheus.Labels{"asset_id": assetLabel(b.Asset), "order_book": b.Kind.String()}
		c.bidsCount.With(labels).Set(float64(b.BidCount))
		c.bidsVolume.With(labels).Set(float64(b.BidVolume))
		c.asksCount.With(labels).Set(float64(b.AskCount))
		c.asksVolume.With(labels).Set(float64(b.AskVolume))
	}
	c.accounts.Set(float64(st.Credit.Accounts))
	c.users.Set(float64(st.Credit.Users))
	c.usersWithCredits.Set(float64(st.Credit.UsersWithCredits))
	c.sessions.Set(float64(st.Sessions))
}

func assetLabel(a Asset) string {
	if a.Ledger != "" {
		return a.Ledger
	}
	return strconv.FormatUint(uint64(a.ID), 10)
}
