package metric

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/pksa-go/internal/core/domain"
)

// AccountLister is the part of the credential store the collector reads.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
}

// Collector reports account and session counts at scrape time.
type Collector struct {
	store AccountLister
	now   func() time.Time

	accounts *prometheus.Desc
	sessions *prometheus.Desc
	up       *prometheus.Desc
}

// NewCollector creates a collector over store.
func NewCollector(store AccountLister) *Collector {
	return &Collector{
		store: store,
		now:   time.Now,
		accounts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "accounts"),
			"Accounts held in the credential store.", nil, nil),
		sessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "active_sessions"),
			"Unexpired auth sessions per account.", []string{"account"}, nil),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "up"),
			"Whether the last read of the credential store succeeded.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accounts
	ch <- c.sessions
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.accounts, prometheus.GaugeValue, float64(len(accounts)))

	now := c.now()
	for _, acc := range accounts {
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue,
			float64(len(acc.ActiveSessions(now))), acc.Name)
	}
}
