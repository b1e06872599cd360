package fetcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch progress.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtable_pages_fetched_total",
		Help: "Total pages fetched by table",
	}, []string{"table"})

	recordsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtable_records_fetched_total",
		Help: "Total records fetched by table",
	}, []string{"table"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "airtable_fetch_duration_seconds",
		Help:    "Duration of complete table fetches",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"table"})
)

// PageEvent is emitted after each page is decoded.
type PageEvent struct {
	Table   string
	Page    int
	Records int // records on this page
	Total   int // records so far
	HasMore bool
}

// CompleteEvent is emitted once after the last page.
type CompleteEvent struct {
	Table    string
	Pages    int
	Records  int
	Duration time.Duration
}

// Observer receives fetch progress. Calls happen on the fetching goroutine.
type Observer interface {
	OnPage(PageEvent)
	OnComplete(CompleteEvent)
}

// ObserverFunc adapts a function to an Observer that only sees pages.
type ObserverFunc func(PageEvent)

// OnPage calls fn(e).
func (fn ObserverFunc) OnPage(e PageEvent) { fn(e) }

// OnComplete does nothing.
func (fn ObserverFunc) OnComplete(CompleteEvent) {}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) OnPage(PageEvent)         {}
func (NopObserver) OnComplete(CompleteEvent) {}

// MultiObserver fans events out in order.
type MultiObserver []Observer

func (m MultiObserver) OnPage(e PageEvent) {
	for _, o := range m {
		o.OnPage(e)
	}
}

func (m MultiObserver) OnComplete(e CompleteEvent) {
	for _, o := range m {
		o.OnComplete(e)
	}
}

// LogObserver writes progress lines with zerolog.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates a LogObserver tagged with the fetcher component.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "airtable-fetcher").Logger()}
}

// OnPage logs each retrieved batch at debug level.
func (o *LogObserver) OnPage(e PageEvent) {
	o.logger.Debug().
		Str("table", e.Table).
		Int("batch", e.Page).
		Int("records", e.Records).
		Int("total", e.Total).
		Bool("has_more", e.HasMore).
		Msg("Retrieved batch")
}

// OnComplete logs the final count.
func (o *LogObserver) OnComplete(e CompleteEvent) {
	o.logger.Info().
		Str("table", e.Table).
		Int("batches", e.Pages).
		Int("records", e.Records).
		Dur("duration", e.Duration).
		Msg("Retrieved records")
}

// MetricsObserver feeds the fetch counters.
type MetricsObserver struct{}

func (MetricsObserver) OnPage(e PageEvent) {
	pagesFetchedTotal.WithLabelValues(e.Table).Inc()
	recordsFetchedTotal.WithLabelValues(e.Table).Add(float64(e.Records))
}

func (MetricsObserver) OnComplete(e CompleteEvent) {
	fetchDuration.WithLabelValues(e.Table).Observe(e.Duration.Seconds())
}
