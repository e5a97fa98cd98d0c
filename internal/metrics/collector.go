package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the collector access to live pipeline state.
type PipelineStats interface {
	QueueDepth() int
	WriterDepth() int
	TotalWritten() int64
	KnownNodes() map[string]int
	PendingDepth() map[string]int
}

// Collector implements prometheus.Collector to read live gauges at scrape
// time rather than maintaining them on the hot path.
type Collector struct {
	stats PipelineStats

	queueDepth   *prometheus.Desc
	writerDepth  *prometheus.Desc
	totalWritten *prometheus.Desc
	knownNodes   *prometheus.Desc
	pendingDepth *prometheus.Desc
}

func NewCollector(stats PipelineStats) *Collector {
	return &Collector{
		stats: stats,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_queue_depth"),
			"Decoded events waiting for the correlation engine.",
			nil, nil,
		),
		writerDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "writer_buffer_depth"),
			"Rows buffered ahead of the analytical store.",
			nil, nil,
		),
		totalWritten: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "rows_written_total"),
			"Rows successfully written to the analytical store.",
			nil, nil,
		),
		knownNodes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "known_nodes"),
			"Nodes with a valid position per source.",
			[]string{"source"}, nil,
		),
		pendingDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pending_readings"),
			"Readings awaiting a position fix per source.",
			[]string{"source"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.writerDepth
	ch <- c.totalWritten
	ch <- c.knownNodes
	ch <- c.pendingDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.stats.QueueDepth()))
	ch <- prometheus.MustNewConstMetric(c.writerDepth, prometheus.GaugeValue, float64(c.stats.WriterDepth()))
	ch <- prometheus.MustNewConstMetric(c.totalWritten, prometheus.CounterValue, float64(c.stats.TotalWritten()))
	for source, n := range c.stats.KnownNodes() {
		ch <- prometheus.MustNewConstMetric(c.knownNodes, prometheus.GaugeValue, float64(n), source)
	}
	for source, n := range c.stats.PendingDepth() {
		ch <- prometheus.MustNewConstMetric(c.pendingDepth, prometheus.GaugeValue, float64(n), source)
	}
}
