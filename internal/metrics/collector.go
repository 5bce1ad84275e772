// Package metrics exposes run statistics as Prometheus metrics. Values are
// read from stats.Running at scrape time.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielpatrickdp/activelearn/internal/stats"
)

const namespace = "activelearn"

// #region collector
// Collector implements prometheus.Collector over a stats.Running. The
// pipeline mutates the statistics without locks, so the pipeline and the
// scraper share Mutex; the driver holds it while processing an example.
type Collector struct {
	sync.Mutex
	stats *stats.Running

	examples          *prometheus.Desc
	weightedExamples  *prometheus.Desc
	weightedUnlabeled *prometheus.Desc
	queries           *prometheus.Desc
	inDis             *prometheus.Desc
	errorNotInDis     *prometheus.Desc
	sumLoss           *prometheus.Desc
	holdoutExamples   *prometheus.Desc
	outsideRange      *prometheus.Desc
	overlappedSmall   *prometheus.Desc
	examplesByQueries *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector. Register it with a prometheus.Registerer.
func NewCollector(st *stats.Running) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		stats:             st,
		examples:          desc("examples_total", "Finalized training examples."),
		weightedExamples:  desc("weighted_examples_total", "Total weight of finalized training examples."),
		weightedUnlabeled: desc("weighted_unlabeled_examples_total", "Total weight of examples finalized without a label."),
		queries:           desc("label_queries_total", "Labels or per-class costs queried."),
		inDis:             desc("in_disagreement_total", "Binary decisions made inside the disagreement region."),
		errorNotInDis:     desc("oracular_errors_total", "Oracular self-labels that disagreed with the true label."),
		sumLoss:           desc("loss_sum", "Cumulative progressive validation loss."),
		holdoutExamples:   desc("holdout_examples_total", "Finalized test-only examples."),
		outsideRange:      desc("labels_outside_range_total", "Observed costs outside their estimated range."),
		overlappedSmall:   desc("overlapped_small_range_total", "Overlapping classes whose cost range was already small."),
		examplesByQueries: desc("examples_by_queries", "Examples by number of class costs queried.", "queries"),
	}
}

// Describe sends every descriptor.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.examples, c.weightedExamples, c.weightedUnlabeled, c.queries, c.inDis,
		c.errorNotInDis, c.sumLoss, c.holdoutExamples, c.outsideRange,
		c.overlappedSmall, c.examplesByQueries,
	} {
		ch <- d
	}
}

// Collect snapshots the statistics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.Lock()
	defer c.Unlock()
	st := c.stats

	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	counter(c.examples, float64(st.ExampleNumber))
	counter(c.weightedExamples, st.WeightedExamples)
	counter(c.weightedUnlabeled, st.WeightedUnlabeledExamples)
	counter(c.queries, float64(st.Queries))
	counter(c.inDis, float64(st.NInDis))
	counter(c.errorNotInDis, float64(st.SumErrorNotInDis))
	counter(c.holdoutExamples, float64(st.HoldoutExamples))
	counter(c.outsideRange, float64(st.LabelsOutsideRange))
	counter(c.overlappedSmall, float64(st.OverlappedAndRangeSmall))
	ch <- prometheus.MustNewConstMetric(c.sumLoss, prometheus.GaugeValue, st.SumLoss)

	for i, n := range st.ExamplesByQueries {
		ch <- prometheus.MustNewConstMetric(c.examplesByQueries, prometheus.GaugeValue, float64(n), strconv.Itoa(i))
	}
}

// #endregion collector
