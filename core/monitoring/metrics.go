package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes lifecycle and pagination counters for Prometheus
type Collector struct {
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	snapshots       *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	pages           prometheus.Counter
	pagedJobs       prometheus.Counter
	pageConflicts   prometheus.Counter
	publishFailures *prometheus.CounterVec
	consumerExpiry  prometheus.Counter
}

// NewCollector creates the collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foqus_job_transitions_total",
			Help: "Job state transitions applied to the record store",
		}, []string{"state"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foqus_job_transition_rejections_total",
			Help: "Conditional job updates rejected by the record store",
		}, []string{"state"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foqus_finished_snapshots_total",
			Help: "Finished-job snapshots written to the object store",
		}, []string{"outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foqus_processing_anomalies_total",
			Help: "Notifications processed with a data anomaly",
		}, []string{"kind"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foqus_result_pages_total",
			Help: "Result pages written",
		}),
		pagedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foqus_paged_jobs_total",
			Help: "Jobs included in result pages",
		}),
		pageConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foqus_result_page_conflicts_total",
			Help: "Page writes lost to a concurrent request",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foqus_publish_failures_total",
			Help: "Failed publishes on best-effort topics",
		}, []string{"topic"}),
		consumerExpiry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foqus_consumer_expirations_total",
			Help: "Expired consumers that were still linked to a job",
		}),
	}

	reg.MustRegister(
		c.transitions,
		c.rejections,
		c.snapshots,
		c.anomalies,
		c.pages,
		c.pagedJobs,
		c.pageConflicts,
		c.publishFailures,
		c.consumerExpiry,
	)
	return c
}

// RecordTransition counts an applied job transition
func (c *Collector) RecordTransition(state string) {
	c.transitions.WithLabelValues(state).Inc()
}

// RecordRejection counts a rejected conditional update
func (c *Collector) RecordRejection(state string) {
	c.rejections.WithLabelValues(state).Inc()
}

// RecordSnapshot counts a written finished-job snapshot
func (c *Collector) RecordSnapshot(outcome string) {
	c.snapshots.WithLabelValues(outcome).Inc()
}

// RecordAnomaly counts a processing anomaly such as missing output
func (c *Collector) RecordAnomaly(kind string) {
	c.anomalies.WithLabelValues(kind).Inc()
}

// RecordPage counts a written page and the jobs it holds
func (c *Collector) RecordPage(jobs int) {
	c.pages.Inc()
	c.pagedJobs.Add(float64(jobs))
}

// RecordPageConflict counts a page number taken by another request
func (c *Collector) RecordPageConflict() {
	c.pageConflicts.Inc()
}

// RecordPublishFailure counts a failed best-effort publish
func (c *Collector) RecordPublishFailure(topic string) {
	c.publishFailures.WithLabelValues(topic).Inc()
}

// RecordConsumerExpiry counts an expired consumer linked to a job
func (c *Collector) RecordConsumerExpiry() {
	c.consumerExpiry.Inc()
}
