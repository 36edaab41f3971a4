// Package metrics counts what a run did and can export the counts in the
// Prometheus text format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the run counters. It implements media.Recorder.
type Collector struct {
	registry *prometheus.Registry

	postsFetched    prometheus.Counter
	postsFiltered   prometheus.Counter
	threadFallbacks prometheus.Counter
	summaries       *prometheus.CounterVec
	linkPreviews    prometheus.Counter
	pageFetches     *prometheus.CounterVec
	imageDownloads  *prometheus.CounterVec
	runDuration     prometheus.Gauge
}

// New creates a Collector backed by its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		postsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetextract_posts_fetched_total",
			Help: "Bookmarked posts returned by the X client.",
		}),
		postsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetextract_posts_filtered_total",
			Help: "Posts dropped by the recency filter.",
		}),
		threadFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetextract_thread_fallbacks_total",
			Help: "Thread lookups that failed or came back empty.",
		}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetextract_summaries_total",
			Help: "Summarizer calls by outcome.",
		}, []string{"outcome"}),
		linkPreviews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetextract_link_previews_total",
			Help: "Link previews attached to items.",
		}),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetextract_page_fetches_total",
			Help: "Post page scrapes by outcome.",
		}, []string{"outcome"}),
		imageDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetextract_image_downloads_total",
			Help: "Image downloads by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tweetextract_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
	}

	c.registry.MustRegister(
		c.postsFetched,
		c.postsFiltered,
		c.threadFallbacks,
		c.summaries,
		c.linkPreviews,
		c.pageFetches,
		c.imageDownloads,
		c.runDuration,
	)
	return c
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// RecordPostsFetched records how many posts the client returned.
func (c *Collector) RecordPostsFetched(n int) { c.postsFetched.Add(float64(n)) }

// RecordPostsFiltered records how many posts the recency filter dropped.
func (c *Collector) RecordPostsFiltered(n int) { c.postsFiltered.Add(float64(n)) }

// RecordThreadFallback records a thread lookup that fell back to the post alone.
func (c *Collector) RecordThreadFallback() { c.threadFallbacks.Inc() }

// RecordSummary records one summarizer call.
func (c *Collector) RecordSummary(ok bool) { c.summaries.WithLabelValues(outcome(ok)).Inc() }

// RecordLinkPreviews records previews attached to an item.
func (c *Collector) RecordLinkPreviews(n int) { c.linkPreviews.Add(float64(n)) }

// RecordPageFetch implements media.Recorder.
func (c *Collector) RecordPageFetch(ok bool) { c.pageFetches.WithLabelValues(outcome(ok)).Inc() }

// RecordImageDownload implements media.Recorder.
func (c *Collector) RecordImageDownload(ok bool) {
	c.imageDownloads.WithLabelValues(outcome(ok)).Inc()
}

// RecordRunDuration records the run's wall time.
func (c *Collector) RecordRunDuration(seconds float64) { c.runDuration.Set(seconds) }

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// WriteTextfile writes all metrics to path in the node_exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
