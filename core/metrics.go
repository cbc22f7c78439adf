package core

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the ambient Prometheus instrumentation every Client carries,
// grounded on the teacher's core/system_health_logging.go use of
// prometheus.NewCounter/NewGauge against a dedicated registry rather than
// the global default one (avoids cross-test registration panics when many
// Clients are constructed in the same process).
type metrics struct {
	registry       *prometheus.Registry
	blocksImported prometheus.Counter
	commits        prometheus.Counter
	importFailures prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		blocksImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincore_blocks_imported_total",
			Help: "Total number of blocks successfully imported.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincore_commits_total",
			Help: "Total number of backend commits, including genesis.",
		}),
		importFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaincore_import_failures_total",
			Help: "Total number of import_block calls that aborted with an error.",
		}),
	}
	reg.MustRegister(m.blocksImported, m.commits, m.importFailures)
	return m
}

// Registry exposes the Client's private Prometheus registry so a host
// process can mount it behind promhttp.HandlerFor.
func (c *Client) Registry() *prometheus.Registry { return c.metrics.registry }
