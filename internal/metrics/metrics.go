// Package metrics provides Prometheus metrics for the pakfs virtual filesystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all pakfs metrics.
var Registry = prometheus.NewRegistry()

// Lookup results for LookupsTotal.
const (
	LookupHit        = "hit"
	LookupMiss       = "miss"
	LookupPureDenied = "pure_denied"
	LookupTraversal  = "traversal"
)

// FSMetrics holds all Prometheus metrics for one filesystem instance.
type FSMetrics struct {
	// Stream counters
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
	FilesLoaded  prometheus.Counter // whole-file reads

	// Resolution outcomes, labeled by result
	LookupsTotal *prometheus.CounterVec

	OpenHandles prometheus.Gauge

	// Search path state, refreshed on every startup
	ArchivesLoaded      prometheus.Gauge
	ArchiveFiles        prometheus.Gauge
	ArchiveLoadFailures prometheus.Counter
	RestartsTotal       prometheus.Counter

	PureRestricted prometheus.Gauge // 1 while an authority allow-list is active
}

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics registers filesystem metrics on the package Registry with the
// given game name as a constant label.
func InitMetrics(game string) *FSMetrics {
	return NewFSMetrics(Registry, game)
}

// NewFSMetrics registers filesystem metrics on reg.
func NewFSMetrics(reg prometheus.Registerer, game string) *FSMetrics {
	constLabels := prometheus.Labels{
		"game": game,
	}
	f := promauto.With(reg)

	return &FSMetrics{
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name:        "pakfs_bytes_read_total",
			Help:        "Total bytes read through file handles",
			ConstLabels: constLabels,
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name:        "pakfs_bytes_written_total",
			Help:        "Total bytes written through file handles",
			ConstLabels: constLabels,
		}),
		FilesLoaded: f.NewCounter(prometheus.CounterOpts{
			Name:        "pakfs_files_loaded_total",
			Help:        "Total files read whole into memory",
			ConstLabels: constLabels,
		}),
		LookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "pakfs_lookups_total",
			Help:        "Name resolutions by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
		OpenHandles: f.NewGauge(prometheus.GaugeOpts{
			Name:        "pakfs_open_handles",
			Help:        "Number of open file handles",
			ConstLabels: constLabels,
		}),
		ArchivesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name:        "pakfs_archives_loaded",
			Help:        "Number of archives on the search path",
			ConstLabels: constLabels,
		}),
		ArchiveFiles: f.NewGauge(prometheus.GaugeOpts{
			Name:        "pakfs_archive_files",
			Help:        "Number of entries across loaded archives",
			ConstLabels: constLabels,
		}),
		ArchiveLoadFailures: f.NewCounter(prometheus.CounterOpts{
			Name:        "pakfs_archive_load_failures_total",
			Help:        "Archives skipped because they could not be parsed",
			ConstLabels: constLabels,
		}),
		RestartsTotal: f.NewCounter(prometheus.CounterOpts{
			Name:        "pakfs_restarts_total",
			Help:        "Filesystem restarts",
			ConstLabels: constLabels,
		}),
		PureRestricted: f.NewGauge(prometheus.GaugeOpts{
			Name:        "pakfs_pure_restricted",
			Help:        "1 if an authority pure list is active",
			ConstLabels: constLabels,
		}),
	}
}

// Lookup records one resolution outcome.
func (m *FSMetrics) Lookup(result string) {
	m.LookupsTotal.WithLabelValues(result).Inc()
}

// Handler serves the package Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
