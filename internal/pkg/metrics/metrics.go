package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the album service
type Metrics struct {
	PhotosUploaded   prometheus.Counter
	DerivedPhotos    prometheus.Counter
	FanOutSkipped    prometheus.Counter
	BlobDeleteFailed prometheus.Counter
	UpstreamFailures *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	AlbumsCreated    *prometheus.CounterVec
}

// New creates and registers all metrics on the given registerer.
// Pass nil to use the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		PhotosUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "album_photos_uploaded_total",
			Help: "Original photos persisted into albums",
		}),
		DerivedPhotos: f.NewCounter(prometheus.CounterOpts{
			Name: "album_derived_photos_total",
			Help: "Derived photo copies created in person albums by face matching",
		}),
		FanOutSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "album_fanout_skipped_total",
			Help: "Matches skipped because the member has no person album",
		}),
		BlobDeleteFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "album_blob_delete_failures_total",
			Help: "Best-effort blob deletions that failed",
		}),
		UpstreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "album_upstream_failures_total",
			Help: "Failed collaborator calls by collaborator",
		}, []string{"collaborator"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "album_add_photos_duration_seconds",
			Help:    "End-to-end duration of photo batch ingestion",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		AlbumsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "album_albums_created_total",
			Help: "Albums created by type",
		}, []string{"album_type"}),
	}
}

// ObserveBatch records the duration of one addPhotos batch.
func (m *Metrics) ObserveBatch(start time.Time) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(time.Since(start).Seconds())
}

// UpstreamFailed increments the failure counter for a collaborator.
func (m *Metrics) UpstreamFailed(collaborator string) {
	if m == nil {
		return
	}
	m.UpstreamFailures.WithLabelValues(collaborator).Inc()
}

// PhotosAdded records originals and derived copies of a committed batch.
func (m *Metrics) PhotosAdded(originals, derived, skipped int) {
	if m == nil {
		return
	}
	m.PhotosUploaded.Add(float64(originals))
	m.DerivedPhotos.Add(float64(derived))
	m.FanOutSkipped.Add(float64(skipped))
}

// AlbumCreated increments the created counter for an album type.
func (m *Metrics) AlbumCreated(albumType string) {
	if m == nil {
		return
	}
	m.AlbumsCreated.WithLabelValues(albumType).Inc()
}

// BlobDeleteFailure increments the failed blob deletion counter.
func (m *Metrics) BlobDeleteFailure() {
	if m == nil {
		return
	}
	m.BlobDeleteFailed.Inc()
}
