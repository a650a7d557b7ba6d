// Package metrics exposes Prometheus instrumentation for the datastream
// engine. Registration uses the default registry; binaries serve it via
// promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BytesWritten counts payload bytes accepted by datastream writes.
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marfs_datastream_bytes_written_total",
		Help: "Payload bytes written through datastreams.",
	})

	// BytesRead counts payload bytes returned by datastream reads,
	// including zero-fill tail bytes.
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marfs_datastream_bytes_read_total",
		Help: "Payload bytes read through datastreams.",
	})

	// ObjectsOpened counts data objects opened, by access direction.
	ObjectsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marfs_datastream_objects_opened_total",
		Help: "Data objects opened by datastreams.",
	}, []string{"mode"})

	// ObjectsClosed counts data object closes, by outcome
	// (clean / degraded / failed).
	ObjectsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marfs_datastream_objects_closed_total",
		Help: "Data object closes, by outcome.",
	}, []string{"outcome"})

	// RebuildTags counts rebuild tags attached to reference files after
	// degraded object closes.
	RebuildTags = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marfs_datastream_rebuild_tags_total",
		Help: "Rebuild tags attached after degraded object closes.",
	})

	// FilesCompleted counts files driven to the COMPLETE state.
	FilesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marfs_datastream_files_completed_total",
		Help: "Files transitioned to COMPLETE.",
	})
)
