package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// IndexMetrics holds the metric instruments recorded by the index manager.
type IndexMetrics struct {
	InsertsCounter       metric.Int64Counter
	RemovesCounter       metric.Int64Counter
	QueriesCounter       metric.Int64Counter
	QueryLatency         metric.Float64Histogram
	EntriesUpDownCounter metric.Int64UpDownCounter
	SnapshotBytesCounter metric.Int64Counter
}

// NewIndexMetrics creates and registers the index instruments on meter.
func NewIndexMetrics(meter metric.Meter) (*IndexMetrics, error) {
	inserts, err := meter.Int64Counter(
		"gojospatial.index.inserts_total",
		metric.WithDescription("Total number of accepted inserts."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	removes, err := meter.Int64Counter(
		"gojospatial.index.removes_total",
		metric.WithDescription("Total number of successful removals."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	queries, err := meter.Int64Counter(
		"gojospatial.index.queries_total",
		metric.WithDescription("Total number of window queries."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram(
		"gojospatial.index.query.duration",
		metric.WithDescription("The latency of window queries."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	entries, err := meter.Int64UpDownCounter(
		"gojospatial.index.entries",
		metric.WithDescription("Number of entries held by the index."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	snapshotBytes, err := meter.Int64Counter(
		"gojospatial.index.snapshot.bytes_total",
		metric.WithDescription("Total number of snapshot bytes streamed."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		InsertsCounter:       inserts,
		RemovesCounter:       removes,
		QueriesCounter:       queries,
		QueryLatency:         latency,
		EntriesUpDownCounter: entries,
		SnapshotBytesCounter: snapshotBytes,
	}, nil
}
