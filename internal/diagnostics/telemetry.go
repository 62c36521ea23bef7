package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricPoint is one collected series. Counters report their running total
// in Value; histograms report the sum of observations in Value and the
// number of observations in Count.
type MetricPoint struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// MetricsSnapshot is a point-in-time read of every instrument.
type MetricsSnapshot []MetricPoint

// Total sums name across all series whose attributes include every
// key/value pair in match.
func (s MetricsSnapshot) Total(name string, match ...attribute.KeyValue) float64 {
	var total float64
	for _, p := range s {
		if p.Name != name || !p.has(match) {
			continue
		}
		total += p.Value
	}
	return total
}

func (p MetricPoint) has(match []attribute.KeyValue) bool {
	for _, kv := range match {
		if p.Attributes[string(kv.Key)] != kv.Value.Emit() {
			return false
		}
	}
	return true
}

// Telemetry owns the process meter provider and reads it back on demand.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// NewTelemetry creates a meter provider backed by a manual reader.
func NewTelemetry() *Telemetry {
	reader := sdkmetric.NewManualReader()
	return &Telemetry{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:   reader,
	}
}

// Meter returns a meter for the named instrumentation scope.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.provider.Meter(name)
}

// Snapshot collects every instrument, sorted by name and attributes.
func (t *Telemetry) Snapshot(ctx context.Context) (MetricsSnapshot, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}

	var out MetricsSnapshot
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, newPoint(m.Name, dp.Attributes, float64(dp.Value), 0))
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, newPoint(m.Name, dp.Attributes, dp.Value, 0))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, newPoint(m.Name, dp.Attributes, dp.Sum, dp.Count))
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, newPoint(m.Name, dp.Attributes, float64(dp.Sum), dp.Count))
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return attrKey(out[i].Attributes) < attrKey(out[j].Attributes)
	})
	return out, nil
}

// Shutdown flushes and stops the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

func newPoint(name string, set attribute.Set, value float64, count uint64) MetricPoint {
	p := MetricPoint{Name: name, Value: value, Count: count}
	if set.Len() > 0 {
		p.Attributes = make(map[string]string, set.Len())
		for _, kv := range set.ToSlice() {
			p.Attributes[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return p
}

func attrKey(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
