package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot guestauth.MetricsSnapshot
	dropped  map[string]uint64
}

func (f *fakeSource) MetricsSnapshot() guestauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := guestauth.MetricsSnapshot{
		Counters:   make(map[guestauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[guestauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDroppedByEvent() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]uint64, len(f.dropped))
	for k, v := range f.dropped {
		out[k] = v
	}
	return out
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]int64)
	record := func(name string, points []metricdata.DataPoint[int64]) {
		for _, p := range points {
			key := name
			if p.Attributes.Len() > 0 {
				key += "{" + p.Attributes.Encoded(attribute.DefaultEncoder()) + "}"
			}
			out[key] = p.Value
		}
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				record(m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				record(m.Name, data.DataPoints)
			}
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: guestauth.MetricsSnapshot{
			Counters: map[guestauth.MetricID]uint64{
				guestauth.MetricLoginSuccess: 3,
				guestauth.MetricScopeDenied:  4,
			},
			Histograms: map[guestauth.MetricID][]uint64{
				guestauth.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: map[string]uint64{"login_success": 1},
	}

	exp, err := NewExporterFromSource(provider.Meter("guestauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	checks := map[string]int64{
		"guestauth.login.events{outcome=success}":              3,
		"guestauth.login.events{outcome=failure}":              0,
		"guestauth.access.events{outcome=scope_denied}":        4,
		"guestauth.audit.dropped{event=login_success}":         1,
		"guestauth.session.validate.latency.buckets{le=0.005}": 1,
		"guestauth.session.validate.latency.buckets{le=+Inf}":  8,
		"guestauth.session.validate.latency.count":             8,
	}
	for name, want := range checks {
		v, ok := got[name]
		if !ok || v != want {
			t.Fatalf("%s: expected %d, got %d (present %v)", name, want, v, ok)
		}
	}
}

func TestExporterCoversEveryCounterOnce(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: guestauth.MetricsSnapshot{
		Counters:   map[guestauth.MetricID]uint64{},
		Histograms: map[guestauth.MetricID][]uint64{},
	}}
	exp, err := NewExporterFromSource(provider.Meter("guestauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	points := 0
	for _, f := range exp.flows {
		points += len(f.outcomes)
	}
	if points != len(internaldefs.CounterDefs) {
		t.Fatalf("expected %d flow outcomes, got %d", len(internaldefs.CounterDefs), points)
	}
	got := collect(t, reader)
	for _, def := range internaldefs.CounterDefs {
		key := "guestauth." + def.Flow + ".events{outcome=" + def.Outcome + "}"
		if _, ok := got[key]; !ok {
			t.Fatalf("missing %s", key)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("guestauth-test")

	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: guestauth.MetricsSnapshot{
			Counters:   map[guestauth.MetricID]uint64{guestauth.MetricLoginSuccess: 1},
			Histograms: map[guestauth.MetricID][]uint64{},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("guestauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[guestauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
