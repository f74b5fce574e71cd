package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/cmsauth"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot cmsauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() cmsauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := cmsauth.MetricsSnapshot{
		Counters:   make(map[cmsauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[cmsauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("cmsauth-test")

	src := &fakeSource{
		snapshot: cmsauth.MetricsSnapshot{
			Counters: map[cmsauth.MetricID]uint64{
				cmsauth.MetricLoginSuccess:         3,
				cmsauth.MetricRefreshReuseDetected: 1,
			},
			Histograms: map[cmsauth.MetricID][]uint64{
				cmsauth.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	checks := map[string]int64{
		"cmsauth_login_success_total":                    3,
		"cmsauth_refresh_reuse_detected_total":           1,
		"cmsauth_audit_dropped_total":                    1,
		"cmsauth_verify_latency_seconds_bucket_le_0_025": 3,
		"cmsauth_verify_latency_seconds_bucket_le_inf":   8,
		"cmsauth_verify_latency_seconds_count":           8,
	}
	for name, want := range checks {
		got, ok := findSum(rm, name)
		if !ok || got != want {
			t.Errorf("%s = %d (found %v), want %d", name, got, ok, want)
		}
	}
}

func TestExporterRejectsNil(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("cmsauth-test")

	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("got %v, want ErrNilSource", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("got %v, want ErrNilMeter", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("cmsauth-test")

	src := &fakeSource{
		snapshot: cmsauth.MetricsSnapshot{
			Counters: map[cmsauth.MetricID]uint64{
				cmsauth.MetricLoginSuccess: 1,
			},
			Histograms: map[cmsauth.MetricID][]uint64{
				cmsauth.MetricVerifyLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer func() { _ = exp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[cmsauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
