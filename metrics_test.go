package careauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricTokenIssued)
	m.Observe(MetricAuthenticateLatency, time.Millisecond)

	if m.Value(MetricTokenIssued) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled snapshot must be empty, got %+v", snap)
	}
}

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	for i := 0; i < 3; i++ {
		m.Inc(MetricOTPSuccess)
	}
	m.Inc(MetricOTPInvalid)

	if got := m.Value(MetricOTPSuccess); got != 3 {
		t.Fatalf("Value = %d, want 3", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricOTPSuccess] != 3 || snap.Counters[MetricOTPInvalid] != 1 {
		t.Fatalf("unexpected snapshot %+v", snap.Counters)
	}
	if snap.Counters[MetricTokenIssued] != 0 {
		t.Fatal("untouched counter must read zero")
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	samples := []struct {
		d      time.Duration
		bucket int
	}{
		{time.Millisecond, 0},
		{8 * time.Millisecond, 1},
		{20 * time.Millisecond, 2},
		{40 * time.Millisecond, 3},
		{80 * time.Millisecond, 4},
		{200 * time.Millisecond, 5},
		{400 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, s := range samples {
		m.Observe(MetricAuthenticateLatency, s.d)
	}

	buckets := m.Snapshot().Histograms[MetricAuthenticateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for _, s := range samples {
		if buckets[s.bucket] != 1 {
			t.Fatalf("bucket %d for %v = %d, want 1", s.bucket, s.d, buckets[s.bucket])
		}
	}

	// only the authenticate latency histogram exists
	m.Observe(MetricOTPSuccess, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricOTPSuccess]; ok {
		t.Fatal("unexpected histogram for a counter id")
	}
}

func TestMetricsLatencyDisabledWithoutFlag(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Observe(MetricAuthenticateLatency, time.Millisecond)
	if len(m.Snapshot().Histograms) != 0 {
		t.Fatal("latency must be off unless explicitly enabled")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricAuthenticateSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricAuthenticateSuccess); got != workers*perWorker {
		t.Fatalf("lost increments: got %d, want %d", got, workers*perWorker)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricTokenIssued)
	m.Observe(MetricAuthenticateLatency, time.Millisecond)
	if m.Value(MetricTokenIssued) != 0 || m.Enabled() || m.LatencyEnabled() {
		t.Fatal("nil metrics must be inert")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 {
		t.Fatal("nil snapshot must be empty")
	}
}
