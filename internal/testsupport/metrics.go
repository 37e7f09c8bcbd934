package testsupport

import (
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetMetricValue returns the current value of the first series of metricName
// whose labels include labelFilter. Counters and gauges report their value,
// histograms their sample count. A missing series reads as 0.
func GetMetricValue(t testing.TB, metricName string, labelFilter map[string]string) float64 {
	t.Helper()

	family := findFamily(t, metricName)
	if family == nil {
		return 0
	}

	for _, m := range family.GetMetric() {
		if !matchesLabels(m, labelFilter) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func findFamily(t testing.TB, name string) *dto.MetricFamily {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// Gather returns families sorted by name.
	idx := sort.Search(len(families), func(i int) bool {
		return families[i].GetName() >= name
	})
	if idx < len(families) && families[idx].GetName() == name {
		return families[idx]
	}
	return nil
}

func matchesLabels(m *dto.Metric, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	labels := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	for k, v := range filter {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// AssertMetricDelta asserts that a metric moved by exactly expectedDelta while fn ran.
func AssertMetricDelta(t testing.TB, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	initial := GetMetricValue(t, metricName, labels)
	fn()
	final := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, final-initial, "metric %s%v delta mismatch", metricName, labels)
}

// AssertMetricDeltaAsync asserts that a metric eventually moves by expectedDelta
// after fn returns. Useful for pub/sub and background workers.
func AssertMetricDeltaAsync(t testing.TB, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	initial := GetMetricValue(t, metricName, labels)
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, metricName, labels) == initial+expectedDelta
	}, 2*time.Second, 50*time.Millisecond, "metric %s%v failed to reach expected delta %+.0f", metricName, labels, expectedDelta)
}

// AssertHistogramRecorded asserts that a histogram has recorded at least one sample.
func AssertHistogramRecorded(t testing.TB, metricName string, labels map[string]string) {
	t.Helper()

	count := GetMetricValue(t, metricName, labels)
	assert.Greater(t, count, 0.0, "histogram %s%v should have recorded samples", metricName, labels)
}
