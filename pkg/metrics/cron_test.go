package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Unix(1_760_000_000, 0)

	m.ObserveRun("payment-sync", 250*time.Millisecond, finished, nil)
	m.ObserveRun("payment-sync", 100*time.Millisecond, finished.Add(time.Hour), errors.New("gateway down"))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	success, err := fetchCounterValue(mfs, "vendorhub_cron_job_runs_total", "result", "success")
	require.NoError(t, err)
	assert.Equal(t, float64(1), success)
	failure, err := fetchCounterValue(mfs, "vendorhub_cron_job_runs_total", "result", "failure")
	require.NoError(t, err)
	assert.Equal(t, float64(1), failure)

	sum, err := fetchHistogramSum(mfs, "vendorhub_cron_job_duration_seconds", "job", "payment-sync")
	require.NoError(t, err)
	assert.InDelta(t, 0.35, sum, 0.001)

	gauge := findMetricFamily(mfs, "vendorhub_cron_job_last_success_timestamp_seconds")
	require.NotNil(t, gauge)
	require.Len(t, gauge.GetMetric(), 1)
	assert.Equal(t, float64(finished.Unix()), gauge.GetMetric()[0].GetGauge().GetValue())
}

func TestCronJobMetricsNilRegistererIsNoop(t *testing.T) {
	m := NewCronJobMetrics(nil)
	assert.NotPanics(t, func() { m.ObserveRun("order-expiry", time.Second, time.Now(), nil) })
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
