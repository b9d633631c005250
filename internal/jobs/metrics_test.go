package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger:gl_integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:gl_integrity").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger:gl_integrity")))
}

func TestAddFindingsIgnoresEmpty(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddFindings("inventory:fifo_conservation", "position", 4, 0)
	m.AddFindings("inventory:fifo_conservation", "position", 4, 3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.findings.WithLabelValues("inventory:fifo_conservation", "position", "4")))

	var nilMetrics *Metrics
	nilMetrics.AddFindings("x", "y", 1, 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
