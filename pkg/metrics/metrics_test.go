package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RowsInserted.Add(3)
	m.RowsSkipped.Add(2)
	m.ImportRuns.WithLabelValues("succeeded").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsInserted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportRuns.WithLabelValues("succeeded")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ledger_rows_inserted_total 3")
	assert.Contains(t, string(body), `ledger_import_runs_total{status="succeeded"} 1`)
}

func TestNewNop_Isolated(t *testing.T) {
	a := NewNop()
	b := NewNop()
	a.RowsInserted.Inc()
	assert.Zero(t, testutil.ToFloat64(b.RowsInserted))
}
