package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/septivank/energy-sync-worker/internal/series"
)

func TestMetrics_RecordRun(t *testing.T) {
	m := New(prometheus.NewRegistry())
	finished := time.Date(2024, 1, 21, 8, 0, 0, 0, time.UTC)

	m.RecordRun(ResultSuccess, 3*time.Second, finished)
	m.RecordRun(ResultError, time.Second, finished.Add(time.Hour))
	m.RecordRun(ResultBusy, 0, finished)

	if got := testutil.ToFloat64(m.runs.WithLabelValues(ResultSuccess)); got != 1 {
		t.Fatalf("expected 1 successful run, got %f", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues(ResultError)); got != 1 {
		t.Fatalf("expected 1 failed run, got %f", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess); got != float64(finished.Unix()) {
		t.Fatalf("expected last success %d, got %f", finished.Unix(), got)
	}
	if samples := testutil.CollectAndCount(m.runDuration); samples != 1 {
		t.Fatalf("expected duration histogram to be collected once, got %d", samples)
	}
}

func TestMetrics_RecordWrittenByMeasurement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordWritten([]series.Point{
		series.NewPoint(series.MeasurementEnergyImport, "A", series.DateUTC(2024, 1, 1)),
		series.NewPoint(series.MeasurementEnergyImport, "A", series.DateUTC(2024, 1, 2)),
		series.NewPoint(series.MeasurementGasImport, "G", series.DateUTC(2024, 1, 1)),
	})

	if got := testutil.ToFloat64(m.pointsWritten.WithLabelValues(series.MeasurementEnergyImport)); got != 2 {
		t.Fatalf("expected 2 energy points, got %f", got)
	}
	if got := testutil.ToFloat64(m.pointsWritten.WithLabelValues(series.MeasurementGasImport)); got != 1 {
		t.Fatalf("expected 1 gas point, got %f", got)
	}
}

func TestMetrics_RecordAccount(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAccount("electricity", nil)
	m.RecordAccount("electricity", errors.New("401"))
	m.RecordSkippedWindows(2)
	m.RecordRejected(3)
	m.RecordCredentialRefresh(errors.New("disk full"))

	if got := testutil.ToFloat64(m.accountFetches.WithLabelValues("electricity", ResultError)); got != 1 {
		t.Fatalf("expected 1 failed fetch, got %f", got)
	}
	if got := testutil.ToFloat64(m.skippedWindows); got != 2 {
		t.Fatalf("expected 2 skipped windows, got %f", got)
	}
	if got := testutil.ToFloat64(m.pointsRejected); got != 3 {
		t.Fatalf("expected 3 rejected points, got %f", got)
	}
	if got := testutil.ToFloat64(m.credentialWrites.WithLabelValues(ResultError)); got != 1 {
		t.Fatalf("expected 1 failed credential write, got %f", got)
	}
}

func TestNewHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordRejected(1)

	srv := httptest.NewServer(NewHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !strings.Contains(string(body), "energy_sync_points_rejected_total 1") {
		t.Errorf("expected rejected counter in output, got:\n%s", body)
	}
}
