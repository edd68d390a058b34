package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExporter_Render(t *testing.T) {
	r := NewRegistry()
	r.Counter("ledger.submissions_accepted").Add(5)
	r.Histogram("auth.decrypt_latency_ms").Observe(12)

	e := NewExporter(r, DefaultExporterConfig())
	out := e.Render()

	if !strings.Contains(out, "drivescore_ledger_submissions_accepted 5") {
		t.Errorf("missing counter line, got:\n%s", out)
	}
	if !strings.Contains(out, "drivescore_auth_decrypt_latency_ms_count 1") {
		t.Errorf("missing histogram count line, got:\n%s", out)
	}
}

func TestExporter_RenderSorted(t *testing.T) {
	r := NewRegistry()
	r.Counter("b.second").Inc()
	r.Counter("a.first").Inc()

	out := NewExporter(r, DefaultExporterConfig()).Render()
	first := strings.Index(out, "drivescore_a_first")
	second := strings.Index(out, "drivescore_b_second")
	if first < 0 || second < 0 || first > second {
		t.Errorf("output not sorted:\n%s", out)
	}
}

func TestExporter_ServeHTTP(t *testing.T) {
	r := NewRegistry()
	r.Counter("ledger.submissions_accepted").Inc()
	e := NewExporter(r, DefaultExporterConfig())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "drivescore_ledger_submissions_accepted 1") {
		t.Errorf("body missing metric:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/other", nil))
	if rec.Code != 404 {
		t.Errorf("status for wrong path = %d, want 404", rec.Code)
	}
}
