package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/classes":                       "/classes",
		"/classes/abc":                   "/classes/:id",
		"/classes/abc/extra":             "other",
		"/wp-admin/setup.php":            "other",
		"/payments/123":                  "other",
		"/events/enrollments":            "/events/enrollments",
		"/payments":                      "/payments",
		"/payments/enrolled/student":     "/payments/enrolled/student",
		"/payments/enrolled/student?e=1": "/payments/enrolled/student",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestObserveSettlementCounts(t *testing.T) {
	before := testutil.ToFloat64(settlementsTotal.WithLabelValues(OutcomeSeatsExhausted))
	ObserveSettlement(OutcomeSeatsExhausted)
	after := testutil.ToFloat64(settlementsTotal.WithLabelValues(OutcomeSeatsExhausted))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestInstrumentPassesStatusThrough(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/payments", "409"))
	if got < 1 {
		t.Fatalf("expected request counted, got %v", got)
	}
}

func TestLogWritesJSONLine(t *testing.T) {
	l := Logger()
	orig := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(orig)

	Error("settlement_payment_write_failed", map[string]any{"class_offering_id": "c1"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["level"] != "error" || entry["msg"] != "settlement_payment_write_failed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["class_offering_id"] != "c1" || entry["ts"] == nil {
		t.Fatalf("fields missing: %v", entry)
	}
}
