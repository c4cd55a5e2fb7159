package promregistry

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestGetOrRegister_SameInstance(t *testing.T) {
	r := New()

	labels := []string{"service_name"}
	a := r.GetOrRegisterCounterVec("http_requests_total", "help", labels)
	b := r.GetOrRegisterCounterVec("http_requests_total", "other help", labels)
	if a != b {
		t.Error("GetOrRegisterCounterVec returned different instances for the same name")
	}

	h1 := r.GetOrRegisterHistogramVec("http_request_duration_seconds", "help", labels, nil)
	h2 := r.GetOrRegisterHistogramVec("http_request_duration_seconds", "help", labels, []float64{1})
	if h1 != h2 {
		t.Error("GetOrRegisterHistogramVec returned different instances for the same name")
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	r := New()
	r.GetOrRegisterCounterVec("jobs_total", "Total jobs.", []string{"kind"}).
		WithLabelValues("batch").Add(3)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text exposition format", ct)
	}
	if !strings.Contains(w.Body.String(), `jobs_total{kind="batch"} 3`) {
		t.Errorf("body missing series:\n%s", w.Body.String())
	}
}

func TestNewMultiprocess_WritesShardOnClose(t *testing.T) {
	dir := t.TempDir()

	r, err := NewMultiprocess(dir, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	r.GetOrRegisterCounterVec("jobs_total", "Total jobs.", []string{"kind"}).
		WithLabelValues("batch").Add(2)

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	shards, err := filepath.Glob(filepath.Join(dir, "telemetry_*.prom"))
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 1 {
		t.Fatalf("got %d shard files, want 1", len(shards))
	}

	b, err := os.ReadFile(shards[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `jobs_total{kind="batch"} 2`) {
		t.Errorf("shard missing series:\n%s", b)
	}
}

func TestNewMultiprocess_MissingDir(t *testing.T) {
	_, err := NewMultiprocess(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}

func TestNewMultiprocess_NotADir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewMultiprocess(f)
	if err == nil {
		t.Fatal("expected an error for a non-directory path")
	}
}

func TestClose_SingleProcessNoop(t *testing.T) {
	if err := New().Close(); err != nil {
		t.Fatal(err)
	}
}
