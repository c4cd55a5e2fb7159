package httptelemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zenithlabs/telemetry/promregistry"
)

func instrumentedRouter(t *testing.T) (chi.Router, *promregistry.Registry) {
	t.Helper()

	r := chi.NewRouter()
	reg, err := Instrument(r, "testsvc", Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	r.Get("/foo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r, reg
}

func TestInstrument_CountsRequests(t *testing.T) {
	r, reg := instrumentedRouter(t)

	srv := httptest.NewServer(r)
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/foo", nil)
	req.Header.Set("uid", "u-1")
	if _, err := http.DefaultClient.Do(req); err != nil {
		t.Fatal(err)
	}

	vec := reg.GetOrRegisterCounterVec("http_requests_total", "", outcomeLabels)
	got := testutil.ToFloat64(vec.WithLabelValues("testsvc", "200", "2xx", "/foo", "GET", "u-1"))
	if got != 1 {
		t.Errorf("http_requests_total = %v, want 1", got)
	}

	count := testutil.CollectAndCount(reg.GetOrRegisterHistogramVec("http_request_duration_seconds", "", outcomeLabels, nil))
	if count != 1 {
		t.Errorf("duration series = %d, want 1", count)
	}
}

func TestInstrument_MissingUIDIsEmptyLabel(t *testing.T) {
	r, reg := instrumentedRouter(t)

	srv := httptest.NewServer(r)
	defer srv.Close()

	if _, err := http.Get(srv.URL + "/foo"); err != nil {
		t.Fatal(err)
	}

	vec := reg.GetOrRegisterCounterVec("http_requests_total", "", outcomeLabels)
	got := testutil.ToFloat64(vec.WithLabelValues("testsvc", "200", "2xx", "/foo", "GET", ""))
	if got != 1 {
		t.Errorf("counter with empty uid label = %v, want 1", got)
	}
}

func TestInstrument_ConcurrentRequestsSumExactly(t *testing.T) {
	r, reg := instrumentedRouter(t)

	srv := httptest.NewServer(r)
	defer srv.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest("GET", srv.URL+"/foo", nil)
			req.Header.Set("uid", "u-1")
			resp, err := http.DefaultClient.Do(req)
			if err == nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	vec := reg.GetOrRegisterCounterVec("http_requests_total", "", outcomeLabels)
	got := testutil.ToFloat64(vec.WithLabelValues("testsvc", "200", "2xx", "/foo", "GET", "u-1"))
	if got != n {
		t.Errorf("http_requests_total = %v, want %d (lost updates)", got, n)
	}
}

func TestInstrument_ScrapeEndpoint(t *testing.T) {
	r, _ := instrumentedRouter(t)

	srv := httptest.NewServer(r)
	defer srv.Close()

	if _, err := http.Get(srv.URL + "/foo"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("scrape status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text exposition format", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)

	if !strings.Contains(text, `http_requests_total{`) {
		t.Errorf("scrape body missing http_requests_total:\n%s", text)
	}
	if !strings.Contains(text, `endpoint="/foo"`) {
		t.Errorf("scrape body missing /foo series:\n%s", text)
	}
}

func TestInstrument_ScrapeNotSelfCounted(t *testing.T) {
	r, _ := instrumentedRouter(t)

	srv := httptest.NewServer(r)
	defer srv.Close()

	// Scrape repeatedly, then check no /metrics series ever appears.
	for i := 0; i < 3; i++ {
		if _, err := http.Get(srv.URL + "/metrics"); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), `endpoint="/metrics"`) {
		t.Errorf("scrape produced a series for its own endpoint:\n%s", body)
	}
}

func TestInstrument_InvalidMultiprocessDir(t *testing.T) {
	r := chi.NewRouter()

	_, err := Instrument(r, "testsvc", Options{
		MultiprocessDir: filepath.Join(t.TempDir(), "does-not-exist"),
		Logger:          quietLogger(),
	})
	if err == nil {
		t.Fatal("expected a configuration error for a missing multiprocess dir")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PROMETHEUS_MULTIPROC_DIR", "/tmp/shards")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MultiprocessDir != "/tmp/shards" {
		t.Errorf("MultiprocessDir = %q, want /tmp/shards", cfg.MultiprocessDir)
	}
}
