package httptelemetry

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestStatusGroup(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{502, "5xx"},
	}

	for _, tt := range tests {
		if got := statusGroup(tt.status); got != tt.want {
			t.Errorf("statusGroup(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestNewOutcome(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.org/apps/123", nil)
	r.Method = "get"
	r.Header.Set("uid", "u-1")

	o := newOutcome(r, 404, 15*time.Millisecond)

	if o.Method != "GET" {
		t.Errorf("method = %q, want GET", o.Method)
	}
	if o.StatusCode != 404 {
		t.Errorf("status = %d, want 404", o.StatusCode)
	}
	if o.StatusGroup != "4xx" {
		t.Errorf("status group = %q, want 4xx", o.StatusGroup)
	}
	if o.Endpoint != "/apps/123" {
		t.Errorf("endpoint = %q, want /apps/123", o.Endpoint)
	}
	if o.Duration != 15*time.Millisecond {
		t.Errorf("duration = %v, want 15ms", o.Duration)
	}
	if got := o.Header.Get("UID"); got != "u-1" {
		t.Errorf("header lookup = %q, want u-1", got)
	}
}

func TestNewOutcome_UnwrittenStatusIsOK(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.org/", nil)

	o := newOutcome(r, 0, time.Millisecond)

	if o.StatusCode != 200 {
		t.Errorf("status = %d, want 200", o.StatusCode)
	}
	if o.StatusGroup != "2xx" {
		t.Errorf("status group = %q, want 2xx", o.StatusGroup)
	}
}
