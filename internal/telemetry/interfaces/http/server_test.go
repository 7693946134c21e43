package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"fleet-ingest/internal/telemetry/application"
)

type stubStatus struct {
	result application.PipelineResult
	ok     bool
}

func (s stubStatus) LastResult() (application.PipelineResult, bool) {
	return s.result, s.ok
}

type stubBreaker string

func (b stubBreaker) BreakerState() string { return string(b) }

func TestHealthz(t *testing.T) {
	h, err := NewHandler(stubStatus{}, nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusReportsLastCycle(t *testing.T) {
	result := application.PipelineResult{
		CycleReport: application.CycleReport{CycleID: "c-1", StageName: "idle", Delivered: 4, Pending: 1},
		Snapshots:   2,
		Records:     5,
	}
	h, _ := NewHandler(stubStatus{result: result, ok: true}, stubBreaker("closed"), prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		State     string `json:"state"`
		Breaker   string `json:"source_breaker"`
		LastCycle struct {
			CycleID   string `json:"cycle_id"`
			Delivered int    `json:"delivered"`
			Records   int    `json:"records"`
		} `json:"last_cycle"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "ok" || body.Breaker != "closed" {
		t.Fatalf("unexpected status %+v", body)
	}
	if body.LastCycle.CycleID != "c-1" || body.LastCycle.Delivered != 4 || body.LastCycle.Records != 5 {
		t.Fatalf("unexpected last cycle %+v", body.LastCycle)
	}
}

func TestStatusDegradedAndStarting(t *testing.T) {
	h, _ := NewHandler(stubStatus{}, nil, prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(rec.Body.String(), `"state":"starting"`) {
		t.Fatalf("expected starting state, got %s", rec.Body.String())
	}

	failed := application.PipelineResult{Err: application.ErrConnect}
	h, _ = NewHandler(stubStatus{result: failed, ok: true}, nil, prometheus.NewRegistry())
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(rec.Body.String(), `"state":"degraded"`) {
		t.Fatalf("expected degraded state, got %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "vehicle_stats_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h, _ := NewHandler(stubStatus{}, nil, reg)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "vehicle_stats_test_total 1") {
		t.Fatalf("unexpected metrics response %d %s", rec.Code, rec.Body.String())
	}
}

func TestNewHandlerValidates(t *testing.T) {
	if _, err := NewHandler(nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil status source")
	}
}

func TestServerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := NewServer(addr, http.NotFoundHandler(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not stop")
	}
}
