package samsara

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, url string, retries uint64) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    url,
		Token:      "secret",
		UserAgent:  "fleet-ingest/test",
		Timeout:    2 * time.Second,
		MaxRetries: retries,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestFetchSnapshotsFollowsPagination(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/fleet/vehicles/stats" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "fleet-ingest/test" {
			t.Errorf("unexpected user agent %q", got)
		}
		if got := r.URL.Query().Get("types"); got != "gps,engineStates" {
			t.Errorf("unexpected types %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("after") {
		case "":
			_, _ = w.Write([]byte(`{"data":[{"name":"717","id":"1","gps":{"time":"2021-07-14T02:13:53Z","latitude":53.7}}],"pagination":{"endCursor":"c1","hasNextPage":true}}`))
		case "c1":
			_, _ = w.Write([]byte(`{"data":[{"name":"718","id":"2","engineStates":{"time":"2021-07-13T20:10:23Z","value":"Off"}}],"pagination":{"endCursor":"c2","hasNextPage":false}}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	snapshots, err := client.FetchSnapshots(context.Background(), []string{"gps", "engineStates"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	if code, _ := snapshots[1].StringField("name"); code != "718" {
		t.Fatalf("unexpected second snapshot %s", snapshots[1].Raw())
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", calls)
	}
}

func TestFetchSnapshotsRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[],"pagination":{"hasNextPage":false}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	snapshots, err := client.FetchSnapshots(context.Background(), []string{"gps"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snapshots) != 0 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry and no snapshots, got %d calls", calls)
	}
}

func TestFetchSnapshotsDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"message":"bad types"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.FetchSnapshots(context.Background(), []string{"gps"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", calls)
	}
}

func TestFetchSnapshotsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	if _, err := client.FetchSnapshots(context.Background(), []string{"gps"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Token: "secret", BreakerFailures: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := client.FetchSnapshots(context.Background(), []string{"gps"}); err == nil {
			t.Fatalf("expected failure %d", i)
		}
	}
	if client.BreakerState() != "open" {
		t.Fatalf("expected open breaker, got %s", client.BreakerState())
	}
	before := atomic.LoadInt32(&calls)
	if _, err := client.FetchSnapshots(context.Background(), []string{"gps"}); err == nil {
		t.Fatalf("expected open breaker error")
	}
	if atomic.LoadInt32(&calls) != before {
		t.Fatalf("open breaker must not reach the server")
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(Config{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
	client, err := NewClient(Config{Token: "x"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != DefaultBaseURL {
		t.Fatalf("expected default base url, got %s", client.baseURL)
	}
	if _, err := client.FetchSnapshots(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty kinds")
	}
}

func TestFetchSnapshotsLogsRawResponseAtInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"name":"717","gps":{"time":"2021-07-14T02:13:53Z","latitude":53.7}}],"pagination":{"hasNextPage":false}}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	client, err := NewClient(Config{BaseURL: server.URL, Token: "secret"}, zerolog.New(&buf).Level(zerolog.InfoLevel))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.FetchSnapshots(context.Background(), []string{"gps"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "vehicle stats response") || !strings.Contains(out, `"name":"717"`) {
		t.Fatalf("expected raw response logged at info, got %s", out)
	}
}
