package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gelfstream/gelfd/internal/broadcast"
	"github.com/gelfstream/gelfd/internal/health"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/internal/metrics"
	"github.com/gelfstream/gelfd/internal/store"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

func strPtr(s string) *string { return &s }

func testMessage(short string) gelf.Message {
	return gelf.Message{
		Version:      strPtr("1.1"),
		Host:         strPtr("web01"),
		ShortMessage: strPtr(short),
	}
}

func newTestServer(t *testing.T) (string, *store.Store, *broadcast.Hub) {
	t.Helper()

	collector := metrics.NewCollector()
	hub := broadcast.NewHub(16, collector)
	st := store.New(10, hub, collector)

	checker := health.NewChecker(time.Second, collector)
	checker.Register("store", health.AlwaysHealthy())

	srv := New(Config{
		Address:       "127.0.0.1:0",
		Store:         st,
		Hub:           hub,
		HealthChecker: checker,
		Registry:      collector.Registry(),
		Logger:        logging.Nop(),
	})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	t.Cleanup(func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	return "http://" + srv.Addr().String(), st, hub
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding %s response: %v", url, err)
	}
	return resp
}

func TestLogsEndpoint(t *testing.T) {
	baseURL, st, _ := newTestServer(t)

	st.Add(testMessage("first"), `{"short_message":"first"}`)
	st.Add(testMessage("second"), `{"short_message":"second"}`)
	st.Add(testMessage("third"), `{"short_message":"third"}`)

	var logs []map[string]interface{}
	resp := getJSON(t, baseURL+"/logs", &logs)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /logs status = %d, want 200", resp.StatusCode)
	}
	if len(logs) != 3 {
		t.Fatalf("GET /logs returned %d records, want 3", len(logs))
	}

	// Newest first
	if logs[0]["short_message"] != "third" {
		t.Errorf("logs[0].short_message = %v, want third", logs[0]["short_message"])
	}
	if logs[2]["short_message"] != "first" {
		t.Errorf("logs[2].short_message = %v, want first", logs[2]["short_message"])
	}

	// Reception time is flattened into each record
	if _, ok := logs[0]["received_at"].(float64); !ok {
		t.Error("expected received_at in log record")
	}
}

func TestLogsEndpointLimit(t *testing.T) {
	baseURL, st, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		st.Add(testMessage("msg"), "{}")
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?limit=2", 2},
		{"?limit=0", 0},
		{"?limit=50", 5},
		{"?limit=abc", 5},
		{"?limit=-3", 5},
		{"", 5},
	}

	for _, tt := range tests {
		var logs []map[string]interface{}
		getJSON(t, baseURL+"/logs"+tt.query, &logs)
		if len(logs) != tt.want {
			t.Errorf("GET /logs%s returned %d records, want %d", tt.query, len(logs), tt.want)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	baseURL, st, _ := newTestServer(t)

	st.Add(testMessage("a"), "{}")
	st.Add(testMessage("b"), "{}")

	var stats map[string]interface{}
	resp := getJSON(t, baseURL+"/stats", &stats)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /stats status = %d, want 200", resp.StatusCode)
	}
	if got := stats["total_messages"].(float64); got != 2 {
		t.Errorf("total_messages = %v, want 2", got)
	}
	if got := stats["max_capacity"].(float64); got != 10 {
		t.Errorf("max_capacity = %v, want 10", got)
	}
	if got := stats["capacity_used_percent"].(float64); got != 20 {
		t.Errorf("capacity_used_percent = %v, want 20", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	baseURL, _, _ := newTestServer(t)

	var body map[string]interface{}
	resp := getJSON(t, baseURL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("health status = %v, want healthy", body["status"])
	}

	var live map[string]string
	resp = getJSON(t, baseURL+"/health/live", &live)
	if resp.StatusCode != http.StatusOK || live["status"] != "alive" {
		t.Errorf("GET /health/live = %d %v", resp.StatusCode, live)
	}

	var ready map[string]interface{}
	resp = getJSON(t, baseURL+"/health/ready", &ready)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health/ready status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	baseURL, st, _ := newTestServer(t)

	st.Add(testMessage("counted"), "{}")

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "gelfd_") {
		t.Error("expected gelfd metrics in exposition")
	}
}

func TestIndexServed(t *testing.T) {
	baseURL, _, _ := newTestServer(t)

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("GET / content type = %s, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "GELF Log Viewer") {
		t.Error("expected viewer markup at root")
	}

	// The root pattern must not swallow unknown paths
	resp2, err := http.Get(baseURL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent error = %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nonexistent status = %d, want 404", resp2.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	baseURL, _, _ := newTestServer(t)

	resp, err := http.Get(baseURL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats error = %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}

	req, _ := http.NewRequest(http.MethodOptions, baseURL+"/logs", nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /logs error = %v", err)
	}
	resp2.Body.Close()

	if resp2.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS /logs status = %d, want 204", resp2.StatusCode)
	}
	if got := resp2.Header.Get("Access-Control-Allow-Methods"); got != "GET" {
		t.Errorf("Access-Control-Allow-Methods = %q, want GET", got)
	}
}

func TestStreamEndpoint(t *testing.T) {
	baseURL, st, hub := newTestServer(t)

	resp, err := http.Get(baseURL + "/stream")
	if err != nil {
		t.Fatalf("GET /stream error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("GET /stream content type = %s, want text/event-stream", ct)
	}

	// Wait for the handler's subscription to register before publishing
	deadline := time.After(2 * time.Second)
	for hub.Stats().Subscribers == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for stream subscription")
		case <-time.After(10 * time.Millisecond):
		}
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	st.Add(testMessage("live-record"), `{"short_message":"live-record"}`)

	var data string
	timeout := time.After(2 * time.Second)
waitData:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before delivering the record")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
				break waitData
			}
		case <-timeout:
			t.Fatal("timeout waiting for SSE record")
		}
	}

	var record map[string]interface{}
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		t.Fatalf("SSE data is not JSON: %v", err)
	}
	if record["short_message"] != "live-record" {
		t.Errorf("SSE short_message = %v, want live-record", record["short_message"])
	}
	if _, ok := record["received_at"].(float64); !ok {
		t.Error("expected received_at in SSE record")
	}

	// Closing the hub ends the stream
	hub.Close()

	closeDeadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-closeDeadline:
			t.Fatal("stream did not end after hub close")
		}
	}
}
