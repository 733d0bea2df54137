// Package web tests for the iperf panel web server and API
package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/krisarmstrong/iperf-panel/pkg/config"
	"github.com/krisarmstrong/iperf-panel/pkg/iperfapi"
	"github.com/krisarmstrong/iperf-panel/pkg/panel"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeService stands in for the Mininet testbed service
type fakeService struct {
	mu       sync.Mutex
	starts   []iperfapi.StartRequest
	restarts []string
	broken   bool
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(iperfapi.PathStart, func(w http.ResponseWriter, r *http.Request) {
		var req iperfapi.StartRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.starts = append(f.starts, req)
		f.mu.Unlock()
		io.WriteString(w, `{"status":"success","message":"Iperf started","output":[{"bandwidth":"9.8 Mbps","jitter_ms":"0.02 ms"},{"bandwidth":"9.9 Mbps"}]}`)
	})
	mux.HandleFunc(iperfapi.PathStop, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		broken := f.broken
		f.mu.Unlock()
		if broken {
			io.WriteString(w, "not json")
			return
		}
		io.WriteString(w, `{"status":"success","message":"Iperf stopped successfully."}`)
	})
	mux.HandleFunc(iperfapi.PathRestart, func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("protocol")
		f.mu.Lock()
		f.restarts = append(f.restarts, p)
		f.mu.Unlock()
		io.WriteString(w, `{"status":"iperf restarted in `+p+` mode for all hosts"}`)
	})
	return mux
}

func (f *fakeService) calls() ([]iperfapi.StartRequest, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]iperfapi.StartRequest(nil), f.starts...), append([]string(nil), f.restarts...)
}

func newTestServer(t *testing.T) (*Server, *fakeService) {
	t.Helper()
	fake := &fakeService{}
	backend := httptest.NewServer(fake.handler())
	t.Cleanup(backend.Close)

	reg := prometheus.NewRegistry()
	s := New(":8080", WithHosts(config.DefaultHosts()), WithGatherer(reg))
	s.Attach(panel.New(iperfapi.New(backend.URL), s, panel.WithMetrics(panel.NewMetrics(reg))))
	return s, fake
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) View {
	t.Helper()
	var v View
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode view: %v", err)
	}
	return v
}

// ============================================================================
// Server Creation Tests
// ============================================================================

func TestNew(t *testing.T) {
	s := New(":8080")
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.addr != ":8080" {
		t.Errorf("Expected addr=:8080, got %s", s.addr)
	}
	if s.mux == nil {
		t.Error("Expected mux to be initialized")
	}
	if got := s.protoSel.Controls(); len(got) != 2 {
		t.Errorf("Expected 2 protocol controls, got %v", got)
	}
}

func TestActionsBeforeAttach(t *testing.T) {
	s := New(":8080")
	w := do(s, http.MethodPost, "/api/stop", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

// ============================================================================
// Read-only Endpoint Tests
// ============================================================================

func TestHandleHealth(t *testing.T) {
	s := New(":8080")
	w := do(s, http.MethodGet, "/api/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type=application/json, got %s", ct)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status=ok, got %v", resp["status"])
	}
	if resp["version"] != Version {
		t.Errorf("Expected version=%s, got %v", Version, resp["version"])
	}
}

func TestHandleHosts(t *testing.T) {
	s := New(":8080", WithHosts(config.DefaultHosts()))
	w := do(s, http.MethodGet, "/api/hosts", "")

	var hosts []map[string]string
	if err := json.NewDecoder(w.Body).Decode(&hosts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(hosts) != 5 {
		t.Fatalf("Expected 5 hosts, got %d", len(hosts))
	}
	if hosts[0]["name"] != "h1" || hosts[0]["address"] != "10.0.0.1" {
		t.Errorf("Unexpected first host: %v", hosts[0])
	}
}

func TestHandleRootHTML(t *testing.T) {
	s := New(":8080")
	w := do(s, http.MethodGet, "/", "")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/api/start") {
		t.Error("Expected root page to document /api/start")
	}

	if w := do(s, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	checks := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/state"},
		{http.MethodPost, "/api/hosts"},
		{http.MethodDelete, "/api/alerts"},
		{http.MethodGet, "/api/address"},
		{http.MethodGet, "/api/protocol"},
		{http.MethodGet, "/api/start"},
		{http.MethodGet, "/api/stop"},
	}
	for _, c := range checks {
		if w := do(s, c.method, c.path, ""); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected status 405, got %d", c.method, c.path, w.Code)
		}
	}
}

// ============================================================================
// Action Tests
// ============================================================================

func TestSelectAddressByName(t *testing.T) {
	s, _ := newTestServer(t)

	v := decodeView(t, do(s, http.MethodPost, "/api/address", `{"host":"h4"}`))
	if v.Address != "192.168.1.1" {
		t.Errorf("Expected address 192.168.1.1, got %s", v.Address)
	}
	if v.SelectedHost != "h4" {
		t.Errorf("Expected selected host h4, got %s", v.SelectedHost)
	}
}

func TestSelectAddressInvalid(t *testing.T) {
	s, _ := newTestServer(t)

	if w := do(s, http.MethodPost, "/api/address", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/address", `{bad`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestChooseProtocol(t *testing.T) {
	s, fake := newTestServer(t)

	v := decodeView(t, do(s, http.MethodPost, "/api/protocol", `{"protocol":"udp"}`))
	if v.Protocol != "UDP" {
		t.Errorf("Expected protocol UDP, got %s", v.Protocol)
	}
	if !s.protoSel.IsSelected("UDP") || s.protoSel.IsSelected("TCP") {
		t.Error("Expected only UDP to be highlighted")
	}
	if v.SelectedProto != "UDP" {
		t.Errorf("Expected selected protocol UDP, got %s", v.SelectedProto)
	}
	if _, restarts := fake.calls(); len(restarts) != 1 || restarts[0] != "UDP" {
		t.Errorf("Expected one UDP restart, got %v", restarts)
	}

	var alerts []string
	json.NewDecoder(do(s, http.MethodGet, "/api/alerts", "").Body).Decode(&alerts)
	if len(alerts) != 1 || alerts[0] != "iperf restarted in UDP mode for all hosts" {
		t.Errorf("Unexpected alerts: %v", alerts)
	}

	// Drained
	json.NewDecoder(do(s, http.MethodGet, "/api/alerts", "").Body).Decode(&alerts)
	if len(alerts) != 0 {
		t.Errorf("Expected alerts to be drained, got %v", alerts)
	}
}

func TestChooseProtocolInvalid(t *testing.T) {
	s, fake := newTestServer(t)

	if w := do(s, http.MethodPost, "/api/protocol", `{"protocol":"icmp"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if _, restarts := fake.calls(); len(restarts) != 0 {
		t.Errorf("Expected no restart, got %v", restarts)
	}
}

func TestStartMissingParameters(t *testing.T) {
	s, fake := newTestServer(t)

	w := do(s, http.MethodPost, "/api/start", `{"rate":"10M"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	v := decodeView(t, w)
	if v.Loading || v.ResultsVisible {
		t.Errorf("Expected loader hidden and no results, got %+v", v)
	}
	if v.PendingAlerts != 1 {
		t.Errorf("Expected one pending alert, got %d", v.PendingAlerts)
	}
	if starts, _ := fake.calls(); len(starts) != 0 {
		t.Error("Expected no request to the service")
	}
}

func TestFullWorkflow(t *testing.T) {
	s, fake := newTestServer(t)

	do(s, http.MethodPost, "/api/address", `{"host":"h2"}`)
	do(s, http.MethodPost, "/api/protocol", `{"protocol":"TCP"}`)
	s.DrainAlerts()

	w := do(s, http.MethodPost, "/api/start", `{"rate":"10M"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	v := decodeView(t, w)

	starts, _ := fake.calls()
	if len(starts) != 1 {
		t.Fatalf("Expected one start, got %d", len(starts))
	}
	want := iperfapi.StartRequest{Address: "10.0.0.2", Rate: "10M", Protocol: iperfapi.ProtocolTCP}
	if starts[0] != want {
		t.Errorf("Expected %+v, got %+v", want, starts[0])
	}

	if v.Loading || v.Busy {
		t.Error("Expected loader hidden after response")
	}
	if !v.ResultsVisible {
		t.Error("Expected results visible")
	}
	if len(v.Blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(v.Blocks))
	}
	if v.Blocks[0][0] != "bandwidth: 9.8 Mbps" || v.Blocks[0][1] != "jitter_ms: 0.02 ms" {
		t.Errorf("Unexpected first block: %v", v.Blocks[0])
	}
	if v.Blocks[1][0] != "bandwidth: 9.9 Mbps" {
		t.Errorf("Unexpected second block: %v", v.Blocks[1])
	}

	v = decodeView(t, do(s, http.MethodPost, "/api/stop", ""))
	if v.Text != "Iperf stopped successfully." || v.Blocks != nil {
		t.Errorf("Expected stop message as sole output, got %+v", v)
	}
}

func TestStopTransportError(t *testing.T) {
	s, fake := newTestServer(t)
	fake.mu.Lock()
	fake.broken = true
	fake.mu.Unlock()

	w := do(s, http.MethodPost, "/api/stop", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
	v := decodeView(t, w)
	if v.Loading {
		t.Error("Expected loader hidden after failure")
	}
	if v.PendingAlerts != 0 {
		t.Errorf("Expected no alert for stop failure, got %d", v.PendingAlerts)
	}
}

// ============================================================================
// Presenter Tests
// ============================================================================

func TestPresenterConcurrent(t *testing.T) {
	s := New(":8080")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetLoading(i%2 == 0)
			s.RenderText("x")
			s.Alert("a")
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()

	if n := len(s.DrainAlerts()); n != 50 {
		t.Errorf("Expected 50 alerts, got %d", n)
	}
}

// ============================================================================
// Metrics Tests
// ============================================================================

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	do(s, http.MethodPost, "/api/start", `{"rate":"10M"}`)
	do(s, http.MethodPost, "/api/stop", "")

	w := do(s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`iperfpanel_requests_total{action="start",outcome="invalid"} 1`,
		`iperfpanel_requests_total{action="stop",outcome="ok"} 1`,
		`iperfpanel_requests_in_flight 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}
}
