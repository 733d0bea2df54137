// Package web provides a web server and API for the iperf panel
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/krisarmstrong/iperf-panel/pkg/config"
	"github.com/krisarmstrong/iperf-panel/pkg/iperfapi"
	"github.com/krisarmstrong/iperf-panel/pkg/panel"
	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.MustGetLogger("web")

// Version reported by the health endpoint
const Version = "1.0.0"

// Controller is the part of panel.Controller the server drives
type Controller interface {
	State() panel.State
	Busy() bool
	SelectAddress(addr, control string)
	ChooseProtocol(ctx context.Context, proto iperfapi.Protocol, control string) error
	StartTest(ctx context.Context, rate string) error
	StopTest(ctx context.Context) error
}

// View is the rendered panel as served by /api/state
type View struct {
	Address        string     `json:"address"`
	Protocol       string     `json:"protocol"`
	SelectedHost   string     `json:"selected_host"`
	SelectedProto  string     `json:"selected_protocol"`
	Loading        bool       `json:"loading"`
	Busy           bool       `json:"busy"`
	ResultsVisible bool       `json:"results_visible"`
	Blocks         [][]string `json:"blocks,omitempty"`
	Text           string     `json:"text"`
	PendingAlerts  int        `json:"pending_alerts"`
	Timestamp      int64      `json:"timestamp"`
}

// AddressRequest selects a destination by host name or address
type AddressRequest struct {
	Host string `json:"host"`
}

// ProtocolRequest selects a protocol and restarts the servers in that mode
type ProtocolRequest struct {
	Protocol string `json:"protocol"`
}

// StartRequest starts a test at the given rate
type StartRequest struct {
	Rate string `json:"rate"`
}

// Server represents the web server. It is also the panel's Presenter.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	hosts  []config.Host
	ctrl   Controller
	gather prometheus.Gatherer

	mu        sync.RWMutex
	hostSel   *panel.SelectionGroup
	protoSel  *panel.SelectionGroup
	loading   bool
	resultsOn bool
	blocks    []panel.Block
	text      string
	alerts    []string
}

// Option for server configuration
type Option func(*Server)

// WithHosts sets the selectable hosts
func WithHosts(hosts []config.Host) Option {
	return func(s *Server) {
		s.hosts = append([]config.Host(nil), hosts...)
	}
}

// WithGatherer sets the registry served at /metrics.
// Defaults to the global Prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gather = g
	}
}

// New creates a new web server
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		gather: prometheus.DefaultGatherer,
	}

	for _, opt := range opts {
		opt(s)
	}

	names := make([]string, 0, len(s.hosts))
	for _, h := range s.hosts {
		names = append(names, h.Name)
	}
	s.hostSel = panel.NewSelectionGroup(names...)

	protos := make([]string, 0, len(iperfapi.Protocols))
	for _, p := range iperfapi.Protocols {
		protos = append(protos, string(p))
	}
	s.protoSel = panel.NewSelectionGroup(protos...)

	s.setupRoutes()
	return s
}

// Attach sets the controller the API drives. It must be called before Start.
func (s *Server) Attach(ctrl Controller) {
	s.ctrl = ctrl
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/hosts", s.handleHosts)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/alerts", s.handleAlerts)
	s.mux.HandleFunc("/api/address", s.handleAddress)
	s.mux.HandleFunc("/api/protocol", s.handleProtocol)
	s.mux.HandleFunc("/api/start", s.handleStart)
	s.mux.HandleFunc("/api/stop", s.handleStop)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/", s.handleRoot)
}

// Presenter implementation

// Highlight implements panel.Presenter
func (s *Server) Highlight(group panel.Group, control string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch group {
	case panel.GroupAddress:
		s.hostSel.Select(control)
	case panel.GroupProtocol:
		s.protoSel.Select(control)
	}
}

// SetLoading implements panel.Presenter
func (s *Server) SetLoading(visible bool) {
	s.mu.Lock()
	s.loading = visible
	s.mu.Unlock()
}

// ShowResults implements panel.Presenter
func (s *Server) ShowResults() {
	s.mu.Lock()
	s.resultsOn = true
	s.mu.Unlock()
}

// RenderBlocks implements panel.Presenter
func (s *Server) RenderBlocks(blocks []panel.Block) {
	s.mu.Lock()
	s.blocks = blocks
	s.text = ""
	s.mu.Unlock()
}

// RenderText implements panel.Presenter
func (s *Server) RenderText(text string) {
	s.mu.Lock()
	s.blocks = nil
	s.text = text
	s.mu.Unlock()
}

// Alert implements panel.Presenter. Alerts queue until fetched.
func (s *Server) Alert(msg string) {
	s.mu.Lock()
	s.alerts = append(s.alerts, msg)
	s.mu.Unlock()
}

// Snapshot returns the current view
func (s *Server) Snapshot() View {
	v := View{Timestamp: time.Now().Unix()}

	// The controller calls into the presenter with its own lock held,
	// so read it before taking ours.
	if s.ctrl != nil {
		st := s.ctrl.State()
		v.Address = st.Address
		v.Protocol = string(st.Protocol)
		v.Busy = s.ctrl.Busy()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v.Loading = s.loading
	v.ResultsVisible = s.resultsOn
	v.Text = s.text
	v.PendingAlerts = len(s.alerts)
	v.SelectedHost, _ = s.hostSel.Selected()
	v.SelectedProto, _ = s.protoSel.Selected()
	if s.blocks != nil {
		v.Blocks = make([][]string, 0, len(s.blocks))
		for _, b := range s.blocks {
			v.Blocks = append(v.Blocks, append([]string{}, b...))
		}
	}
	return v
}

// DrainAlerts returns and clears the queued alerts
func (s *Server) DrainAlerts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.alerts
	s.alerts = nil
	if out == nil {
		out = []string{}
	}
	return out
}

// Handlers

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>iperf Panel</title>
    <style>
        body { font-family: system-ui, sans-serif; background: #1a1a2e; color: #eee; margin: 40px; }
        h1 { color: #0f0; }
        h2 { color: #4da6ff; }
        .card { background: #16213e; padding: 20px; border-radius: 8px; margin: 10px 0; }
        pre { background: #0f0f23; padding: 10px; border-radius: 4px; overflow-x: auto; font-size: 13px; }
        a { color: #4da6ff; }
        li { margin: 5px 0; }
    </style>
</head>
<body>
    <h1>iperf Panel</h1>
    <div class="card">
        <h2>API Endpoints</h2>
        <ul>
            <li><a href="/api/state">GET /api/state</a> - Selection, loader and rendered results</li>
            <li><a href="/api/hosts">GET /api/hosts</a> - Selectable hosts</li>
            <li><a href="/api/alerts">GET /api/alerts</a> - Pending dialogs (cleared on read)</li>
            <li>POST /api/address - Select destination</li>
            <li>POST /api/protocol - Select protocol and restart iperf servers</li>
            <li>POST /api/start - Start test</li>
            <li>POST /api/stop - Stop test</li>
            <li><a href="/api/health">GET /api/health</a> - Health check</li>
            <li><a href="/metrics">GET /metrics</a> - Prometheus metrics</li>
        </ul>
    </div>
    <div class="card">
        <h2>Run a UDP test to h2</h2>
        <pre>curl -X POST http://localhost%s/api/address -d '{"host":"h2"}'
curl -X POST http://localhost%s/api/protocol -d '{"protocol":"UDP"}'
curl -X POST http://localhost%s/api/start -d '{"rate":"10M"}'
curl http://localhost%s/api/alerts</pre>
    </div>
</body>
</html>`, s.addr, s.addr, s.addr, s.addr)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   Version,
	})
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type host struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	hosts := make([]host, 0, len(s.hosts))
	for _, h := range s.hosts {
		hosts = append(hosts, host{Name: h.Name, Address: h.Address})
	}
	writeJSON(w, http.StatusOK, hosts)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.DrainAlerts())
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	if !s.checkAction(w, r) {
		return
	}

	var req AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		http.Error(w, "Invalid request: host is required", http.StatusBadRequest)
		return
	}

	h := s.resolveHost(req.Host)
	s.ctrl.SelectAddress(h.Address, h.Name)
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	if !s.checkAction(w, r) {
		return
	}

	var req ProtocolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	proto, err := iperfapi.ParseProtocol(req.Protocol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The outcome of the restart is reported through the alert queue
	if err := s.ctrl.ChooseProtocol(r.Context(), proto, string(proto)); err != nil {
		log.Warningf("restart in %s mode: %v", proto, err)
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.checkAction(w, r) {
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	err := s.ctrl.StartTest(r.Context(), req.Rate)
	writeJSON(w, actionStatus(err), s.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.checkAction(w, r) {
		return
	}

	err := s.ctrl.StopTest(r.Context())
	writeJSON(w, actionStatus(err), s.Snapshot())
}

func (s *Server) checkAction(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if s.ctrl == nil {
		http.Error(w, "Panel not ready", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) resolveHost(nameOrAddr string) config.Host {
	cfg := config.Config{Hosts: s.hosts}
	return cfg.ResolveHost(nameOrAddr)
}

func actionStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, panel.ErrMissingParameters):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.mux,
		ReadTimeout: 10 * time.Second,
	}

	log.Infof("Starting server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Handler returns the HTTP handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
