// iperf Panel - control panel for the Mininet iperf test service
//
// Select a destination host, a transport protocol and a rate, then start,
// stop or restart iperf on the remote testbed and view the results:
// - Terminal UI (--tui, default)
// - Local web API (--web :8080)
// - One-shot commands (start, stop, restart)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krisarmstrong/iperf-panel/pkg/config"
	"github.com/krisarmstrong/iperf-panel/pkg/console"
	"github.com/krisarmstrong/iperf-panel/pkg/iperfapi"
	"github.com/krisarmstrong/iperf-panel/pkg/logx"
	"github.com/krisarmstrong/iperf-panel/pkg/panel"
	"github.com/krisarmstrong/iperf-panel/pkg/tui"
	"github.com/krisarmstrong/iperf-panel/pkg/web"
	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var log = logging.MustGetLogger("main")

var (
	version   = "1.0.0"
	cfgFile   string
	serverURL string
	timeout   time.Duration
	webAddr   string
	useTUI    bool
	jsonOut   bool
	verbose   bool

	address  string
	protocol string
	rate     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "iperfpanel",
		Short: "iperf Panel - drive iperf tests on a Mininet testbed",
		Long: `iperf Panel v1

Control panel for the Mininet iperf test service:
  - Select destination host, protocol (TCP/UDP) and rate
  - Start and stop iperf tests, view per-interval results
  - Restart the iperf servers in TCP or UDP mode

Examples:
  # Terminal UI against a local testbed
  iperfpanel -s http://127.0.0.1:5000

  # Web API on :8080
  iperfpanel --web :8080

  # One-shot UDP test to h2 at 10 Mbit/s
  iperfpanel start -a h2 -p udp -r 10M

  # Use config file
  iperfpanel -c config.yaml`,
		Run: runMain,
	}

	// Flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Test service URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Request timeout (0 = none)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON output for one-shot commands")
	rootCmd.Flags().StringVar(&webAddr, "web", "", "Enable Web UI on address (e.g., :8080)")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Enable terminal UI")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a test and print its results",
		Run:   runStart,
	}
	startCmd.Flags().StringVarP(&address, "address", "a", "", "Destination host name or address")
	startCmd.Flags().StringVarP(&protocol, "protocol", "p", "", "Protocol: TCP or UDP")
	startCmd.Flags().StringVarP(&rate, "rate", "r", "", "Target rate (e.g. 10M)")

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the iperf servers in TCP or UDP mode",
		Run:   runRestart,
	}
	restartCmd.Flags().StringVarP(&protocol, "protocol", "p", "", "Protocol: TCP or UDP")

	rootCmd.AddCommand(startCmd, restartCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running test",
		Run:   runStop,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "hosts",
		Short: "List configured hosts",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			for _, h := range cfg.Hosts {
				fmt.Printf("%-8s %s\n", h.Name, h.Address)
			}
		},
	})

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("iperf Panel v%s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies CLI overrides
func loadConfig() *config.Config {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Override with CLI flags
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if timeout != 0 {
		cfg.RequestTimeout = timeout
	}
	if webAddr != "" {
		cfg.WebUI.Enabled = true
		cfg.WebUI.Address = webAddr
	}
	if jsonOut {
		cfg.OutputFormat = config.FormatJSON
	}
	if verbose {
		cfg.Verbose = true
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newClient(cfg *config.Config) *iperfapi.Client {
	return iperfapi.New(cfg.ServerURL, iperfapi.WithTimeout(cfg.RequestTimeout))
}

func setupLogging(cfg *config.Config) {
	if _, err := logx.Setup(os.Stderr, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Mode selection
	if cfg.WebUI.Enabled && !useTUI {
		runWebOnly(cfg, sigCh)
	} else {
		runTUI(cfg, sigCh)
	}
}

func runTUI(cfg *config.Config, sigCh chan os.Signal) {
	app := tui.New(cfg.Hosts, cfg.Rate)

	// Log lines go to the log pane instead of the terminal
	if _, err := logx.SetupBackend(logx.FuncBackend(app.Log), cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctrl := panel.New(newClient(cfg), app, panel.WithTransportAlerts(cfg.NotifyTransportErrors))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.OnSelectHost = func(h config.Host) {
		ctrl.SelectAddress(h.Address, h.Name)
		log.Infof("Destination %s (%s)", h.Name, h.Address)
	}
	app.OnChooseProtocol = func(p iperfapi.Protocol) {
		ctrl.ChooseProtocol(ctx, p, string(p))
	}
	app.OnStart = func(rate string) {
		ctrl.StartTest(ctx, rate)
	}
	app.OnStop = func() {
		ctrl.StopTest(ctx)
	}
	app.OnQuit = func() {
		log.Info("Shutting down...")
		cancel()
	}

	// UI updates block until the event loop runs them
	go func() {
		app.SetStatus("Service " + cfg.ServerURL)

		// Preselect the configured protocol without restarting the servers
		if cfg.Protocol != "" {
			ctrl.SelectProtocol(cfg.Protocol, string(cfg.Protocol))
		}

		log.Infof("iperf Panel v%s", version)
		log.Infof("Test service: %s", cfg.ServerURL)
		log.Info("Pick a host and a protocol, then press F1 to start")
	}()

	// Handle signals
	go func() {
		<-sigCh
		cancel()
		app.Stop()
	}()

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		os.Exit(1)
	}
}

func runWebOnly(cfg *config.Config, sigCh chan os.Signal) {
	setupLogging(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := web.New(cfg.WebUI.Address, web.WithHosts(cfg.Hosts), web.WithGatherer(reg))
	ctrl := panel.New(newClient(cfg), srv,
		panel.WithTransportAlerts(cfg.NotifyTransportErrors),
		panel.WithMetrics(panel.NewMetrics(reg)),
	)
	srv.Attach(ctrl)

	if cfg.Protocol != "" {
		ctrl.SelectProtocol(cfg.Protocol, string(cfg.Protocol))
	}

	// Handle signals
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		srv.Stop()
	}()

	log.Infof("iperf Panel v%s", version)
	log.Infof("Test service: %s", cfg.ServerURL)
	log.Infof("Web UI: http://localhost%s", cfg.WebUI.Address)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Web server error: %v", err)
	}
}

// oneShot builds a controller that prints to stdout and a context
// cancelled by SIGINT/SIGTERM.
func oneShot() (*config.Config, *panel.Controller, *console.Console, context.Context, context.CancelFunc) {
	cfg := loadConfig()
	setupLogging(cfg)

	out := console.New(os.Stdout, cfg.OutputFormat == config.FormatJSON)
	ctrl := panel.New(newClient(cfg), out, panel.WithTransportAlerts(cfg.NotifyTransportErrors))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return cfg, ctrl, out, ctx, cancel
}

func finish(out *console.Console, err error) {
	if ferr := out.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) {
	cfg, ctrl, out, ctx, cancel := oneShot()
	defer cancel()

	if address != "" {
		h := cfg.ResolveHost(address)
		ctrl.SelectAddress(h.Address, h.Name)
	}

	proto := cfg.Protocol
	if protocol != "" {
		p, err := iperfapi.ParseProtocol(protocol)
		if err != nil {
			log.Fatalf("%v", err)
		}
		proto = p
	}
	if proto != "" {
		ctrl.SelectProtocol(proto, string(proto))
	}

	r := rate
	if r == "" {
		r = cfg.Rate
	}

	finish(out, ctrl.StartTest(ctx, r))
}

func runStop(cmd *cobra.Command, args []string) {
	_, ctrl, out, ctx, cancel := oneShot()
	defer cancel()

	finish(out, ctrl.StopTest(ctx))
}

func runRestart(cmd *cobra.Command, args []string) {
	cfg, ctrl, out, ctx, cancel := oneShot()
	defer cancel()

	proto := cfg.Protocol
	if protocol != "" {
		p, err := iperfapi.ParseProtocol(protocol)
		if err != nil {
			log.Fatalf("%v", err)
		}
		proto = p
	}
	if proto == "" {
		log.Fatal("Protocol is required. Use -p TCP or -p UDP")
	}

	finish(out, ctrl.RestartTest(ctx, proto))
}
