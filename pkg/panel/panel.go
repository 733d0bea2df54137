// Package panel implements the test control panel: the user's selection,
// start/stop/restart actions against the iperf service, and the decisions
// about what to show. Drawing is left to a Presenter.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/krisarmstrong/iperf-panel/pkg/iperfapi"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("panel")

// User facing messages
const (
	MsgMissingParameters = "Select all parameters before starting."
	MsgRestartFailed     = "An error occurred while restarting iperf."
	MsgStartFailed       = "An error occurred while starting iperf."
	MsgStopFailed        = "An error occurred while stopping iperf."
)

var (
	// ErrMissingParameters is returned by StartTest when address,
	// protocol or rate is missing
	ErrMissingParameters = errors.New("missing test parameters")

	// ErrService wraps an error reported by the service itself
	ErrService = errors.New("service error")
)

// Group identifies a set of mutually exclusive controls
type Group string

const (
	GroupAddress  Group = "address"
	GroupProtocol Group = "protocol"
)

// Block is one rendered result record, one line per field
type Block []string

// Presenter draws the panel. Implementations may be called from any
// goroutine, with the Controller's lock held, and must not call back into
// the Controller synchronously.
type Presenter interface {
	// Highlight marks control as the selected one of group
	// and clears the mark from every other control of that group.
	Highlight(group Group, control string)
	SetLoading(visible bool)
	ShowResults()
	RenderBlocks(blocks []Block)
	RenderText(text string)
	// Alert shows a dialog the user has to acknowledge
	Alert(msg string)
}

// Service is the remote test service
type Service interface {
	Start(ctx context.Context, req iperfapi.StartRequest) (*iperfapi.StartResponse, error)
	Stop(ctx context.Context) (*iperfapi.StopResponse, error)
	Restart(ctx context.Context, proto iperfapi.Protocol) (*iperfapi.RestartResponse, error)
}

// State is the user's current selection
type State struct {
	Address  string
	Protocol iperfapi.Protocol
}

// Ready reports whether address and protocol are both set
func (s State) Ready() bool {
	return s.Address != "" && s.Protocol != ""
}

// Controller owns the panel state and drives the service
type Controller struct {
	svc  Service
	view Presenter

	notifyTransportErrors bool
	metrics               *Metrics

	mu    sync.Mutex
	state State
	busy  int
}

// Option for controller configuration
type Option func(*Controller)

// WithTransportAlerts also alerts the user when a start or stop request
// fails in transport. By default those failures are only logged.
func WithTransportAlerts(enabled bool) Option {
	return func(c *Controller) {
		c.notifyTransportErrors = enabled
	}
}

// WithMetrics records action outcomes and the in-flight count in m
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New creates a controller
func New(svc Service, view Presenter, opts ...Option) *Controller {
	c := &Controller{
		svc:  svc,
		view: view,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the current selection
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a start or stop request is outstanding
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy > 0
}

// SelectProtocol records the protocol and highlights its control.
// Both happen under the lock, so concurrent selections cannot leave the
// state and the highlighted control disagreeing.
func (c *Controller) SelectProtocol(proto iperfapi.Protocol, control string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Protocol = proto
	c.view.Highlight(GroupProtocol, control)
}

// SelectAddress records the destination and highlights its control
func (c *Controller) SelectAddress(addr, control string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Address = addr
	c.view.Highlight(GroupAddress, control)
}

// ChooseProtocol is what a protocol button does: select it, then restart
// the servers in that mode. The selection stays even if the restart fails.
func (c *Controller) ChooseProtocol(ctx context.Context, proto iperfapi.Protocol, control string) error {
	c.SelectProtocol(proto, control)
	return c.RestartTest(ctx, proto)
}

// StartTest validates the selection and rate, then runs a test and
// renders its output.
func (c *Controller) StartTest(ctx context.Context, rate string) error {
	st := c.State()
	rate = strings.TrimSpace(rate)
	if !st.Ready() || rate == "" {
		c.view.Alert(MsgMissingParameters)
		c.metrics.observe(ActionStart, OutcomeInvalid)
		return ErrMissingParameters
	}

	c.begin()
	resp, err := c.svc.Start(ctx, iperfapi.StartRequest{
		Address:  st.Address,
		Rate:     rate,
		Protocol: st.Protocol,
	})
	c.end()

	if err != nil {
		log.Errorf("start iperf to %s: %v", st.Address, err)
		c.metrics.observe(ActionStart, OutcomeTransport)
		if c.notifyTransportErrors {
			c.view.Alert(MsgStartFailed)
		}
		return err
	}
	log.Infof("iperf %s to %s at %s: %s", st.Protocol, st.Address, rate, resp.Status)
	if resp.Status == "error" {
		c.metrics.observe(ActionStart, OutcomeService)
	} else {
		c.metrics.observe(ActionStart, OutcomeOK)
	}

	c.view.ShowResults()
	if resp.Output == nil {
		c.view.RenderText(resp.Message)
		return nil
	}

	switch resp.Output.Kind {
	case iperfapi.OutputRecords:
		c.view.RenderBlocks(FormatRecords(resp.Output.Records))
	case iperfapi.OutputText:
		c.view.RenderText(resp.Output.Text)
	default:
		return fmt.Errorf("unknown output kind %d", resp.Output.Kind)
	}
	return nil
}

// StopTest stops the running test and shows the service's message
func (c *Controller) StopTest(ctx context.Context) error {
	c.begin()
	resp, err := c.svc.Stop(ctx)
	c.end()

	if err != nil {
		log.Errorf("stop iperf: %v", err)
		c.metrics.observe(ActionStop, OutcomeTransport)
		if c.notifyTransportErrors {
			c.view.Alert(MsgStopFailed)
		}
		return err
	}

	c.metrics.observe(ActionStop, OutcomeOK)
	c.view.RenderText(resp.Message)
	return nil
}

// RestartTest restarts the iperf servers in the given mode and reports
// the outcome in a dialog. It does not change the selection.
func (c *Controller) RestartTest(ctx context.Context, proto iperfapi.Protocol) error {
	resp, err := c.svc.Restart(ctx, proto)
	if err != nil {
		log.Errorf("restart iperf (%s): %v", proto, err)
		c.metrics.observe(ActionRestart, OutcomeTransport)
		c.view.Alert(MsgRestartFailed)
		return err
	}

	switch {
	case resp.Status != "":
		c.view.Alert(resp.Status)
	case resp.Error != "":
		c.view.Alert("Error: " + resp.Error)
		c.metrics.observe(ActionRestart, OutcomeService)
		return fmt.Errorf("%w: %s", ErrService, resp.Error)
	}
	c.metrics.observe(ActionRestart, OutcomeOK)
	return nil
}

// begin and end bracket a start or stop request. The loader follows the
// number of outstanding requests so overlapping calls cannot hide it early.
func (c *Controller) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy++
	c.metrics.inFlight(c.busy)
	if c.busy == 1 {
		c.view.SetLoading(true)
	}
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy == 0 {
		return
	}
	c.busy--
	c.metrics.inFlight(c.busy)
	if c.busy == 0 {
		c.view.SetLoading(false)
	}
}

// FormatRecords turns records into blocks of "<field>: <value>" lines,
// keeping record and field order.
func FormatRecords(records []iperfapi.Record) []Block {
	blocks := make([]Block, 0, len(records))
	for _, rec := range records {
		block := make(Block, 0, len(rec.Fields))
		for _, f := range rec.Fields {
			block = append(block, f.Name+": "+f.Value)
		}
		blocks = append(blocks, block)
	}
	return blocks
}
