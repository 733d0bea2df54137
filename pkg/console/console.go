// Package console renders the panel to a terminal for one-shot commands
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/krisarmstrong/iperf-panel/pkg/panel"
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorSubtext = lipgloss.Color("#777777")
	colorWarn    = lipgloss.Color("#F4A956")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleBlock = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtext).
			Padding(0, 1)

	styleDim   = lipgloss.NewStyle().Foreground(colorSubtext)
	styleAlert = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
)

// Console is a panel.Presenter that prints to a writer. In JSON mode
// nothing is printed until Flush.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	json bool

	result Result
}

// Result is what JSON mode emits
type Result struct {
	Blocks [][]string `json:"blocks,omitempty"`
	Text   *string    `json:"text,omitempty"`
	Alerts []string   `json:"alerts,omitempty"`
}

// New creates a console presenter
func New(w io.Writer, jsonOutput bool) *Console {
	return &Console{w: w, json: jsonOutput}
}

// Highlight implements panel.Presenter. Selection is implied by the
// command line, so nothing is drawn.
func (c *Console) Highlight(group panel.Group, control string) {}

// SetLoading implements panel.Presenter
func (c *Console) SetLoading(visible bool) {
	if c.json || !visible {
		return
	}
	c.println(styleDim.Render("Waiting for the test service..."))
}

// ShowResults implements panel.Presenter
func (c *Console) ShowResults() {
	if c.json {
		return
	}
	c.println(styleTitle.Render("Results"))
}

// RenderBlocks implements panel.Presenter
func (c *Console) RenderBlocks(blocks []panel.Block) {
	if c.json {
		c.mu.Lock()
		c.result.Text = nil
		c.result.Blocks = make([][]string, 0, len(blocks))
		for _, b := range blocks {
			c.result.Blocks = append(c.result.Blocks, append([]string{}, b...))
		}
		c.mu.Unlock()
		return
	}
	for _, b := range blocks {
		c.println(styleBlock.Render(strings.Join(b, "\n")))
	}
}

// RenderText implements panel.Presenter
func (c *Console) RenderText(text string) {
	if c.json {
		c.mu.Lock()
		c.result.Blocks = nil
		c.result.Text = &text
		c.mu.Unlock()
		return
	}
	c.println(text)
}

// Alert implements panel.Presenter
func (c *Console) Alert(msg string) {
	if c.json {
		c.mu.Lock()
		c.result.Alerts = append(c.result.Alerts, msg)
		c.mu.Unlock()
		return
	}
	c.println(styleAlert.Render("! " + msg))
}

// Flush writes the collected result in JSON mode
func (c *Console) Flush() error {
	if !c.json {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	enc := json.NewEncoder(c.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}
