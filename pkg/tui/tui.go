// Package tui provides a terminal user interface for the iperf panel
package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/krisarmstrong/iperf-panel/pkg/config"
	"github.com/krisarmstrong/iperf-panel/pkg/iperfapi"
	"github.com/krisarmstrong/iperf-panel/pkg/panel"
	"github.com/op/go-logging"
	"github.com/rivo/tview"
)

const keyHelp = "[yellow]iperf Panel[white] | [green]F1[white] Start | [red]F2[white] Stop | [blue]Tab[white] Next | [blue]F10[white] Quit"

var (
	styleIdle     = tcell.StyleDefault.Background(tcell.ColorDarkSlateGray).Foreground(tcell.ColorWhite)
	styleSelected = tcell.StyleDefault.Background(tcell.ColorGreen).Foreground(tcell.ColorBlack).Bold(true)
)

// App represents the TUI application. It implements panel.Presenter.
type App struct {
	app         *tview.Application
	pages       *tview.Pages
	right       *tview.Flex
	form        *tview.Flex
	rateField   *tview.InputField
	startBtn    *tview.Button
	stopBtn     *tview.Button
	loader      *tview.TextView
	resultsView *tview.TextView
	logView     *tview.TextView
	statusBar   *tview.TextView

	groups  map[panel.Group]*panel.SelectionGroup
	buttons map[panel.Group]map[string]*tview.Button
	labels  map[*tview.Button]string
	alerts  int

	// Callbacks, run on their own goroutine
	OnSelectHost     func(h config.Host)
	OnChooseProtocol func(p iperfapi.Protocol)
	OnStart          func(rate string)
	OnStop           func()
	OnQuit           func()
}

// New creates a new TUI application for the given hosts
func New(hosts []config.Host, rate string) *App {
	a := &App{
		app:     tview.NewApplication(),
		pages:   tview.NewPages(),
		groups:  make(map[panel.Group]*panel.SelectionGroup),
		buttons: make(map[panel.Group]map[string]*tview.Button),
		labels:  make(map[*tview.Button]string),
	}
	a.build(hosts, rate)
	return a
}

func (a *App) build(hosts []config.Host, rate string) {
	a.form = tview.NewFlex().SetDirection(tview.FlexRow)
	a.form.SetTitle(" Test ").SetBorder(true)

	// Hosts
	a.form.AddItem(sectionLabel("Destination"), 1, 0, false)
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h := h
		names = append(names, h.Name)
		btn := a.addButton(panel.GroupAddress, h.Name, fmt.Sprintf("%s  %s", h.Name, h.Address), func() {
			if a.OnSelectHost != nil {
				go a.OnSelectHost(h)
			}
		})
		a.form.AddItem(btn, 1, 0, false)
	}
	a.groups[panel.GroupAddress] = panel.NewSelectionGroup(names...)

	// Protocols
	a.form.AddItem(spacer(), 1, 0, false)
	a.form.AddItem(sectionLabel("Protocol"), 1, 0, false)
	protoRow := tview.NewFlex()
	protos := make([]string, 0, len(iperfapi.Protocols))
	for _, p := range iperfapi.Protocols {
		p := p
		protos = append(protos, string(p))
		btn := a.addButton(panel.GroupProtocol, string(p), string(p), func() {
			if a.OnChooseProtocol != nil {
				go a.OnChooseProtocol(p)
			}
		})
		protoRow.AddItem(btn, 0, 1, false).AddItem(spacer(), 1, 0, false)
	}
	a.groups[panel.GroupProtocol] = panel.NewSelectionGroup(protos...)
	a.form.AddItem(protoRow, 1, 0, false)

	// Rate
	a.form.AddItem(spacer(), 1, 0, false)
	a.rateField = tview.NewInputField().
		SetLabel("Rate: ").
		SetText(rate).
		SetPlaceholder("e.g. 10M")
	a.form.AddItem(a.rateField, 1, 0, false)

	// Actions
	a.form.AddItem(spacer(), 1, 0, false)
	a.startBtn = tview.NewButton("Start").SetSelectedFunc(a.start)
	a.stopBtn = tview.NewButton("Stop").SetSelectedFunc(a.stop)
	actions := tview.NewFlex().
		AddItem(a.startBtn, 0, 1, false).
		AddItem(spacer(), 1, 0, false).
		AddItem(a.stopBtn, 0, 1, false)
	a.form.AddItem(actions, 1, 0, false)

	a.loader = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.form.AddItem(a.loader, 1, 0, false)
	a.form.AddItem(spacer(), 0, 1, false)

	// Results stay collapsed until the first test result
	a.resultsView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.resultsView.SetTitle(" Results ").SetBorder(true)

	a.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.logView.SetTitle(" Log ").SetBorder(true)

	a.right = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.resultsView, 0, 0, false).
		AddItem(a.logView, 0, 1, false)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.statusBar.SetText(keyHelp)

	topRow := tview.NewFlex().
		AddItem(a.form, 36, 0, true).
		AddItem(a.right, 0, 1, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.pages.AddPage("main", mainFlex, true, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			a.start()
			return nil
		case tcell.KeyF2:
			a.stop()
			return nil
		case tcell.KeyF10:
			a.quit()
			return nil
		case tcell.KeyEscape:
			if a.alerts == 0 {
				a.quit()
				return nil
			}
		case tcell.KeyTab:
			if a.alerts == 0 {
				a.focusNext()
				return nil
			}
		}
		return event
	})

	a.app.SetRoot(a.pages, true)
	a.app.SetFocus(a.rateField)
}

func (a *App) addButton(group panel.Group, control, label string, selected func()) *tview.Button {
	btn := tview.NewButton(label).SetSelectedFunc(selected)
	btn.SetStyle(styleIdle)
	if a.buttons[group] == nil {
		a.buttons[group] = make(map[string]*tview.Button)
	}
	a.buttons[group][control] = btn
	a.labels[btn] = label
	return btn
}

// start and stop run on the UI goroutine, so the rate field is read here
func (a *App) start() {
	if a.OnStart != nil {
		rate := a.rateField.GetText()
		go a.OnStart(rate)
	}
}

func (a *App) stop() {
	if a.OnStop != nil {
		go a.OnStop()
	}
}

func (a *App) quit() {
	if a.OnQuit != nil {
		a.OnQuit()
	}
	a.app.Stop()
}

// focusNext cycles focus over the host and protocol buttons, the rate
// field and the Start/Stop buttons, in screen order
func (a *App) focusNext() {
	var items []tview.Primitive
	for _, g := range []panel.Group{panel.GroupAddress, panel.GroupProtocol} {
		for _, c := range a.groups[g].Controls() {
			items = append(items, a.buttons[g][c])
		}
	}
	items = append(items, a.rateField, a.startBtn, a.stopBtn)

	current := a.app.GetFocus()
	for i, p := range items {
		if p == current {
			a.app.SetFocus(items[(i+1)%len(items)])
			return
		}
	}
	a.app.SetFocus(items[0])
}

// Highlight implements panel.Presenter
func (a *App) Highlight(group panel.Group, control string) {
	a.app.QueueUpdateDraw(func() {
		g, ok := a.groups[group]
		if !ok {
			return
		}
		g.Select(control)
		for _, c := range g.Controls() {
			btn, ok := a.buttons[group][c]
			if !ok {
				continue
			}
			if g.IsSelected(c) {
				btn.SetStyle(styleSelected)
				btn.SetLabel("> " + a.labels[btn])
			} else {
				btn.SetStyle(styleIdle)
				btn.SetLabel(a.labels[btn])
			}
		}
	})
}

// SetLoading implements panel.Presenter
func (a *App) SetLoading(visible bool) {
	a.app.QueueUpdateDraw(func() {
		if visible {
			a.loader.SetText("[yellow]Running...")
		} else {
			a.loader.SetText("")
		}
	})
}

// ShowResults implements panel.Presenter
func (a *App) ShowResults() {
	a.app.QueueUpdateDraw(func() {
		a.right.ResizeItem(a.resultsView, 0, 3)
	})
}

// RenderBlocks implements panel.Presenter
func (a *App) RenderBlocks(blocks []panel.Block) {
	a.app.QueueUpdateDraw(func() {
		a.resultsView.SetText(FormatBlocks(blocks))
		a.resultsView.ScrollToBeginning()
	})
}

// RenderText implements panel.Presenter
func (a *App) RenderText(text string) {
	a.app.QueueUpdateDraw(func() {
		a.resultsView.SetText(tview.Escape(text))
		a.resultsView.ScrollToBeginning()
	})
}

// Alert implements panel.Presenter
func (a *App) Alert(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.alerts++
		name := fmt.Sprintf("alert-%d", a.alerts)
		modal := tview.NewModal().
			SetText(msg).
			AddButtons([]string{"OK"}).
			SetDoneFunc(func(int, string) {
				a.pages.RemovePage(name)
				a.alerts--
				if a.alerts == 0 {
					a.app.SetFocus(a.rateField)
				}
			})
		a.pages.AddPage(name, modal, true, true)
		a.app.SetFocus(modal)
	})
}

// Log adds a line from the log backend to the log view
func (a *App) Log(level logging.Level, line string) {
	color := "white"
	switch level {
	case logging.CRITICAL, logging.ERROR:
		color = "red"
	case logging.WARNING:
		color = "yellow"
	case logging.DEBUG:
		color = "gray"
	}
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.logView, "[%s]%s[white]\n", color, tview.Escape(strings.TrimRight(line, "\n")))
		a.logView.ScrollToEnd()
	})
}

// SetStatus shows msg in the status bar after the key help
func (a *App) SetStatus(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetText(keyHelp + " | " + tview.Escape(msg))
	})
}

// Run starts the TUI application
func (a *App) Run() error {
	return a.app.Run()
}

// Stop stops the TUI application
func (a *App) Stop() {
	a.app.Stop()
}

// FormatBlocks renders result blocks for the results view: one line per
// field, a blank line between records.
func FormatBlocks(blocks []panel.Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[yellow]#%d[white]\n", i+1)
		for _, line := range b {
			sb.WriteString(tview.Escape(line))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func sectionLabel(text string) *tview.TextView {
	return tview.NewTextView().SetDynamicColors(true).SetText("[yellow]" + text)
}

func spacer() *tview.Box {
	return tview.NewBox()
}
