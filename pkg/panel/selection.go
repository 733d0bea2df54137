package panel

// SelectionGroup tracks which control of a mutually exclusive group is
// selected. At most one control is selected at any time.
type SelectionGroup struct {
	controls []string
	selected int
}

// NewSelectionGroup creates a group with nothing selected
func NewSelectionGroup(controls ...string) *SelectionGroup {
	return &SelectionGroup{
		controls: append([]string(nil), controls...),
		selected: -1,
	}
}

// Select marks control as selected and clears every other control.
// An unknown control joins the group first.
func (g *SelectionGroup) Select(control string) {
	for i, c := range g.controls {
		if c == control {
			g.selected = i
			return
		}
	}
	g.controls = append(g.controls, control)
	g.selected = len(g.controls) - 1
}

// Selected returns the selected control
func (g *SelectionGroup) Selected() (string, bool) {
	if g.selected < 0 {
		return "", false
	}
	return g.controls[g.selected], true
}

// IsSelected reports whether control is the selected one
func (g *SelectionGroup) IsSelected(control string) bool {
	s, ok := g.Selected()
	return ok && s == control
}

// Controls returns the group members in order
func (g *SelectionGroup) Controls() []string {
	return append([]string(nil), g.controls...)
}
