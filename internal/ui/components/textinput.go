package components

import (
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/ui/theme"
)

// TextInput wraps bubbles/textinput with a label and an optional
// character filter.
type TextInput struct {
	Model textinput.Model
	Label string
	// Allowed restricts typed characters. Empty means anything.
	Allowed string
}

// NewTextInput creates a focused text input.
func NewTextInput(label, placeholder string, limit, width int) TextInput {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "› "
	if limit > 0 {
		ti.CharLimit = limit
	}
	if width > 0 {
		ti.SetWidth(width)
	}
	ti.Focus()
	return TextInput{Model: ti, Label: label}
}

// Init returns the initial command.
func (t TextInput) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages.
func (t TextInput) Update(msg tea.Msg) (TextInput, tea.Cmd) {
	if kmsg, ok := msg.(tea.KeyPressMsg); ok && t.Allowed != "" && kmsg.Text != "" {
		for _, r := range kmsg.Text {
			if !strings.ContainsRune(t.Allowed, r) {
				return t, nil
			}
		}
	}
	var cmd tea.Cmd
	t.Model, cmd = t.Model.Update(msg)
	return t, cmd
}

// View renders the label and the input.
func (t TextInput) View() string {
	view := t.Model.View()
	if t.Label == "" {
		return view
	}
	color := theme.TextDim
	if t.Model.Focused() {
		color = theme.Primary
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(t.Label) + "\n" + view
}

// Value returns the current input value.
func (t TextInput) Value() string {
	return t.Model.Value()
}

// Focused reports whether the input takes key presses.
func (t TextInput) Focused() bool {
	return t.Model.Focused()
}

// Focus focuses the input.
func (t *TextInput) Focus() tea.Cmd {
	return t.Model.Focus()
}

// Blur removes focus.
func (t *TextInput) Blur() {
	t.Model.Blur()
}

// Reset clears the input.
func (t *TextInput) Reset() {
	t.Model.Reset()
}
