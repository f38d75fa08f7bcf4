package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

var errPromptCancelled = errors.New("no requirement given")

// promptModel asks for a single line of input.
type promptModel struct {
	input     textinput.Model
	submitted bool
	cancelled bool
}

func newPromptModel() promptModel {
	ti := textinput.New()
	ti.Placeholder = "a CLI calculator that supports add, subtract, multiply and divide"
	ti.Prompt = "› "
	ti.CharLimit = 2000
	ti.Width = 80
	ti.Focus()
	return promptModel{input: ti}
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			if strings.TrimSpace(m.input.Value()) == "" {
				return m, nil
			}
			m.submitted = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s\n",
		headerStyle.Render("What should forge build?"),
		m.input.View(),
		dimStyle.Render("enter to start, esc to cancel"))
}

func (m promptModel) requirement() (string, error) {
	if !m.submitted {
		return "", errPromptCancelled
	}
	return strings.TrimSpace(m.input.Value()), nil
}

// promptRequirement runs the interactive prompt on in and out.
func promptRequirement(in io.Reader, out io.Writer) (string, error) {
	final, err := tea.NewProgram(newPromptModel(), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	return final.(promptModel).requirement()
}
