// Package tui holds the interactive prompts shown when a flag was left
// unspecified on the command line.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PickResult is the user's OS class selection.
type PickResult struct {
	OSClass  string
	Canceled bool
}

type pickerStyles struct {
	dialog   lipgloss.Style
	title    lipgloss.Style
	item     lipgloss.Style
	cursor   lipgloss.Style
	selected lipgloss.Style
	help     lipgloss.Style
}

func newPickerStyles() pickerStyles {
	return pickerStyles{
		dialog: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(1, 2),
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			MarginBottom(1),
		item: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94A3B8")),
		cursor: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true),
		selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F8FAFC")),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			MarginTop(1),
	}
}

type pickerKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Escape key.Binding
}

var pickerKeys = pickerKeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("up/k", "move up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("down/j", "move down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	Escape: key.NewBinding(
		key.WithKeys("esc", "q", "ctrl+c"),
		key.WithHelp("esc", "cancel"),
	),
}

// PickerModel is a Bubble Tea model listing the configured OS classes.
type PickerModel struct {
	classes []string
	cursor  int
	width   int
	height  int
	styles  pickerStyles

	resultChan chan<- PickResult
}

func NewPickerModel(classes []string, resultChan chan<- PickResult) PickerModel {
	return PickerModel{
		classes:    classes,
		styles:     newPickerStyles(),
		resultChan: resultChan,
	}
}

// Init implements tea.Model
func (m PickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, pickerKeys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, pickerKeys.Down):
			if m.cursor < len(m.classes)-1 {
				m.cursor++
			}
		case key.Matches(msg, pickerKeys.Enter):
			return m.finish(PickResult{OSClass: m.classes[m.cursor]})
		case key.Matches(msg, pickerKeys.Escape):
			return m.finish(PickResult{Canceled: true})
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}
	return m, nil
}

func (m PickerModel) finish(result PickResult) (tea.Model, tea.Cmd) {
	if m.resultChan != nil {
		m.resultChan <- result
	}
	return m, tea.Quit
}

// View implements tea.Model
func (m PickerModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("Select guest OS"))
	b.WriteString("\n\n")

	for i, class := range m.classes {
		if i == m.cursor {
			b.WriteString(m.styles.cursor.Render("> "))
			b.WriteString(m.styles.selected.Render(class))
		} else {
			b.WriteString("  ")
			b.WriteString(m.styles.item.Render(class))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.styles.help.Render("  up/down: move | enter: select | esc: cancel"))

	content := m.styles.dialog.Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	return content
}

// RunPicker shows the OS class picker and blocks until a choice is made.
func RunPicker(classes []string) (string, error) {
	if len(classes) == 0 {
		return "", fmt.Errorf("no OS classes configured")
	}

	resultChan := make(chan PickResult, 1)
	model := NewPickerModel(classes, resultChan)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return "", err
	}

	select {
	case result := <-resultChan:
		if result.Canceled {
			return "", fmt.Errorf("selection canceled")
		}
		return result.OSClass, nil
	default:
		return "", fmt.Errorf("selection canceled")
	}
}
