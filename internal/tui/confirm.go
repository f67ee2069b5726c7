package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DestroyRequest describes the VM about to be destroyed.
type DestroyRequest struct {
	VMID int
	Name string
}

// DestroyResult is the response from the user.
type DestroyResult struct {
	Approved bool
}

type confirmStyles struct {
	dialog      lipgloss.Style
	title       lipgloss.Style
	info        lipgloss.Style
	highlight   lipgloss.Style
	warning     lipgloss.Style
	button      lipgloss.Style
	buttonFocus lipgloss.Style
	help        lipgloss.Style
}

func newConfirmStyles() confirmStyles {
	return confirmStyles{
		dialog: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#EF4444")).
			Padding(1, 2),
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#EF4444")).
			MarginBottom(1),
		info: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94A3B8")),
		highlight: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F8FAFC")),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FACC15")),
		button: lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#475569")),
		buttonFocus: lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#EF4444")).
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			MarginTop(1),
	}
}

type confirmKeyMap struct {
	Left   key.Binding
	Right  key.Binding
	Enter  key.Binding
	Escape key.Binding
	Tab    key.Binding
	Yes    key.Binding
	No     key.Binding
}

var confirmKeys = confirmKeyMap{
	Left: key.NewBinding(
		key.WithKeys("left", "h"),
		key.WithHelp("<-/h", "select"),
	),
	Right: key.NewBinding(
		key.WithKeys("right", "l"),
		key.WithHelp("->/l", "select"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "confirm"),
	),
	Escape: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "toggle"),
	),
	Yes: key.NewBinding(
		key.WithKeys("y", "Y"),
		key.WithHelp("y", "approve"),
	),
	No: key.NewBinding(
		key.WithKeys("n", "N"),
		key.WithHelp("n", "deny"),
	),
}

// ConfirmModel is a Bubble Tea model for confirming VM destruction.
type ConfirmModel struct {
	request  DestroyRequest
	selected int // 0 = No (default safe option), 1 = Yes
	width    int
	height   int
	styles   confirmStyles

	resultChan chan<- DestroyResult
}

func NewConfirmModel(request DestroyRequest, resultChan chan<- DestroyResult) ConfirmModel {
	return ConfirmModel{
		request:    request,
		selected:   0, // Default to "No" for safety
		styles:     newConfirmStyles(),
		resultChan: resultChan,
	}
}

// Init implements tea.Model
func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, confirmKeys.Left):
			m.selected = 0
		case key.Matches(msg, confirmKeys.Right):
			m.selected = 1
		case key.Matches(msg, confirmKeys.Tab):
			m.selected = (m.selected + 1) % 2
		case key.Matches(msg, confirmKeys.Yes):
			m.selected = 1
			return m.confirm()
		case key.Matches(msg, confirmKeys.No), key.Matches(msg, confirmKeys.Escape):
			m.selected = 0
			return m.confirm()
		case key.Matches(msg, confirmKeys.Enter):
			return m.confirm()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}
	return m, nil
}

func (m ConfirmModel) confirm() (tea.Model, tea.Cmd) {
	if m.resultChan != nil {
		m.resultChan <- DestroyResult{Approved: m.selected == 1}
	}
	return m, tea.Quit
}

// View implements tea.Model
func (m ConfirmModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("! Destroy VM"))
	b.WriteString("\n\n")

	name := m.request.Name
	if name == "" {
		name = "(unnamed)"
	}
	b.WriteString(m.styles.info.Render(fmt.Sprintf("VM: %s (vmid %d)", m.styles.highlight.Render(name), m.request.VMID)))
	b.WriteString("\n\n")

	b.WriteString(m.styles.warning.Render("This deletes the VM and all of its disks."))
	b.WriteString("\n\n")

	b.WriteString(m.styles.highlight.Render("Destroy this VM?"))
	b.WriteString("\n\n")

	var noBtn, yesBtn string
	if m.selected == 0 {
		noBtn = m.styles.buttonFocus.Render(" [ No ] ")
		yesBtn = m.styles.button.Render("   Yes   ")
	} else {
		noBtn = m.styles.button.Render("   No   ")
		yesBtn = m.styles.buttonFocus.Render(" [ Yes ] ")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, noBtn, "    ", yesBtn))
	b.WriteString("\n\n")

	b.WriteString(m.styles.help.Render("  <-/-> or Tab: select | Enter: confirm | y/n: quick select | Esc: cancel"))

	content := m.styles.dialog.Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	return content
}

// RunDestroyConfirm shows the destroy confirmation and blocks until
// answered. The safe default is No.
func RunDestroyConfirm(request DestroyRequest) (bool, error) {
	resultChan := make(chan DestroyResult, 1)
	model := NewConfirmModel(request, resultChan)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return false, err
	}

	select {
	case result := <-resultChan:
		return result.Approved, nil
	default:
		return false, nil
	}
}
