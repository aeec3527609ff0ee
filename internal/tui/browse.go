// Package tui provides an interactive session browser using Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/prompter/internal/render"
	"github.com/joss/prompter/internal/session"
	pstrings "github.com/joss/prompter/internal/strings"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// View represents the current view mode
type View int

const (
	ViewList View = iota
	ViewPreview
	ViewHelp
)

// Model is the session browser model
type Model struct {
	manager *session.Manager
	loader  *session.Loader

	view        View
	entries     []*session.MetadataCache
	filtered    []*session.MetadataCache
	selectedIdx int
	preview     *session.LazySessionData
	err         error
	ready       bool
	loading     bool
	quitting    bool

	spinner  spinner.Model
	filter   textinput.Model
	viewport viewport.Model
	width    int
	height   int
}

// Message types
type entriesMsg []*session.MetadataCache
type previewMsg *session.LazySessionData
type errMsg error

// New creates a session browser model
func New(manager *session.Manager, loader *session.Loader) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "Filter sessions..."
	ti.CharLimit = 120
	ti.Width = 40

	return Model{
		manager: manager,
		loader:  loader,
		view:    ViewList,
		spinner: s,
		filter:  ti,
	}
}

// Init initializes the TUI
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.fetchEntries(),
	)
}

func (m Model) fetchEntries() tea.Cmd {
	manager := m.manager
	query := m.filter.Value()
	return func() tea.Msg {
		var entries []*session.MetadataCache
		var err error
		if query != "" {
			entries, err = manager.SearchMetadata(query)
		} else {
			entries, err = manager.GetAllSessionMetadata()
		}
		if err != nil {
			return errMsg(err)
		}
		return entriesMsg(entries)
	}
}

func (m Model) loadPreview(id string) tea.Cmd {
	loader := m.loader
	return func() tea.Msg {
		data, err := loader.LoadSessionLazy(context.Background(), id, session.LoadOptions{
			IncludeHistory: true,
			IncludeContext: true,
		})
		if err != nil {
			return errMsg(err)
		}
		if data == nil {
			return errMsg(fmt.Errorf("session %s not found", id))
		}
		return previewMsg(data)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "q":
			if m.view == ViewList && !m.filter.Focused() {
				m.quitting = true
				return m, tea.Quit
			}
			if m.view != ViewList {
				m.view = ViewList
				return m, nil
			}
		case "?":
			if !m.filter.Focused() {
				if m.view == ViewHelp {
					m.view = ViewList
				} else {
					m.view = ViewHelp
				}
				return m, nil
			}
		case "/":
			if m.view == ViewList && !m.filter.Focused() {
				m.filter.Focus()
				return m, nil
			}
		case "enter":
			if m.view == ViewList {
				if m.filter.Focused() {
					m.filter.Blur()
					m.selectedIdx = 0
					return m, m.fetchEntries()
				}
				if len(m.filtered) > 0 {
					m.view = ViewPreview
					m.loading = true
					m.preview = nil
					return m, m.loadPreview(m.filtered[m.selectedIdx].SessionID)
				}
			}
		case "up", "k":
			if m.view == ViewList && !m.filter.Focused() && m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.view == ViewList && !m.filter.Focused() && m.selectedIdx < len(m.filtered)-1 {
				m.selectedIdx++
			}
		case "r":
			if m.view == ViewList && !m.filter.Focused() {
				return m, m.fetchEntries()
			}
		case "esc":
			if m.filter.Focused() {
				m.filter.Blur()
				m.filter.SetValue("")
				return m, m.fetchEntries()
			}
			m.view = ViewList
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

		headerHeight := 5
		footerHeight := 3
		m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight)

	case entriesMsg:
		m.entries = msg
		m.filtered = msg
		if m.selectedIdx >= len(m.filtered) {
			m.selectedIdx = 0
		}
		m.err = nil

	case previewMsg:
		m.loading = false
		m.preview = msg
		m.viewport.SetContent(renderPreview(msg))
		m.viewport.GotoTop()

	case errMsg:
		m.loading = false
		m.err = msg

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.view == ViewList && m.filter.Focused() {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.view == ViewPreview {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if !m.ready {
		return fmt.Sprintf("\n  %s Loading...", m.spinner.View())
	}

	switch m.view {
	case ViewPreview:
		return m.viewPreview()
	case ViewHelp:
		return m.viewHelp()
	default:
		return m.viewList()
	}
}

func (m Model) viewList() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sessions") + "\n\n")

	if m.filter.Focused() || m.filter.Value() != "" {
		b.WriteString("  " + m.filter.View() + "\n\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
	}

	if len(m.filtered) == 0 {
		b.WriteString(infoStyle.Render("  No sessions found\n"))
	} else {
		for i, e := range m.filtered {
			cursor := "  "
			style := infoStyle
			if i == m.selectedIdx {
				cursor = "▶ "
				style = activeStyle
			}

			line := fmt.Sprintf("%s%-24s %s (%d entries)",
				cursor,
				pstrings.Truncate(e.ProjectName, 24),
				e.LastAccessed.Format("Jan 02 15:04"),
				e.ConversationCount,
			)
			b.WriteString(style.Render(line) + "\n")
		}
	}

	b.WriteString(helpStyle.Render("\n  enter: open │ /: filter │ r: refresh │ ?: help │ q: quit"))

	return b.String()
}

func (m Model) viewPreview() string {
	var b strings.Builder

	title := "Session"
	if m.preview != nil {
		title = m.preview.Metadata.ProjectName
	}
	b.WriteString(titleStyle.Render(title) + "\n\n")

	if m.loading {
		b.WriteString(fmt.Sprintf("  %s Loading session...\n", m.spinner.View()))
	} else if m.err != nil {
		b.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
	} else {
		b.WriteString(boxStyle.Width(m.width-4).Render(m.viewport.View()) + "\n")
	}

	b.WriteString(helpStyle.Render("\n  scroll: j/k │ esc: back │ q: quit"))

	return b.String()
}

func (m Model) viewHelp() string {
	help := `
  Session Browser - Help

  LIST
    j/k       Navigate up/down
    enter     Open selected session
    /         Filter by project, tag or topic
    r         Refresh the list
    q         Quit

  PREVIEW
    j/k       Scroll history
    esc       Back to list
`
	return titleStyle.Render("Help") + "\n" + infoStyle.Render(help) + helpStyle.Render("\n  press ? to return")
}

func renderPreview(data *session.LazySessionData) string {
	r := render.New(false)
	var b strings.Builder
	b.WriteString(r.SessionDetail(data.Metadata))
	b.WriteString("\n")
	b.WriteString(r.History(data.History))

	if data.Context != nil && len(data.Context.Decisions) > 0 {
		b.WriteString("\nDecisions:\n")
		for _, d := range data.Context.Decisions {
			b.WriteString("  - " + d + "\n")
		}
	}
	return b.String()
}

// Run starts the session browser over an initialized manager.
func Run(manager *session.Manager, loader *session.Loader) error {
	p := tea.NewProgram(New(manager, loader), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
