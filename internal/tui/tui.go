// Package tui is the live narrative monitor behind `narratives --watch`.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cryptopulse/internal/core"
)

const (
	watchLimit     = 30
	refreshTimeout = 10 * time.Second
)

// Source feeds the watch view. *store.Store satisfies it.
type Source interface {
	ActiveNarratives(ctx context.Context, limit int) ([]core.Narrative, error)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	paneStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(0, 1)

	stateStyles = map[core.LifecycleState]lipgloss.Style{
		core.StateEmerging:    lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		core.StateRising:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		core.StateHot:         lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		core.StateCooling:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		core.StateDormant:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		core.StateReactivated: lipgloss.NewStyle().Foreground(lipgloss.Color("129")),
	}
)

type model struct {
	source      Source
	interval    time.Duration
	narratives  []core.Narrative
	selectedIdx int
	width       int
	height      int
	refreshedAt time.Time
	lastErr     error
	quitting    bool
}

type refreshedMsg struct {
	narratives []core.Narrative
	err        error
}

type tickMsg time.Time

func initialModel(source Source, interval time.Duration) model {
	return model{source: source, interval: interval}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(refresh(m.source), tick(m.interval))
}

func refresh(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		ns, err := source.ActiveNarratives(ctx, watchLimit)
		return refreshedMsg{narratives: ns, err: err}
	}
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.selectedIdx < len(m.narratives)-1 {
				m.selectedIdx++
			}
		case "r":
			return m, refresh(m.source)
		}

	case tickMsg:
		return m, tea.Batch(refresh(m.source), tick(m.interval))

	case refreshedMsg:
		// A failed refresh keeps showing the last good list.
		m.lastErr = msg.err
		if msg.err == nil {
			m.narratives = msg.narratives
			m.refreshedAt = time.Now()
			if m.selectedIdx >= len(m.narratives) {
				m.selectedIdx = 0
			}
		}
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	header := titleStyle.Render("Active narratives")
	if !m.refreshedAt.IsZero() {
		header += dimStyle.Render(fmt.Sprintf("  refreshed %s", m.refreshedAt.Format("15:04:05")))
	}
	if m.lastErr != nil {
		header += "  " + errStyle.Render("refresh failed: "+m.lastErr.Error())
	}

	list := m.renderList()
	detail := m.renderDetail()

	listWidth := m.width/2 - 4
	if listWidth < 30 {
		listWidth = 30
	}
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Width(listWidth).Render(list),
		paneStyle.Width(listWidth).Render(detail))

	help := dimStyle.Render("[↑/k] up  [↓/j] down  [r] refresh  [q] quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, panes, help)
}

func (m model) renderList() string {
	if len(m.narratives) == 0 {
		return dimStyle.Render("no active narratives")
	}

	out := ""
	for i, n := range m.narratives {
		cursor := "  "
		if i == m.selectedIdx {
			cursor = "> "
		}
		state := string(n.LifecycleState)
		if style, ok := stateStyles[n.LifecycleState]; ok {
			state = style.Render(state)
		}
		out += fmt.Sprintf("%s%-11s %5.1f/d %3d  %s\n",
			cursor, state, n.Velocity, n.ArticleCount, truncate(n.Title, 40))
	}
	return out
}

func (m model) renderDetail() string {
	if m.selectedIdx >= len(m.narratives) {
		return dimStyle.Render("nothing selected")
	}
	n := m.narratives[m.selectedIdx]

	out := titleStyle.Render(n.Title) + "\n\n"
	if n.Summary != "" {
		out += n.Summary + "\n\n"
	}
	out += fmt.Sprintf("nucleus:    %s\n", n.NucleusEntity)
	if n.NarrativeFocus != "" {
		out += fmt.Sprintf("focus:      %s\n", n.NarrativeFocus)
	}
	out += fmt.Sprintf("velocity:   %.2f articles/day\n", n.Velocity)
	out += fmt.Sprintf("articles:   %d\n", n.ArticleCount)
	out += fmt.Sprintf("sentiment:  %+.2f\n", n.AvgSentiment)
	out += fmt.Sprintf("last story: %s\n", n.LastArticleAt.Format("2006-01-02 15:04"))
	if len(n.TopActors) > 0 {
		out += "\nactors:\n"
		for _, a := range n.TopActors {
			out += "  " + a + "\n"
		}
	}
	if len(n.KeyActions) > 0 {
		out += "\nactions:\n"
		for _, a := range n.KeyActions {
			out += "  " + a + "\n"
		}
	}
	if n.ReactivatedCount > 0 {
		out += dimStyle.Render(fmt.Sprintf("\nresurrected %d time(s)\n", n.ReactivatedCount))
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// Watch runs the live view until the user quits.
func Watch(source Source, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p := tea.NewProgram(initialModel(source, interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run watch view: %w", err)
	}
	return nil
}
