// Package tui renders the live legion dashboard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/swarm"
)

// Fetcher polls the legion for a fresh snapshot
type Fetcher func(ctx context.Context) (Snapshot, error)

// SystemFetcher reads status, agents and runs from a running system
func SystemFetcher(sys *app.System) Fetcher {
	return func(ctx context.Context) (Snapshot, error) {
		status, err := sys.Swarms.Status(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read status: %w", err)
		}
		agents, err := sys.Registry.List(ctx, registry.Filter{})
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to list agents: %w", err)
		}
		runs, err := sys.Pipeline.Runs(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to list runs: %w", err)
		}
		return Snapshot{Status: status, Agents: agents, Runs: runs, FetchedAt: status.Timestamp}, nil
	}
}

const (
	defaultInterval = 2 * time.Second
	fetchTimeout    = 5 * time.Second
)

type page int

const (
	agentsPage page = iota
	runsPage
)

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	Switch  key.Binding
	Up      key.Binding
	Down    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Switch, k.Refresh, k.Up, k.Down, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Switch:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "agents/runs")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑", "scroll up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓", "scroll down")),
	}
}

// Option configures a Model
type Option func(*Model)

// WithInterval sets the poll interval
func WithInterval(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithVersion sets the version shown in the header
func WithVersion(v string) Option {
	return func(m *Model) { m.version = v }
}

// Model is the Bubbletea model of the dashboard
type Model struct {
	// UI components
	spinner  spinner.Model
	viewport viewport.Model
	help     help.Model
	styles   Styles
	keys     keyMap

	// State
	fetch    Fetcher
	interval time.Duration
	version  string
	snapshot Snapshot
	loaded   bool
	loading  bool
	err      error
	page     page

	// Terminal
	width  int
	height int
	ready  bool

	quitting bool
}

// New creates a dashboard model polling fetch
func New(fetch Fetcher, opts ...Option) Model {
	styles := DefaultStyles()
	m := Model{
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Accent)),
		help:     help.New(),
		styles:   styles,
		keys:     defaultKeys(),
		fetch:    fetch,
		interval: defaultInterval,
		version:  "dev",
		loading:  true,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m Model) poll() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := fetch(ctx)
		return snapshotMsg{snapshot: snap, err: err}
	}
}

func (m Model) schedule() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, m.poll()
		case key.Matches(msg, m.keys.Switch):
			m.page = (m.page + 1) % 2
			m.refreshContent()
			m.viewport.GotoTop()
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// header, panels, tabs, status and help
		chrome := 1 + 5 + 2 + 1 + 1
		height := msg.Height - chrome
		if height < 3 {
			height = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.help.Width = msg.Width
		m.refreshContent()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.poll()

	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.snapshot = msg.snapshot
			m.loaded = true
			m.refreshContent()
		}
		return m, m.schedule()
	}
	return m, nil
}

func (m *Model) refreshContent() {
	if !m.ready {
		return
	}
	if m.page == runsPage {
		m.viewport.SetContent(m.renderRuns())
		return
	}
	m.viewport.SetContent(m.renderAgents())
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.loaded && m.err == nil {
		return GetStartupBanner(m.version, m.width) + "\n" +
			centerText(m.spinner.View()+" connecting to the legion", m.width)
	}

	var sb strings.Builder
	sb.WriteString(GetHeader(m.width, "live dashboard "+m.version))
	sb.WriteString("\n")
	sb.WriteString(m.renderPanels())
	sb.WriteString("\n")
	sb.WriteString(m.renderTabs())
	sb.WriteString("\n")
	if m.ready {
		sb.WriteString(m.viewport.View())
	} else if m.page == runsPage {
		sb.WriteString(m.renderRuns())
	} else {
		sb.WriteString(m.renderAgents())
	}
	sb.WriteString("\n")
	sb.WriteString(m.renderStatusBar())
	sb.WriteString("\n")
	sb.WriteString(m.styles.HelpBar.Render(m.help.View(m.keys)))
	return sb.String()
}

func (m Model) renderPanels() string {
	st := m.snapshot.Status
	health := m.styles.Success.Render(st.SystemHealth)
	if st.SystemHealth != swarm.HealthHealthy {
		health = m.styles.Warning.Render(st.SystemHealth)
	}
	p := st.AverageMetrics
	return lipgloss.JoinHorizontal(lipgloss.Top,
		m.panel("AGENTS", fmt.Sprintf("%d", st.TotalAgents), fmt.Sprintf("%d online", st.OnlineAgents)),
		m.panel("MISSIONS", fmt.Sprintf("%d", st.ActiveMissions), fmt.Sprintf("%d pending", st.PendingMissions)),
		m.panel("SWARMS", fmt.Sprintf("%d", st.ActiveSwarms), "active"),
		m.panel("HEALTH", health, fmt.Sprintf("eff %.2f acc %.2f", p.Efficiency, p.Accuracy)),
	)
}

func (m Model) panel(title, value, label string) string {
	body := m.styles.PanelTitle.Render(title) + "\n" +
		m.styles.PanelValue.Render(value) + "\n" +
		m.styles.PanelLabel.Render(label)
	return m.styles.Panel.Render(body)
}

func (m Model) renderTabs() string {
	tabs := []string{
		fmt.Sprintf("Agents (%d)", len(m.snapshot.Agents)),
		fmt.Sprintf("Runs (%d)", len(m.snapshot.Runs)),
	}
	for i, t := range tabs {
		if page(i) == m.page {
			tabs[i] = m.styles.TabActive.Render(t)
		} else {
			tabs[i] = m.styles.Tab.Render(t)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderAgents() string {
	if len(m.snapshot.Agents) == 0 {
		return m.styles.TableMuted.Render("  no agents registered")
	}
	var sb strings.Builder
	sb.WriteString(m.styles.TableHeader.Render(fmt.Sprintf("%-10s %-28s %-10s %-9s %5s %5s", "ID", "NAME", "TYPE", "STATUS", "LEVEL", "EFF")))
	for _, a := range m.snapshot.Agents {
		sb.WriteString("\n")
		line := fmt.Sprintf("%-10s %-28s %-10s %-9s %5d %5.2f",
			shortID(a.ID), clip(a.Name, 28), a.Type, a.Status, a.Level, a.Performance.Efficiency)
		if a.Status == models.AgentStatusOffline {
			sb.WriteString(m.styles.TableMuted.Render(line))
			continue
		}
		sb.WriteString(m.styles.TableRow.Render(line))
	}
	return sb.String()
}

func (m Model) renderRuns() string {
	if len(m.snapshot.Runs) == 0 {
		return m.styles.TableMuted.Render("  no pipeline runs")
	}
	var sb strings.Builder
	sb.WriteString(m.styles.TableHeader.Render(fmt.Sprintf("%-10s %-24s %-9s %-13s %-10s %-11s %6s", "ID", "TARGET", "TYPE", "DEPTH", "STATUS", "STATE", "AGENTS")))
	for _, r := range m.snapshot.Runs {
		agents := 0
		if r.Summary != nil {
			agents = r.Summary.AgentsCreated
		}
		line := fmt.Sprintf("%-10s %-24s %-9s %-13s %-10s %-11s %6d",
			shortID(r.ID), clip(r.Target, 24), r.TargetType, r.Depth, r.Status, r.State, agents)
		sb.WriteString("\n")
		if r.Status == models.RunFailed {
			sb.WriteString(m.styles.Error.Render(line))
			continue
		}
		sb.WriteString(m.styles.TableRow.Render(line))
	}
	return sb.String()
}

func (m Model) renderStatusBar() string {
	var status string
	switch {
	case m.err != nil:
		status = m.styles.Error.Render("poll failed: " + m.err.Error())
	case m.loading:
		status = m.spinner.View() + " refreshing"
	default:
		status = m.styles.StatusTime.Render("updated " + m.snapshot.FetchedAt.Format("15:04:05"))
	}
	return m.styles.StatusBar.Render(status)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// Run starts the dashboard and blocks until the user quits or ctx ends
func Run(ctx context.Context, fetch Fetcher, opts ...Option) error {
	p := tea.NewProgram(New(fetch, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
