// Package tui renders the live PTY dashboard. It is a read-only consumer of
// the daemon's snapshot file: no scanning, no killing, just display.
package tui

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ptywatch/internal/cache"
	"ptywatch/internal/ui"
)

// refreshEvery is the dashboard's own poll cadence; the underlying data only
// changes once per daemon scan interval.
const refreshEvery = 5 * time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statStyle   = lipgloss.NewStyle().Padding(0, 1)
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true).Padding(0, 1)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Padding(0, 1)
)

type tickMsg time.Time

// Model is the bubbletea model for the dashboard.
type Model struct {
	store    *cache.Store
	interval time.Duration
	heavy    int

	table  table.Model
	snap   *cache.Snapshot
	err    error
	height int
}

// NewModel builds the dashboard over a snapshot store. interval is the
// daemon's scan interval, used for the staleness banner; heavy is the
// heavy-user threshold, used for row annotation.
func NewModel(store *cache.Store, interval time.Duration, heavy int) Model {
	columns := []table.Column{
		{Title: "PID", Width: 8},
		{Title: "PTYS", Width: 6},
		{Title: "STATE", Width: 7},
		{Title: "COMMAND", Width: 48},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	t.SetStyles(s)

	m := Model{store: store, interval: interval, heavy: heavy, table: t}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.refresh()
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.height = msg.Height
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil
	case tickMsg:
		m.refresh()
		return m, tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// refresh re-reads the snapshot and rebuilds the table rows.
func (m *Model) refresh() {
	snap, err := m.store.Read()
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.snap = snap

	leaks := make(map[int]bool, len(snap.SuspectedLeaks))
	for _, l := range snap.SuspectedLeaks {
		leaks[l.PID] = true
	}

	procs := append([]cache.ProcessEntry(nil), snap.Processes...)
	sort.SliceStable(procs, func(i, j int) bool {
		if procs[i].PTYCount != procs[j].PTYCount {
			return procs[i].PTYCount > procs[j].PTYCount
		}
		return procs[i].PID < procs[j].PID
	})

	rows := make([]table.Row, 0, len(procs))
	for _, p := range procs {
		state := "ok"
		switch {
		case leaks[p.PID]:
			state = "LEAK"
		case p.PTYCount > m.heavy:
			state = "heavy"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(p.PID),
			strconv.Itoa(p.PTYCount),
			state,
			p.Command,
		})
	}
	m.table.SetRows(rows)
}

func (m Model) View() string {
	s := titleStyle.Render("ptywatch dashboard") + "\n"

	if m.err != nil {
		s += errStyle.Render(fmt.Sprintf("no data: %v", m.err)) + "\n"
		s += footerStyle.Render("r refresh · q quit") + "\n"
		return s
	}

	s += statStyle.Render(fmt.Sprintf(
		"scan #%d · %d PTYs · %d processes · %d heavy · %d suspected leaks · updated %s",
		m.snap.ScanNumber, m.snap.TotalPTYs, m.snap.ProcessCount,
		len(m.snap.HeavyUsers), len(m.snap.SuspectedLeaks),
		ui.RelativeTime(m.snap.Timestamp))) + "\n"

	if m.snap.Stale(m.interval, time.Now()) {
		s += staleStyle.Render("⚠ snapshot is stale - is the daemon running?") + "\n"
	}

	s += m.table.View() + "\n"
	s += footerStyle.Render("↑/↓ scroll · r refresh · q quit") + "\n"
	return s
}

// Run starts the dashboard in the alternate screen.
func Run(store *cache.Store, interval time.Duration, heavy int) error {
	p := tea.NewProgram(NewModel(store, interval, heavy), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
