package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/luqmana/opte/internal/port"
)

// tickMsg drives the periodic Dump() poll, the same shape as the
// teacher's DashboardModel.tick (internal/tui/dashboard.go).
type tickMsg time.Time

// model is a live dashboard over one Port's Dump() snapshot.
type model struct {
	p           *port.Port
	snap        port.Snapshot
	layers      table.Model
	lastUpdated time.Time
	width       int
}

func newModel(p *port.Port) model {
	columns := []table.Column{
		{Title: "Layer", Width: 12},
		{Title: "Gen", Width: 5},
		{Title: "LFT o/i", Width: 9},
		{Title: "Hits", Width: 8},
		{Title: "Misses", Width: 8},
		{Title: "Denies", Width: 8},
		{Title: "GenDescFail", Width: 11},
		{Title: "Rules o/i", Width: 10},
	}
	t := table.New(table.WithColumns(columns), table.WithHeight(6))
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Bold(false)
	t.SetStyles(s)

	return model{p: p, layers: t}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m model) tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) refresh() tea.Cmd {
	return func() tea.Msg { return m.p.Dump() }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case port.Snapshot:
		m.snap = msg
		rows := make([]table.Row, len(msg.Layers))
		for i, l := range msg.Layers {
			rows[i] = table.Row{
				l.Name,
				strconv.FormatUint(l.Generation, 10),
				fmt.Sprintf("%d/%d", l.LFTOutCount, l.LFTInCount),
				strconv.FormatUint(l.Hits, 10),
				strconv.FormatUint(l.Misses, 10),
				strconv.FormatUint(l.Denies, 10),
				strconv.FormatUint(l.GenDescFailures, 10),
				fmt.Sprintf("%d/%d", l.OutboundRules, l.InboundRules),
			}
		}
		m.layers.SetRows(rows)
		return m, nil
	case tickMsg:
		m.lastUpdated = time.Time(msg)
		return m, tea.Batch(m.refresh(), m.tick())
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.snap.Name == "" {
		return "Loading optetop...\n"
	}

	statusIcon, statusText := "✅", styleGood.Render("ONLINE")
	if m.snap.Dropped > m.snap.Emitted && m.snap.Emitted == 0 {
		statusIcon, statusText = "⚠", styleWarn.Render("ALL DROPPED")
	}

	summary := styleCard.Render(lipgloss.JoinVertical(lipgloss.Left,
		styleTitle.Render(fmt.Sprintf("Port %s", m.snap.Name)),
		fmt.Sprintf("%s %s", statusIcon, statusText),
		fmt.Sprintf("UFT out/in: %d / %d", m.snap.UFTOut, m.snap.UFTIn),
		fmt.Sprintf("TCP flows:  %d", m.snap.TCPFlows),
		fmt.Sprintf("Checksum offload: %v", m.snap.ChecksumOffload),
	))

	counters := styleCard.Render(lipgloss.JoinVertical(lipgloss.Left,
		styleTitle.Render("Counters"),
		fmt.Sprintf("Emitted: %d", m.snap.Emitted),
		styleBad.Render(fmt.Sprintf("Dropped: %d", m.snap.Dropped)),
		fmt.Sprintf("Bypassed: %d", m.snap.Bypassed),
	))

	layers := styleCard.Render(lipgloss.JoinVertical(lipgloss.Left,
		styleTitle.Render("Layers"),
		m.layers.View(),
	))

	top := lipgloss.JoinHorizontal(lipgloss.Top, summary, counters)
	footer := styleSubtitle.Render(fmt.Sprintf("Last updated: %s  (q to quit)", m.lastUpdated.Format("15:04:05")))

	return lipgloss.JoinVertical(lipgloss.Left, top, layers, footer)
}
