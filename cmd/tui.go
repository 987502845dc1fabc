// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/bridge"
	"github.com/Thermoquad/billbridge/pkg/logging"
)

// snapshotSource is the part of the converter the dashboard reads
type snapshotSource interface {
	Snapshot() bridge.Snapshot
}

// dashboard is a read-only view of a running converter
type dashboard struct {
	source   snapshotSource
	ring     *logging.Ring
	upDesc   string
	downDesc string
	snap     bridge.Snapshot
	bills    table.Model
	width    int
	height   int
	quitting bool
}

type tickMsg time.Time

func newDashboard(source snapshotSource, ring *logging.Ring, upDesc, downDesc string) dashboard {
	bills := table.New(
		table.WithColumns([]table.Column{
			{Title: "Bit", Width: 4},
			{Title: "Value", Width: 10},
			{Title: "Enabled", Width: 8},
		}),
		table.WithHeight(8),
	)
	return dashboard{
		source:   source,
		ring:     ring,
		upDesc:   upDesc,
		downDesc: downDesc,
		bills:    bills,
		width:    80,
		height:   24,
	}
}

func (m dashboard) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.snap = m.source.Snapshot()
		m.bills.SetRows(billRows(m.snap))
		return m, tickCmd()
	}

	var cmd tea.Cmd
	m.bills, cmd = m.bills.Update(msg)
	return m, cmd
}

func billRows(s bridge.Snapshot) []table.Row {
	rows := make([]table.Row, 0, len(s.Denominations))
	for i, v := range s.Denominations {
		enabled := "no"
		if s.Enabled&(1<<uint(i)) != 0 {
			enabled = "yes"
		}
		rows = append(rows, table.Row{fmt.Sprintf("%d", i), fmt.Sprintf("%d %s", v, s.Currency), enabled})
	}
	return rows
}

func formatAge(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func (m dashboard) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	s := m.snap
	var b strings.Builder
	b.WriteString(titleStyle.Render("BILLBRIDGE"))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("Host: %s | Validator: %s | Press 'q' to quit", m.upDesc, m.downDesc)))
	b.WriteString("\n\n")

	// Converter state
	state := strings.Builder{}
	phase := warningStyle.Render(string(s.Phase))
	if s.Phase == bridge.PhaseReady {
		phase = valueStyle.Render(string(s.Phase))
	}
	state.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Phase:"), phase,
		labelStyle.Render("Poll:"), valueStyle.Render(s.PollPhase.String()),
		labelStyle.Render("Period:"), valueStyle.Render(s.PollPeriod.String()),
	))

	status := headerStyle.Render("(none)")
	if s.LastStatus != "" {
		render := valueStyle.Render
		if !s.StatusFresh {
			render = errorStyle.Render
		}
		status = render(fmt.Sprintf("%s -> %s (%s ago)", s.LastStatus, s.MappedStatus, formatAge(s.StatusAge)))
	}
	state.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Validator:"), status))
	if s.LastUpstream != "" {
		state.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Last host command:"), valueStyle.Render(s.LastUpstream)))
	}
	state.WriteString(linkLine(labelStyle, valueStyle, errorStyle, "Host link:", s.Upstream))
	state.WriteString("\n")
	state.WriteString(linkLine(labelStyle, valueStyle, errorStyle, "Validator link:", s.Downstream))

	b.WriteString(boxStyle.Render(state.String()))
	b.WriteString("\n\n")

	// Bill table
	b.WriteString(labelStyle.Render("Bill Table:"))
	b.WriteString("\n")
	if s.Loaded {
		b.WriteString(boxStyle.Render(m.bills.View()))
	} else {
		b.WriteString(boxStyle.Render(headerStyle.Render("not loaded")))
	}
	b.WriteString("\n\n")

	// Log
	b.WriteString(labelStyle.Render("Recent Events:"))
	b.WriteString("\n")

	logHeight := m.height - 24
	if logHeight < 5 {
		logHeight = 5
	}
	var lines []string
	if m.ring != nil {
		lines = m.ring.Lines()
	}
	if len(lines) > logHeight {
		lines = lines[len(lines)-logHeight:]
	}

	logContent := strings.Builder{}
	if len(lines) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, line := range lines {
		switch {
		case strings.Contains(line, "level=ERROR"):
			logContent.WriteString(errorStyle.Render(line))
		case strings.Contains(line, "level=WARN"):
			logContent.WriteString(warningStyle.Render(line))
		default:
			logContent.WriteString(headerStyle.Render(line))
		}
		logContent.WriteString("\n")
	}
	b.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return b.String()
}

func linkLine(label, value, bad lipgloss.Style, name string, st bp.LinkStats) string {
	errs := value.Render(fmt.Sprintf("%d", st.Errors()))
	if st.Errors() > 0 {
		errs = bad.Render(fmt.Sprintf("%d (crc %d)", st.Errors(), st.CRCErrors))
	}
	return fmt.Sprintf("%s %s %s  %s %s  %s %s  %s %s  %s %s",
		label.Render(name),
		label.Render("rx"), value.Render(fmt.Sprintf("%d", st.TotalFrames)),
		label.Render("tx"), value.Render(fmt.Sprintf("%d", st.Sent)),
		label.Render("errors"), errs,
		label.Render("timeouts"), value.Render(fmt.Sprintf("%d", st.Timeouts)),
		label.Render("echoes"), value.Render(fmt.Sprintf("%d", st.Echoes)),
	)
}
