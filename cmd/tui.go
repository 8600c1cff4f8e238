// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/thermaprobe/pkg/decoding"
	"github.com/Thermoquad/thermaprobe/pkg/definition"
	"github.com/Thermoquad/thermaprobe/pkg/p1p2"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// Latest reading of one decoder entry
type latestValue struct {
	value   decoding.Value
	updated time.Time
}

// TUI model
type model struct {
	statsInterval int
	showAll       bool
	table         *definition.Table
	stats         *p1p2.Statistics
	snapshot      p1p2.Snapshot
	values        map[string]latestValue
	valueTable    table.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	connInfo      string
	connected     bool
	synchronized  bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time

type busPacketMsg struct {
	packet *p1p2.Packet
	values decoding.Values
	errs   []*decoding.DecodeError
}

type busBatchMsg struct {
	packets []busPacketMsg
	errors  []error
}

type connectedMsg struct {
	info string
}

type connectionLostMsg struct {
	err error
}

// busFeed batches listener callbacks for the TUI. Callbacks never block;
// when the TUI falls behind, updates are dropped.
type busFeed struct {
	packets chan busPacketMsg
	errors  chan error
}

func newBusFeed() *busFeed {
	return &busFeed{
		packets: make(chan busPacketMsg, 100),
		errors:  make(chan error, 100),
	}
}

func (f *busFeed) packet(p *p1p2.Packet, values decoding.Values, errs []*decoding.DecodeError) {
	select {
	case f.packets <- busPacketMsg{packet: p, values: values, errs: errs}:
	default:
	}
}

func (f *busFeed) error(err error) {
	select {
	case f.errors <- err:
	default:
	}
}

// drain collects everything queued so far
func (f *busFeed) drain() busBatchMsg {
	var batch busBatchMsg
	for {
		select {
		case msg := <-f.packets:
			batch.packets = append(batch.packets, msg)
		case err := <-f.errors:
			batch.errors = append(batch.errors, err)
		default:
			return batch
		}
	}
}

// run sends batched updates at a fixed rate until ctx is done
func (f *busFeed) run(ctx context.Context, send func(tea.Msg)) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := f.drain()
			if len(batch.packets) > 0 || len(batch.errors) > 0 {
				send(batch)
			}
		}
	}
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	unit := func(n uint64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, unit(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func newValueTable() table.Model {
	columns := []table.Column{
		{Title: "Key", Width: 16},
		{Title: "Label", Width: 34},
		{Title: "Value", Width: 16},
		{Title: "Updated", Width: 12},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func initialModel(tbl *definition.Table, stats *p1p2.Statistics, statsInterval int, showAll bool) model {
	return model{
		statsInterval: statsInterval,
		showAll:       showAll,
		table:         tbl,
		stats:         stats,
		snapshot:      stats.Snapshot(),
		values:        make(map[string]latestValue),
		valueTable:    newValueTable(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.valueTable, cmd = m.valueTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.valueTable.SetHeight(m.valueHeight())

	case tickMsg:
		m.snapshot = m.stats.Snapshot()
		return m, tickCmd()

	case connectedMsg:
		m.connected = true
		m.connInfo = msg.info
		m.addLogEntry("Connected: "+msg.info, false)

	case connectionLostMsg:
		m.connected = false
		m.synchronized = false
		m.addLogEntry(fmt.Sprintf("Connection lost: %v (reconnecting)", msg.err), true)

	case busBatchMsg:
		m.applyBatch(msg)
	}

	return m, nil
}

// applyBatch folds a batch of packets and frame errors into the model
func (m *model) applyBatch(batch busBatchMsg) {
	for _, pkt := range batch.packets {
		if !m.synchronized {
			m.synchronized = true
			if noise := m.stats.Snapshot().NoiseBytes; noise > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", noise), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}

		for key, v := range pkt.values {
			m.values[key] = latestValue{value: v, updated: pkt.packet.Timestamp()}
		}

		failed := 0
		for _, err := range pkt.errs {
			if failedEntries([]*decoding.DecodeError{err}) == 0 {
				continue
			}
			failed++
			m.addLogEntry(fmt.Sprintf("%s: %v", pkt.packet.Type().Name, err), true)
		}
		if failed == 0 && m.showAll {
			m.addLogEntry(fmt.Sprintf("%s (valid, %d values)", pkt.packet.Type().Name, len(pkt.values)), false)
		}
	}

	// Frame errors before the first packet are expected while syncing
	if m.synchronized {
		for _, err := range batch.errors {
			m.addLogEntry(fmt.Sprintf("FRAME ERROR: %v", err), true)
		}
	}

	m.snapshot = m.stats.Snapshot()
	m.valueTable.SetRows(m.rows())
}

// rows lists the latest values in table order
func (m *model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.values))
	for _, e := range m.table.Entries() {
		lv, ok := m.values[e.Key()]
		if !ok {
			continue
		}
		rows = append(rows, table.Row{
			e.Key(),
			lv.value.Label,
			lv.value.String(),
			lv.updated.Format("15:04:05"),
		})
	}
	return rows
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// valueHeight splits the screen between the value table and the event log
func (m model) valueHeight() int {
	h := (m.height - 14) / 2
	if h < 5 {
		h = 5
	}
	return h
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("THERMAPROBE - BUS MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All packets"
	}
	conn := m.connInfo
	if !m.connected {
		conn = "disconnected"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit", conn, mode)))
	s.WriteString("\n\n")

	// Sync status
	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.snapshot.NoiseBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d noise bytes)", m.snapshot.NoiseBytes)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.snapshot
	var validPercent, errorPercent float64
	totalErrors := st.ChecksumErrors + st.PartialPackets
	if st.TotalPackets > 0 {
		validPercent = float64(st.ValidPackets) * 100.0 / float64(st.TotalPackets)
		errorPercent = float64(totalErrors) * 100.0 / float64(st.TotalPackets)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalPackets)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if st.ChecksumErrors > 0 || st.PartialPackets > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s (%d entries)\n",
			statsLabelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
			statsLabelStyle.Render("Partial:"), warningStyle.Render(fmt.Sprintf("%d", st.PartialPackets)),
			st.DecodeErrors,
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
		statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(formatUptime(uint64(time.Since(st.StartTime).Milliseconds()))),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest values
	s.WriteString(statsLabelStyle.Render("Latest Values:"))
	s.WriteString("\n")
	if len(m.values) == 0 {
		s.WriteString(boxStyle.Render(headerStyle.Render("(no values yet)")))
	} else {
		s.WriteString(boxStyle.Render(m.valueTable.View()))
	}
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - m.valueHeight() - 16
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))

	return s.String()
}
