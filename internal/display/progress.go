// Package display renders scan progress and results, in both a plain
// textual form and an optional live Bubbletea TUI.
package display

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("240"))

	phaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	completeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)
)

// Phase names a stage of the scan pipeline, shown in the TUI's header.
type Phase string

const (
	PhaseLocation   Phase = "location"
	PhaseCorrection Phase = "correction"
	PhaseAliasPort  Phase = "alias-port"
	PhaseDone       Phase = "done"
)

// TickMsg drives the periodic redraw; the scan itself runs on its own
// goroutines and only updates ProgressModel's counters, so the TUI polls
// rather than waiting on a scan-specific message for every probe.
type TickMsg time.Time

// ProgressModel is the Bubbletea model for a live scan progress display. A
// caller running the scan in the background updates it via SetPhase,
// SetTotals and Finish from any goroutine; the model's own fields are
// guarded by a mutex exactly as the teacher's per-hop TUI guards its hop
// list, since Update/View run on Bubbletea's own goroutine.
type ProgressModel struct {
	mu sync.RWMutex

	target    string
	phase     Phase
	total     int
	done      int
	probes    int64
	startTime time.Time
	finished  bool
	err       error

	spinner spinner.Model
	width   int
}

// NewProgressModel creates a model for a scan of total targets.
func NewProgressModel(label string, total int) *ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &ProgressModel{
		target:    label,
		phase:     PhaseLocation,
		total:     total,
		startTime: time.Now(),
		spinner:   s,
	}
}

// SetPhase records which pipeline stage is currently running.
func (m *ProgressModel) SetPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = p
}

// SetTotals updates the done/probes counters; safe to call frequently from
// the scanning goroutines.
func (m *ProgressModel) SetTotals(done int, probes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = done
	m.probes = probes
}

// Finish marks the scan complete, recording any terminal error.
func (m *ProgressModel) Finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
	m.err = err
	m.phase = PhaseDone
}

func (m *ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		m.mu.RLock()
		done := m.finished
		m.mu.RUnlock()
		if done {
			return m, tea.Quit
		}
		return m, tickCmd()
	}

	return m, nil
}

func (m *ProgressModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	title := fmt.Sprintf("sagescan → %s", m.target)
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("phase"))
	b.WriteString("  ")
	b.WriteString(phaseStyle.Render(string(m.phase)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("targets"))
	b.WriteString(" ")
	b.WriteString(countStyle.Render(fmt.Sprintf("%d/%d", m.done, m.total)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("probes sent"))
	b.WriteString(" ")
	b.WriteString(countStyle.Render(fmt.Sprintf("%d", m.probes)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("elapsed"))
	b.WriteString(" ")
	b.WriteString(countStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	if m.finished {
		if m.err != nil {
			b.WriteString(warnStyle.Render(fmt.Sprintf("✗ stopped: %v", m.err)))
		} else {
			b.WriteString(completeStyle.Render("✓ scan complete"))
		}
		b.WriteString(" | press 'q' to exit")
	} else {
		b.WriteString(m.spinner.View())
		b.WriteString(" scanning... press 'q' to cancel")
	}

	return b.String()
}
