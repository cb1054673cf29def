// Package monitor renders a live terminal dashboard of development cycles
// read from the local event log.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/phase"
	"github.com/fyrsmithlabs/cadence/internal/stats"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	recentCommits   = 8
	loadTimeout     = 5 * time.Second
)

// Snapshot is one read of the event log.
type Snapshot struct {
	Summary stats.Summary
	Recent  []eventlog.Record
}

// Model is the BubbleTea dashboard model.
type Model struct {
	logPath    string
	branch     string
	interval   time.Duration
	now        func() time.Time
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	phaseBars map[phase.Phase]progress.Model
}

// Lipgloss styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))

	// PhaseStyles colors phase names consistently across commands.
	PhaseStyles = map[phase.Phase]lipgloss.Style{
		phase.Red:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		phase.Green:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		phase.Refactor: lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		phase.Tidy:     lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true),
		phase.Other:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

var phaseGradients = map[phase.Phase][2]string{
	phase.Red:      {"#ff5f5f", "#ff0000"},
	phase.Green:    {"#5fff5f", "#00d700"},
	phase.Refactor: {"#5fd7ff", "#0087ff"},
	phase.Tidy:     {"#ffafff", "#d700d7"},
	phase.Other:    {"#8a8a8a", "#585858"},
}

// NewModel creates a dashboard over the log at logPath. A non-empty branch
// limits the summary to that branch.
func NewModel(logPath, branch string, interval time.Duration) Model {
	bars := make(map[phase.Phase]progress.Model, len(phaseGradients))
	for p, g := range phaseGradients {
		bars[p] = progress.New(
			progress.WithGradient(g[0], g[1]),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		)
	}

	return Model{
		logPath:   logPath,
		branch:    branch,
		interval:  interval,
		now:       time.Now,
		phaseBars: bars,
	}
}

// RenderPhase renders a phase name in its color.
func RenderPhase(p phase.Phase) string {
	return PhaseStyles[p].Render(p.String())
}

// cycleBadge grades a median cycle time.
func cycleBadge(median time.Duration) string {
	switch {
	case median == 0:
		return dimStyle.Render("[–]")
	case median <= 10*time.Minute:
		return healthyStyle.Render("[✓]")
	case median <= 30*time.Minute:
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// lastDurations returns up to historySize of the most recent durations in
// minutes.
func lastDurations(durations []time.Duration) []float64 {
	if len(durations) > historySize {
		durations = durations[len(durations)-historySize:]
	}
	out := make([]float64, len(durations))
	for i, d := range durations {
		out[i] = d.Minutes()
	}
	return out
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no cycles"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		loadSnapshot(m.logPath, m.branch),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// loadSnapshot reads the event log.
func loadSnapshot(logPath, branch string) tea.Cmd {
	return func() tea.Msg {
		snap, err := Load(context.Background(), logPath, branch)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Load reads a Snapshot from the log at logPath.
func Load(ctx context.Context, logPath, branch string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	var records []eventlog.Record
	_, err := eventlog.NewReader(logPath).Scan(ctx, func(rec eventlog.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Summary: stats.Summarize(records, stats.Options{Branch: branch})}
	for i := len(records) - 1; i >= 0 && len(snap.Recent) < recentCommits; i-- {
		if branch != "" && records[i].Branch != branch {
			continue
		}
		snap.Recent = append(snap.Recent, records[i])
	}
	return snap, nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, loadSnapshot(m.logPath, m.branch)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			loadSnapshot(m.logPath, m.branch),
		)

	case snapshotMsg:
		m.snapshot = Snapshot(msg)
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("cadence")

	var content strings.Builder
	content.WriteString("\n")
	content.WriteString(errorStyle.Render("⚠ Cannot read the event log") + "\n\n")
	content.WriteString(dimStyle.Render("Log: ") + valueStyle.Render(m.logPath) + "\n")
	content.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n")
	content.WriteString("\n" + m.footer() + "\n")

	return containerStyle.Render(header + "\n" + content.String())
}

func (m Model) renderDashboard() string {
	s := m.snapshot.Summary
	now := m.now()

	var b strings.Builder

	title := " cadence "
	if m.branch != "" {
		title = fmt.Sprintf(" cadence · %s ", m.branch)
	}
	b.WriteString(headerStyle.Render(title) + "\n")
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		dimStyle.Render("Commits:"), valueStyle.Render(fmt.Sprintf("%d", s.Commits)),
		dimStyle.Render("Last commit:"), valueStyle.Render(FormatAge(s.Last, now)),
		dimStyle.Render("Updated:"), dimStyle.Render(FormatAge(m.lastUpdate, now))))

	b.WriteString("\n" + sectionStyle.Render("┃ Cycles") + "\n")
	b.WriteString(labelStyle.Render("  Completed: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Cycles.Completed)) + "   " +
		createSparkline(lastDurations(s.Durations)) + "\n")
	b.WriteString(labelStyle.Render("  Median: ") + valueStyle.Render(FormatDuration(s.Cycles.Median)) +
		" " + cycleBadge(s.Cycles.Median) +
		labelStyle.Render("   p90: ") + valueStyle.Render(FormatDuration(s.Cycles.P90)) +
		labelStyle.Render("   Max: ") + valueStyle.Render(FormatDuration(s.Cycles.Max)) + "\n")
	b.WriteString(labelStyle.Render("  Orphan greens: ") + valueStyle.Render(fmt.Sprintf("%d", s.Orphans)) +
		labelStyle.Render("   Abandoned reds: ") + valueStyle.Render(fmt.Sprintf("%d", s.Abandoned)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Phases") + "\n")
	for _, p := range phase.All() {
		ratio := 0.0
		if s.Commits > 0 {
			ratio = float64(s.Phases[p]) / float64(s.Commits)
		}
		b.WriteString(fmt.Sprintf("  %-18s %s %s\n",
			RenderPhase(p),
			m.phaseBars[p].ViewAs(ratio),
			dimStyle.Render(fmt.Sprintf("%d (%s)", s.Phases[p], FormatPercentage(ratio)))))
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Recent commits") + "\n")
	if len(m.snapshot.Recent) == 0 {
		b.WriteString(dimStyle.Render("  no commits recorded yet") + "\n")
	}
	for _, rec := range m.snapshot.Recent {
		line := fmt.Sprintf("  %s %-18s %s %s",
			dimStyle.Render(ShortHash(rec.CommitHash)),
			RenderPhase(rec.Phase),
			valueStyle.Render(firstLine(rec.Message, 48)),
			dimStyle.Render(rec.Branch))
		if d, ok := rec.CycleDuration(); ok {
			line += " " + healthyStyle.Render(FormatDuration(d))
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) footer() string {
	return footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
}

func firstLine(msg string, limit int) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if r := []rune(msg); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return msg
}
