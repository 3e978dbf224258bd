package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"iselfuzz/internal/driver"
)

type progressModel struct {
	title   string
	runs    int64
	stats   <-chan driver.Stats
	spinner spinner.Model
	prog    progress.Model
	last    driver.Stats
	width   int
	done    bool
}

type statsMsg driver.Stats
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders run statistics
// received on stats. runs is the iteration limit, 0 when unbounded. The
// program quits when stats is closed or a final snapshot arrives.
func NewProgressModel(title string, runs int64, stats <-chan driver.Stats) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &progressModel{
		title:   title,
		runs:    runs,
		stats:   stats,
		spinner: sp,
		prog:    prog,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statsMsg:
		m.last = driver.Stats(msg)
		cmd := m.setPercent()
		if m.last.Done {
			m.done = true
			return m, tea.Sequence(cmd, tea.Quit)
		}
		return m, tea.Batch(cmd, m.listen())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) setPercent() tea.Cmd {
	if m.runs <= 0 {
		return nil
	}
	return m.prog.SetPercent(min(1, float64(m.last.Execs)/float64(m.runs)))
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	s := m.last
	rows := []struct {
		label, value string
	}{
		{"iterations", fmt.Sprintf("%d (%.0f/s)", s.Execs, s.ExecsPerSec())},
		{"accepted", fmt.Sprint(s.Accepted)},
		{"rejected", fmt.Sprint(s.Rejected)},
		{"oversize", fmt.Sprint(s.Empty)},
		{"corpus", fmt.Sprint(s.Corpus)},
		{"crashes", fmt.Sprint(s.Crashes)},
	}
	valueWidth := max(m.width-16, 20)
	for _, row := range rows {
		value := styleValue(row.label, row.value).Render(truncate(row.value, valueWidth))
		fmt.Fprintf(&b, "  %12s %s\n", row.label, value)
	}
	if s.LastCrash != "" {
		fmt.Fprintf(&b, "  %12s %s\n", "last crash", truncate(s.LastCrash, valueWidth))
	}

	if m.runs > 0 {
		b.WriteString("\n")
		if m.done {
			b.WriteString(m.prog.ViewAs(1.0))
		} else {
			b.WriteString(m.prog.View())
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *progressModel) listen() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.stats
		if !ok {
			return doneMsg{}
		}
		return statsMsg(s)
	}
}

func styleValue(label, value string) lipgloss.Style {
	switch {
	case label == "crashes" && value != "0":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	case label == "accepted" || label == "corpus":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
