package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/matzehuels/cratescan/pkg/pipeline"
	"github.com/matzehuels/cratescan/pkg/source"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// execute runs the scan. When stderr is a terminal, progress is shown with
// a bubbletea view and log lines are printed above it; ctrl+c calls
// interrupt so the run can wind down and still report.
func (c *CLI) execute(ctx context.Context, runner *pipeline.Runner, opts pipeline.Options, interrupt func()) (*pipeline.Result, error) {
	f, ok := c.stderr.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return runner.Run(ctx, opts)
	}

	p := tea.NewProgram(newProgressModel(opts.Matcher.Name(), opts.TopN, interrupt), tea.WithOutput(f))
	opts.OnPackage = func(ref source.PackageRef, reason string) {
		p.Send(packageMsg{name: ref.String(), reason: reason})
	}

	c.Logger.SetOutput(programWriter{p})
	defer c.Logger.SetOutput(c.stderr)

	var (
		result *pipeline.Result
		err    error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		result, err = runner.Run(ctx, opts)
		p.Send(runDoneMsg{})
	}()

	if _, uiErr := p.Run(); uiErr != nil {
		c.Logger.Debug("progress display failed", "err", uiErr)
	}
	<-done
	return result, err
}

// programWriter prints log output above the bubbletea view.
type programWriter struct {
	p *tea.Program
}

func (w programWriter) Write(b []byte) (int, error) {
	w.p.Println(strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

var _ io.Writer = programWriter{}

// =============================================================================
// progressModel - Scan progress view
// =============================================================================

type (
	packageMsg struct {
		name   string
		reason string
	}
	runDoneMsg struct{}
	tickMsg    time.Time
)

type progressModel struct {
	title     string
	total     int
	done      int
	skipped   int
	last      string
	frame     int
	start     time.Time
	interrupt func()
	stopping  bool
	finished  bool
}

func newProgressModel(title string, total int, interrupt func()) progressModel {
	return progressModel{title: title, total: total, start: time.Now(), interrupt: interrupt}
}

func tick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m progressModel) Init() tea.Cmd {
	return tick()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !m.stopping {
			m.stopping = true
			if m.interrupt != nil {
				m.interrupt()
			}
		}
	case packageMsg:
		m.done++
		if msg.reason != "" {
			m.skipped++
		}
		m.last = msg.name
	case tickMsg:
		m.frame++
		return m, tick()
	case runDoneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}

	frame := styleIconSpinner.Render(spinnerFrames[m.frame%len(spinnerFrames)])
	status := fmt.Sprintf("%s %d/%d packages", m.title, m.done, m.total)
	if m.skipped > 0 {
		status += StyleWarning.Render(fmt.Sprintf(" (%d skipped)", m.skipped))
	}
	line := frame + " " + StyleValue.Render(status) + StyleDim.Render(fmt.Sprintf("  %s", time.Since(m.start).Round(time.Second)))

	switch {
	case m.stopping:
		line += "\n  " + StyleWarning.Render("stopping, waiting for running packages...")
	case m.last != "":
		line += "\n  " + StyleDim.Render(iconArrow+" "+m.last)
	}
	return line + "\n"
}
