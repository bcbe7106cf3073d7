package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer provides a live terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *reindexModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails on non-TTY output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newReindexModel(cfg.SourceDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()

	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(errorEventMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()

		// Bounded wait so Ctrl-C never hangs on an unresponsive TUI.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}

	return nil
}

// Message types for bubbletea.
type progressUpdateMsg ProgressEvent
type errorEventMsg ErrorEvent
type completeMsg CompletionStats

// reindexModel is the bubbletea model for reindex progress.
type reindexModel struct {
	width    int
	quitting bool
	complete bool

	event    ProgressEvent
	stats    CompletionStats
	warnings int
	failures int
	lastErr  string

	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	sourceDir   string
}

func newReindexModel(sourceDir string) *reindexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan))

	p := progress.New(
		progress.WithSolidFill(ColorCyan),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &reindexModel{
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		sourceDir:   sourceDir,
	}
}

// Init implements tea.Model.
func (m *reindexModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *reindexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 24
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case progressUpdateMsg:
		m.event = ProgressEvent(msg)
		return m, nil

	case errorEventMsg:
		if msg.IsWarn {
			m.warnings++
		} else {
			m.failures++
		}
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *reindexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{
		m.renderStages(),
		m.styles.Border.Render(strings.Repeat("─", contentWidth)),
		m.renderProgress(),
	}
	if m.event.CurrentDoc != "" {
		sections = append(sections, m.styles.Dim.Render(m.event.CurrentDoc))
	}

	title := "docdex"
	if m.sourceDir != "" {
		title = "docdex • " + m.sourceDir
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(contentWidth)

	body := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
	)

	return body + "\n" + m.renderStatusBar()
}

// renderStages renders the pipeline stage indicators.
func (m *reindexModel) renderStages() string {
	stages := []struct {
		stage Stage
		name  string
	}{
		{StageScanning, "Scan"},
		{StageChunking, "Chunk"},
		{StageEmbedding, "Embed"},
		{StageStoring, "Store"},
	}

	current := m.event.Stage
	var parts []string
	for _, s := range stages {
		var icon string
		var style lipgloss.Style
		switch {
		case s.stage < current:
			icon = "●"
			style = m.styles.Success
		case s.stage == current:
			icon = m.spinner.View()
			style = m.styles.Active
		default:
			icon = "○"
			style = m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+s.name))
	}

	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

// renderProgress renders the progress bar for the active stage.
func (m *reindexModel) renderProgress() string {
	current, total := m.stageProgress()
	if total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), m.event.Stage.String())
	}

	percent := float64(current) / float64(total)
	bar := m.progressBar.ViewAs(percent)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", percent*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d %s", current, total, m.stageUnit()))

	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

// stageProgress picks the counter pair that matters for the active stage.
func (m *reindexModel) stageProgress() (current, total int) {
	switch m.event.Stage {
	case StageEmbedding:
		return m.event.ChunksProcessed, m.event.ChunksTotal
	case StageStoring:
		return m.event.DocsProcessed, m.event.DocsTotal
	case StageChunking:
		return m.event.DocsProcessed, m.event.DocsTotal
	default:
		return 0, 0
	}
}

func (m *reindexModel) stageUnit() string {
	if m.event.Stage == StageEmbedding {
		return "chunks"
	}
	return "documents"
}

// renderStatusBar renders warning/failure counts below the panel.
func (m *reindexModel) renderStatusBar() string {
	var parts []string
	if m.warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.warnings)))
	}
	if m.failures > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", m.failures)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}

	sep := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, sep) + sep + m.styles.Dim.Render("q to quit")
}

// renderComplete renders the completion summary panel.
func (m *reindexModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	lines := []string{
		m.styles.Success.Render("✓ Index up to date"),
		"",
		fmt.Sprintf("%s %s", m.styles.Label.Render("Documents:"),
			m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Documents))),
		fmt.Sprintf("%s    %s", m.styles.Label.Render("Chunks:"),
			m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Chunks))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Duration:"),
			m.styles.Active.Render(formatDuration(m.stats.Duration))),
	}

	if m.stats.Skipped > 0 {
		lines = append(lines, fmt.Sprintf("%s %s", m.styles.Label.Render("Unchanged:"),
			m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Skipped))))
	}
	if m.stats.Backend.Provider != "" {
		lines = append(lines, "", m.styles.Label.Render(fmt.Sprintf("Backend: %s (%s, %d dims)",
			m.stats.Backend.Provider, m.stats.Backend.Model, m.stats.Backend.Dimensions)))
	}
	if m.stats.Failed > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Failed > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d documents failed", m.stats.Failed)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorGreen)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

var _ Renderer = (*TUIRenderer)(nil)
