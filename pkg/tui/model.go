package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/eval"
	"github.com/ormasoftchile/blueprint/pkg/kernel/executor"
	"github.com/ormasoftchile/blueprint/pkg/kernel/graph"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
)

// StepState tracks one tile in the view.
type StepState struct {
	ID       string
	Type     schema.TileType
	Label    string
	Status   executor.Status // empty while pending
	Duration time.Duration
	Error    string
	Result   any
}

// RunFunc executes the blueprint, reporting transitions to obs.
type RunFunc func(ctx context.Context, obs engine.Observer) *engine.RunResult

// Model is the Bubble Tea model for a blueprint run.
type Model struct {
	blueprint *schema.Blueprint
	mode      string
	steps     []StepState
	selected  int
	spinner   spinner.Model
	running   bool
	result    *engine.RunResult
	width     int
}

// NewModel creates a model listing the tiles in execution order.
func NewModel(bp *schema.Blueprint, mode string) Model {
	order := graph.Order(bp.Tiles)
	steps := make([]StepState, 0, len(order))
	for _, t := range order {
		steps = append(steps, StepState{ID: t.ID, Type: t.Type, Label: t.Label})
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		blueprint: bp,
		mode:      mode,
		steps:     steps,
		spinner:   sp,
		running:   true,
		width:     80,
	}
}

// --- Messages ---

type stepStartedMsg struct {
	id string
}

type stepFinishedMsg struct {
	result executor.StepResult
}

type runFinishedMsg struct {
	result *engine.RunResult
}

// observer forwards engine notifications into the program.
type observer struct {
	send func(tea.Msg)
}

func (o observer) StepStarted(tile schema.Tile, _ int) {
	o.send(stepStartedMsg{id: tile.ID})
}

func (o observer) StepFinished(result executor.StepResult) {
	o.send(stepFinishedMsg{result: result})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, keys.Down):
			if m.selected < len(m.steps)-1 {
				m.selected++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stepStartedMsg:
		if i := m.indexOf(msg.id); i >= 0 {
			m.steps[i].Status = executor.StatusRunning
			m.selected = i
		}

	case stepFinishedMsg:
		if i := m.indexOf(msg.result.StepID); i >= 0 {
			s := &m.steps[i]
			s.Status = msg.result.Status
			s.Duration = time.Duration(msg.result.Duration) * time.Millisecond
			s.Error = msg.result.Error
			s.Result = msg.result.Result
		}

	case runFinishedMsg:
		m.running = false
		m.result = msg.result
	}

	return m, nil
}

func (m Model) indexOf(id string) int {
	for i := range m.steps {
		if m.steps[i].ID == id {
			return i
		}
	}
	return -1
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("blueprint: " + m.blueprint.Name))
	if m.mode != "" {
		b.WriteString(" " + modeBadgeStyle.Render(m.mode))
	}
	b.WriteString("\n")
	if m.blueprint.Description != "" {
		b.WriteString(RenderMarkdown(m.blueprint.Description, m.width-4))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for i, s := range m.steps {
		b.WriteString(m.stepLine(i, s))
		b.WriteString("\n")
	}
	if len(m.steps) == 0 {
		b.WriteString(dimStyle.Render("  no executable steps"))
		b.WriteString("\n")
	}

	if m.selected < len(m.steps) {
		if detail := stepDetail(m.steps[m.selected]); detail != "" {
			b.WriteString("\n")
			b.WriteString(panelBorder.Render(detail))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	switch {
	case m.running:
		b.WriteString(m.spinner.View() + " running")
	case m.result != nil && m.result.Success:
		b.WriteString(successBanner.Render(fmt.Sprintf("%s completed in %dms", GlyphCompleted, m.result.Duration)))
	case m.result != nil:
		b.WriteString(failureBanner.Render(fmt.Sprintf("%s failed: %s", GlyphFailed, m.result.Error)))
	}
	b.WriteString("\n\n")
	b.WriteString(keyBarText())

	return b.String()
}

func (m Model) stepLine(i int, s StepState) string {
	name := s.ID
	if s.Label != "" {
		name = s.Label
	}
	var glyph string
	style := stepNormal
	switch s.Status {
	case executor.StatusRunning:
		glyph, style = m.spinner.View(), stepRunning
	case executor.StatusCompleted:
		glyph, style = GlyphCompleted, stepCompleted
	case executor.StatusFailed:
		glyph, style = GlyphFailed, stepFailed
	default:
		glyph = GlyphPending
	}
	line := fmt.Sprintf("%s %s [%s]", glyph, name, s.Type)
	if s.Duration > 0 {
		line += "  " + dimStyle.Render(s.Duration.String())
	}
	if i == m.selected {
		return stepSelected.Render(GlyphCurrent) + " " + style.Render(line)
	}
	return "  " + style.Render(line)
}

func stepDetail(s StepState) string {
	switch {
	case s.Error != "":
		return "error: " + s.Error
	case s.Result != nil:
		return "result: " + eval.Stringify(s.Result)
	}
	return ""
}

// Run shows the live view while run executes. It returns the run's result
// once the user quits; quitting early cancels ctx for the run.
func Run(ctx context.Context, bp *schema.Blueprint, mode string, run RunFunc) (*engine.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(bp, mode), tea.WithContext(ctx))
	done := make(chan *engine.RunResult, 1)
	go func() {
		res := run(ctx, observer{send: p.Send})
		done <- res
		p.Send(runFinishedMsg{result: res})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("tui: %w", err)
	}
	cancel()
	return <-done, nil
}
