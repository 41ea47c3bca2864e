package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/journal"
	"github.com/LISSConsulting/LISSTech.OContinue/internal/state"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

type loopView struct {
	Session       string    `json:"session" yaml:"session"`
	RunID         string    `json:"run_id" yaml:"run_id"`
	Iteration     int       `json:"iteration" yaml:"iteration"`
	MaxIterations int       `json:"max_iterations" yaml:"max_iterations"`
	Promise       string    `json:"promise" yaml:"promise"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	Prompt        string    `json:"prompt" yaml:"prompt"`
}

type runView struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Session    string    `json:"session" yaml:"session"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Iterations int       `json:"iterations" yaml:"iterations"`
	MaxIter    int       `json:"max_iterations" yaml:"max_iterations"`
	Promise    string    `json:"promise" yaml:"promise"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

func toLoopViews(loops []state.Loop) []loopView {
	out := make([]loopView, len(loops))
	for i, l := range loops {
		out[i] = loopView{
			Session:       l.SessionID,
			RunID:         l.RunID,
			Iteration:     l.Iteration,
			MaxIterations: l.MaxIterations,
			Promise:       l.CompletionPromise,
			StartedAt:     l.StartedAt,
			Prompt:        l.Prompt,
		}
	}
	return out
}

func toRunViews(runs []journal.RunSummary) []runView {
	out := make([]runView, len(runs))
	for i, r := range runs {
		outcome := string(r.Outcome)
		if outcome == "" {
			outcome = "running"
		}
		out[i] = runView{
			RunID:      r.RunID,
			Session:    r.SessionID,
			Outcome:    outcome,
			Iterations: r.Iterations,
			MaxIter:    r.MaxIter,
			Promise:    r.Promise,
			StartedAt:  r.StartAt,
			EndedAt:    r.EndAt,
		}
	}
	return out
}

// formatStatus renders the active loops in the requested format.
func formatStatus(loops []state.Loop, format string, now time.Time) (string, error) {
	views := toLoopViews(loops)
	switch format {
	case formatJSON:
		return marshalJSON(map[string]any{"loops": views})
	case formatYAML:
		return marshalYAML(map[string]any{"loops": views})
	case formatTable, "":
		if len(views) == 0 {
			return "No active loops.\n", nil
		}
		rows := make([][]string, len(views))
		for i, v := range views {
			rows[i] = []string{
				v.Session,
				fmt.Sprintf("%d/%d", v.Iteration, v.MaxIterations),
				v.Promise,
				since(now, v.StartedAt),
				truncate(oneLine(v.Prompt), 48),
			}
		}
		return renderTable([]string{"SESSION", "ITER", "PROMISE", "AGE", "PROMPT"}, rows), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// formatHistory renders journal run summaries in the requested format.
func formatHistory(runs []journal.RunSummary, format string) (string, error) {
	views := toRunViews(runs)
	switch format {
	case formatJSON:
		return marshalJSON(map[string]any{"runs": views})
	case formatYAML:
		return marshalYAML(map[string]any{"runs": views})
	case formatTable, "":
		if len(views) == 0 {
			return "No loop runs recorded.\n", nil
		}
		rows := make([][]string, len(views))
		for i, v := range views {
			duration := "—"
			if !v.EndedAt.IsZero() {
				duration = v.EndedAt.Sub(v.StartedAt).Round(time.Second).String()
			}
			rows[i] = []string{
				v.StartedAt.Local().Format("2006-01-02 15:04"),
				v.Session,
				v.Outcome,
				fmt.Sprintf("%d/%d", v.Iterations, v.MaxIter),
				v.Promise,
				duration,
			}
		}
		return renderTable([]string{"STARTED", "SESSION", "OUTCOME", "ITER", "PROMISE", "DURATION"}, rows), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String() + "\n"
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(data) + "\n", nil
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal yaml: %w", err)
	}
	return string(data), nil
}

func since(now, t time.Time) string {
	if t.IsZero() || now.Before(t) {
		return "—"
	}
	return now.Sub(t).Round(time.Second).String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
