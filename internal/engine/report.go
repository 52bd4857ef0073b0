package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/octahe/internal/core/domain"
)

// Output formats for a report.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrUnknownFormat is returned for an unsupported report format.
var ErrUnknownFormat = errors.New("unknown output format")

// Report summarizes a finished run.
type Report struct {
	RunID      string                 `json:"run_id" yaml:"run_id"`
	Mode       domain.Mode            `json:"mode" yaml:"mode"`
	DryRun     bool                   `json:"dry_run" yaml:"dry_run"`
	State      domain.State           `json:"state" yaml:"state"`
	Cancelled  bool                   `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Steps      int                    `json:"steps" yaml:"steps"`
	StartedAt  time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time              `json:"finished_at" yaml:"finished_at"`
	Tasks      []TaskRecord           `json:"-" yaml:"-"`
	Targets    []domain.TargetOutcome `json:"targets" yaml:"targets"`
}

// taskView is the serialized form of a task.
type taskView struct {
	Index int          `json:"index" yaml:"index"`
	Step  string       `json:"step" yaml:"step"`
	State domain.State `json:"state" yaml:"state"`
}

type reportView struct {
	Report `yaml:",inline"`
	Tasks   []taskView `json:"tasks" yaml:"tasks"`
}

func (r *Report) view() reportView {
	tasks := make([]taskView, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		tasks = append(tasks, taskView{Index: t.Index, Step: t.Step.String(), State: t.State})
	}
	return reportView{Report: *r, Tasks: tasks}
}

// Run converts the report into a history entry.
func (r *Report) Run(files []string) *domain.Run {
	return &domain.Run{
		ID:         r.RunID,
		Mode:       r.Mode,
		Files:      files,
		State:      r.State,
		Steps:      r.Steps,
		DryRun:     r.DryRun,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Targets:    r.Targets,
	}
}

// Write renders the report in format.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case "", FormatText:
		return r.writeText(w)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r.view())
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(r.view())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (r *Report) writeText(w io.Writer) error {
	mode := string(r.Mode)
	if r.DryRun {
		mode += " (dry run)"
	}
	fmt.Fprintf(w, "\nRun %s: %s %s in %s\n", r.RunID, mode, r.State, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Cancelled {
		fmt.Fprintln(w, "Run was cancelled before all steps completed.")
	}

	failed := 0
	for _, t := range r.Targets {
		if t.State == domain.TargetFailed {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSTEP\tTASK\tERROR")
	for _, t := range r.Targets {
		if t.State != domain.TargetFailed {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", t.Name, t.FailedStep, truncate(t.FailedTask, 40), firstLine(t.Error))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
