package engine

import (
	"fmt"
	"io"
	"sync"

	"github.com/artpar/octahe/internal/core/domain"
)

// Reporter receives step progress.
type Reporter interface {
	StepStarted(index, total int, step domain.Step)
	StepFinished(index, total int, step domain.Step, state domain.State)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) StepStarted(int, int, domain.Step)                 {}
func (NopReporter) StepFinished(int, int, domain.Step, domain.State) {}

// ConsoleReporter prints one line per step. The progress line is replaced
// by the verdict once the step completes.
type ConsoleReporter struct {
	mu  sync.Mutex
	out io.Writer
	// Overwrite uses a carriage return to replace the progress line.
	// Disable it when other output shares the writer.
	Overwrite bool
}

// NewConsoleReporter creates a reporter writing to out.
func NewConsoleReporter(out io.Writer, overwrite bool) *ConsoleReporter {
	return &ConsoleReporter{out: out, Overwrite: overwrite}
}

func (c *ConsoleReporter) StepStarted(index, total int, step domain.Step) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := stepLine(index, total, step)
	if c.Overwrite {
		fmt.Fprintf(c.out, "%s ... running", line)
		return
	}
	fmt.Fprintf(c.out, "%s ... running\n", line)
}

func (c *ConsoleReporter) StepFinished(index, total int, step domain.Step, state domain.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := stepLine(index, total, step)
	if c.Overwrite {
		fmt.Fprintf(c.out, "\r\033[K%s ... %s\n", line, state)
		return
	}
	fmt.Fprintf(c.out, "%s ... %s\n", line, state)
}

func stepLine(index, total int, step domain.Step) string {
	return fmt.Sprintf("Step %d/%d : %s", index+1, total, truncate(step.String(), 72))
}

// SyncWriter serializes writes from concurrent workers.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
