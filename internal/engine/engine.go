// Package engine drives a plan across its targets one step at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/octahe/internal/core/command"
	"github.com/artpar/octahe/internal/core/directive"
	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/core/firewall"
	"github.com/artpar/octahe/internal/core/unit"
	"github.com/artpar/octahe/internal/shell/exec"
)

// =============================================================================
// Configuration
// =============================================================================

// Factory creates the capability for a target.
type Factory interface {
	New(target domain.Target) exec.Capability
}

// Config configures a run.
type Config struct {
	Mode             domain.Mode
	Quota            int // Concurrent target operations per step. Default: 1
	DryRun           bool
	EscalatePassword string
	Reporter         Reporter
	Logger           *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Mode:  domain.ModeDeploy,
		Quota: 1,
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine applies the steps of a plan to its targets.
type Engine struct {
	plan     *directive.Plan
	factory  Factory
	cfg      Config
	records  *Records
	reporter Reporter
	logger   *slog.Logger
}

// New creates an engine for one run of plan.
func New(plan *directive.Plan, factory Factory, cfg Config) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeDeploy
	}
	if cfg.Quota < 1 {
		cfg.Quota = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}

	return &Engine{
		plan:     plan,
		factory:  factory,
		cfg:      cfg,
		records:  NewRecords(plan.Targets, plan.Order),
		reporter: reporter,
		logger:   logger.With("component", "engine", "mode", string(cfg.Mode)),
	}
}

// Records exposes the run's task and target tables.
func (e *Engine) Records() *Records {
	return e.records
}

// Run applies every step in order. Target failures never abort the run;
// the returned error is set only when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Mode:      e.cfg.Mode,
		DryRun:    e.cfg.DryRun,
		StartedAt: time.Now().UTC(),
	}
	e.logger.Info("run started", "run_id", report.RunID, "steps", len(e.plan.Steps), "targets", len(e.plan.Order), "quota", e.cfg.Quota)

	total := len(e.plan.Steps)
	prev := -1
	var runErr error

	for i, step := range e.plan.Steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if e.cfg.Mode == domain.ModeUndeploy && !step.Verb.IsReversible() {
			e.logger.Debug("step skipped", "index", i, "verb", step.Verb)
			continue
		}

		available := e.records.Available()
		if len(available) == 0 {
			e.logger.Warn("no targets available, stopping", "index", i)
			break
		}

		e.records.Task(i, step)
		e.records.SetTaskState(i, domain.StateRunning)
		e.reporter.StepStarted(i, total, step)

		e.runStep(ctx, i, prev, step, available)

		state := domain.Verdict(e.records.Failed(), e.records.Total())
		e.records.SetTaskState(i, state)
		e.reporter.StepFinished(i, total, step, state)
		prev = i

		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
	}

	for _, c := range e.records.capabilities() {
		if err := c.Close(); err != nil {
			e.logger.Debug("close failed", "error", err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Cancelled = runErr != nil
	report.Tasks = e.records.Tasks()
	report.Targets = e.records.Outcomes()
	report.State = domain.Verdict(e.records.Failed(), e.records.Total())
	if report.Cancelled && report.State == domain.StateSuccess {
		report.State = domain.StateDegraded
	}
	report.Steps = total

	e.logger.Info("run finished", "run_id", report.RunID, "state", report.State, "duration", report.FinishedAt.Sub(report.StartedAt))
	return report, runErr
}

// runStep fans step out to every available target and waits for all of
// them.
func (e *Engine) runStep(ctx context.Context, index, prev int, step domain.Step, available []string) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Quota)

	for _, name := range available {
		rec := e.records.Target(name)
		g.Go(func() error {
			// Queued operations return without side effects once cancelled.
			if ctx.Err() != nil {
				return nil
			}
			if rec.LastStep != prev {
				e.records.Fail(name, index, step.String(), fmt.Errorf("step %d applied out of order, last completed step is %d", index, rec.LastStep))
				return nil
			}

			logger := e.logger.With("target", name, "index", index)
			if err := e.ensureConnected(ctx, rec); err != nil {
				logger.Error("connection failed", "error", err)
				e.records.Fail(name, index, "connect", err)
				return nil
			}
			if err := e.apply(ctx, rec, step); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					logger.Debug("step cancelled", "verb", step.Verb)
					return nil
				}
				logger.Error("step failed", "verb", step.Verb, "error", err)
				e.records.Fail(name, index, step.String(), err)
				return nil
			}
			rec.LastStep = index
			return nil
		})
	}
	_ = g.Wait()
}

// ensureConnected creates, connects and probes the target's capability on
// first use and seeds its environment.
func (e *Engine) ensureConnected(ctx context.Context, rec *TargetRecord) error {
	if rec.Capability != nil {
		return nil
	}

	c := e.factory.New(rec.Target)
	rec.Capability = c
	if err := c.Connect(ctx); err != nil {
		return err
	}
	facts, err := c.Probe(ctx)
	if err != nil {
		return err
	}

	env := make(map[string]string, len(e.plan.BuildArgs)+len(facts))
	for k, v := range e.plan.BuildArgs {
		env[k] = v
	}
	for k, v := range facts {
		env[k] = v
	}
	rec.settings = exec.Settings{
		Shell:            command.DefaultShell,
		Escalate:         rec.Target.Escalate,
		EscalatePassword: e.cfg.EscalatePassword,
		Env:              env,
	}
	return nil
}

// =============================================================================
// Verb Dispatch
// =============================================================================

// apply performs one step on one target.
func (e *Engine) apply(ctx context.Context, rec *TargetRecord, step domain.Step) error {
	c := rec.Capability
	st := &rec.settings
	undeploy := e.cfg.Mode == domain.ModeUndeploy

	switch p := step.Payload.(type) {
	case domain.EnvPayload:
		// ENV, ARG and LABEL all merge per key, later values win.
		if st.Env == nil {
			st.Env = make(map[string]string, len(p.Values))
		}
		for k, v := range p.Values {
			st.Env[k] = v
		}
		return nil

	case domain.UserPayload:
		st.User = p.User
		st.Group = p.Group
		return nil

	case domain.WorkdirPayload:
		dir := p.Path
		if !path.IsAbs(dir) && st.Workdir != "" {
			dir = path.Join(st.Workdir, dir)
		}
		st.Workdir = dir
		return c.Mkdir(ctx, dir, *st)

	case domain.RunPayload:
		s := *st
		s.NonFatal = p.NonFatal
		return c.Run(ctx, p.Command, s)

	case domain.CopyPayload:
		if p.From != "" {
			return fmt.Errorf("%s --from=%s: %w", step.Verb, p.From, exec.ErrUnsupported)
		}
		return c.Copy(ctx, p.Sources, resolveDest(st.Workdir, p.Destination), p.Owner, *st)

	case domain.HealthcheckPayload:
		if p.Command == "" {
			rec.health = nil
			return nil
		}
		rec.health = &unit.Healthcheck{
			Command:     p.Command,
			Interval:    p.Interval,
			Timeout:     p.Timeout,
			StartPeriod: p.StartPeriod,
			Retries:     p.Retries,
		}
		return nil

	case domain.ExposePayload:
		rule := firewall.Rule{Port: p.Port, NatPort: p.NatPort, Proto: p.Proto, Interface: rec.iface}
		if undeploy {
			return c.ExposeRemove(ctx, rule, *st)
		}
		return c.ExposeCreate(ctx, rule, *st)

	case domain.TextPayload:
		return e.applyText(ctx, rec, step.Verb, p.Text, undeploy)
	}

	return fmt.Errorf("%s: %w", step.Verb, exec.ErrNotImplemented)
}

func (e *Engine) applyText(ctx context.Context, rec *TargetRecord, verb domain.Verb, text string, undeploy bool) error {
	st := &rec.settings

	switch verb {
	case domain.VerbShell:
		st.Shell = text
		return nil
	case domain.VerbCmd:
		rec.cmd = text
		return nil
	case domain.VerbStopSignal:
		rec.stopSignal = text
		return nil
	case domain.VerbInterface:
		rec.iface = text
		return nil
	case domain.VerbEntrypoint:
		name := unit.Name(text)
		if undeploy {
			return rec.Capability.EntrypointRemove(ctx, name, *st)
		}
		cmd := text
		if rec.cmd != "" {
			cmd = text + " " + rec.cmd
		}
		return rec.Capability.EntrypointStart(ctx, unit.Config{
			Name:        name,
			Command:     cmd,
			Shell:       st.Shell,
			User:        st.User,
			Group:       st.Group,
			KillSignal:  rec.stopSignal,
			Workdir:     st.Workdir,
			Environment: st.Env,
			Healthcheck: rec.health,
		}, *st)
	}

	return fmt.Errorf("%s: %w", verb, exec.ErrNotImplemented)
}

// resolveDest anchors a relative copy destination at the working directory.
func resolveDest(workdir, dest string) string {
	if workdir == "" || path.IsAbs(dest) {
		return dest
	}
	joined := path.Join(workdir, dest)
	if exec.IsDirPath(dest) && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}
