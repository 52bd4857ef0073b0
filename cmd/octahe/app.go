package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artpar/octahe/internal/core/directive"
	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/core/proxy"
	"github.com/artpar/octahe/internal/engine"
	"github.com/artpar/octahe/internal/shell/exec"
	"github.com/artpar/octahe/internal/shell/image"
	"github.com/artpar/octahe/internal/shell/store"
)

// ErrHistoryDisabled is returned when history is requested without a DSN.
var ErrHistoryDisabled = errors.New("run history is disabled, set history.dsn")

// sshConfigName is the generated client configuration inside the work dir.
const sshConfigName = "ssh_config"

// app wires configuration into one command invocation.
type app struct {
	cfg    *Config
	opts   *rootOptions
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
	// tty enables in-place progress lines.
	tty bool
}

func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := LoadConfig(opts.configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}

	a := &app{
		cfg:    cfg,
		opts:   opts,
		logger: SetupLogger(cfg, cmd.ErrOrStderr()),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}
	if f, ok := a.stdout.(*os.File); ok {
		a.tty = isTerminal(f)
	}
	return a, nil
}

// plan parses files into a plan. Base images are expanded when expand is
// set and FROM support is enabled.
func (a *app) plan(ctx context.Context, files []string, expand bool) (*directive.Plan, error) {
	directives, err := directive.ReadFiles(files)
	if err != nil {
		return nil, err
	}

	var layers map[string][]directive.Layer
	images, err := directive.FromImages(directives)
	if err != nil {
		return nil, err
	}
	if len(images) > 0 {
		switch {
		case !expand:
		case !a.cfg.From.Enabled:
			a.logger.Warn("base image expansion disabled, FROM layers skipped", "images", len(images))
		default:
			if layers, err = a.expandImages(ctx, images); err != nil {
				return nil, err
			}
		}
	}

	plan, err := directive.Build(directives, layers, directive.Options{
		Targets:       a.opts.targets,
		Args:          a.opts.args,
		Escalate:      a.cfg.Run.Escalate,
		ConnectionKey: a.cfg.Run.ConnectionKey,
		BuildArgs:     directive.PlatformArgs(runtime.GOOS, runtime.GOARCH),
	})
	if err != nil {
		return nil, err
	}
	for _, w := range plan.Warnings {
		a.logger.Warn(w)
	}
	a.logger.Debug("plan built", "steps", len(plan.Steps), "targets", len(plan.Order))
	return plan, nil
}

// expandImages resolves FROM images through Docker. When the daemon cannot
// be reached the images contribute no layers.
func (a *app) expandImages(ctx context.Context, images []directive.Image) (map[string][]directive.Layer, error) {
	layers, err := a.resolveImages(ctx, images)
	if errors.Is(err, image.ErrConnectionFailed) {
		a.logger.Warn("docker daemon unreachable, FROM layers skipped", "images", len(images), "error", err)
		return nil, nil
	}
	return layers, err
}

func (a *app) resolveImages(ctx context.Context, images []directive.Image) (map[string][]directive.Layer, error) {
	docker, err := image.NewDockerEngine(a.cfg.From.DockerHost)
	if err != nil {
		return nil, err
	}
	defer docker.Close()

	return image.NewSource(docker, a.logger).Resolve(ctx, images)
}

// execute runs files in mode and maps the verdict to an exit code.
func (a *app) execute(ctx context.Context, mode domain.Mode, files []string) error {
	plan, err := a.plan(ctx, files, true)
	if err != nil {
		return &ExitError{Code: ExitSetupError, Err: err}
	}

	if err := os.MkdirAll(a.cfg.WorkDir, 0o700); err != nil {
		return &ExitError{Code: ExitSetupError, Err: fmt.Errorf("failed to create work dir: %w", err)}
	}
	if needsClientConfig(plan) {
		if err := a.writeClientConfig(plan); err != nil {
			return &ExitError{Code: ExitSetupError, Err: err}
		}
	}

	baseDir, err := filepath.Abs(filepath.Dir(files[0]))
	if err != nil {
		return &ExitError{Code: ExitSetupError, Err: err}
	}

	out := engine.NewSyncWriter(a.stdout)
	progress := io.Writer(out)
	if a.cfg.Run.Output != engine.FormatText {
		progress = a.stderr
	}

	factory := exec.NewFactory(plan.Targets, exec.Config{
		BaseDir:        baseDir,
		StageDir:       a.cfg.WorkDir,
		ConnectionKey:  a.cfg.Run.ConnectionKey,
		ConnectTimeout: a.cfg.SSH.ConnectTimeout,
		CommandTimeout: a.cfg.SSH.CommandTimeout,
		BaudRate:       a.cfg.Serial.BaudRate,
		BuildArgs:      plan.BuildArgs,
		Output:         out,
		Logger:         a.logger,
	}, a.cfg.Run.DryRun)
	defer factory.Close()

	eng := engine.New(plan, factory, engine.Config{
		Mode:             mode,
		Quota:            a.cfg.Run.ConnectionQuota,
		DryRun:           a.cfg.Run.DryRun,
		EscalatePassword: a.cfg.Run.EscalatePassword,
		Reporter:         engine.NewConsoleReporter(progress, a.tty && !a.cfg.Run.DryRun && a.cfg.Run.Output == engine.FormatText),
		Logger:           a.logger,
	})

	report, runErr := eng.Run(ctx)
	a.record(ctx, report, files)

	if err := report.Write(a.stdout, a.cfg.Run.Output); err != nil {
		return &ExitError{Code: ExitSetupError, Err: err}
	}

	if runErr != nil {
		return &ExitError{Code: ExitFailed, Err: runErr}
	}
	switch report.State {
	case domain.StateSuccess:
		return nil
	case domain.StateDegraded:
		return &ExitError{Code: ExitDegraded}
	default:
		return &ExitError{Code: ExitFailed}
	}
}

// needsClientConfig reports whether any target is reached through a jump host.
func needsClientConfig(plan *directive.Plan) bool {
	for _, t := range plan.Targets {
		if t.HasVia() {
			return true
		}
	}
	return false
}

func (a *app) clientConfig(plan *directive.Plan) (string, error) {
	return proxy.RenderClientConfig(plan.Targets, filepath.Join(a.cfg.WorkDir, sshConfigName))
}

func (a *app) writeClientConfig(plan *directive.Plan) error {
	text, err := a.clientConfig(plan)
	if err != nil {
		return err
	}
	path := filepath.Join(a.cfg.WorkDir, sshConfigName)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return fmt.Errorf("failed to write ssh client config: %w", err)
	}
	a.logger.Info("ssh client config written", "path", path)
	return nil
}

// record saves the run to history. Failures are logged and never change
// the run's outcome.
func (a *app) record(ctx context.Context, report *engine.Report, files []string) {
	if a.cfg.History.DSN == "" {
		return
	}
	st, err := a.openStore()
	if err != nil {
		a.logger.Warn("run history unavailable", "error", err)
		return
	}
	defer st.Close()

	if err := st.SaveRun(context.WithoutCancel(ctx), report.Run(files)); err != nil {
		a.logger.Warn("failed to save run", "run_id", report.RunID, "error", err)
		return
	}
	removed, err := st.PruneRuns(context.WithoutCancel(ctx), a.cfg.History.Keep)
	if err != nil {
		a.logger.Warn("failed to prune history", "error", err)
		return
	}
	if removed > 0 {
		a.logger.Debug("history pruned", "removed", removed)
	}
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	dsn := a.cfg.History.DSN
	if dsn == "" {
		return nil, ErrHistoryDisabled
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	return store.NewSQLiteStore(dsn)
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case engine.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case engine.FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("%w: %q", engine.ErrUnknownFormat, format)
	}
}
