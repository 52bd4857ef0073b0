package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/engine"
	"github.com/artpar/octahe/internal/shell/store"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
	args       []string
	targets    []string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "octahe [flags] FILE...",
		Short: "Apply Dockerfile-style deployment files to hosts",
		Long: `octahe reads Dockerfile-like files and applies their steps to local
or remote targets over SSH, SSH jump chains or serial consoles.

FROM base images are read through the local Docker daemon, which pulls
images that are missing. When the daemon is unreachable the base image
steps are skipped with a warning; set from.enabled=false
(OCTAHE_FROM_ENABLED=false) to skip them outright.

Running octahe without a subcommand deploys the given files.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runMode(cmd, opts, domain.ModeDeploy, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to config file")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	pf.StringArrayVarP(&opts.args, "args", "a", nil, "Build argument KEY=VALUE injected as ARG (repeatable)")
	pf.StringArrayVarP(&opts.targets, "targets", "t", nil, "Target in TO syntax, replaces every TO directive (repeatable)")
	pf.StringP("connection-key", "k", "", "Default private key for targets")
	pf.IntP("connection-quota", "c", 1, "Maximum concurrent target operations per step")
	pf.Bool("dry-run", false, "Print every command instead of running it")
	pf.StringP("escalate", "e", "", "Default escalation command, e.g. sudo")
	pf.StringP("escalate-pw", "p", "", "Escalation password, sent on stdin only")
	pf.StringP("output", "o", engine.FormatText, "Report format: text, json or yaml")
	pf.String("work-dir", "", "Directory for generated files")

	root.AddCommand(
		newModeCommand(opts, domain.ModeDeploy, "Apply the files to their targets"),
		newModeCommand(opts, domain.ModeUndeploy, "Remove entry points and exposed ports"),
		newHistoryCommand(opts),
		newSSHConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newModeCommand(opts *rootOptions, mode domain.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode) + " FILE...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMode(cmd, opts, mode, args)
		},
	}
}

func runMode(cmd *cobra.Command, opts *rootOptions, mode domain.Mode, files []string) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return &ExitError{Code: ExitSetupError, Err: err}
	}
	return a.execute(cmd.Context(), mode, files)
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		limit int
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show previous runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return &ExitError{Code: ExitSetupError, Err: err}
			}
			st, err := a.openStore()
			if err != nil {
				return &ExitError{Code: ExitSetupError, Err: err}
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := st.GetRun(cmd.Context(), args[0])
				if err != nil {
					return &ExitError{Code: ExitSetupError, Err: err}
				}
				return writeRuns(out, a.cfg.Run.Output, []domain.Run{*run})
			}

			runs, err := st.ListRuns(cmd.Context(), store.ListOptions{Limit: limit, Mode: domain.Mode(mode)})
			if err != nil {
				return &ExitError{Code: ExitSetupError, Err: err}
			}
			return writeRuns(out, a.cfg.Run.Output, runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	cmd.Flags().StringVar(&mode, "mode", "", "Only show deploy or undeploy runs")
	return cmd
}

func newSSHConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ssh-config FILE...",
		Short: "Print the SSH client configuration for the files' targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return &ExitError{Code: ExitSetupError, Err: err}
			}
			plan, err := a.plan(cmd.Context(), args, false)
			if err != nil {
				return &ExitError{Code: ExitSetupError, Err: err}
			}
			text, err := a.clientConfig(plan)
			if err != nil {
				return &ExitError{Code: ExitSetupError, Err: err}
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "octahe %s (built %s)\n", Version, BuildTime)
		},
	}
}

// writeRuns prints history entries as a table or in a structured format.
func writeRuns(w io.Writer, format string, runs []domain.Run) error {
	if format != engine.FormatText {
		return encode(w, format, runs)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tMODE\tSTATE\tTARGETS\tFAILED\tDURATION")
	for _, r := range runs {
		mode := string(r.Mode)
		if r.DryRun {
			mode += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			mode,
			r.State,
			len(r.Targets),
			r.FailedTargets(),
			r.Duration().Round(time.Millisecond),
		)
		for _, t := range r.Targets {
			if t.State == domain.TargetFailed {
				fmt.Fprintf(tw, "\t  %s\tstep %d\t%s\t\t\t\n", t.Name, t.FailedStep, strings.TrimSpace(t.Error))
			}
		}
	}
	return tw.Flush()
}

// isTerminal reports whether f is a character device.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
