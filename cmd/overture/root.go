package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/overture/internal/config"
	"github.com/kingrea/overture/internal/logging"
	"github.com/kingrea/overture/internal/pipeline"
	"github.com/kingrea/overture/internal/recovery"
	"github.com/kingrea/overture/internal/routing"
)

type options struct {
	dir      string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "overture",
		Short:         "Coordinate multi-step agent pipelines with a durable record",
		Long:          "overture routes pipeline steps to personas, tracks every transition in a per-session record, and recovers position after interruptions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.dir, "dir", "C", "", "Project directory (defaults to the current directory)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		newInitCmd(opts),
		newDispatchCmd(opts),
		newOutcomeCmd(opts, pipeline.DecisionApprove),
		newOutcomeCmd(opts, pipeline.DecisionReject),
		newFailCmd(opts),
		newStatusCmd(opts),
		newSummaryCmd(opts),
		newResumeCmd(opts),
		newRecoverCmd(opts),
		newLatestCmd(opts),
		newRoutesCmd(opts),
		newWorkflowsCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *options) projectDir() (string, error) {
	dir := strings.TrimSpace(o.dir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}

// runtime bundles what every command needs once config is loaded.
type runtime struct {
	cfg       *config.Config
	logger    logging.Logger
	routes    *routing.Table
	coord     *pipeline.Coordinator
	recoverer *recovery.Recoverer
	closers   []func() error

	// fileLogger is set when logging.file is enabled; logger already
	// writes to it.
	fileLogger logging.Logger
}

func openRuntime(cmd *cobra.Command, opts *options) (*runtime, error) {
	dir, err := opts.projectDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	level := cfg.Project.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	rt := &runtime{cfg: cfg}
	rt.logger = logging.New(cmd.ErrOrStderr(), logging.LevelFromString(level))
	if cfg.Project.Logging.File {
		fileLogger, err := logging.NewFile(cfg.LogsDir(), logging.LevelFromString(level))
		if err != nil {
			rt.logger.Warn("file logging unavailable", "dir", cfg.LogsDir(), "error", err)
		} else {
			rt.fileLogger = fileLogger
			rt.logger = logging.Tee(rt.logger, fileLogger)
			rt.closers = append(rt.closers, fileLogger.Close)
		}
	}

	overrides := make([]routing.Rule, 0, len(cfg.Project.Routes))
	for _, route := range cfg.Project.Routes {
		overrides = append(overrides, routing.Rule{Pattern: route.Step, Persona: route.Persona})
	}
	rt.routes, err = routing.Default().With(overrides)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("config routes: %w", err)
	}

	rt.coord, err = pipeline.New(cfg.Workspace,
		pipeline.WithLogger(rt.logger),
		pipeline.WithRoutes(rt.routes),
		pipeline.WithOrchestrator(cfg.Project.Workflow.Orchestrator),
		pipeline.WithWorkflowID(cfg.Project.Workflow.ID),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.recoverer = recovery.New(cfg.Workspace, recovery.WithLogger(rt.logger))
	return rt, nil
}

func (rt *runtime) Close() {
	for _, closeFn := range rt.closers {
		_ = closeFn()
	}
	rt.closers = nil
}

// withRuntime wraps a RunE body with runtime setup and teardown.
func withRuntime(opts *options, fn func(cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd, opts)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, rt, args)
	}
}
