package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	clicontroller "github.com/YoshitsuguKoike/odoogen/internal/adapter/controller/cli"
	"github.com/YoshitsuguKoike/odoogen/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/odoogen/internal/app"
	appconfig "github.com/YoshitsuguKoike/odoogen/internal/app/config"
	infraConfig "github.com/YoshitsuguKoike/odoogen/internal/infra/config"
	"github.com/YoshitsuguKoike/odoogen/internal/infrastructure/di"
	"github.com/YoshitsuguKoike/odoogen/internal/interface/cli/version"
)

// cliState carries the state shared by all commands of one invocation
type cliState struct {
	configFile   string
	key          string
	outputFormat string

	// fs overrides the filesystem of the file stores (tests)
	fs  afero.Fs
	out io.Writer

	config    *appconfig.Config
	logCloser io.Closer
	container *di.Container
}

// Execute runs the CLI with args and returns the process exit code
func Execute(ctx context.Context, args []string) int {
	rt := &cliState{out: os.Stdout}
	defer rt.close()

	root := newRoot(rt)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, clicontroller.ErrReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRoot(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "odoogen",
		Short: "odoogen - guided Odoo module generation",
		Long: `odoogen walks an Odoo module through requirements, specification,
development plan, module output and automated testing. Every generated
step is reviewed, revised within a budget, and approved before the
workflow advances.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return rt.load()
		},
	}

	cmd.PersistentFlags().StringVar(&rt.configFile, "config", "", "Config file (default: ./odoogen.yaml or $ODOOGEN_HOME/odoogen.yaml)")
	cmd.PersistentFlags().StringVar(&rt.key, "key", "default", "Session key")
	cmd.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "cli", "Output format (cli, json, yaml)")

	controller := clicontroller.NewWorkflowController(rt.resolve)
	cmd.AddCommand(controller.Commands()...)
	cmd.AddCommand(newConfigCmd(rt))
	cmd.AddCommand(version.NewCommand())
	return cmd
}

// load reads the configuration and installs the logger
func (rt *cliState) load() error {
	if rt.config != nil {
		return nil
	}
	cfg, err := infraConfig.Load(rt.configFile)
	if err != nil {
		return err
	}

	logger, closer, err := app.NewLoggerFromConfig(app.LogConfig{
		Level:  cfg.Log.Level,
		Output: cfg.Log.Output,
		File:   cfg.Log.File,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	app.SetLogger(logger)

	rt.config = cfg
	rt.logCloser = closer
	if cfg.ConfigFile != "" {
		logger.Debug("Loaded configuration from %s", cfg.ConfigFile)
	}
	return nil
}

// resolve builds the container on first use
func (rt *cliState) resolve() (*clicontroller.Dependencies, error) {
	if err := rt.load(); err != nil {
		return nil, err
	}
	p, err := presenter.NewPresenter(rt.outputFormat, rt.out)
	if err != nil {
		return nil, err
	}
	if rt.container == nil {
		c, err := di.NewContainer(context.Background(), rt.config, di.Options{
			Logger: app.GetLogger(),
			Fs:     rt.fs,
		})
		if err != nil {
			return nil, err
		}
		rt.container = c
	}
	return &clicontroller.Dependencies{
		Engine:       rt.container.GetEngine(),
		Journal:      rt.container.GetJournal(),
		Presenter:    p,
		Logger:       rt.container.GetLogger(),
		Key:          rt.key,
		MaxRevisions: rt.config.Workflow.MaxRevisions,
		HTTPAddr:     rt.config.HTTP.Addr,
	}, nil
}

func (rt *cliState) close() {
	if rt.container != nil {
		if err := rt.container.Close(); err != nil {
			app.GetLogger().Warn("Failed to close resources: %v", err)
		}
		rt.container = nil
	}
	if rt.logCloser != nil {
		rt.logCloser.Close()
		rt.logCloser = nil
	}
}
