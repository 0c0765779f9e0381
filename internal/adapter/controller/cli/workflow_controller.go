package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/odoogen/internal/adapter/controller/api"
	"github.com/YoshitsuguKoike/odoogen/internal/app"
	"github.com/YoshitsuguKoike/odoogen/internal/application/dto"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/input"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// ErrReported is returned by commands whose error was already written by
// the presenter. Callers should exit non-zero without printing it again.
var ErrReported = errors.New("error already reported")

// Dependencies are resolved once flags and configuration are parsed
type Dependencies struct {
	Engine       input.WorkflowEngine
	Journal      repository.JournalRepository // nil when the journal is disabled
	Presenter    output.Presenter
	Logger       app.Logger
	Key          string
	MaxRevisions int
	HTTPAddr     string
}

// Resolver returns the dependencies of the running command
type Resolver func() (*Dependencies, error)

// WorkflowController handles the module generation workflow CLI commands
type WorkflowController struct {
	resolve Resolver
}

// NewWorkflowController creates a new workflow controller
func NewWorkflowController(resolve Resolver) *WorkflowController {
	return &WorkflowController{resolve: resolve}
}

// Commands returns all workflow commands
func (c *WorkflowController) Commands() []*cobra.Command {
	return []*cobra.Command{
		c.StartCommand(),
		c.GenerateCommand(),
		c.ReviseCommand(),
		c.ApproveCommand(),
		c.CompleteCommand(),
		c.StepCommand(),
		c.EditCommand(),
		c.SaveCommand(),
		c.ResumeCommand(),
		c.ResetCommand(),
		c.StatusCommand(),
		c.HistoryCommand(),
		c.ShowCommand(),
		c.JournalCommand(),
		c.ServeCommand(),
	}
}

// run resolves dependencies, executes fn and presents its result
func (c *WorkflowController) run(fn func(ctx context.Context, d *Dependencies) (string, interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		d, err := c.resolve()
		if err != nil {
			return err
		}
		message, data, err := fn(cmd.Context(), d)
		if err != nil {
			if perr := d.Presenter.PresentError(err); perr != nil {
				return perr
			}
			return ErrReported
		}
		return d.Presenter.PresentSuccess(message, data)
	}
}

func sessionView(d *Dependencies, s *workflow.Session, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return dto.NewSessionDTO(s, d.MaxRevisions), nil
}

// StartCommand creates the 'start' command
func (c *WorkflowController) StartCommand() *cobra.Command {
	var (
		req     workflow.Requirements
		replace bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new module generation session",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
		s, err := d.Engine.Start(ctx, d.Key, req, replace)
		view, err := sessionView(d, s, err)
		return "Session started", view, err
	})

	cmd.Flags().StringVar(&req.ModuleName, "name", "", "Module name (normalized to a technical name)")
	cmd.Flags().StringVar(&req.ModuleVersion, "version", "", "Module version (default <odoo-version>.1.0.0)")
	cmd.Flags().StringVar(&req.Author, "author", "", "Module author")
	cmd.Flags().StringVar(&req.License, "license", "", "Module license (default LGPL-3)")
	cmd.Flags().StringSliceVar(&req.Depends, "depends", nil, "Module dependencies")
	cmd.Flags().StringVar(&req.OdooVersion, "odoo-version", "", "Target Odoo version")
	cmd.Flags().StringVar(&req.OdooEdition, "edition", "", "Target Odoo edition (community, enterprise)")
	cmd.Flags().StringVar(&req.Description, "requirements", "", "Free-text functional requirements")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace an existing session for this key")
	return cmd
}

// GenerateCommand creates the 'generate' command
func (c *WorkflowController) GenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <step>",
		Short: "Generate the content of a step through the remote services",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			if err := d.Presenter.PresentProgress(fmt.Sprintf("Generating %s...", step.Title()), step.Number(), len(workflow.Steps())); err != nil {
				return "", nil, err
			}
			s, err := d.Engine.Generate(ctx, d.Key, step)
			view, err := sessionView(d, s, err)
			return fmt.Sprintf("%s generated", step.Title()), view, err
		})(cc, args)
	}
	return cmd
}

// ReviseCommand creates the 'revise' command
func (c *WorkflowController) ReviseCommand() *cobra.Command {
	var feedback string

	cmd := &cobra.Command{
		Use:   "revise <step>",
		Short: "Regenerate a step with feedback",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			s, err := d.Engine.RequestRevision(ctx, d.Key, step, feedback)
			view, err := sessionView(d, s, err)
			return fmt.Sprintf("%s revised", step.Title()), view, err
		})(cc, args)
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "Revision feedback")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

// ApproveCommand creates the 'approve' command
func (c *WorkflowController) ApproveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <step>",
		Short: "Approve the content of a step",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			s, err := d.Engine.Approve(ctx, d.Key, step)
			view, err := sessionView(d, s, err)
			return fmt.Sprintf("%s approved", step.Title()), view, err
		})(cc, args)
	}
	return cmd
}

// CompleteCommand creates the 'complete' command
func (c *WorkflowController) CompleteCommand() *cobra.Command {
	var payload, payloadFile string

	cmd := &cobra.Command{
		Use:   "complete <step>",
		Short: "Complete an approved step and advance the workflow",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			final := payload
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return "", nil, fmt.Errorf("read payload file: %w", err)
				}
				final = string(data)
			}
			s, err := d.Engine.CompleteStep(ctx, d.Key, step, final)
			view, err := sessionView(d, s, err)
			return fmt.Sprintf("%s completed", step.Title()), view, err
		})(cc, args)
	}
	cmd.Flags().StringVar(&payload, "payload", "", "Final content of the step (default: keep current content)")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Read the final content from a file")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	return cmd
}

// StepCommand creates the 'step' command
func (c *WorkflowController) StepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step <step>",
		Short: "Navigate back to an earlier step",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			s, err := d.Engine.SetStep(ctx, d.Key, step)
			view, err := sessionView(d, s, err)
			return fmt.Sprintf("Current step is %s", step.Title()), view, err
		})(cc, args)
	}
	return cmd
}

// EditCommand creates the 'edit' command
func (c *WorkflowController) EditCommand() *cobra.Command {
	var (
		sets    []string
		content string
	)

	cmd := &cobra.Command{
		Use:   "edit <step>",
		Short: "Edit the content or fields of a step",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			patch, err := buildPatch(sets, content, cc.Flags().Changed("content"))
			if err != nil {
				return "", nil, err
			}
			s, err := d.Engine.UpdateStepData(ctx, d.Key, step, patch)
			view, err := sessionView(d, s, err)
			return fmt.Sprintf("%s updated", step.Title()), view, err
		})(cc, args)
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Set a field (key=value, repeatable)")
	cmd.Flags().StringVar(&content, "content", "", "Replace the step content")
	return cmd
}

// buildPatch turns --set key=value pairs and --content into a step patch
func buildPatch(sets []string, content string, contentSet bool) (workflow.StepPatch, error) {
	var patch workflow.StepPatch
	if contentSet {
		patch.Content = &content
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return patch, workflow.ErrInvalidInput.WithMessage(fmt.Sprintf("invalid --set %q (expected key=value)", kv))
		}
		if patch.Fields == nil {
			patch.Fields = make(map[string]string)
		}
		patch.Fields[k] = v
	}
	return patch, nil
}

// SaveCommand creates the 'save' command
func (c *WorkflowController) SaveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save the session and print a resume token",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
		token, err := d.Engine.SaveAndSuspend(ctx, d.Key)
		if err != nil {
			return "", nil, err
		}
		s, err := d.Engine.Session(ctx, d.Key)
		if err != nil {
			return "", nil, err
		}
		view := dto.NewSessionDTO(s, d.MaxRevisions)
		view.ResumeToken = token
		return "Session saved", view, nil
	})
	return cmd
}

// ResumeCommand creates the 'resume' command
func (c *WorkflowController) ResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <token>",
		Short: "Resume a saved session",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			s, err := d.Engine.Resume(ctx, args[0])
			view, err := sessionView(d, s, err)
			return "Session resumed", view, err
		})(cc, args)
	}
	return cmd
}

// ResetCommand creates the 'reset' command
func (c *WorkflowController) ResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the session (artifact history is kept)",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
		if err := d.Engine.Reset(ctx, d.Key); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Session %s reset", d.Key), nil, nil
	})
	return cmd
}

// StatusCommand creates the 'status' command
func (c *WorkflowController) StatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
		s, err := d.Engine.Session(ctx, d.Key)
		view, err := sessionView(d, s, err)
		return "Session status", view, err
	})
	return cmd
}

// HistoryCommand creates the 'history' command
func (c *WorkflowController) HistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <step>",
		Short: "List all artifact versions of a step",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			history, err := d.Engine.History(ctx, d.Key, step)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s history", step.Title()), dto.NewArtifactDTOs(step, history), nil
		})(cc, args)
	}
	return cmd
}

// ShowCommand creates the 'show' command
func (c *WorkflowController) ShowCommand() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "show <step>",
		Short: "Show one artifact version of a step",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cc *cobra.Command, args []string) error {
		return c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
			step, err := workflow.ParseStep(args[0])
			if err != nil {
				return "", nil, err
			}
			v, err := parseVersion(version)
			if err != nil {
				return "", nil, err
			}
			a, err := d.Engine.Artifact(ctx, d.Key, step, v)
			if err != nil {
				return "", nil, err
			}
			view := dto.NewArtifactDTOs(step, []workflow.Artifact{*a})[0]
			return fmt.Sprintf("%s v%d", step.Title(), a.Version), &view, nil
		})(cc, args)
	}
	cmd.Flags().StringVar(&version, "version", "latest", "Artifact version (number or 'latest')")
	return cmd
}

func parseVersion(raw string) (int, error) {
	if raw == "" || raw == "latest" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, workflow.ErrInvalidInput.WithMessage(fmt.Sprintf("invalid version %q (expected a positive number or 'latest')", raw))
	}
	return v, nil
}

// JournalCommand creates the 'journal' command
func (c *WorkflowController) JournalCommand() *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent workflow transitions",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, d *Dependencies) (string, interface{}, error) {
		if d.Journal == nil {
			return "", nil, fmt.Errorf("the journal is disabled (log.journal=false)")
		}
		filter := repository.JournalFilter{Limit: limit}
		if !all {
			filter.Key = d.Key
		}
		records, err := d.Journal.Load(ctx, filter)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%d journal records", len(records)), records, nil
	})
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many records (0 for all)")
	cmd.Flags().BoolVar(&all, "all", false, "Include all session keys")
	return cmd
}

// ServeCommand creates the 'serve' command
func (c *WorkflowController) ServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.resolve()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = d.HTTPAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, api.NewRouter(d.Engine, d.MaxRevisions, d.Logger), d.Logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from http.addr)")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled
func serve(ctx context.Context, addr string, handler http.Handler, logger app.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
