package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dyluth/retag/internal/config"
	"github.com/dyluth/retag/internal/endor"
	"github.com/dyluth/retag/internal/printer"
	"github.com/dyluth/retag/internal/report"
	"github.com/dyluth/retag/internal/retag"
	"github.com/dyluth/retag/internal/tag"
	"github.com/dyluth/retag/internal/telemetry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

type options struct {
	oldTag      string
	newTag      string
	projectUUID string
	branch      string
	dryRun      bool
	output      string
	verbose     bool
	envFile     string
}

// NewRootCmd builds the retag command.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "retag",
		Short: "Replace a tag on every finding of a project",
		Long: `Retag removes a tag from the findings of an Endor Labs project and
replaces it with a new tag.

Tags may be at most 63 characters and contain only letters (A-Z),
numbers (0-9) and the characters =@_.-

Credentials are read from the environment (or a .env file):
  API_KEY, API_SECRET   API key used to obtain a token
  ENDOR_NAMESPACE       tenant namespace the project lives under

Set OTEL_EXPORTER_OTLP_ENDPOINT to export traces to an OTLP collector.

Examples:
  retag --old-tag dev-repo --new-tag prod-repo --project-uuid 6501a1b2c3d4e5f601234567
  retag --old-tag dev-repo --new-tag prod-repo --project-uuid 6501a1b2c3d4e5f601234567 --branch feature-branch
  retag --old-tag dev-repo --new-tag prod-repo --project-uuid 6501a1b2c3d4e5f601234567 --dry-run -o json`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &UsageError{Msg: fmt.Sprintf("unexpected argument %q (retag takes flags only)", args[0])}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetag(cmd, opts)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Msg: err.Error()}
	})

	flags := cmd.Flags()
	flags.StringVar(&opts.oldTag, "old-tag", "", "Tag to remove from findings (required)")
	flags.StringVar(&opts.newTag, "new-tag", "", "Tag to add to findings (required)")
	flags.StringVar(&opts.projectUUID, "project-uuid", "", "Project UUID containing the findings to process (required)")
	flags.StringVar(&opts.branch, "branch", "", "Branch context to process (defaults to the main context)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Show what would change without updating any finding")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format: text, json or yaml")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log API activity to stderr at debug level")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file to read credentials from (ignored if missing)")

	return cmd
}

// Execute runs the root command with the process arguments and returns the
// exit code. Errors not already reported by the command are printed to stderr.
func Execute() int {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		var rep *reportedError
		if !errors.As(err, &rep) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if ExitCode(err) == ExitUsage {
				fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", cmd.CommandPath())
			}
		}
	}
	return ExitCode(err)
}

func runRetag(cmd *cobra.Command, opts *options) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	format, err := checkUsage(cmd, opts)
	if err != nil {
		return err
	}
	// Machine-readable formats keep stdout clean for the report.
	p.SetQuiet(format != report.OutputFormatText)

	for _, t := range []struct{ name, value string }{
		{"old tag", opts.oldTag},
		{"new tag", opts.newTag},
	} {
		if err := tag.Validate(t.name, t.value); err != nil {
			p.Error("Tag validation error", err.Error(), []string{
				"Tags may be up to 63 characters of letters (A-Z), numbers (0-9) and =@_.-",
			})
			return reported(err)
		}
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		p.Error("Missing configuration", err.Error(), []string{
			"Export API_KEY, API_SECRET and ENDOR_NAMESPACE",
			fmt.Sprintf("Add them to %s", envFileName(opts.envFile)),
		})
		return reported(err)
	}

	runID := uuid.NewString()
	logger := newLogger(cmd.ErrOrStderr(), opts.verbose).With("run_id", runID)

	tp, shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    "retag",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		p.Error("Tracing setup failed", err.Error(), []string{
			fmt.Sprintf("Check %s or unset it to disable tracing", config.EnvOTLPEndpoint),
		})
		return reported(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}()
	tracer := tp.Tracer("github.com/dyluth/retag")

	// Text output streams each finding as it completes; structured formats
	// are written once the run is done.
	var text *report.Text
	if format == report.OutputFormatText {
		text = report.NewText(cmd.OutOrStdout(), opts.oldTag, opts.newTag)
	}

	client := endor.NewClient(cfg, logger, runID, tracer)
	engine := retag.NewEngine(client, logger, tracer)
	engine.SetObserver(&progress{printer: p, text: text, oldTag: opts.oldTag})

	p.Info("Processing findings in project UUID: %s\n", opts.projectUUID)
	if opts.branch != "" {
		p.Step("Using branch context: %s\n", opts.branch)
	} else {
		p.Step("Using main context\n")
	}
	p.Info("Removing tag '%s' and adding tag '%s' to findings...\n\n", opts.oldTag, opts.newTag)

	result, err := engine.Run(cmd.Context(), retag.Request{
		OldTag:      opts.oldTag,
		NewTag:      opts.newTag,
		ProjectUUID: opts.projectUUID,
		Branch:      opts.branch,
		DryRun:      opts.dryRun,
	})
	if err != nil {
		p.ErrorWithContext("Error updating findings", err.Error(), [][2]string{
			{"Project", opts.projectUUID},
			{"Old tag", opts.oldTag},
		}, nil)
		return reported(err)
	}

	if text != nil {
		text.Summary(result)
	} else if err := report.Write(cmd.OutOrStdout(), result, format); err != nil {
		return err
	}

	if err := result.Err(); err != nil {
		return reported(err)
	}

	return nil
}

// checkUsage verifies required flags and the output format before any work is done.
func checkUsage(cmd *cobra.Command, opts *options) (report.OutputFormat, error) {
	for _, name := range []string{"old-tag", "new-tag", "project-uuid"} {
		if !cmd.Flags().Changed(name) {
			return "", &UsageError{Flag: name, Msg: "required flag not set"}
		}
	}

	if opts.projectUUID == "" {
		return "", &UsageError{Flag: "project-uuid", Msg: "must not be empty"}
	}

	format, err := report.ParseOutputFormat(opts.output)
	if err != nil {
		return "", &UsageError{Flag: "output", Msg: err.Error()}
	}

	return format, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func envFileName(path string) string {
	if path == "" {
		return "a .env file"
	}
	return path
}

// progress prints listing progress and, in text mode, each finding's outcome
// as the engine runs.
type progress struct {
	printer *printer.Printer
	text    *report.Text
	oldTag  string
}

func (p *progress) Listed(count int) {
	p.printer.Step("Found %d findings with tag '%s'\n", count, p.oldTag)
}

func (p *progress) FindingDone(fr retag.FindingResult) {
	if p.text != nil {
		p.text.Finding(fr)
	}
}
