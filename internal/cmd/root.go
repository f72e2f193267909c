// Package cmd implements the gcpal command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/internal/config"
	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/internal/server/handlers"
)

// versionInfo holds build metadata injected by main.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

var appIdentity *config.Identity

// GetAppIdentity returns the identity loaded at startup, or nil before.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

var (
	verbose    bool
	readOnly   bool
	project    string
	location   string
	jobID      string
	logProfile string
)

var rootCmd = &cobra.Command{
	Use:   "gcpal",
	Short: "Path-based access to Google Cloud services",
	Long: `gcpal gives Google Cloud services one path-based interface.

Storage, BigQuery, Pub/Sub, Firestore, Secret Manager, Cloud Scheduler,
Cloud Logging, Cloud Functions, Cloud Run, Artifact Registry, Dataplex and
projects are addressed with short paths such as gs://bucket/key,
project.dataset.table or lake/zone/asset. Results are written to stdout as
JSONL records; logs go to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	pf.BoolVar(&readOnly, "readonly", false, "Refuse commands that modify cloud resources")
	pf.StringVar(&project, "project", "", "Google Cloud project (default from GCPAL_PROJECT or ADC)")
	pf.StringVar(&location, "location", "", "Location or region (default europe-west2)")
	pf.StringVar(&jobID, "job-id", "", "Correlation ID stamped on output records (default random)")
	pf.StringVar(&logProfile, "log-profile", "", "Log format on stderr: console (default), structured or gcp")
}

// setDefaults registers the config defaults on the global viper instance.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initConfig(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("gcpal", verbose)

	overrides := map[string]any{}
	if project != "" {
		overrides["project"] = project
	}
	if location != "" {
		overrides["location"] = location
	}
	cfg, err := config.Load(commandContext(cmd), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appIdentity = config.AppIdentity()

	if logProfile != "" {
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err := observability.NewLogger(logProfile, level)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid logging flags", err)
		}
		observability.CLILogger = logger.Named("gcpal")
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		observability.CLILogger.Error(ee.Msg, zap.Int("exit_code", ee.Code), zap.Error(ee.Err))
		fmt.Fprintln(os.Stderr, "Error:", ee.Error())
		return ee.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return foundry.ExitInvalidArgument
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Msg  string
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitError(code int, msg string, err error) error {
	return &ExitError{Code: code, Msg: msg, Err: err}
}

