package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"

	"github.com/3leaps/gcpal/internal/config"
	errwrap "github.com/3leaps/gcpal/internal/errors"
	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/pkg/gcp"
)

var doctorStorage bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check the local environment, Google credentials and default project,
and print how to fix whatever is missing.

Examples:
  gcpal doctor              # Environment and Google credentials
  gcpal doctor --storage    # Also open the configured storage backend`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorStorage, "storage", false, "Also check the configured storage backend (storage.backend)")
}

// doctorCheck is one diagnostic. A failing fatal check stops the run.
type doctorCheck struct {
	name  string
	fatal bool
	run   func(ctx context.Context) (detail string, fields []zap.Field, err error)
	help  func()
}

func doctorChecks(cfg *config.Config) []doctorCheck {
	checks := []doctorCheck{
		{name: "Go version", run: checkGoVersion},
		{name: "Crucible access", fatal: true, run: checkCrucible},
		{name: "config directory", fatal: true, run: checkConfigDir},
		{name: "Google credentials", run: checkGoogleCredentials, help: printGoogleCredentialsHelp},
		{name: "default project", run: func(ctx context.Context) (string, []zap.Field, error) {
			return checkProject(ctx, cfg.Project)
		}},
	}
	if !doctorStorage {
		return checks
	}
	checks = append(checks, doctorCheck{
		name: "storage backend",
		run: func(ctx context.Context) (string, []zap.Field, error) {
			err := backendHealthChecker{cfg: cfg}.CheckHealth(ctx)
			return cfg.Storage.Backend, []zap.Field{zap.String("backend", cfg.Storage.Backend)}, err
		},
	})
	if cfg.Storage.Backend == config.BackendHMAC {
		checks = append(checks, doctorCheck{
			name: "HMAC key",
			run: func(ctx context.Context) (string, []zap.Field, error) {
				return checkHMACKey(ctx, cfg.Storage.HMAC)
			},
			help: printHMACCredentialsHelp,
		})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	log := observability.CLILogger
	log.Info("=== gcpal doctor ===")

	checks := doctorChecks(currentConfig())
	failed := 0
	for i, c := range checks {
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		detail, fields, err := c.run(ctx)
		if err == nil {
			log.Info(prefix+" ✅ "+detail, fields...)
			continue
		}
		failed++
		log.Warn(prefix+" ❌ "+err.Error(), fields...)
		if c.help != nil {
			c.help()
		}
		if c.fatal {
			return exitError(foundry.ExitExternalServiceUnavailable, c.name+" check failed", err)
		}
	}

	if failed == 0 {
		log.Info("✅ All checks passed")
		return nil
	}
	log.Warn(fmt.Sprintf("⚠️  %d of %d checks failed. Review the output above for details.", failed, len(checks)))
	return nil
}

func checkGoVersion(context.Context) (string, []zap.Field, error) {
	v := runtime.Version()
	fields := []zap.Field{zap.String("go_version", v), zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH)}
	if v < "go1.23" {
		return v, fields, fmt.Errorf("%s is older than go1.23", v)
	}
	return fmt.Sprintf("%s %s/%s", v, runtime.GOOS, runtime.GOARCH), fields, nil
}

func checkCrucible(context.Context) (string, []zap.Field, error) {
	v := crucible.GetVersion()
	if v.Crucible == "" {
		return "", nil, errwrap.NewExternalServiceError("cannot access Crucible")
	}
	return fmt.Sprintf("v%s (gofulmen v%s)", v.Crucible, v.Gofulmen),
		[]zap.Field{zap.String("crucible_version", v.Crucible), zap.String("gofulmen_version", v.Gofulmen)}, nil
}

func checkConfigDir(ctx context.Context) (string, []zap.Field, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", nil, errwrap.WrapInternal(ctx, err, "cannot find config directory")
	}
	return dir, []zap.Field{zap.String("config_dir", dir)}, nil
}

func checkGoogleCredentials(ctx context.Context) (string, []zap.Field, error) {
	creds, err := google.FindDefaultCredentials(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("no Application Default Credentials: %w", err)
	}
	if creds.ProjectID != "" {
		return "found credentials for " + creds.ProjectID, nil, nil
	}
	return "found credentials", nil, nil
}

// checkProject reports the configured project, falling back to the one
// the credentials name.
func checkProject(ctx context.Context, configured string) (string, []zap.Field, error) {
	if configured != "" {
		return configured + " (config)", []zap.Field{zap.String("project", configured)}, nil
	}
	project, err := gcp.DefaultProject(ctx)
	if project == "" {
		if err == nil {
			err = errors.New("no project found")
		}
		return "", nil, fmt.Errorf("set GCPAL_PROJECT or --project: %w", err)
	}
	return project + " (credentials)", []zap.Field{zap.String("project", project)}, nil
}

// checkHMACKey resolves the key pair the way the hmac backend does:
// configured keys first, then the AWS SDK default chain.
func checkHMACKey(ctx context.Context, hmac config.HMACConfig) (string, []zap.Field, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if hmac.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(hmac.AccessKeyID, hmac.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("cannot load credentials: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("cannot retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return "found key " + maskAccessKey(creds.AccessKeyID), []zap.Field{
		zap.String("source", source),
		zap.String("endpoint", hmac.Endpoint),
	}, nil
}

// maskAccessKey keeps the last four characters.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printGoogleCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure Google credentials:")
	log.Info("  1. Run 'gcloud auth application-default login', or")
	log.Info("  2. Set GOOGLE_APPLICATION_CREDENTIALS to a service account key file, or")
	log.Info("  3. Run on Google Cloud with an attached service account")
}

func printHMACCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure an HMAC key for Cloud Storage interoperability:")
	log.Info("  1. Create a key with 'gcloud storage hmac create <service-account>'")
	log.Info("  2. Set GCPAL_HMAC_ACCESS_KEY_ID and GCPAL_HMAC_SECRET_ACCESS_KEY, or")
	log.Info("  3. Put the key in a shared credentials profile (AWS_PROFILE)")
	log.Info("For an S3-compatible test server, also set GCPAL_HMAC_ENDPOINT.")
}
