package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcpal/pkg/artifactregistry"
	"github.com/3leaps/gcpal/pkg/cloudrun"
	"github.com/3leaps/gcpal/pkg/dataplex"
	"github.com/3leaps/gcpal/pkg/datastore"
	"github.com/3leaps/gcpal/pkg/functions"
	"github.com/3leaps/gcpal/pkg/output"
	gcpproject "github.com/3leaps/gcpal/pkg/project"
	"github.com/3leaps/gcpal/pkg/request"
)

var (
	resourcesActiveOnly bool
	resourcesFullName   bool
	runJobs             bool
	callData            string
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "Cloud Functions",
}

var functionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List functions in the location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runList(cmd, functions.Service, "function", "", func(ctx context.Context) ([]string, error) {
			f, err := functions.New(ctx, "", serviceOptions()...)
			if err != nil {
				return nil, err
			}
			defer func() { _ = f.Close() }()
			return f.Ls(ctx, resourcesActiveOnly, resourcesFullName)
		})
	},
}

var functionsCallCmd = &cobra.Command{
	Use:   "call <name>",
	Short: "POST --data to a function with an ID token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		f, err := functions.New(ctx, args[0], serviceOptions()...)
		if err != nil {
			return fail(nil, "Failed to open function", args[0], err)
		}
		defer func() { _ = f.Close() }()
		data, err := callPayload()
		if err != nil {
			return err
		}
		resp, err := f.Call(ctx, data)
		if err != nil {
			return fail(nil, "Call failed", f.FullName(), err)
		}
		return writeResponse(cmd, resp)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Cloud Run services and jobs",
}

var runLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List services, or jobs with --jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind := "service"
		if runJobs {
			kind = "job"
		}
		return runList(cmd, cloudrun.Service, kind, "", func(ctx context.Context) ([]string, error) {
			opts := serviceOptions()
			if runJobs {
				opts = append(opts, cloudrun.WithJob())
			}
			r, err := cloudrun.New(ctx, "", opts...)
			if err != nil {
				return nil, err
			}
			defer func() { _ = r.Close() }()
			return r.Ls(ctx, resourcesActiveOnly)
		})
	},
}

var runCallCmd = &cobra.Command{
	Use:   "call <service>",
	Short: "POST --data to a service with an ID token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		r, err := cloudrun.New(ctx, args[0], serviceOptions()...)
		if err != nil {
			return fail(nil, "Failed to open service", args[0], err)
		}
		defer func() { _ = r.Close() }()
		data, err := callPayload()
		if err != nil {
			return err
		}
		resp, err := r.Call(ctx, data)
		if err != nil {
			return fail(nil, "Call failed", r.FullName(), err)
		}
		return writeResponse(cmd, resp)
	},
}

var runExecCmd = &cobra.Command{
	Use:   "exec <job>",
	Short: "Start a Cloud Run job execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWritable("run exec"); err != nil {
			return err
		}
		ctx := commandContext(cmd)
		w := newWriter(cmd, cloudrun.Service)
		r, err := cloudrun.New(ctx, args[0], append(serviceOptions(), cloudrun.WithJob())...)
		if err != nil {
			return fail(w, "Failed to open job", args[0], err)
		}
		defer func() { _ = r.Close() }()
		execution, err := r.Run(ctx)
		if err != nil {
			return fail(w, "Job execution failed to start", r.FullName(), err)
		}
		if err := writeNames(ctx, w, "execution", []string{execution}); err != nil {
			return err
		}
		return finish(ctx, w)
	},
}

var arCmd = &cobra.Command{
	Use:   "ar",
	Short: "Artifact Registry repositories, images, versions and tags",
}

var arLsCmd = &cobra.Command{
	Use:   "ls [location/repository[/image[:tag|@version]]]",
	Short: "List the children of an Artifact Registry path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := optionalArg(args)
		return runList(cmd, artifactregistry.Service, "", path, func(ctx context.Context) ([]string, error) {
			r, err := artifactregistry.New(ctx, path, serviceOptions()...)
			if err != nil {
				return nil, err
			}
			defer func() { _ = r.Close() }()
			return r.Ls(ctx, resourcesFullName)
		})
	},
}

var dataplexCmd = &cobra.Command{
	Use:   "dataplex",
	Short: "Dataplex lakes, zones and assets",
}

var dataplexLsCmd = &cobra.Command{
	Use:   "ls [lake[/zone]]",
	Short: "List lakes, zones of a lake, or assets of a zone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := optionalArg(args)
		return runList(cmd, dataplex.Service, "", path, func(ctx context.Context) ([]string, error) {
			d, err := dataplex.New(ctx, path, serviceOptions()...)
			if err != nil {
				return nil, err
			}
			defer func() { _ = d.Close() }()
			return d.Ls(ctx, resourcesFullName)
		})
	},
}

var datastoreCmd = &cobra.Command{
	Use:   "datastore",
	Short: "Datastore databases, namespaces, kinds and entities",
}

var datastoreLsCmd = &cobra.Command{
	Use:   "ls [database[/namespace[/kind]]]",
	Short: "List the children of a Datastore path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := optionalArg(args)
		return runList(cmd, datastore.Service, "", path, func(ctx context.Context) ([]string, error) {
			d, err := datastore.New(ctx, path, serviceOptions()...)
			if err != nil {
				return nil, err
			}
			defer func() { _ = d.Close() }()
			return d.Ls(ctx)
		})
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Google Cloud projects",
}

var projectsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List projects visible to the caller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runList(cmd, gcpproject.Service, "project", "", func(ctx context.Context) ([]string, error) {
			p, err := gcpproject.New(ctx, "", serviceOptions()...)
			if err != nil {
				return nil, err
			}
			defer func() { _ = p.Close() }()
			return p.Ls(ctx, resourcesActiveOnly)
		})
	},
}

func init() {
	rootCmd.AddCommand(functionsCmd, runCmd, arCmd, dataplexCmd, datastoreCmd, projectsCmd)
	functionsCmd.AddCommand(functionsLsCmd, functionsCallCmd)
	runCmd.AddCommand(runLsCmd, runCallCmd, runExecCmd)
	arCmd.AddCommand(arLsCmd)
	dataplexCmd.AddCommand(dataplexLsCmd)
	datastoreCmd.AddCommand(datastoreLsCmd)
	projectsCmd.AddCommand(projectsLsCmd)

	for _, c := range []*cobra.Command{functionsLsCmd, runLsCmd, projectsLsCmd} {
		c.Flags().BoolVar(&resourcesActiveOnly, "active", false, "Only active resources")
	}
	for _, c := range []*cobra.Command{functionsLsCmd, arLsCmd, dataplexLsCmd} {
		c.Flags().BoolVar(&resourcesFullName, "full-name", false, "Emit full resource names")
	}
	runLsCmd.Flags().BoolVar(&runJobs, "jobs", false, "List jobs instead of services")
	for _, c := range []*cobra.Command{functionsCallCmd, runCallCmd} {
		c.Flags().StringVarP(&callData, "data", "d", "", "JSON payload; '-' reads stdin")
	}
}

func optionalArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}

// runList runs ls and writes one resource record per name.
func runList(cmd *cobra.Command, service, kind, path string, ls func(context.Context) ([]string, error)) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, service)
	names, err := ls(ctx)
	if err != nil {
		return fail(w, "Failed to list "+service, path, err)
	}
	if err := writeNames(ctx, w, kind, names); err != nil {
		return err
	}
	return finish(ctx, w)
}

func callPayload() (any, error) {
	raw := callData
	if raw == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, exitError(foundry.ExitFileReadError, "Failed to read stdin", err)
		}
		raw = string(b)
	}
	if raw == "" {
		return nil, nil
	}
	return parseValue(raw), nil
}

func writeResponse(cmd *cobra.Command, resp *request.Response) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, request.Service)
	body := any(string(resp.Body))
	if resp.JSON != nil {
		body = resp.JSON
	}
	rec := &output.ResourceRecord{
		Name:    "response",
		Kind:    "http",
		State:   httpState(resp),
		Details: map[string]any{"status": resp.StatusCode, "body": body},
	}
	if err := w.WriteResource(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if err := finish(ctx, w); err != nil {
		return err
	}
	if !resp.OK() {
		b, _ := json.Marshal(body)
		return exitError(foundry.ExitExternalServiceUnavailable, "Call returned an error status", &httpStatusError{code: resp.StatusCode, body: string(b)})
	}
	return nil
}

func httpState(resp *request.Response) string {
	if resp.OK() {
		return "ok"
	}
	return "error"
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}
