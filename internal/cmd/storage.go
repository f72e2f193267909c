package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/output"
	"github.com/3leaps/gcpal/pkg/storage"
)

var storageCmd = &cobra.Command{
	Use:     "storage",
	Aliases: []string{"gs"},
	Short:   "Cloud Storage buckets and objects",
	Long: `List, read and move objects in Cloud Storage.

Paths are gs://bucket/key; the scheme may be omitted. The backend is
selected with storage.backend (gcs, hmac or file).

Examples:
  gcpal storage ls
  gcpal storage ls gs://bucket/prefix/
  gcpal storage ls 'gs://bucket/data/**/*.parquet' --long
  gcpal storage cat gs://bucket/config.json
  gcpal storage glob 'gs://bucket/logs/2024-*/*.json'
  gcpal storage cp gs://bucket/a/ gs://other/a/ -r
  gcpal storage cp file://./report.csv gs://bucket/reports/
  gcpal storage upload ./dist gs://bucket/site/ -r`,
}

var (
	storageLong      bool
	storageRecursive bool
)

var storageLsCmd = &cobra.Command{
	Use:   "ls [uri]",
	Short: "List buckets, or objects under a prefix or glob",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStorageLs,
}

var storageGlobCmd = &cobra.Command{
	Use:   "glob <pattern>",
	Short: "List the objects and directories matching a glob",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorageGlob,
}

var storageCatCmd = &cobra.Command{
	Use:   "cat <uri>",
	Short: "Write an object's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorageCat,
}

var storageStatCmd = &cobra.Command{
	Use:   "stat <uri>",
	Short: "Show object or bucket metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorageStat,
}

var storageCpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy an object or, with -r, a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStorageTransfer(cmd, args, false)
	},
}

var storageMvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Move an object or, with -r, a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStorageTransfer(cmd, args, true)
	},
}

var storageRmCmd = &cobra.Command{
	Use:   "rm <uri>",
	Short: "Delete an object, a directory (-r) or an empty bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorageRm,
}

var storageMkdirCmd = &cobra.Command{
	Use:   "mkdir <uri>",
	Short: "Create a bucket, or a directory placeholder inside one",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorageMkdir,
}

var storageUploadCmd = &cobra.Command{
	Use:   "upload <local> <uri>",
	Short: "Upload a local file or, with -r, a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runStorageUpload,
}

var storageDownloadCmd = &cobra.Command{
	Use:   "download <uri> <local>",
	Short: "Download an object or, with -r, a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runStorageDownload,
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageLsCmd, storageGlobCmd, storageCatCmd, storageStatCmd, storageCpCmd, storageMvCmd,
		storageRmCmd, storageMkdirCmd, storageUploadCmd, storageDownloadCmd)

	for _, c := range []*cobra.Command{storageLsCmd, storageGlobCmd} {
		c.Flags().BoolVarP(&storageLong, "long", "l", false, "Include size and update time for objects")
	}
	for _, c := range []*cobra.Command{storageCpCmd, storageMvCmd, storageRmCmd, storageUploadCmd, storageDownloadCmd} {
		c.Flags().BoolVarP(&storageRecursive, "recursive", "r", false, "Operate on every object below a directory")
	}
}

// openStorageURI parses uri and opens its literal part.
func openStorageURI(ctx context.Context, uri string) (*storage.Storage, *ObjectURI, error) {
	if uri == "" {
		st, err := openStorage(ctx, "")
		return st, nil, err
	}
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, nil, err
	}
	if parsed.IsLocal() {
		return nil, nil, fmt.Errorf("%w: %s is a local path, a gs:// URI is required", gcp.ErrInvalidPath, uri)
	}
	st, err := openStorage(ctx, parsed.StoragePath())
	return st, parsed, err
}

func runStorageLs(cmd *cobra.Command, args []string) error {
	uri := ""
	if len(args) == 1 {
		uri = args[0]
	}
	return listStorage(cmd, uri, false)
}

func runStorageGlob(cmd *cobra.Command, args []string) error {
	return listStorage(cmd, args[0], true)
}

// listStorage lists uri. A glob URI is always matched; with glob set a
// literal URI lists only itself, if it exists.
func listStorage(cmd *cobra.Command, uri string, glob bool) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, storage.Service)

	st, parsed, err := openStorageURI(ctx, uri)
	if err != nil {
		return fail(w, "Failed to open storage path", uri, err)
	}
	defer func() { _ = st.Close() }()

	observability.CLILogger.Debug("Listing storage", zap.String("path", st.Path()), zap.Stringer("level", st.Level()))

	var names []string
	if glob || (parsed != nil && parsed.IsPattern()) {
		pattern := ""
		if parsed != nil {
			pattern = parsed.RelativePattern()
		}
		names, err = st.Glob(ctx, pattern)
	} else {
		names, err = st.Ls(ctx)
	}
	if err != nil {
		return fail(w, "Failed to list storage", st.Path(), err)
	}

	for _, name := range names {
		rec := storageRecord(st.Level(), name)
		if storageLong && rec.Kind == "object" {
			if meta, err := st.Object(ctx, name); err == nil {
				rec.Size = meta.Size
				rec.Updated = meta.LastModified
			} else {
				observability.CLILogger.Warn("Failed to stat object", zap.String("path", name), zap.Error(err))
			}
		}
		if err := w.WriteResource(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return finish(ctx, w)
}

func storageRecord(level storage.Level, name string) *output.ResourceRecord {
	rec := &output.ResourceRecord{Path: name}
	switch {
	case level == storage.LevelProject:
		rec.Kind = "bucket"
		rec.Name = name
		rec.Path = storage.Scheme + name
	case strings.HasSuffix(name, "/"):
		rec.Kind = "prefix"
		rec.Name = name[strings.LastIndex(strings.TrimSuffix(name, "/"), "/")+1:]
	default:
		rec.Kind = "object"
		rec.Name = name[strings.LastIndex(name, "/")+1:]
	}
	return rec
}

func runStorageCat(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	st, _, err := openStorageURI(ctx, args[0])
	if err != nil {
		return fail(nil, "Failed to open storage path", args[0], err)
	}
	defer func() { _ = st.Close() }()

	rc, err := st.Open(ctx, "")
	if err != nil {
		return fail(nil, "Failed to open object", st.Path(), err)
	}
	defer func() { _ = rc.Close() }()

	if _, err := io.Copy(cmd.OutOrStdout(), rc); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write object to stdout", err)
	}
	return nil
}

func runStorageStat(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, storage.Service)
	st, _, err := openStorageURI(ctx, args[0])
	if err != nil {
		return fail(w, "Failed to open storage path", args[0], err)
	}
	defer func() { _ = st.Close() }()

	rec := &output.ResourceRecord{Name: st.Name(), Path: st.Path()}
	if st.Level() == storage.LevelBucket {
		info, err := st.BucketInfo(ctx)
		if err != nil {
			return fail(w, "Failed to read bucket", st.Path(), err)
		}
		rec.Kind = "bucket"
		rec.Updated = info.Created
		rec.Details = map[string]any{"location": info.Location}
	} else {
		meta, err := st.Object(ctx, "")
		if err != nil {
			return fail(w, "Failed to read object", st.Path(), err)
		}
		rec.Kind = "object"
		rec.Size = meta.Size
		rec.Updated = meta.LastModified
		rec.Details = map[string]any{
			"content_type": meta.ContentType,
			"etag":         meta.ETag,
			"metadata":     meta.Metadata,
		}
	}
	if err := w.WriteResource(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}

func runStorageTransfer(cmd *cobra.Command, args []string, move bool) error {
	op := "storage cp"
	if move {
		op = "storage mv"
	}
	if err := requireWritable(op); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	srcURI, err := ParseURI(args[0])
	if err != nil {
		return fail(nil, "Invalid source", args[0], err)
	}
	dst, err := ParseURI(args[1])
	if err != nil {
		return fail(nil, "Invalid destination", args[1], err)
	}
	if srcURI.IsLocal() {
		return uploadLocal(ctx, srcURI.Key, args[1], move)
	}

	src, _, err := openStorageURI(ctx, args[0])
	if err != nil {
		return fail(nil, "Failed to open source", args[0], err)
	}
	defer func() { _ = src.Close() }()

	if move {
		err = src.Move(ctx, dst.StoragePath(), storageRecursive)
	} else {
		err = src.Copy(ctx, dst.StoragePath(), storageRecursive)
	}
	if err != nil {
		return fail(nil, "Transfer failed", src.Path(), err)
	}
	return nil
}

// uploadLocal copies a file:// source into a gs:// destination. A move
// removes the local source once the upload succeeded.
func uploadLocal(ctx context.Context, local, uri string, move bool) error {
	if _, err := os.Stat(local); err != nil {
		return exitError(foundry.ExitFileNotFound, "Local path not found", err)
	}
	st, _, err := openStorageURI(ctx, uri)
	if err != nil {
		return fail(nil, "Failed to open destination", uri, err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Upload(ctx, local, storageRecursive); err != nil {
		return fail(nil, "Upload failed", st.Path(), err)
	}
	if move {
		if err := os.RemoveAll(local); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to remove local source", err)
		}
	}
	return nil
}

func runStorageRm(cmd *cobra.Command, args []string) error {
	if err := requireWritable("storage rm"); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	st, _, err := openStorageURI(ctx, args[0])
	if err != nil {
		return fail(nil, "Failed to open storage path", args[0], err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Delete(ctx, storageRecursive); err != nil {
		return fail(nil, "Delete failed", st.Path(), err)
	}
	return nil
}

func runStorageMkdir(cmd *cobra.Command, args []string) error {
	if err := requireWritable("storage mkdir"); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	st, _, err := openStorageURI(ctx, args[0])
	if err != nil {
		return fail(nil, "Failed to open storage path", args[0], err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Create(ctx); err != nil {
		return fail(nil, "Create failed", st.Path(), err)
	}
	return nil
}

func runStorageUpload(cmd *cobra.Command, args []string) error {
	if err := requireWritable("storage upload"); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	local := args[0]
	if _, err := os.Stat(local); err != nil {
		return exitError(foundry.ExitFileNotFound, "Local path not found", err)
	}
	st, _, err := openStorageURI(ctx, args[1])
	if err != nil {
		return fail(nil, "Failed to open storage path", args[1], err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Upload(ctx, local, storageRecursive); err != nil {
		return fail(nil, "Upload failed", st.Path(), err)
	}
	return nil
}

func runStorageDownload(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	st, _, err := openStorageURI(ctx, args[0])
	if err != nil {
		return fail(nil, "Failed to open storage path", args[0], err)
	}
	defer func() { _ = st.Close() }()

	if _, err := st.Download(ctx, args[1], storageRecursive); err != nil {
		return fail(nil, "Download failed", st.Path(), err)
	}
	return nil
}
