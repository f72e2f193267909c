package cmd

import (
	"io"
	"sort"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcpal/pkg/firestore"
	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/output"
	"github.com/3leaps/gcpal/pkg/schema"
)

var firestoreCmd = &cobra.Command{
	Use:   "firestore",
	Short: "Firestore collections and documents",
	Long: `Browse and read Firestore with slash paths: collection/doc/sub/doc.

Examples:
  gcpal firestore ls
  gcpal firestore ls users
  gcpal firestore read users/alice
  gcpal firestore read orders --dtype total=float --ignore-cast-errors
  gcpal firestore write users/bob '{"name": "Bob"}' --merge`,
}

var (
	firestoreDatabase   string
	firestoreAllowEmpty bool
	firestoreDtypes     []string
	firestoreIgnoreCast bool
	firestoreMerge      bool
)

var firestoreLsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List collections, document IDs, or a document's sub-collections",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFirestoreLs,
}

var firestoreReadCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Read a document, or every document in a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runFirestoreRead,
}

var firestoreWriteCmd = &cobra.Command{
	Use:   "write <path> <json|->",
	Short: "Write a document, or add one to a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runFirestoreWrite,
}

func init() {
	rootCmd.AddCommand(firestoreCmd)
	firestoreCmd.AddCommand(firestoreLsCmd, firestoreReadCmd, firestoreWriteCmd)

	firestoreCmd.PersistentFlags().StringVar(&firestoreDatabase, "database", "", "Database ID (default the (default) database)")
	firestoreReadCmd.Flags().BoolVar(&firestoreAllowEmpty, "allow-empty", false, "Return an empty document instead of failing when missing")
	firestoreReadCmd.Flags().StringArrayVar(&firestoreDtypes, "dtype", nil, "Enforce a type on a field, field=type (repeatable)")
	firestoreReadCmd.Flags().BoolVar(&firestoreIgnoreCast, "ignore-cast-errors", false, "Leave fields that fail --dtype unchanged")
	firestoreWriteCmd.Flags().BoolVar(&firestoreMerge, "merge", false, "Merge into the existing document")
}

func firestoreOptions() []gcp.Option {
	opts := serviceOptions()
	if firestoreDatabase != "" {
		opts = append(opts, firestore.WithDatabase(firestoreDatabase))
	}
	return opts
}

func runFirestoreLs(cmd *cobra.Command, args []string) error {
	path := optionalArg(args)
	ctx := commandContext(cmd)
	w := newWriter(cmd, firestore.Service)
	f, err := firestore.New(ctx, path, firestoreOptions()...)
	if err != nil {
		return fail(w, "Failed to open Firestore path", path, err)
	}
	defer func() { _ = f.Close() }()

	names, err := f.Ls(ctx)
	if err != nil {
		return fail(w, "Failed to list Firestore path", f.Path(), err)
	}
	kind := "collection"
	if f.Level() == firestore.LevelCollection {
		kind = "document"
	}
	if err := writeNames(ctx, w, kind, names); err != nil {
		return err
	}
	return finish(ctx, w)
}

// dtypeCasts builds per-field casts from field=type flags.
func dtypeCasts(pairs []string) (map[string][]schema.Cast, error) {
	kv, err := parseKeyValues(pairs)
	if err != nil || kv == nil {
		return nil, err
	}
	out := make(map[string][]schema.Cast, len(kv))
	for field, dtype := range kv {
		c, err := schema.CastFor(dtype)
		if err != nil {
			return nil, err
		}
		out[field] = []schema.Cast{c}
	}
	return out, nil
}

func runFirestoreRead(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, firestore.Service)
	casts, err := dtypeCasts(firestoreDtypes)
	if err != nil {
		return fail(w, "Invalid --dtype", "", err)
	}
	mode := gcp.ErrorsRaise
	if firestoreIgnoreCast {
		mode = gcp.ErrorsIgnore
	}

	f, err := firestore.New(ctx, args[0], firestoreOptions()...)
	if err != nil {
		return fail(w, "Failed to open Firestore path", args[0], err)
	}
	defer func() { _ = f.Close() }()

	v, err := f.Read(ctx, firestore.ReadOptions{AllowEmpty: firestoreAllowEmpty, Casts: casts, Mode: mode})
	if err != nil {
		return fail(w, "Read failed", f.Path(), err)
	}

	if f.Level() == firestore.LevelCollection {
		docs, _ := v.(map[string]any)
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i, id := range ids {
			if err := w.WriteRow(ctx, documentRow(f.Path()+"/"+id, i, docs[id])); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return finish(ctx, w)
	}
	if err := w.WriteRow(ctx, documentRow(f.Path(), 0, v)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}

// documentRow wraps a document as a row. Non-map documents land under "value".
func documentRow(source string, index int, doc any) *output.RowRecord {
	values, ok := doc.(map[string]any)
	if !ok {
		values = map[string]any{"value": doc}
	}
	return &output.RowRecord{Source: source, Index: index, Values: values}
}

func runFirestoreWrite(cmd *cobra.Command, args []string) error {
	if err := requireWritable("firestore write"); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	w := newWriter(cmd, firestore.Service)

	raw := args[1]
	if raw == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read stdin", err)
		}
		raw = string(b)
	}

	f, err := firestore.New(ctx, args[0], firestoreOptions()...)
	if err != nil {
		return fail(w, "Failed to open Firestore path", args[0], err)
	}
	defer func() { _ = f.Close() }()

	id, err := f.Write(ctx, parseValue(raw), firestore.WriteOptions{Merge: firestoreMerge})
	if err != nil {
		return fail(w, "Write failed", f.Path(), err)
	}
	if err := w.WriteResource(ctx, &output.ResourceRecord{Name: id, Path: f.Path(), Kind: "document"}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}
