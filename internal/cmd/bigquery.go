package cmd

import (
	"fmt"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcpal/pkg/bigquery"
	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/output"
	"github.com/3leaps/gcpal/pkg/schema"
)

var bqCmd = &cobra.Command{
	Use:   "bq",
	Short: "BigQuery datasets, tables and queries",
	Long: `Work with BigQuery using dotted paths: dataset or project.dataset.table.

Examples:
  gcpal bq ls
  gcpal bq ls my_dataset
  gcpal bq schema my_dataset.events --vocabulary pandas
  gcpal bq read my_dataset.events --columns id,ts --where 'id > 10' --limit 5
  gcpal bq read --file gs://bucket/data/*.parquet --limit 10
  gcpal bq query 'SELECT * FROM ds.t WHERE id = @id' --param id=3`,
}

var (
	bqParams     []string
	bqColumns    []string
	bqWhere      []string
	bqLimit      int
	bqFile       string
	bqVocabulary string
	bqIgnore     bool
	bqFormat     string
)

var bqLsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List datasets, or tables in a dataset",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBQLs,
}

var bqQueryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a query and emit its rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runBQQuery,
}

var bqReadCmd = &cobra.Command{
	Use:   "read [table]",
	Short: "Read rows from a table or a gs:// file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBQRead,
}

var bqSchemaCmd = &cobra.Command{
	Use:   "schema <table>",
	Short: "Show a table schema in a type vocabulary",
	Args:  cobra.ExactArgs(1),
	RunE:  runBQSchema,
}

var bqRmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a table or a dataset with its tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runBQRm,
}

var bqExternalCmd = &cobra.Command{
	Use:   "external <table> <gs-uri>",
	Short: "Create an external table over files in Cloud Storage",
	Args:  cobra.ExactArgs(2),
	RunE:  runBQExternal,
}

func init() {
	rootCmd.AddCommand(bqCmd)
	bqCmd.AddCommand(bqLsCmd, bqQueryCmd, bqReadCmd, bqSchemaCmd, bqRmCmd, bqExternalCmd)

	bqQueryCmd.Flags().StringArrayVar(&bqParams, "param", nil, "Named query parameter key=value (repeatable)")
	bqReadCmd.Flags().StringSliceVar(&bqColumns, "columns", nil, "Columns to select (default all)")
	bqReadCmd.Flags().StringArrayVar(&bqWhere, "where", nil, "Filter 'column op value' (repeatable, ANDed)")
	bqReadCmd.Flags().IntVarP(&bqLimit, "limit", "n", 0, "Max rows (0 = no limit)")
	bqReadCmd.Flags().StringVar(&bqFile, "file", "", "Read a gs:// file through a temporary external table")
	bqSchemaCmd.Flags().StringVar(&bqVocabulary, "vocabulary", string(schema.BigQuery), "Type vocabulary: str, python, bigquery, pandas, pyarrow")
	bqRmCmd.Flags().BoolVar(&bqIgnore, "ignore-missing", false, "Succeed when the resource does not exist")
	bqExternalCmd.Flags().StringVar(&bqFormat, "format", "", "Source format (default inferred from the URI)")
}

func openBigQuery(cmd *cobra.Command, path string) (*bigquery.BigQuery, error) {
	return bigquery.New(commandContext(cmd), path, serviceOptions()...)
}

func runBQLs(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, bigquery.Service)
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	b, err := openBigQuery(cmd, path)
	if err != nil {
		return fail(w, "Failed to open BigQuery path", path, err)
	}
	defer func() { _ = b.Close() }()

	names, err := b.Ls(ctx)
	if err != nil {
		return fail(w, "Failed to list BigQuery resources", b.Path().String(), err)
	}
	kind := "dataset"
	if b.Level() != bigquery.LevelProject {
		kind = "table"
	}
	for _, n := range names {
		rec := &output.ResourceRecord{Name: n[strings.LastIndex(n, ".")+1:], Path: n, Kind: kind}
		if err := w.WriteResource(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return finish(ctx, w)
}

func runBQQuery(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, bigquery.Service)
	params, err := parseParams(bqParams)
	if err != nil {
		return fail(w, "Invalid query parameter", "", err)
	}
	b, err := openBigQuery(cmd, "")
	if err != nil {
		return fail(w, "Failed to open BigQuery", "", err)
	}
	defer func() { _ = b.Close() }()

	rows, err := b.Query(ctx, args[0], params)
	if err != nil {
		return fail(w, "Query failed", "query", err)
	}
	return writeBQRows(cmd, w, "query", rows)
}

func runBQRead(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, bigquery.Service)
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" && bqFile == "" {
		return fail(w, "Nothing to read", "", fmt.Errorf("%w: a table or --file is required", gcp.ErrInvalidArgument))
	}
	filters, err := parseConditions(bqWhere)
	if err != nil {
		return fail(w, "Invalid filter", path, err)
	}
	b, err := openBigQuery(cmd, path)
	if err != nil {
		return fail(w, "Failed to open BigQuery path", path, err)
	}
	defer func() { _ = b.Close() }()

	rows, err := b.Read(ctx, bigquery.ReadOptions{
		Columns:  bqColumns,
		Filters:  filters,
		Limit:    bqLimit,
		FilePath: bqFile,
	})
	source := b.Path().String()
	if bqFile != "" {
		source = bqFile
	}
	if err != nil {
		return fail(w, "Read failed", source, err)
	}
	return writeBQRows(cmd, w, source, rows)
}

// parseConditions parses "column op value" filters. The value is decoded
// as JSON when possible, so 'id > 10' compares numbers.
func parseConditions(exprs []string) ([]bigquery.Condition, error) {
	out := make([]bigquery.Condition, 0, len(exprs))
	for _, e := range exprs {
		parts := strings.Fields(e)
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: filter %q must be 'column op value'", gcp.ErrInvalidArgument, e)
		}
		out = append(out, bigquery.Condition{
			Column: parts[0],
			Op:     parts[1],
			Value:  parseValue(strings.Join(parts[2:], " ")),
		})
	}
	return out, nil
}

func writeBQRows(cmd *cobra.Command, w *output.JSONLWriter, source string, rows []map[string]bq.Value) error {
	ctx := commandContext(cmd)
	for i, row := range rows {
		values := make(map[string]any, len(row))
		for k, v := range row {
			values[k] = v
		}
		if err := w.WriteRow(ctx, &output.RowRecord{Source: source, Index: i, Values: values}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return finish(ctx, w)
}

func runBQSchema(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, bigquery.Service)
	vocab, err := schema.ParseVocabulary(bqVocabulary)
	if err != nil {
		return fail(w, "Invalid vocabulary", bqVocabulary, fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	b, err := openBigQuery(cmd, args[0])
	if err != nil {
		return fail(w, "Failed to open BigQuery path", args[0], err)
	}
	defer func() { _ = b.Close() }()

	sch, err := b.Schema(ctx)
	if err != nil {
		return fail(w, "Failed to read schema", b.Path().String(), err)
	}
	m, err := sch.ToMap(vocab)
	if err != nil {
		return fail(w, "Failed to convert schema", b.Path().String(), err)
	}
	rec := &output.ResourceRecord{
		Name:    b.Path().Table,
		Path:    b.Path().String(),
		Kind:    "schema",
		Details: map[string]any{"vocabulary": vocab, "fields": m},
	}
	if err := w.WriteResource(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}

func runBQRm(cmd *cobra.Command, args []string) error {
	if err := requireWritable("bq rm"); err != nil {
		return err
	}
	b, err := openBigQuery(cmd, args[0])
	if err != nil {
		return fail(nil, "Failed to open BigQuery path", args[0], err)
	}
	defer func() { _ = b.Close() }()

	mode := gcp.ErrorsRaise
	if bqIgnore {
		mode = gcp.ErrorsIgnore
	}
	if err := b.Delete(commandContext(cmd), mode); err != nil {
		return fail(nil, "Delete failed", b.Path().String(), err)
	}
	return nil
}

func runBQExternal(cmd *cobra.Command, args []string) error {
	if err := requireWritable("bq external"); err != nil {
		return err
	}
	b, err := openBigQuery(cmd, args[0])
	if err != nil {
		return fail(nil, "Failed to open BigQuery path", args[0], err)
	}
	defer func() { _ = b.Close() }()

	opts := bigquery.ExternalOptions{Format: bq.DataFormat(strings.ToUpper(bqFormat))}
	if err := b.CreateExternalTable(commandContext(cmd), args[1], opts); err != nil {
		return fail(nil, "Failed to create external table", b.Path().String(), err)
	}
	return nil
}
