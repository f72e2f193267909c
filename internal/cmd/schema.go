package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/output"
	"github.com/3leaps/gcpal/pkg/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Translate schemas between type vocabularies",
	Long: `Convert, detect and infer field-name-to-type schemas.

Vocabularies: str, python, bigquery, pandas, pyarrow.

Examples:
  echo '{"id": "INTEGER", "tags": {"name": "STRING"}}' | gcpal schema convert --to pandas
  gcpal schema convert schema.json --from pyarrow --to bigquery
  echo '[{"id": 1, "ok": true}]' | gcpal schema infer --to bigquery`,
}

var (
	schemaFrom string
	schemaTo   string
)

var schemaConvertCmd = &cobra.Command{
	Use:   "convert [file|-]",
	Short: "Convert a JSON name-to-type map to another vocabulary",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSchemaConvert,
}

var schemaInferCmd = &cobra.Command{
	Use:   "infer [file|-]",
	Short: "Infer a schema from a JSON object or array of objects",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSchemaInfer,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaConvertCmd, schemaInferCmd)

	schemaConvertCmd.Flags().StringVar(&schemaFrom, "from", "", "Source vocabulary (default detected)")
	for _, c := range []*cobra.Command{schemaConvertCmd, schemaInferCmd} {
		c.Flags().StringVar(&schemaTo, "to", string(schema.Str), "Target vocabulary")
	}
}

// readInput reads a file argument, or stdin when it is absent or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func runSchemaConvert(cmd *cobra.Command, args []string) error {
	w := newWriter(cmd, "schema")

	to, err := schema.ParseVocabulary(schemaTo)
	if err != nil {
		return fail(w, "Invalid target vocabulary", schemaTo, fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	var from schema.Vocabulary
	if schemaFrom != "" {
		if from, err = schema.ParseVocabulary(schemaFrom); err != nil {
			return fail(w, "Invalid source vocabulary", schemaFrom, fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
		}
	}

	data, err := readInput(cmd, args)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read schema", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fail(w, "Schema is not a JSON object", "", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	sch, err := schema.FromMap(m, from)
	if err != nil {
		return fail(w, "Failed to read schema", "", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	return writeSchema(cmd, w, sch, to)
}

func runSchemaInfer(cmd *cobra.Command, args []string) error {
	w := newWriter(cmd, "schema")

	to, err := schema.ParseVocabulary(schemaTo)
	if err != nil {
		return fail(w, "Invalid target vocabulary", schemaTo, fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	data, err := readInput(cmd, args)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read data", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		var one map[string]any
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return fail(w, "Data is not a JSON object or array of objects", "", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
		}
		rows = []map[string]any{one}
	}
	sch, err := schema.InferFromRows(rows)
	if err != nil {
		return fail(w, "Cannot infer a schema from data", "", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	return writeSchema(cmd, w, sch, to)
}

func writeSchema(cmd *cobra.Command, w *output.JSONLWriter, sch *schema.Schema, to schema.Vocabulary) error {
	ctx := commandContext(cmd)
	m, err := sch.ToMap(to)
	if err != nil {
		return fail(w, "Failed to convert schema", string(to), fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	rec := &output.ResourceRecord{
		Name:    "schema",
		Kind:    "schema",
		Details: map[string]any{"vocabulary": to, "fields": m},
	}
	if err := w.WriteResource(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}
