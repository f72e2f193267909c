package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcpal/pkg/secretmanager"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Secret Manager secrets",
	Long: `List secrets and print secret values.

Examples:
  gcpal secrets ls --label env=prod
  gcpal secrets value db-password
  gcpal secrets value app-config --json --version 3`,
}

var (
	secretsLabels  []string
	secretsFilter  string
	secretsFull    bool
	secretsVersion string
	secretsJSON    bool
)

var secretsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List secrets",
	Args:  cobra.NoArgs,
	RunE:  runSecretsLs,
}

var secretsValueCmd = &cobra.Command{
	Use:   "value <name>",
	Short: "Print a secret version's value",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsValue,
}

func init() {
	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsLsCmd, secretsValueCmd)

	secretsLsCmd.Flags().StringArrayVar(&secretsLabels, "label", nil, "Label filter key=value (repeatable)")
	secretsLsCmd.Flags().StringVar(&secretsFilter, "filter", "", "Raw list filter")
	secretsLsCmd.Flags().BoolVar(&secretsFull, "full-name", false, "Emit full resource names")
	secretsValueCmd.Flags().StringVar(&secretsVersion, "version", "latest", "Secret version")
	secretsValueCmd.Flags().BoolVar(&secretsJSON, "json", false, "Decode the value as JSON")
}

func runSecretsLs(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, secretmanager.Service)
	labels, err := parseKeyValues(secretsLabels)
	if err != nil {
		return fail(w, "Invalid label", "", err)
	}
	sm, err := secretmanager.New(ctx, "", serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open Secret Manager", "", err)
	}
	defer func() { _ = sm.Close() }()

	names, err := sm.Ls(ctx, secretmanager.LsOptions{Labels: labels, Filter: secretsFilter, FullName: secretsFull})
	if err != nil {
		return fail(w, "Failed to list secrets", sm.Parent(), err)
	}
	if err := writeNames(ctx, w, "secret", names); err != nil {
		return err
	}
	return finish(ctx, w)
}

// runSecretsValue prints the raw value rather than a JSONL record.
func runSecretsValue(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	sm, err := secretmanager.New(ctx, args[0], serviceOptions()...)
	if err != nil {
		return fail(nil, "Failed to open secret", args[0], err)
	}
	defer func() { _ = sm.Close() }()

	v, err := sm.Value(ctx, secretsVersion, secretsJSON)
	if err != nil {
		return fail(nil, "Failed to read secret", sm.FullName(), err)
	}
	out := cmd.OutOrStdout()
	switch x := v.(type) {
	case string:
		_, err = fmt.Fprintln(out, x)
	default:
		err = json.NewEncoder(out).Encode(x)
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write secret", err)
	}
	return nil
}
