package cmd

import (
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/pkg/output"
	"github.com/3leaps/gcpal/pkg/pubsub"
)

var pubsubCmd = &cobra.Command{
	Use:   "pubsub",
	Short: "Pub/Sub topics and subscriptions",
	Long: `List topics and subscriptions and publish messages.

Paths are topic, project/topic or project/topic/subscription.

Examples:
  gcpal pubsub ls
  gcpal pubsub ls my-topic
  gcpal pubsub publish my-topic '{"id": 1}' --attr source=cli
  echo hello | gcpal pubsub publish my-topic -`,
}

var (
	pubsubFullName bool
	pubsubAttrs    []string
)

var pubsubLsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List topics, or the subscriptions of a topic",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPubSubLs,
}

var pubsubPublishCmd = &cobra.Command{
	Use:   "publish <topic> <data|->",
	Short: "Publish one message; '-' reads the payload from stdin",
	Args:  cobra.ExactArgs(2),
	RunE:  runPubSubPublish,
}

func init() {
	rootCmd.AddCommand(pubsubCmd)
	pubsubCmd.AddCommand(pubsubLsCmd, pubsubPublishCmd)

	pubsubLsCmd.Flags().BoolVar(&pubsubFullName, "full-name", false, "Emit full resource names")
	pubsubPublishCmd.Flags().StringArrayVar(&pubsubAttrs, "attr", nil, "Message attribute key=value (repeatable)")
}

func runPubSubLs(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, pubsub.Service)
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	ps, err := pubsub.New(ctx, path, serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open Pub/Sub path", path, err)
	}
	defer func() { _ = ps.Close() }()

	names, err := ps.Ls(ctx, pubsubFullName)
	if err != nil {
		return fail(w, "Failed to list Pub/Sub resources", ps.Path().String(), err)
	}
	kind := "topic"
	if ps.Level() != pubsub.LevelProject {
		kind = "subscription"
	}
	if err := writeNames(ctx, w, kind, names); err != nil {
		return err
	}
	return finish(ctx, w)
}

func runPubSubPublish(cmd *cobra.Command, args []string) error {
	if err := requireWritable("pubsub publish"); err != nil {
		return err
	}
	ctx := commandContext(cmd)
	w := newWriter(cmd, pubsub.Service)
	attrs, err := parseKeyValues(pubsubAttrs)
	if err != nil {
		return fail(w, "Invalid attribute", "", err)
	}

	var data any = args[1]
	if args[1] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read stdin", err)
		}
		data = b
	}

	ps, err := pubsub.New(ctx, args[0], serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open topic", args[0], err)
	}
	defer func() { _ = ps.Close() }()

	id, err := ps.Publish(ctx, data, attrs)
	if err != nil {
		return fail(w, "Publish failed", ps.Path().String(), err)
	}
	observability.CLILogger.Info("Published message", zap.String("topic", ps.Path().String()), zap.String("message_id", id))
	rec := &output.ResourceRecord{Name: id, Path: ps.Path().TopicName(), Kind: "message"}
	if err := w.WriteResource(ctx, rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return finish(ctx, w)
}
