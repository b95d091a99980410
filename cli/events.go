package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/Chative-Policy-Harness/agent/telemetry"
)

type EventsOptions struct {
	*RootOptions
	JSON bool
}

func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events <conversation-id>",
		Short: "Replay the telemetry of one conversation",
		Long: `Print the telemetry events recorded by the sql sink for a single
conversation, in the order they were emitted.

Example:
  HARNESS_SINKS=log,sql harness run -c configs/experiment.yaml
  harness events 7f9d2c1e-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the events as JSON")

	return cmd
}

func runEvents(ctx context.Context, opts *EventsOptions, conversationID string) error {
	res, err := newResources()
	if err != nil {
		return err
	}
	defer res.Close()

	db, err := res.database(ctx)
	if err != nil {
		return err
	}
	sink, err := telemetry.NewSQLSink(db)
	if err != nil {
		return err
	}
	events, err := sink.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no telemetry events for conversation %q", conversationID)
	}

	if opts.JSON {
		enc := json.NewEncoder(opts.out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	return writeEvents(opts.out, events)
}

func writeEvents(w io.Writer, events []telemetry.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TURN\tSTEP\tEVENT\tDETAIL")
	for _, ev := range events {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", ev.Turn, ev.Step, ev.EventType, eventDetail(ev))
	}
	return tw.Flush()
}

func eventDetail(ev telemetry.Event) string {
	switch {
	case ev.Error != "":
		return ev.Error
	case ev.ToolCall != nil:
		detail := ev.ToolCall.Tool
		if ev.ToolResult != nil {
			detail = fmt.Sprintf("%s success=%t", detail, ev.ToolResult.Success)
		}
		return detail
	case ev.Payload != nil:
		return fmt.Sprintf("%s -> %s", ev.Payload.ActionUnderConsideration, ev.Payload.IntendedNextStep)
	default:
		return ev.Message
	}
}
