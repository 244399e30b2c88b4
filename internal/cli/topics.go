package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kemock/kem"
)

// TopicRoute describes who writes to and reads from one topic.
type TopicRoute struct {
	Topic     string          `json:"topic"`
	Producers []string        `json:"producers,omitempty"`
	Consumers []ConsumerRoute `json:"consumers,omitempty"`
}

// ConsumerRoute is a consumer and the producers it launches, in order.
type ConsumerRoute struct {
	OperationID string   `json:"operationId"`
	Launches    []string `json:"launches,omitempty"`
}

// NewTopicsCommand creates the topics command.
func NewTopicsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "topics <config.yaml>",
		Short:         "Print the routing table of a configuration",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runTopics(opts *RootOptions, path string, cmd *cobra.Command) error {
	env, err := kem.LoadEnvironment(path, nil)
	if err != nil {
		return err
	}
	log, err := logger(cmd.ErrOrStderr(), opts, &env.Document.Service, "error")
	if err != nil {
		return err
	}
	insp, err := inspectEnvironment(cmd.Context(), env, log)
	if err != nil {
		return err
	}
	return writeRoutes(cmd.OutOrStdout(), opts.Format, routes(insp.service.Table(), env.Document.Event))
}

func routes(table *kem.RoutingTable, defs kem.Definitions) []TopicRoute {
	byTopic := make(map[string]*TopicRoute, len(defs.Topics))
	out := make([]TopicRoute, len(table.Topics()))
	for i, topic := range table.Topics() {
		out[i].Topic = topic
		byTopic[topic] = &out[i]
	}
	for _, p := range defs.Producers {
		if r, ok := byTopic[p.Topic]; ok {
			r.Producers = append(r.Producers, p.OperationID)
		}
	}
	for _, topic := range table.ConsumerTopics() {
		r := byTopic[topic]
		for _, c := range table.ConsumersForTopic(topic) {
			r.Consumers = append(r.Consumers, ConsumerRoute{OperationID: c.OperationID, Launches: c.LaunchOperationIDs})
		}
	}
	return out
}

func writeRoutes(w io.Writer, format string, rs []TopicRoute) error {
	if format == "json" {
		return kem.Encode(w, rs)
	}
	for _, r := range rs {
		fmt.Fprintln(w, r.Topic)
		for _, p := range r.Producers {
			fmt.Fprintf(w, "  <- %s\n", p)
		}
		for _, c := range r.Consumers {
			fmt.Fprintf(w, "  -> %s", c.OperationID)
			if len(c.Launches) > 0 {
				fmt.Fprintf(w, " launches %v", c.Launches)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
