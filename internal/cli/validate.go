package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kemock/kem"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Topics    int      `json:"topics"`
	Producers int      `json:"producers"`
	Consumers int      `json:"consumers"`
	Errors    []string `json:"errors,omitempty"`
}

// ErrInvalid is returned when the document does not validate. The details
// have already been written to the command output.
var ErrInvalid = errors.New("configuration is invalid")

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a configuration without connecting to the broker",
		Long: `Validate the service settings, operation definitions, refs and schemas of a
configuration document, and build one payload per producer.

Nothing is published.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	var result ValidationResult

	env, err := kem.LoadEnvironment(path, nil)
	if err != nil {
		result.Errors = []string{err.Error()}
		return writeValidation(cmd.OutOrStdout(), opts.Format, result)
	}
	defs := env.Document.Event
	result.Topics, result.Producers, result.Consumers = len(defs.Topics), len(defs.Producers), len(defs.Consumers)

	log, err := logger(cmd.ErrOrStderr(), opts, &env.Document.Service, "error")
	if err != nil {
		return err
	}

	insp, err := inspectEnvironment(cmd.Context(), env, log)
	if err == nil {
		err = insp.err()
	}
	if err != nil {
		result.Errors = splitErrors(err)
	}
	return writeValidation(cmd.OutOrStdout(), opts.Format, result)
}

func writeValidation(w io.Writer, format string, result ValidationResult) error {
	result.Valid = len(result.Errors) == 0

	if format == "json" {
		if err := kem.Encode(w, result); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Fprintf(w, "✓ valid: %d topic(s), %d producer(s), %d consumer(s)\n",
			result.Topics, result.Producers, result.Consumers)
	} else {
		fmt.Fprintf(w, "✗ invalid: %d error(s)\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	if !result.Valid {
		return ErrInvalid
	}
	return nil
}

// splitErrors flattens errors.Join trees into one message per leaf.
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
