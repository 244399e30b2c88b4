package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kemock/kem"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	// Duration stops the environment after this long; zero runs until
	// interrupted.
	Duration time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run the mock environment",
		Long: `Connect to the configured broker, subscribe the consumers and start the
producers that no consumer launches.

Runs until interrupted, or for --for when set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "for", 0, "stop after this duration (0 runs until interrupted)")

	return cmd
}

func runRun(rootOpts *RootOptions, opts *RunOptions, path string, cmd *cobra.Command) error {
	env, err := kem.LoadEnvironment(path, nil)
	if err != nil {
		return err
	}
	log, err := logger(cmd.ErrOrStderr(), rootOpts, &env.Document.Service, "info")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	svc, err := env.NewService(ctx, log, kem.ServiceDependencies{DisableSignalHandler: true})
	if err != nil {
		return err
	}
	return svc.Start(ctx)
}
