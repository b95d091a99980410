// Package cli wires the harness components behind a cobra command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/Chative-Policy-Harness/pkg/config"
	logx "github.com/tanpawarit/Chative-Policy-Harness/pkg/logger"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	EnvFile string
	Verbose bool
	Pretty  bool

	out io.Writer
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{out: os.Stdout}

	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Cancellation-policy evaluation harness for order agents",
		Long: `Drives simulated customers against an LLM order agent, checks every
agent step against the tool and telemetry contract, and scores the agent's
cancellation decisions against the policy oracle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.out = cmd.OutOrStdout()
			configx.SetEnvFile(opts.EnvFile)

			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return fmt.Errorf("load logger config: %w", err)
			}
			if opts.Verbose {
				logCfg.Debug = true
			}
			if opts.Pretty {
				logCfg.PrettyFormat = true
			}
			logx.Init(*logCfg)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env", "", "path to .env file (default ./.env when present)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", false, "human readable console logs")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewScoreCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))

	return cmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
