package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/Chative-Policy-Harness/agent/agents/customer"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/agents/orderagent"
	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/experiment"
	llmx "github.com/tanpawarit/Chative-Policy-Harness/agent/llm"
	promptx "github.com/tanpawarit/Chative-Policy-Harness/agent/prompt"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/scoring"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/tool"
	configx "github.com/tanpawarit/Chative-Policy-Harness/pkg/config"
	logx "github.com/tanpawarit/Chative-Policy-Harness/pkg/logger"
	openrouterx "github.com/tanpawarit/Chative-Policy-Harness/pkg/openrouter"
)

type RunOptions struct {
	*RootOptions
	Config   string
	Store    string
	RunsDir  string
	Parallel int
	JSON     bool
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment and score it",
		Long: `Run every (variant, persona) permutation of the experiment file against
the order store, save the run, and print its score.

Models are configured with OPENROUTER_* variables. Interrupting the run
stops it at the next turn boundary; the conversations collected so far are
saved as a partial run.

Example:
  harness run --config configs/experiment.yaml
  HARNESS_STORE=http BACKEND_URL=http://127.0.0.1:8080 harness run -c configs/experiment.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExperiment(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "experiment file (yaml|json|toml)")
	cmd.Flags().StringVar(&opts.Store, "store", "", "order store: memory|sql|http (default HARNESS_STORE)")
	cmd.Flags().StringVar(&opts.RunsDir, "runs-dir", "", "directory for run files (default HARNESS_RUNS_DIR)")
	cmd.Flags().IntVar(&opts.Parallel, "parallelism", 0, "override the experiment parallelism")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runExperiment(ctx context.Context, opts *RunOptions) error {
	cfg, err := experiment.LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.Parallel > 0 {
		cfg.Parallelism = opts.Parallel
	}
	normalized := cfg.Normalize()

	llmCfg, err := configx.New[llmx.Config]("OPENROUTER")
	if err != nil {
		return fmt.Errorf("load openrouter config: %w", err)
	}
	if err := llmCfg.Validate(); err != nil {
		return err
	}

	prompts, err := promptx.LoadPromptSet()
	if err != nil {
		return err
	}
	if len(normalized.Variants) == 0 {
		normalized.Variants = prompts.Variants()
	}

	res, err := newResources()
	if err != nil {
		return err
	}
	defer res.Close()

	kind := opts.Store
	if kind == "" {
		kind = res.app.Store
	}
	store, err := res.orderStore(ctx, kind)
	if err != nil {
		return err
	}
	if kind == StoreMemory && !normalized.Reseed {
		// A fresh in-process store has no orders to assign.
		res.logger.Info().Msg("memory store is empty, seeding before the run")
		normalized.Reseed = true
	}
	sink, err := res.telemetrySink(ctx)
	if err != nil {
		return err
	}
	runs, err := res.runStore(opts.RunsDir)
	if err != nil {
		return err
	}

	gateway, err := tool.NewGateway(store,
		tool.WithTimeout(normalized.ToolTimeout),
		tool.WithLogger(logx.Component("tool")),
	)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(gateway, normalized.Conversation,
		orchestrator.WithSink(sink),
		orchestrator.WithMetrics(res.metrics),
		orchestrator.WithLogger(logx.Component("orchestrator")),
	)
	if err != nil {
		return err
	}

	limiter := llmCfg.Limiter()
	agents, err := orderagent.NewRegistry(ctx, *llmCfg, prompts, normalized.Variants, limiter)
	if err != nil {
		return err
	}
	chat := openrouterx.NewChatClient(llmCfg.OpenRouterFor(llmx.RoleCustomer), limiter)
	customers, err := customer.NewFactory(prompts, chat, orch.Config().MinTurns)
	if err != nil {
		return err
	}
	if len(normalized.Personas) == 0 {
		normalized.Personas = customers.Names()
	}
	for _, persona := range normalized.Personas {
		if !slices.Contains(customers.Names(), persona) {
			return fmt.Errorf("%w: unknown persona %q", contractx.ErrInvalidConfig, persona)
		}
	}

	runnerLogger := logx.Component("experiment")
	runner, err := experiment.New(experiment.Deps{
		Store:        store,
		Orchestrator: orch,
		Agents:       agents,
		Customers:    experiment.FromFactory(customers),
		Runs:         runs,
		Logger:       &runnerLogger,
	}, normalized)
	if err != nil {
		return err
	}

	run, runErr := runner.Run(ctx)
	if run == nil {
		return runErr
	}
	res.logger.Info().
		Str("run_id", run.ID).
		Int("conversations", len(run.Conversations)).
		Bool("partial", run.Partial).
		Msg("experiment finished")

	if err := writeReport(opts.out, scoring.Score(run), opts.JSON); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
