package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/Chative-Policy-Harness/agent/backend"
	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	configx "github.com/tanpawarit/Chative-Policy-Harness/pkg/config"
	logx "github.com/tanpawarit/Chative-Policy-Harness/pkg/logger"
)

type ServeOptions struct {
	*RootOptions
	Store         string
	Seed          bool
	ReferenceDate string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock order backend",
		Long: `Serve the order backend over HTTP for HTTP-backed experiments.

Orders come from the store selected by --store (or HARNESS_STORE); the
listen address and bearer token come from SERVER_HOST, SERVER_PORT and
SERVER_TOKEN. Telemetry posted to /telemetry/log_event goes to the sinks
in HARNESS_SINKS.

Example:
  harness serve --seed --reference-date 2023-10-11
  HARNESS_STORE=sql DATABASE_URL=sqlite:harness.db harness serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "order store: memory|sql (default HARNESS_STORE)")
	cmd.Flags().BoolVar(&opts.Seed, "seed", false, "seed the store with default settings before serving")
	cmd.Flags().StringVar(&opts.ReferenceDate, "reference-date", "", "reference date for --seed (YYYY-MM-DD, default today)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	res, err := newResources()
	if err != nil {
		return err
	}
	defer res.Close()

	kind := opts.Store
	if kind == "" {
		kind = res.app.Store
	}
	if kind == StoreHTTP {
		return fmt.Errorf("%w: the backend cannot serve an http store", contractx.ErrInvalidConfig)
	}

	store, err := res.orderStore(ctx, kind)
	if err != nil {
		return err
	}
	if opts.Seed {
		summary, err := store.Seed(ctx, contractx.SeedConfig{ReferenceDate: referenceDateOrToday(opts.ReferenceDate)})
		if err != nil {
			return err
		}
		res.logger.Info().Int("orders", summary.Orders).Int("customers", summary.Customers).Msg("order store seeded")
	}

	sink, err := res.telemetrySink(ctx)
	if err != nil {
		return err
	}

	cfg, err := configx.New[backend.Config]("SERVER")
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}
	srv, err := backend.NewServer(store, sink, res.metrics, logx.Component("backend"), *cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
