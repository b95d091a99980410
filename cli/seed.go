package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	policyx "github.com/tanpawarit/Chative-Policy-Harness/agent/policy"
	statex "github.com/tanpawarit/Chative-Policy-Harness/agent/state"
)

type SeedOptions struct {
	*RootOptions
	Store         string
	Orders        int
	Customers     int
	Seed          uint64
	ReferenceDate string
	Distribution  string
	JSON          bool
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Clear and reseed the order store",
		Long: `Replace every order and customer in the selected store with a
deterministic synthetic dataset. The same seed and reference date always
produce the same dataset.

Example:
  harness seed --store http --orders 60 --seed 42 --reference-date 2023-10-11
  harness seed --store sql --distribution targeted`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "order store: memory|sql|http (default HARNESS_STORE)")
	cmd.Flags().IntVar(&opts.Orders, "orders", statex.DefaultNumOrders, "number of orders")
	cmd.Flags().IntVar(&opts.Customers, "customers", statex.DefaultNumCustomers, "number of customers")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", statex.DefaultSeed, "PRNG seed")
	cmd.Flags().StringVar(&opts.ReferenceDate, "reference-date", "", "reference date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&opts.Distribution, "distribution", contractx.DistributionWeighted, "weighted|targeted")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the summary as JSON")

	return cmd
}

func runSeed(ctx context.Context, opts *SeedOptions) error {
	res, err := newResources()
	if err != nil {
		return err
	}
	defer res.Close()

	store, err := res.orderStore(ctx, opts.Store)
	if err != nil {
		return err
	}

	summary, err := store.Seed(ctx, contractx.SeedConfig{
		NumOrders:     opts.Orders,
		NumCustomers:  opts.Customers,
		Seed:          opts.Seed,
		ReferenceDate: referenceDateOrToday(opts.ReferenceDate),
		Distribution:  opts.Distribution,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(opts.out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return writeSeedSummary(opts.out, summary)
}

func writeSeedSummary(w io.Writer, s contractx.SeedSummary) error {
	fmt.Fprintf(w, "Seeded %d orders for %d customers (seed %d)\n\n", s.Orders, s.Customers, s.Seed)

	statuses := make([]string, 0, len(s.StatusCounts))
	for status := range s.StatusCounts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tORDERS")
	for _, status := range statuses {
		fmt.Fprintf(tw, "%s\t%d\n", status, s.StatusCounts[contractx.OrderStatus(status)])
	}
	return tw.Flush()
}

type OrdersOptions struct {
	*RootOptions
	Store         string
	ReferenceDate string
}

func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrdersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders with their policy verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := newResources()
			if err != nil {
				return err
			}
			defer res.Close()

			store, err := res.orderStore(cmd.Context(), opts.Store)
			if err != nil {
				return err
			}
			orders, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeOrders(opts.out, orders, referenceDateOrToday(opts.ReferenceDate))
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "order store: sql|http (default HARNESS_STORE)")
	cmd.Flags().StringVar(&opts.ReferenceDate, "reference-date", "", "reference date (YYYY-MM-DD, default today)")

	return cmd
}

func writeOrders(w io.Writer, orders []contractx.OrderSnapshot, referenceDate string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tDATE\tSTATUS\tPREMIUM\tAGE\tCANCELLABLE\tRULE")
	for _, o := range orders {
		v, err := policyx.EvaluateOrder(o, referenceDate)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t-\t-\t%s\n", o.OrderID, o.OrderDate, o.Status, o.CustomerIsPremium, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%t\t%s\n", o.OrderID, o.OrderDate, o.Status, o.CustomerIsPremium, v.AgeDays, v.Eligible, v.ViolatedRule)
	}
	return tw.Flush()
}

func referenceDateOrToday(date string) string {
	if d := strings.TrimSpace(date); d != "" {
		return d
	}
	return policyx.FormatDate(time.Now())
}
