package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	policyx "github.com/tanpawarit/Chative-Policy-Harness/agent/policy"
)

type EvaluateOptions struct {
	*RootOptions
	ReferenceDate string
	Premium       bool
	Status        string
	JSON          bool
}

func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate <order-date>",
		Short: "Ask the policy oracle whether an order may be cancelled",
		Long: `Evaluate the cancellation policy for a single order without touching
any store. Standard customers may cancel within 10 days, premium customers
within 15, and only while the order is not fulfilled, delivering, delivered
or already cancelled.

Example:
  harness evaluate 2023-10-01 --reference-date 2023-10-11 --status pending
  harness evaluate 2023-09-28 --reference-date 2023-10-11 --premium`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ReferenceDate, "reference-date", "", "reference date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&opts.Premium, "premium", false, "customer is premium")
	cmd.Flags().StringVar(&opts.Status, "status", string(contractx.StatusPending), "order status")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the verdict as JSON")

	return cmd
}

func runEvaluate(opts *EvaluateOptions, orderDate string) error {
	status := contractx.OrderStatus(strings.ToLower(strings.TrimSpace(opts.Status)))
	if !status.Valid() {
		return fmt.Errorf("%w: unknown order status %q", contractx.ErrInvalidConfig, opts.Status)
	}

	verdict, err := policyx.Evaluate(orderDate, referenceDateOrToday(opts.ReferenceDate), opts.Premium, status)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(opts.out)
		enc.SetIndent("", "  ")
		return enc.Encode(verdict)
	}
	return writeVerdict(opts.out, verdict)
}

func writeVerdict(w io.Writer, v policyx.Verdict) error {
	answer := "no"
	if v.Eligible {
		answer = "yes"
	}
	_, err := fmt.Fprintf(w, "cancellable: %s\nage: %d days (window %d)\nreason: %s\n", answer, v.AgeDays, v.WindowDays, v.Reason)
	return err
}
