package scoring

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// WriteText renders the report as an aligned table followed by the
// violation breakdown.
func (r Report) WriteText(w io.Writer) error {
	title := r.Name
	if title == "" {
		title = r.RunID
	}
	if r.Partial {
		title += " (partial)"
	}
	if _, err := fmt.Fprintf(w, "Run %s\n\n", title); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tPERSONA\tCONV\tTP\tFP\tTN\tTN*\tFN\tACC\tSENS\tSPEC\tPREC\tBREACH\tAGREE\tVIOL\tPARSE")
	rows := append(append([]*Permutation(nil), r.Permutations...), r.Total)
	for _, p := range rows {
		m := p.Matrix
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%d\t%s\t%d\t%d\n",
			p.Variant, p.Persona, p.Conversations,
			m.TP, m.FP, m.TN, m.ImplicitTN, m.FN,
			pct(m.Accuracy()), pct(m.Sensitivity()), pct(m.Specificity()), pct(m.Precision()),
			p.PolicyBreaches, pct(p.Canceller.Agreement()),
			sum(p.Violations), p.ParseErrors,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Total.Violations) > 0 {
		fmt.Fprintln(w, "\nProtocol violations:")
		for _, code := range sortedKeys(r.Total.Violations) {
			fmt.Fprintf(w, "  %-24s %d\n", code, r.Total.Violations[code])
		}
	}
	if len(r.Total.Terminations) > 0 {
		parts := make([]string, 0, len(r.Total.Terminations))
		for _, reason := range sortedKeys(r.Total.Terminations) {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, r.Total.Terminations[reason]))
		}
		fmt.Fprintf(w, "\nTerminations: %s\n", strings.Join(parts, " "))
	}
	_, err := fmt.Fprintln(w, "\nTN* = implicit true negatives (ineligible order, cancellation never considered)")
	return err
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
