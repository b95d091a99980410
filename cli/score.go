package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/scoring"
)

type ScoreOptions struct {
	*RootOptions
	RunsDir string
	JSON    bool
}

func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "score <run-id|run-file.json>",
		Short: "Score a finished experiment run",
		Long: `Grade every conversation of a stored run against the policy oracle and
print the confusion matrix per (variant, persona) permutation.

The argument is either a path to a run JSON file or a run id looked up in
the runs directory (and Upstash when HARNESS_UPSTASH is set).

Example:
  harness score runs/2b0c5a4e-....json
  harness score 2b0c5a4e-... --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.RunsDir, "runs-dir", "", "directory of run files (default HARNESS_RUNS_DIR)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the report as JSON")

	return cmd
}

func runScore(ctx context.Context, opts *ScoreOptions, ref string) error {
	run, err := loadRun(ctx, opts.RunsDir, ref)
	if err != nil {
		return err
	}
	return writeReport(opts.out, scoring.Score(run), opts.JSON)
}

func loadRun(ctx context.Context, dir, ref string) (*record.ExperimentRun, error) {
	if strings.HasSuffix(ref, ".json") {
		if _, err := os.Stat(ref); err == nil {
			return record.LoadFile(ref)
		}
	}

	res, err := newResources()
	if err != nil {
		return nil, err
	}
	defer res.Close()

	store, err := res.runStore(dir)
	if err != nil {
		return nil, err
	}
	run, err := store.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", ref, err)
	}
	return run, nil
}

func writeReport(w io.Writer, rep scoring.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return rep.WriteText(w)
}
