package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/dataio"
	"github.com/sawpanic/timmatch/internal/interfaces/output"
	"github.com/sawpanic/timmatch/internal/matcher"
)

type fitOptions struct {
	data         string
	categorical  []string
	treatment    string
	outcome      string
	continuous   []string
	discrete     []string
	cateBy       []string
	bins         int
	seed         int64
	workers      int
	method       string
	combine      string
	discreteTerm string
	floor        float64
	outDir       string
	save         bool
}

func newFitCmd(root *rootOptions) *cobra.Command {
	o := &fitOptions{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a matching model on a CSV file",
		Long: `Fit ranks covariates, matches every unit and prints the effect estimates.

Flags override the match section of the configuration file.`,
		Example: `  timmatch fit --data units.csv --treatment treated --outcome y \
    --continuous age,income --discrete region --out-dir out/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFit(cmd, root, o)
		},
	}

	o.bind(cmd.Flags())
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (o *fitOptions) bind(f *pflag.FlagSet) {
	f.StringVar(&o.data, "data", "", "CSV file with a header row (required)")
	f.StringSliceVar(&o.categorical, "categorical", nil, "Columns to read as strings even if numeric")
	f.StringVar(&o.treatment, "treatment", "", "Binary treatment column")
	f.StringVar(&o.outcome, "outcome", "", "Outcome column")
	f.StringSliceVar(&o.continuous, "continuous", nil, "Continuous covariates")
	f.StringSliceVar(&o.discrete, "discrete", nil, "Discrete covariates")
	f.StringSliceVar(&o.cateBy, "cate-by", nil, "Covariates defining CATE subgroups")
	f.IntVar(&o.bins, "bins", 0, "Equal-frequency bins per continuous covariate")
	f.Int64Var(&o.seed, "seed", 0, "Random seed for importance scoring")
	f.IntVar(&o.workers, "workers", 0, "Worker goroutines (0 = GOMAXPROCS)")
	f.StringVar(&o.method, "method", "", "Importance method (permutation|confounder|ridge)")
	f.StringVar(&o.combine, "combine", "", "Distance combination (weighted_sum|euclidean)")
	f.StringVar(&o.discreteTerm, "discrete-distance", "", "Discrete distance (indicator|crosstab)")
	f.Float64Var(&o.floor, "floor", 0, "Minimum distance before inversion")
	f.StringVar(&o.outDir, "out-dir", "", "Write result.json, matches.csv and snapshot.json here")
	f.BoolVar(&o.save, "save", false, "Persist the fit to the configured store")
}

// matchConfig overlays changed flags onto the configured match section.
func (o *fitOptions) matchConfig(flags *pflag.FlagSet, base config.Match) config.Match {
	cfg := base
	if flags.Changed("treatment") {
		cfg.TreatmentCol = o.treatment
	}
	if flags.Changed("outcome") {
		cfg.OutcomeCol = o.outcome
	}
	if flags.Changed("continuous") {
		cfg.ContinuousCols = o.continuous
	}
	if flags.Changed("discrete") {
		cfg.DiscreteCols = o.discrete
	}
	if flags.Changed("cate-by") {
		cfg.CATEBy = o.cateBy
	}
	if flags.Changed("bins") {
		cfg.CoarsenBins = o.bins
	}
	if flags.Changed("seed") {
		cfg.RandomSeed = o.seed
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("method") {
		cfg.Importance.Method = o.method
	}
	if flags.Changed("combine") {
		cfg.Distance.Combine = o.combine
	}
	if flags.Changed("discrete-distance") {
		cfg.Distance.Discrete = o.discreteTerm
	}
	if flags.Changed("floor") {
		cfg.Distance.Floor = o.floor
	}
	return cfg
}

func runFit(cmd *cobra.Command, root *rootOptions, o *fitOptions) error {
	ctx := cmd.Context()
	cfg := o.matchConfig(cmd.Flags(), root.file.Match)

	ds, err := dataio.ReadFile(o.data, dataio.Options{Categorical: o.categorical})
	if err != nil {
		return err
	}

	m, err := matcher.Fit(ctx, ds, cfg)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), m)

	if o.outDir != "" {
		if err := writeArtifacts(o.outDir, m); err != nil {
			return err
		}
	}

	if o.save {
		b, err := openBackend(ctx, root.file, nil, 0)
		if err != nil {
			return err
		}
		defer b.Close()
		if err := requireStore(b); err != nil {
			return err
		}
		if _, err := b.store.Save(ctx, m); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nSaved fit %s\n", m.ID())
	}
	return nil
}

func writeArtifacts(dir string, m *matcher.Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	e := output.NewEmitter()
	steps := []struct {
		name string
		emit func(string, *matcher.Model) error
	}{
		{"result.json", e.EmitResultJSON},
		{"matches.csv", e.EmitMatchesCSV},
		{"snapshot.json", e.EmitSnapshotJSON},
	}
	for _, step := range steps {
		path := filepath.Join(dir, step.name)
		if err := step.emit(path, m); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("Wrote artifact")
	}
	return nil
}
