// Package matcher runs the two-stage matching pipeline and exposes the
// fitted, immutable Model.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/domain/covariate"
	"github.com/sawpanic/timmatch/internal/domain/distance"
	"github.com/sawpanic/timmatch/internal/domain/estimate"
	"github.com/sawpanic/timmatch/internal/domain/importance"
	"github.com/sawpanic/timmatch/internal/domain/strata"
	"github.com/sawpanic/timmatch/internal/errs"
	"github.com/sawpanic/timmatch/internal/metrics"
	"github.com/sawpanic/timmatch/internal/parallel"
)

// Fit estimates treatment effects on ds.
//
// Stages: validate, prepare covariates, rank importance, build strata,
// resolve treated and control units, weight partners, estimate. Every
// configuration problem is reported before matching starts.
func Fit(ctx context.Context, ds covariate.Dataset, cfg config.Match, opts ...Option) (*Model, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics != nil {
		o.metrics.FitStarted()
		defer o.metrics.FitFinished()
	}
	logger := o.logger.With().Str("component", "matcher").Logger()

	r := &run{cfg: cfg, opts: o}
	if err := r.stage(metrics.StagePrepare, func() error { return r.prepare(ds) }); err != nil {
		return nil, err
	}
	logger.Debug().
		Int("units", r.sample.N).
		Int("treated", r.sample.TreatedCount()).
		Int("covariates", len(r.sample.Specs)).
		Msg("Covariates prepared")

	if err := r.stage(metrics.StageImportance, func() error { return r.rank(ctx) }); err != nil {
		return nil, err
	}
	logger.Debug().Strs("ranking", r.ranking.Names()).Msg("Importance ranking computed")

	if err := r.stage(metrics.StageStrata, func() error { return r.buildStrata(ctx) }); err != nil {
		return nil, err
	}
	if err := r.stage(metrics.StageResolve, func() error { return r.resolve(ctx) }); err != nil {
		return nil, err
	}
	if err := r.stage(metrics.StageDistance, func() error { return r.weigh(ctx) }); err != nil {
		return nil, err
	}

	m := &Model{
		id:        o.newID(),
		createdAt: o.clock().UTC(),
		cfg:       cloneConfig(cfg),
		method:    r.method,
		schema:    covariate.Schema(r.sample.Specs),
		ranking:   r.ranking,
		units: UnitData{
			Treated:   r.sample.Treated,
			Outcome:   r.sample.Outcome,
			Cells:     r.index.Cells(),
			Subgroups: r.subgroups(),
		},
		groups:    r.groups,
		unmatched: r.unmatched,
	}
	if err := r.stage(metrics.StageEstimate, func() error {
		var err error
		m.result, err = estimate.Estimate(m.estimateInput())
		return err
	}); err != nil {
		return nil, err
	}

	res := m.result
	if o.metrics != nil {
		o.metrics.RecordUnits("treated", res.Treated.Matched, res.Treated.Unmatched)
		o.metrics.RecordUnits("control", res.Control.Matched, res.Control.Unmatched)
		o.metrics.RecordLevels("treated", res.Treated.Levels)
		o.metrics.RecordLevels("control", res.Control.Levels)
		o.metrics.RecordBalance(res.Retention, res.Imbalance.Before, res.Imbalance.After)
	}
	logger.Info().
		Str("fit_id", m.id).
		Int("treated_matched", res.Treated.Matched).
		Int("treated_unmatched", res.Treated.Unmatched).
		Int("control_matched", res.Control.Matched).
		Float64("ate", res.ATE.Estimate).
		Float64("att", res.ATT.Estimate).
		Float64("l1_before", res.Imbalance.Before).
		Float64("l1_after", res.Imbalance.After).
		Msg("Fit completed")
	return m, nil
}

// run carries intermediate state between stages of one fit.
type run struct {
	cfg  config.Match
	opts options

	sample    *covariate.Sample
	method    string
	ranking   importance.Ranking
	index     *strata.Index
	levels    map[int]int // unit -> resolved level
	groups    []estimate.Group
	unmatched []estimate.Unmatched
}

func (r *run) stage(s metrics.Stage, fn func() error) error {
	var timer *metrics.StageTimer
	if r.opts.metrics != nil {
		timer = r.opts.metrics.StartStage(s)
	}
	err := fn()
	if timer != nil {
		if err != nil {
			timer.Stop(metrics.ResultError)
			r.opts.metrics.RecordFitError(s, errorKind(err))
		} else {
			timer.Stop(metrics.ResultSuccess)
		}
	}
	if err != nil {
		r.opts.logger.Error().Err(err).Str("stage", string(s)).Msg("Fit stage failed")
	}
	return err
}

func errorKind(err error) string {
	switch {
	case errs.IsConfiguration(err):
		return "configuration"
	case errs.IsEstimation(err):
		return "estimation"
	default:
		return "internal"
	}
}

func (r *run) prepare(ds covariate.Dataset) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	sample, err := covariate.Prepare(ds, covariate.Params{
		Treatment:   r.cfg.TreatmentCol,
		Outcome:     r.cfg.OutcomeCol,
		Continuous:  r.cfg.ContinuousCols,
		Discrete:    r.cfg.DiscreteCols,
		CoarsenBins: r.cfg.CoarsenBins,
	})
	if err != nil {
		return err
	}
	r.sample = sample
	return nil
}

func (r *run) scorer() importance.Scorer {
	if r.opts.scorer != nil {
		r.method = "custom"
		return r.opts.scorer
	}
	ic := r.cfg.Importance
	r.method = ic.Method
	switch ic.Method {
	case config.MethodRidge:
		return importance.NewRidgeScorer(ic.RidgeAlpha)
	case config.MethodConfounder:
		return importance.NewConfounderScorer(r.sample.Outcome, ic.RidgeAlpha)
	}
	return importance.NewPermutationScorer(r.cfg.RandomSeed,
		importance.WithRepeats(ic.Repeats),
		importance.WithEpochs(ic.Epochs),
		importance.WithLearningRate(ic.LearningRate),
		importance.WithL2(ic.L2),
		importance.WithWorkers(r.cfg.Workers),
	)
}

func (r *run) rank(ctx context.Context) error {
	scores, err := r.scorer().Score(ctx, r.sample.Matrix(), r.sample.Treated)
	if err != nil {
		return fmt.Errorf("importance scoring: %w", err)
	}
	r.ranking, err = importance.Rank(r.sample.Names(), scores)
	return err
}

func (r *run) buildStrata(ctx context.Context) error {
	ix, err := strata.Build(ctx, r.sample.Coarse, r.sample.Treated, r.ranking.Order())
	if err != nil {
		return err
	}
	r.index = ix
	return nil
}

// resolve finds the viable level of every treated unit (partners: controls)
// and every control unit (partners: treated) concurrently.
func (r *run) resolve(ctx context.Context) error {
	arms := [2][]int{r.index.Arm(true), r.index.Arm(false)}
	var levels [2][]int

	g, gctx := errgroup.WithContext(ctx)
	for a := range arms {
		g.Go(func() error {
			var err error
			levels[a], err = r.index.Resolve(gctx, arms[a], r.cfg.Workers)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.levels = make(map[int]int, r.sample.N)
	for a, unitsOfArm := range arms {
		for i, u := range unitsOfArm {
			k := levels[a][i]
			if r.index.Matched(k) {
				r.levels[u] = k
				continue
			}
			r.unmatched = append(r.unmatched, estimate.Unmatched{
				Unit:    u,
				Treated: r.sample.Treated[u],
				Reason:  errs.NoViableStratum,
			})
		}
	}
	sortUnmatched(r.unmatched)
	return nil
}

// weigh computes partner distances and inverse-distance weights for every
// matched unit, one group per unit in ascending unit order.
func (r *run) weigh(ctx context.Context) error {
	metric, err := distance.New(r.sample.Matrix(), r.ranking.Scores(),
		distance.WithCombine(combineOf(r.cfg.Distance.Combine)),
		distance.WithDiscreteTerm(discreteOf(r.cfg.Distance.Discrete)),
	)
	if err != nil {
		return err
	}

	focal := make([]int, 0, len(r.levels))
	for u := 0; u < r.sample.N; u++ {
		if _, ok := r.levels[u]; ok {
			focal = append(focal, u)
		}
	}
	r.groups = make([]estimate.Group, len(focal))
	return parallel.ForEach(ctx, len(focal), r.cfg.Workers, func(i int) error {
		u := focal[i]
		k := r.levels[u]
		partners := r.index.Partners(u, k)
		d := metric.To(u, partners)
		r.groups[i] = estimate.Group{
			Unit:      u,
			Treated:   r.sample.Treated[u],
			Level:     k,
			Partners:  partners,
			Distances: d,
			Weights:   estimate.Weigh(d, r.cfg.Distance.Floor),
		}
		return nil
	})
}

// subgroups labels every unit by its coarse values on the CATE covariates,
// e.g. "region=north,age=bin2". It returns nil when CATE is not requested.
func (r *run) subgroups() []string {
	if len(r.cfg.CATEBy) == 0 {
		return nil
	}
	var cols []int
	for _, name := range r.cfg.CATEBy {
		for j, spec := range r.sample.Specs {
			if spec.Name == name {
				cols = append(cols, j)
			}
		}
	}
	labels := make([]string, r.sample.N)
	parts := make([]string, len(cols))
	for u := range labels {
		for i, j := range cols {
			parts[i] = r.sample.Specs[j].Label(r.sample.Coarse[j][u])
		}
		labels[u] = strings.Join(parts, ",")
	}
	return labels
}

func combineOf(s string) distance.Combine {
	if s == config.CombineEuclidean {
		return distance.Euclidean
	}
	return distance.WeightedSum
}

func discreteOf(s string) distance.DiscreteTerm {
	if s == config.DiscreteCrosstab {
		return distance.Crosstab
	}
	return distance.Indicator
}
