package importance

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
	"github.com/sawpanic/timmatch/internal/parallel"
)

// PermutationScorer scores a covariate by how much the log-loss of a
// treatment-assignment classifier grows when that covariate is shuffled.
type PermutationScorer struct {
	Seed         int64
	Repeats      int
	Epochs       int
	LearningRate float64
	L2           float64
	Workers      int
}

// PermutationOption configures a PermutationScorer.
type PermutationOption func(*PermutationScorer)

// WithRepeats sets how many shuffles are averaged per covariate.
func WithRepeats(n int) PermutationOption { return func(s *PermutationScorer) { s.Repeats = n } }

// WithEpochs sets the number of gradient steps for the classifier.
func WithEpochs(n int) PermutationOption { return func(s *PermutationScorer) { s.Epochs = n } }

// WithWorkers bounds the goroutines scoring covariates; 0 means GOMAXPROCS.
func WithWorkers(n int) PermutationOption { return func(s *PermutationScorer) { s.Workers = n } }

// WithL2 sets the classifier's L2 penalty.
func WithL2(l2 float64) PermutationOption { return func(s *PermutationScorer) { s.L2 = l2 } }

// WithLearningRate sets the gradient step size.
func WithLearningRate(lr float64) PermutationOption {
	return func(s *PermutationScorer) { s.LearningRate = lr }
}

// NewPermutationScorer returns a scorer with the default schedule.
func NewPermutationScorer(seed int64, opts ...PermutationOption) *PermutationScorer {
	s := &PermutationScorer{
		Seed:         seed,
		Repeats:      5,
		Epochs:       400,
		LearningRate: 0.5,
		L2:           1e-3,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score implements Scorer.
func (s *PermutationScorer) Score(ctx context.Context, m covariate.Matrix, treated []bool) ([]float64, error) {
	n := m.Rows()
	if n == 0 || len(treated) != n {
		return nil, fmt.Errorf("permutation scorer: %d rows but %d treatment labels", n, len(treated))
	}
	if s.Repeats <= 0 || s.Epochs <= 0 {
		return nil, fmt.Errorf("permutation scorer: repeats and epochs must be positive")
	}

	d := newDesign(m)
	y := labels(treated)
	model, err := fitLogistic(ctx, d.rows, y, d.width, s.Epochs, s.LearningRate, s.L2)
	if err != nil {
		return nil, fmt.Errorf("permutation scorer: %w", err)
	}
	base := model.logLoss(d.rows, y)

	scores := make([]float64, m.Cols())
	err = parallel.ForEach(ctx, m.Cols(), s.Workers, func(j int) error {
		// one source per covariate keeps results independent of scheduling
		rng := rand.New(rand.NewSource(s.Seed + int64(j)))
		var total float64
		for r := 0; r < s.Repeats; r++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			total += model.permutedLoss(d.rows, y, d.groups[j], rng.Perm(n)) - base
		}
		scores[j] = max(total/float64(s.Repeats), 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("permutation scorer: %w", err)
	}
	return scores, nil
}
