package importance

import (
	"github.com/sawpanic/timmatch/internal/domain/covariate"
)

// design is a row-major feature matrix: continuous covariates contribute
// their z-score, discrete covariates one indicator column per category.
type design struct {
	rows   [][]float64
	groups [][]int // feature columns owned by each covariate
	width  int
}

func newDesign(m covariate.Matrix) design {
	n := m.Rows()
	d := design{groups: make([][]int, m.Cols())}
	for j, spec := range m.Specs {
		k := 1
		if spec.Kind == covariate.Discrete {
			k = max(len(spec.Categories), 1)
		}
		for f := 0; f < k; f++ {
			d.groups[j] = append(d.groups[j], d.width+f)
		}
		d.width += k
	}

	d.rows = make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, d.width)
		for j, spec := range m.Specs {
			v := m.Values[j][i]
			if spec.Kind == covariate.Continuous {
				row[d.groups[j][0]] = v
				continue
			}
			if code := int(v); code >= 0 && code < len(d.groups[j]) {
				row[d.groups[j][code]] = 1
			}
		}
		d.rows[i] = row
	}
	return d
}

func labels(treated []bool) []float64 {
	y := make([]float64, len(treated))
	for i, t := range treated {
		if t {
			y[i] = 1
		}
	}
	return y
}
