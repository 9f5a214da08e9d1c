package covariate

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/timmatch/internal/errs"
)

func sampleDataset() Dataset {
	ds := NewDataset()
	ds.Numeric["t"] = []float64{1, 0, 1, 0, 1, 0, 1, 0}
	ds.Numeric["y"] = []float64{3, 1, 4, 1, 5, 9, 2, 6}
	ds.Numeric["age"] = []float64{8, 1, 7, 2, 6, 3, 5, 4}
	ds.Categorical["region"] = []string{"south", "north", "north", "east", "south", "east", "north", "south"}
	return ds
}

func sampleParams() Params {
	return Params{
		Treatment:   "t",
		Outcome:     "y",
		Continuous:  []string{"age"},
		Discrete:    []string{"region"},
		CoarsenBins: 4,
	}
}

func TestPrepareContinuous(t *testing.T) {
	s, err := Prepare(sampleDataset(), sampleParams())
	require.NoError(t, err)

	require.Equal(t, 8, s.N)
	assert.Equal(t, []bool{true, false, true, false, true, false, true, false}, s.Treated)
	assert.Equal(t, 4, s.TreatedCount())
	assert.Equal(t, []string{"age", "region"}, s.Names())

	age := s.Specs[0]
	assert.Equal(t, Continuous, age.Kind)
	assert.InDelta(t, 4.5, age.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(6), age.Std, 1e-12) // sample std of 1..8
	assert.Equal(t, []float64{1, 2, 4, 6, 8}, age.Edges)
	assert.Equal(t, 4, age.Bins())

	// two units per bin, ties at an edge go to the lower bin
	assert.Equal(t, []int32{3, 0, 3, 0, 2, 1, 2, 1}, s.Coarse[0])
	for i, raw := range []float64{8, 1, 7, 2, 6, 3, 5, 4} {
		assert.InDelta(t, (raw-4.5)/math.Sqrt(6), s.Values[0][i], 1e-12)
	}
}

func TestPrepareDiscreteEncoding(t *testing.T) {
	s, err := Prepare(sampleDataset(), sampleParams())
	require.NoError(t, err)

	region := s.Specs[1]
	assert.Equal(t, Discrete, region.Kind)
	assert.Equal(t, []string{"east", "north", "south"}, region.Categories)
	assert.Equal(t, []int32{2, 1, 1, 0, 2, 0, 1, 2}, s.Coarse[1])
	assert.Equal(t, float64(2), s.Values[1][0])
	assert.Equal(t, UnseenCategory, region.Code("west"))
}

func TestPrepareNumericDiscreteColumn(t *testing.T) {
	ds := sampleDataset()
	delete(ds.Categorical, "region")
	ds.Numeric["region"] = []float64{1, 0, 0, 2, 1, 2, 0, 1}

	s, err := Prepare(ds, sampleParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, s.Specs[1].Categories)
	assert.Equal(t, []int32{1, 0, 0, 2, 1, 2, 0, 1}, s.Coarse[1])
}

func TestPrepareConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Dataset, *Params)
		field  string
	}{
		{"bins below two", func(_ *Dataset, p *Params) { p.CoarsenBins = 1 }, "coarsen_bins"},
		{"no covariates", func(_ *Dataset, p *Params) { p.Continuous, p.Discrete = nil, nil }, "covariates"},
		{"unknown treatment", func(_ *Dataset, p *Params) { p.Treatment = "nope" }, "nope"},
		{"unknown outcome", func(_ *Dataset, p *Params) { p.Outcome = "nope" }, "nope"},
		{"unknown continuous", func(_ *Dataset, p *Params) { p.Continuous = []string{"nope"} }, "nope"},
		{"unknown discrete", func(_ *Dataset, p *Params) { p.Discrete = []string{"nope"} }, "nope"},
		{"non binary treatment", func(d *Dataset, _ *Params) { d.Numeric["t"][2] = 2 }, "t"},
		{"missing treatment", func(d *Dataset, _ *Params) { d.Numeric["t"][2] = math.NaN() }, "t"},
		{"single arm", func(d *Dataset, _ *Params) { d.Numeric["t"] = []float64{1, 1, 1, 1, 1, 1, 1, 1} }, "t"},
		{"missing outcome", func(d *Dataset, _ *Params) { d.Numeric["y"][0] = math.NaN() }, "y"},
		{"missing continuous", func(d *Dataset, _ *Params) { d.Numeric["age"][3] = math.NaN() }, "age"},
		{"missing category", func(d *Dataset, _ *Params) { d.Categorical["region"][3] = "" }, "region"},
		{"ragged column", func(d *Dataset, _ *Params) { d.Numeric["age"] = d.Numeric["age"][:5] }, "age"},
		{"bins exceed distinct", func(d *Dataset, _ *Params) { d.Numeric["age"] = []float64{1, 1, 2, 2, 3, 3, 1, 2} }, "age"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := sampleDataset()
			p := sampleParams()
			tt.mutate(&ds, &p)

			_, err := Prepare(ds, p)
			require.Error(t, err)
			var ce *errs.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestQuantileEdgesWithTies(t *testing.T) {
	sorted := []float64{1, 1, 1, 1, 2, 3, 4, 5}
	edges := quantileEdges(sorted, 2)
	assert.Equal(t, []float64{1, 1, 5}, edges)

	spec := Spec{Kind: Continuous, Edges: edges}
	// the tied block sits entirely in the lower bin
	assert.Equal(t, int32(0), spec.Bin(1))
	assert.Equal(t, int32(1), spec.Bin(2))
}

func TestSpecBinOutOfRange(t *testing.T) {
	spec := Spec{Kind: Continuous, Edges: []float64{1, 2, 4, 6, 8}}
	assert.Equal(t, int32(0), spec.Bin(-100))
	assert.Equal(t, int32(0), spec.Bin(2))
	assert.Equal(t, int32(1), spec.Bin(2.0001))
	assert.Equal(t, int32(3), spec.Bin(100))
}

func TestSchemaTransformReusesTrainingParameters(t *testing.T) {
	s, err := Prepare(sampleDataset(), sampleParams())
	require.NoError(t, err)
	schema := Schema(s.Specs)

	fresh := NewDataset()
	fresh.Numeric["age"] = []float64{100, 4.5}
	fresh.Categorical["region"] = []string{"west", "north"}

	enc, err := schema.Transform(fresh)
	require.NoError(t, err)
	require.Equal(t, 2, enc.N)

	// standardized with the training mean/std, not the new sample's
	assert.InDelta(t, (100-4.5)/math.Sqrt(6), enc.Values[0][0], 1e-12)
	assert.InDelta(t, 0, enc.Values[0][1], 1e-12)
	assert.Equal(t, []int32{3, 2}, enc.Coarse[0])
	assert.Equal(t, []int32{UnseenCategory, 1}, enc.Coarse[1])
}

func TestSchemaTransformRejectsMissing(t *testing.T) {
	s, err := Prepare(sampleDataset(), sampleParams())
	require.NoError(t, err)

	fresh := NewDataset()
	fresh.Numeric["age"] = []float64{math.NaN()}
	fresh.Categorical["region"] = []string{"north"}
	_, err = Schema(s.Specs).Transform(fresh)
	assert.True(t, errs.IsConfiguration(err))
}

func TestKindJSON(t *testing.T) {
	b, err := json.Marshal(Spec{Name: "x", Kind: Discrete, Categories: []string{"a"}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"discrete"`)

	var spec Spec
	require.NoError(t, json.Unmarshal(b, &spec))
	assert.Equal(t, Discrete, spec.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"ordinal"}`), &spec))
}

func TestSpecLabel(t *testing.T) {
	assert.Equal(t, "age=bin2", Spec{Name: "age", Kind: Continuous}.Label(2))
	region := Spec{Name: "region", Kind: Discrete, Categories: []string{"east", "north"}}
	assert.Equal(t, "region=north", region.Label(1))
	assert.Equal(t, "region=<unseen>", region.Label(UnseenCategory))
}
