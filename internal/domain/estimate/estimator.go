package estimate

import (
	"math"
	"sort"

	"github.com/sawpanic/timmatch/internal/errs"
)

// Input is everything Estimate needs; it only reads the slices.
type Input struct {
	Outcome []float64
	Treated []bool

	// Groups holds one entry per matched unit of either arm.
	Groups    []Group
	Unmatched []Unmatched

	// Cells is the full coarse-profile cell of every unit, for imbalance.
	Cells []int32
	// Subgroups labels every unit for CATE; nil disables CATE.
	Subgroups []string
	// Levels is P, the number of relaxation levels that can match.
	Levels int
}

// Estimate computes ATT, ATC, ATE, CATE and diagnostics. It fails with an
// errs.EstimationError when no treated unit was matched.
func Estimate(in Input) (*Result, error) {
	var treatedGroups, controlGroups []Group
	for _, g := range in.Groups {
		if g.Treated {
			treatedGroups = append(treatedGroups, g)
		} else {
			controlGroups = append(controlGroups, g)
		}
	}
	if len(treatedGroups) == 0 {
		return nil, errs.Estimationf("no treated unit was matched (%d unmatched)", countArm(in.Unmatched, true))
	}

	res := &Result{
		Treated: armSummary(in.Treated, true, treatedGroups, in.Unmatched, in.Levels),
		Control: armSummary(in.Treated, false, controlGroups, in.Unmatched, in.Levels),
	}
	res.ATT, res.ATC, res.ATE = effects(treatedGroups, controlGroups, in.Outcome)
	res.Retention = float64(res.Treated.Matched) / float64(res.Treated.Total)

	if len(in.Unmatched) > 0 {
		res.Reasons = make(map[errs.Reason]int)
		for _, u := range in.Unmatched {
			res.Reasons[u.Reason]++
		}
	}
	if in.Cells != nil {
		res.Imbalance = Imbalance{
			Before: imbalanceBefore(in.Cells, in.Treated),
			After:  imbalanceAfter(in.Cells, treatedGroups),
		}
	}
	if in.Subgroups != nil {
		res.CATE = cate(treatedGroups, controlGroups, in.Outcome, in.Subgroups)
	}
	return res, nil
}

func effects(treated, control []Group, outcome []float64) (att, atc, ate Effect) {
	att = armEffect(treated, outcome)
	atc = armEffect(control, outcome)
	ate = combine(att, atc)
	return att, atc, ate
}

// armEffect averages individual effects of one arm. The standard error uses
// the reliability-weighted variance of the effects around the estimate.
func armEffect(groups []Group, outcome []float64) Effect {
	n := len(groups)
	if n == 0 {
		return Effect{}
	}
	tau := make([]float64, n)
	omega := make([]float64, n)
	var sum float64
	for i, g := range groups {
		tau[i] = g.Effect(outcome)
		omega[i] = g.Reliability()
		sum += tau[i]
	}
	est := sum / float64(n)

	var v1, v2, ss float64
	for i := range tau {
		v1 += omega[i]
		v2 += omega[i] * omega[i]
		d := tau[i] - est
		ss += omega[i] * d * d
	}
	e := Effect{Estimate: est, Units: n}
	if v2 > 0 {
		e.EffectiveN = v1 * v1 / v2
	}
	if n < 2 || v1 <= 0 {
		return e
	}
	denom := v1 - v2/v1
	if denom <= 0 {
		return e
	}
	variance := ss / denom
	e.StdErr = math.Sqrt(variance / e.EffectiveN)
	return e
}

// combine weights arm effects by their number of matched units.
func combine(att, atc Effect) Effect {
	total := att.Units + atc.Units
	if total == 0 {
		return Effect{}
	}
	st := float64(att.Units) / float64(total)
	sc := float64(atc.Units) / float64(total)
	return Effect{
		Estimate:   st*att.Estimate + sc*atc.Estimate,
		StdErr:     math.Sqrt(st*st*att.StdErr*att.StdErr + sc*sc*atc.StdErr*atc.StdErr),
		Units:      total,
		EffectiveN: att.EffectiveN + atc.EffectiveN,
	}
}

func cate(treated, control []Group, outcome []float64, labels []string) []Subgroup {
	byLabel := make(map[string]*[2][]Group)
	for _, g := range treated {
		b := bucket(byLabel, labels[g.Unit])
		b[0] = append(b[0], g)
	}
	for _, g := range control {
		b := bucket(byLabel, labels[g.Unit])
		b[1] = append(b[1], g)
	}

	keys := make([]string, 0, len(byLabel))
	for k := range byLabel {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Subgroup, 0, len(keys))
	for _, k := range keys {
		b := byLabel[k]
		att, atc, ate := effects(b[0], b[1], outcome)
		out = append(out, Subgroup{Label: k, ATE: ate, ATT: att, ATC: atc})
	}
	return out
}

func bucket(m map[string]*[2][]Group, label string) *[2][]Group {
	b, ok := m[label]
	if !ok {
		b = new([2][]Group)
		m[label] = b
	}
	return b
}

func armSummary(treated []bool, arm bool, groups []Group, unmatched []Unmatched, levels int) Arm {
	a := Arm{Matched: len(groups), Levels: make([]int, levels)}
	for _, t := range treated {
		if t == arm {
			a.Total++
		}
	}
	a.Unmatched = countArm(unmatched, arm)
	for _, g := range groups {
		if g.Level >= 0 && g.Level < levels {
			a.Levels[g.Level]++
		}
	}
	return a
}

func countArm(unmatched []Unmatched, arm bool) int {
	n := 0
	for _, u := range unmatched {
		if u.Treated == arm {
			n++
		}
	}
	return n
}
