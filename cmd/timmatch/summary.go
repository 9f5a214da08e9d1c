package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sawpanic/timmatch/internal/domain/estimate"
	"github.com/sawpanic/timmatch/internal/matcher"
)

func printSummary(out io.Writer, m *matcher.Model) {
	res := m.Result()
	fmt.Fprintf(out, "Fit %s (%s importance, %d units)\n\n", m.ID(), m.Method(), m.Units())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCOVARIATE\tSCORE")
	for i, c := range m.Ranking() {
		fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, c.Name, c.Score)
	}
	w.Flush()
	fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ESTIMAND\tESTIMATE\tSTD ERR\tUNITS\tEFFECTIVE N")
	printEffect(w, "ATE", res.ATE)
	printEffect(w, "ATT", res.ATT)
	printEffect(w, "ATC", res.ATC)
	w.Flush()
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Treated: %d/%d matched   Control: %d/%d matched   Retention: %.1f%%\n",
		res.Treated.Matched, res.Treated.Total, res.Control.Matched, res.Control.Total, 100*res.Retention)
	fmt.Fprintf(out, "Levels (treated): %s\n", levels(res.Treated.Levels))
	fmt.Fprintf(out, "Levels (control): %s\n", levels(res.Control.Levels))
	fmt.Fprintf(out, "L1 imbalance: %.4f before, %.4f after\n", res.Imbalance.Before, res.Imbalance.After)
	if len(res.Reasons) > 0 {
		reasons := make([]string, 0, len(res.Reasons))
		for r, n := range res.Reasons {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(out, "Unmatched: %s\n", strings.Join(reasons, ", "))
	}

	if len(res.CATE) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBGROUP\tATE\tATT\tATC\tUNITS")
		for _, g := range res.CATE {
			fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%d\n", g.Label, g.ATE.Estimate, g.ATT.Estimate, g.ATC.Estimate, g.ATE.Units)
		}
		w.Flush()
	}
}

func printEffect(w io.Writer, name string, e estimate.Effect) {
	if e.Units == 0 {
		fmt.Fprintf(w, "%s\t-\t-\t0\t-\n", name)
		return
	}
	fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%d\t%.1f\n", name, e.Estimate, e.StdErr, e.Units, e.EffectiveN)
}

// levels renders a per-level histogram as "0:12 1:3".
func levels(hist []int) string {
	parts := make([]string, 0, len(hist))
	for k, n := range hist {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d:%d", k, n))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
