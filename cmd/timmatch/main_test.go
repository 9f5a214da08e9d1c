package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/errs"
)

// writePaired writes 20 units in which every treated unit has exactly one
// control with the same (a, c) profile and the effect is 2.
func writePaired(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("t,y,a,c\n")
	for i := 0; i < 20; i++ {
		tr := 0
		if i < 10 {
			tr = 1
		}
		a := i % 5
		fmt.Fprintf(&b, "%d,%d,%d,%s\n", tr, 2*tr+a, a, []string{"x", "y"}[i%2])
	}
	path := filepath.Join(t.TempDir(), "units.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error", "--log-format", "json"))
	err := cmd.Execute()
	return out.String(), err
}

func TestFitCommandPrintsSummaryAndWritesArtifacts(t *testing.T) {
	data := writePaired(t)
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := run(t, "fit", "--data", data, "--treatment", "t", "--outcome", "y",
		"--discrete", "a,c", "--out-dir", outDir)
	require.NoError(t, err)

	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "ATE       2.0000")
	assert.Contains(t, out, "Retention: 100.0%")
	assert.Contains(t, out, "Levels (treated): 0:10")
	for _, name := range []string{"result.json", "matches.csv", "snapshot.json"} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	shown, err := run(t, "show", "--snapshot", filepath.Join(outDir, "snapshot.json"))
	require.NoError(t, err)
	assert.Contains(t, shown, "ATE       2.0000")
}

func TestFitCommandConfigurationError(t *testing.T) {
	data := writePaired(t)
	_, err := run(t, "fit", "--data", data, "--outcome", "y", "--discrete", "a")
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestSaveWithoutDatabaseIsRejected(t *testing.T) {
	data := writePaired(t)
	_, err := run(t, "fit", "--data", data, "--treatment", "t", "--outcome", "y",
		"--discrete", "a,c", "--save")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestShowRequiresSource(t *testing.T) {
	_, err := run(t, "show")
	assert.Error(t, err)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, exitEstimation, exitCode(errs.Estimationf("no treated unit matched")))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}

func TestLevelsHistogram(t *testing.T) {
	assert.Equal(t, "0:3 2:1", levels([]int{3, 0, 1}))
	assert.Equal(t, "none", levels([]int{0, 0}))
}

func TestFitFlagsOverlayConfig(t *testing.T) {
	o := &fitOptions{}
	flags := pflag.NewFlagSet("fit", pflag.ContinueOnError)
	o.bind(flags)
	require.NoError(t, flags.Parse([]string{
		"--data", "units.csv",
		"--treatment", "t",
		"--discrete", "a,c",
		"--bins", "3",
		"--method", "ridge",
	}))

	base := config.DefaultMatch()
	base.OutcomeCol = "y"
	base.ContinuousCols = []string{"x"}
	cfg := o.matchConfig(flags, base)

	assert.Equal(t, "t", cfg.TreatmentCol)
	assert.Equal(t, "y", cfg.OutcomeCol, "unchanged flags keep the file value")
	assert.Equal(t, []string{"x"}, cfg.ContinuousCols)
	assert.Equal(t, []string{"a", "c"}, cfg.DiscreteCols)
	assert.Equal(t, 3, cfg.CoarsenBins)
	assert.Equal(t, "ridge", cfg.Importance.Method)
	assert.Equal(t, base.Distance, cfg.Distance)
}
