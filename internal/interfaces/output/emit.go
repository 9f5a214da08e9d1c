// Package output writes fit artifacts to disk.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sawpanic/timmatch/internal/matcher"
)

type Emitter struct{}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// EmitMatchesCSV writes one row per matched unit followed by the unmatched
// units, whose level is blank.
func (e *Emitter) EmitMatchesCSV(filePath string, m *matcher.Model) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"Unit", "Treated", "Level", "Retained", "Partners", "Weights",
		"Outcome", "Counterfactual", "Effect", "Reason",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range m.MatchedData() {
		record := []string{
			strconv.Itoa(row.Unit),
			formatCSVBool(row.Treated, "1", "0"),
			strconv.Itoa(row.Level),
			strings.Join(row.Retained, "|"),
			joinInts(row.Partners),
			joinFloats(row.Weights),
			formatFloat(row.Outcome),
			formatFloat(row.Counterfactual),
			formatFloat(row.Effect),
			"",
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	for _, u := range m.Unmatched() {
		record := []string{
			strconv.Itoa(u.Unit),
			formatCSVBool(u.Treated, "1", "0"),
			"", "", "", "", "", "", "",
			string(u.Reason),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// EmitResultJSON writes the estimates, diagnostics and ranking.
func (e *Emitter) EmitResultJSON(filePath string, m *matcher.Model) error {
	doc := map[string]interface{}{
		"id":         m.ID(),
		"created_at": m.CreatedAt(),
		"method":     m.Method(),
		"units":      m.Units(),
		"ranking":    m.Ranking(),
		"result":     m.Result(),
	}
	return writeJSON(filePath, doc)
}

// EmitSnapshotJSON writes the full model snapshot.
func (e *Emitter) EmitSnapshotJSON(filePath string, m *matcher.Model) error {
	return writeJSON(filePath, m.Snapshot())
}

func writeJSON(filePath string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}

func formatCSVBool(condition bool, trueVal, falseVal string) string {
	if condition {
		return trueVal
	}
	return falseVal
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, "|")
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatFloat(x, 'f', 6, 64)
	}
	return strings.Join(parts, "|")
}
