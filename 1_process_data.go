package digiscore

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ProcessDataCmd: Reads the raw survey, saves the scored processed table
var ProcessDataCmd = &cobra.Command{
	Use:   "process-data",
	Short: "Clean the raw survey and compute the digital inclusion score",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := processData(Config.Data.RawPath, Config.Data.ProcessedPath); err != nil {
			return err
		}
		zap.L().Info("data successfully processed", zap.String("output", Config.Data.ProcessedPath))
		return nil
	},
}

// processData runs the loader and scorer and writes the processed table.
func processData(inputPath, outputPath string) error {
	table, err := LoadData(inputPath)
	if err != nil {
		if eris.Is(err, ErrMissingInput) {
			return eris.Wrapf(err, "raw data not found at %s", inputPath)
		}
		return err
	}

	CalculateIndex(table)

	if err := table.WriteCSV(outputPath); err != nil {
		return eris.Wrap(err, "process: write processed table")
	}
	return nil
}

// LoadData reads the raw survey and normalizes missing-value markers.
func LoadData(path string) (*Table, error) {
	table, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	table.NormalizeMissing()
	zap.L().Debug("loaded raw data", zap.String("path", path), zap.Int("rows", len(table.Rows)))
	return table, nil
}

// CalculateIndex sets the digital inclusion score column (0-8) on every row.
func CalculateIndex(table *Table) {
	scores := make([]string, len(table.Rows))
	for i := range table.Rows {
		values := make([]string, len(Services))
		for j, s := range Services {
			values[j] = table.Get(i, s.Column)
		}
		scores[i] = strconv.Itoa(ScoreValues(values))
	}
	table.SetColumn(ScoreColumn, scores)
}

// Score counts the available services.
func Score(flags []Flag) int {
	n := 0
	for _, f := range flags {
		if f.Available() {
			n++
		}
	}
	return n
}

// ScoreValues counts raw cells equal to "yes", ignoring case and
// surrounding whitespace. Missing or unrecognised values never count.
func ScoreValues(values []string) int {
	n := 0
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), "yes") {
			n++
		}
	}
	return n
}
