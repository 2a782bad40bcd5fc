package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/cmplx"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"lrurec/internal/model"
)

const stabilityFile = "stability.csv"

// StabilityRow describes one recurrence channel.
type StabilityRow struct {
	Block   int     `json:"block"`
	Channel int     `json:"channel"`
	Modulus float64 `json:"modulus"`
	Phase   float64 `json:"phase"`
	Gain    float64 `json:"gain"`
}

// DeviationSummary aggregates the maximum absolute difference between the
// parallel and sequential scan over several random trials.
type DeviationSummary struct {
	Trials int     `json:"trials"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
}

type CheckpointArtifacts struct {
	ID         string             `json:"id"`
	Label      string             `json:"label"`
	CreatedAt  time.Time          `json:"created_at"`
	Config     json.RawMessage    `json:"config"`
	Parameters model.ParameterSet `json:"-"`
	Stability  []StabilityRow     `json:"-"`
}

// ChannelRows expands one block's eigenvalues and gains into rows.
func ChannelRows(block int, lambda []complex128, gain []float64) []StabilityRow {
	rows := make([]StabilityRow, len(lambda))
	for c, l := range lambda {
		rows[c] = StabilityRow{Block: block, Channel: c, Modulus: cmplx.Abs(l), Phase: cmplx.Phase(l)}
		if c < len(gain) {
			rows[c].Gain = gain[c]
		}
	}
	return rows
}

func SummarizeDeviations(deviations []float64) DeviationSummary {
	if len(deviations) == 0 {
		return DeviationSummary{}
	}
	mean, std := stat.MeanStdDev(deviations, nil)
	if len(deviations) == 1 {
		std = 0
	}
	summary := DeviationSummary{Trials: len(deviations), Mean: mean, Std: std}
	for _, d := range deviations {
		if d > summary.Max {
			summary.Max = d
		}
	}
	return summary
}

// WriteCheckpointArtifacts exports a checkpoint into baseDir/<id> and returns
// that directory.
func WriteCheckpointArtifacts(baseDir string, artifacts CheckpointArtifacts) (string, error) {
	if artifacts.ID == "" {
		return "", fmt.Errorf("checkpoint id is required")
	}

	dir := filepath.Join(baseDir, artifacts.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(dir, "checkpoint.json"), artifacts); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "parameters.json"), artifacts.Parameters); err != nil {
		return "", err
	}
	if err := WriteStabilityCSV(dir, artifacts.Stability); err != nil {
		return "", err
	}
	return dir, nil
}

func WriteStabilityCSV(dir string, rows []StabilityRow) error {
	file, err := os.Create(filepath.Join(dir, stabilityFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"block", "channel", "modulus", "phase", "gain"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			strconv.Itoa(row.Block),
			strconv.Itoa(row.Channel),
			strconv.FormatFloat(row.Modulus, 'g', -1, 64),
			strconv.FormatFloat(row.Phase, 'g', -1, 64),
			strconv.FormatFloat(row.Gain, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadStabilityCSV(dir string) ([]StabilityRow, bool, error) {
	file, err := os.Open(filepath.Join(dir, stabilityFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []StabilityRow{}, true, nil
		}
		return nil, false, err
	}

	var rows []StabilityRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) != 5 {
			return nil, false, fmt.Errorf("stability row must have 5 columns, got %d", len(record))
		}
		var row StabilityRow
		if row.Block, err = strconv.Atoi(record[0]); err != nil {
			return nil, false, err
		}
		if row.Channel, err = strconv.Atoi(record[1]); err != nil {
			return nil, false, err
		}
		values := make([]float64, 3)
		for i := range values {
			if values[i], err = strconv.ParseFloat(record[2+i], 64); err != nil {
				return nil, false, err
			}
		}
		row.Modulus, row.Phase, row.Gain = values[0], values[1], values[2]
		rows = append(rows, row)
	}
	return rows, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
