package bench

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Reporter writes evaluation results to disk in several formats.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter.
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport generates all report formats.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateJSONReport(); err != nil {
		return err
	}
	if err := r.generateClassCSV(); err != nil {
		return err
	}

	log.Info().Str("path", r.outputPath).Msg("reports written")
	return nil
}

// generateSummary generates a human-readable summary.
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "eval_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "EVALUATION RESULTS SUMMARY\n")
	fmt.Fprintf(file, "==========================\n\n")

	fmt.Fprintf(file, "Time Period: %s to %s\n",
		r.results.StartTime.Format("2006-01-02 15:04:05"),
		r.results.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Iterations: %d\n", r.results.Iterations)
	fmt.Fprintf(file, "Samples per pass: %d\n", r.results.SamplesPerPass)
	fmt.Fprintf(file, "Total samples: %d\n", r.results.TotalSamples)
	fmt.Fprintf(file, "Correct: %d\n", r.results.Correct)
	fmt.Fprintf(file, "Accuracy: %.2f%%\n", r.results.Accuracy*100)
	fmt.Fprintf(file, "Duration: %v\n\n", r.results.Duration)

	fmt.Fprintf(file, "Benchmark line: %s\n", r.results.BenchmarkLine())

	return nil
}

// generateJSONReport writes the full results structure as JSON.
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "eval_results.json")
	file, err := os.Create(jsonPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON report: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(r.results)
}

// generateClassCSV writes per-class accuracy as CSV.
func (r *Reporter) generateClassCSV() error {
	csvPath := filepath.Join(r.outputPath, "per_class.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create per-class CSV: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"class", "samples", "correct", "accuracy"}); err != nil {
		return err
	}
	for class, stats := range r.results.PerClass {
		accuracy := 0.0
		if stats.Samples > 0 {
			accuracy = float64(stats.Correct) / float64(stats.Samples)
		}
		row := []string{
			strconv.Itoa(class),
			strconv.Itoa(stats.Samples),
			strconv.Itoa(stats.Correct),
			fmt.Sprintf("%.4f", accuracy),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}
