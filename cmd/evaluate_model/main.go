package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"essentia-analysis-api/analysis"
	"essentia-analysis-api/classifier"
	"essentia-analysis-api/config"
	"essentia-analysis-api/extractor"
	"essentia-analysis-api/utils"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	DataDir    string
	ConfigFile string
	ReportPath string
	Verbose    bool
}

// ClassMetrics tracks per-label performance of the style heuristic
type ClassMetrics struct {
	Label         string
	TotalSamples  int
	CorrectCount  int
	Accuracy      float64
	AvgConfidence float64
	ConfidenceStd float64
	Failed        int
	Misclassified []MisclassificationInfo
}

// MisclassificationInfo stores details of incorrect predictions
type MisclassificationInfo struct {
	Filename       string
	TrueLabel      string
	PredictedLabel string
	Confidence     float64
	Instruments    []string
}

// EvaluationReport contains comprehensive evaluation results
type EvaluationReport struct {
	Timestamp       time.Time
	DataDir         string
	Extractor       string
	TotalSamples    int
	CorrectCount    int
	OverallAccuracy float64
	AvgConfidence   float64
	ClassMetrics    []ClassMetrics
	ConfusionMatrix map[string]map[string]int
	ProcessingTime  time.Duration
}

// Evaluates the cultural style heuristic against a folder-per-label corpus.
// Folder names are raw labels such as Indian or Classical_Western.
func main() {
	evalCfg := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Style Heuristic Evaluation ===")
	log.Printf("Data: %s\n", evalCfg.DataDir)

	cfg, err := config.Load(config.NewViper(), evalCfg.ConfigFile)
	if err != nil {
		log.Fatalf("ERROR: Failed to load config: %v", err)
	}
	log.Printf("Extractor: %s\n", cfg.Extractor.Mode)
	log.Println()

	ex, err := extractor.New(cfg.Extractor, os.TempDir())
	if err != nil {
		log.Fatalf("ERROR: Failed to build extractor: %v", err)
	}
	orchestrator := analysis.New(cfg, ex)

	subdirs, err := discoverSubdirectories(evalCfg.DataDir)
	if err != nil {
		log.Fatalf("ERROR: Failed to read evaluation directory: %v", err)
	}
	log.Printf("Found %d labels to evaluate\n", len(subdirs))
	log.Println()

	report := evaluate(orchestrator, subdirs, evalCfg)
	report.Extractor = cfg.Extractor.Mode

	printEvaluationReport(report)

	if evalCfg.ReportPath != "" {
		if err := saveReport(report, evalCfg.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("\nReport saved to: %s\n", evalCfg.ReportPath)
		}
	}
}

func parseFlags() EvaluationConfig {
	evalCfg := EvaluationConfig{}

	flag.StringVar(&evalCfg.DataDir, "data-dir", utils.GetEnv("ESSENTIA_EVAL_DIR", "eval_data"),
		"Directory with one sub-directory of audio files per expected label")
	flag.StringVar(&evalCfg.ConfigFile, "config", "",
		"Optional service config file")
	flag.StringVar(&evalCfg.ReportPath, "report", "evaluation_report.json",
		"Path to save evaluation report (empty to skip)")
	flag.BoolVar(&evalCfg.Verbose, "verbose", false,
		"Print every prediction")

	flag.Parse()

	return evalCfg
}

func discoverSubdirectories(rootDir string) ([]string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}

	var subdirs []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		subdirs = append(subdirs, filepath.Join(rootDir, entry.Name()))
	}
	sort.Strings(subdirs)
	return subdirs, nil
}

func evaluate(orchestrator *analysis.Orchestrator, subdirs []string, evalCfg EvaluationConfig) EvaluationReport {
	started := time.Now()
	report := EvaluationReport{
		Timestamp:       started,
		DataDir:         evalCfg.DataDir,
		ConfusionMatrix: make(map[string]map[string]int),
	}

	var confidences []float64
	for _, dir := range subdirs {
		label := filepath.Base(dir)
		metrics, classConfidences := evaluateLabel(orchestrator, dir, label, report.ConfusionMatrix, evalCfg.Verbose)
		report.ClassMetrics = append(report.ClassMetrics, metrics)
		report.TotalSamples += metrics.TotalSamples
		report.CorrectCount += metrics.CorrectCount
		confidences = append(confidences, classConfidences...)
	}

	if report.TotalSamples > 0 {
		report.OverallAccuracy = float64(report.CorrectCount) / float64(report.TotalSamples)
	}
	if len(confidences) > 0 {
		report.AvgConfidence = stat.Mean(confidences, nil)
	}
	report.ProcessingTime = time.Since(started)
	return report
}

func evaluateLabel(orchestrator *analysis.Orchestrator, dir, trueLabel string,
	confusion map[string]map[string]int, verbose bool) (ClassMetrics, []float64) {
	metrics := ClassMetrics{Label: trueLabel}

	files, err := collectAudioFiles(dir)
	if err != nil {
		log.Printf("WARNING: Failed to list %s: %v\n", dir, err)
		return metrics, nil
	}

	if confusion[trueLabel] == nil {
		confusion[trueLabel] = make(map[string]int)
	}

	var confidences []float64
	for _, path := range files {
		resp, err := orchestrator.AnalyzeFile(context.Background(), path)
		if err != nil {
			metrics.Failed++
			log.Printf("   ❌ %s: %v\n", filepath.Base(path), err)
			continue
		}

		metrics.TotalSamples++
		// AllScores keys keep underscores; map the display label back for comparison
		predicted := rawLabel(resp.EthnicGroup.Primary)
		confusion[trueLabel][predicted]++
		confidences = append(confidences, resp.EthnicGroup.Confidence)

		if predicted == trueLabel {
			metrics.CorrectCount++
		} else {
			metrics.Misclassified = append(metrics.Misclassified, MisclassificationInfo{
				Filename:       filepath.Base(path),
				TrueLabel:      trueLabel,
				PredictedLabel: predicted,
				Confidence:     resp.EthnicGroup.Confidence,
				Instruments:    resp.Instruments,
			})
		}

		if verbose {
			log.Printf("   %s -> %s (%.2f)\n", filepath.Base(path), predicted, resp.EthnicGroup.Confidence)
		}
	}

	if metrics.TotalSamples > 0 {
		metrics.Accuracy = float64(metrics.CorrectCount) / float64(metrics.TotalSamples)
	}
	if len(confidences) > 0 {
		metrics.AvgConfidence, metrics.ConfidenceStd = stat.PopMeanStdDev(confidences, nil)
	}
	return metrics, confidences
}

func rawLabel(display string) string {
	if display == classifier.Unclassified {
		return display
	}
	return strings.ReplaceAll(display, " ", "_")
}

func collectAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if config.IsAllowedExtension(analysis.Extension(entry.Name())) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func printEvaluationReport(report EvaluationReport) {
	fmt.Println()
	fmt.Println("=== Evaluation Results ===")
	fmt.Printf("Samples:          %d\n", report.TotalSamples)
	fmt.Printf("Correct:          %d\n", report.CorrectCount)
	fmt.Printf("Overall accuracy: %.1f%%\n", report.OverallAccuracy*100)
	fmt.Printf("Avg confidence:   %.2f\n", report.AvgConfidence)
	fmt.Printf("Processing time:  %s\n", report.ProcessingTime.Round(time.Millisecond))
	fmt.Println()

	fmt.Println("Per-label metrics:")
	fmt.Printf("  %-20s %8s %8s %10s %10s %7s\n", "Label", "Samples", "Correct", "Accuracy", "Conf(μ±σ)", "Failed")
	for _, m := range report.ClassMetrics {
		fmt.Printf("  %-20s %8d %8d %9.1f%% %5.2f±%.2f %7d\n",
			truncate(m.Label, 20), m.TotalSamples, m.CorrectCount, m.Accuracy*100, m.AvgConfidence, m.ConfidenceStd, m.Failed)
	}
	fmt.Println()

	printConfusionMatrix(report.ConfusionMatrix)
	printMisclassifications(report.ClassMetrics)
}

func printConfusionMatrix(matrix map[string]map[string]int) {
	labelSet := make(map[string]struct{})
	for trueLabel, row := range matrix {
		labelSet[trueLabel] = struct{}{}
		for predicted := range row {
			labelSet[predicted] = struct{}{}
		}
	}
	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	fmt.Println("Confusion matrix (rows = expected, cols = predicted):")
	fmt.Printf("  %-12s", "")
	for _, label := range labels {
		fmt.Printf(" %12s", truncate(label, 12))
	}
	fmt.Println()
	for _, trueLabel := range labels {
		row, ok := matrix[trueLabel]
		if !ok {
			continue
		}
		fmt.Printf("  %-12s", truncate(trueLabel, 12))
		for _, predicted := range labels {
			fmt.Printf(" %12d", row[predicted])
		}
		fmt.Println()
	}
	fmt.Println()
}

func printMisclassifications(metrics []ClassMetrics) {
	var total int
	for _, m := range metrics {
		total += len(m.Misclassified)
	}
	if total == 0 {
		fmt.Println("✅ No misclassifications")
		return
	}

	fmt.Printf("⚠️  %d misclassification(s):\n", total)
	for _, m := range metrics {
		for _, mis := range m.Misclassified {
			fmt.Printf("  %s: expected %s, got %s (%.2f) instruments=[%s]\n",
				mis.Filename, mis.TrueLabel, mis.PredictedLabel, mis.Confidence, strings.Join(mis.Instruments, ", "))
		}
	}
}

func saveReport(report EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
