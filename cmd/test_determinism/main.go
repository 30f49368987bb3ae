package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"

	"essentia-analysis-api/analysis"
	"essentia-analysis-api/config"
	"essentia-analysis-api/extractor"
	"essentia-analysis-api/models"
)

// Test if the analysis pipeline is deterministic
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run main.go <path-to-audio-file>")
	}

	testFile := os.Args[1]
	log.Printf("Testing determinism with: %s\n", testFile)

	cfg, err := config.Load(config.NewViper(), "")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ex, err := extractor.New(cfg.Extractor, os.TempDir())
	if err != nil {
		log.Fatalf("Failed to build extractor: %v", err)
	}
	orchestrator := analysis.New(cfg, ex)

	// Analyse the same file 5 times
	const numRuns = 5
	var results []*models.AnalysisResponse

	for i := 0; i < numRuns; i++ {
		resp, err := orchestrator.AnalyzeFile(context.Background(), testFile)
		if err != nil {
			log.Fatalf("Run %d failed: %v", i+1, err)
		}
		results = append(results, resp)
		log.Printf("Run %d: bpm=%.6f key=%s %s strength=%.6f style=%s (%.3f)",
			i+1, resp.Tempo.BPM, resp.Tonal.Key, resp.Tonal.Scale, resp.Tonal.KeyStrength,
			resp.EthnicGroup.Primary, resp.EthnicGroup.Confidence)
	}

	fmt.Println("\n=== Determinism Check ===")
	allIdentical := true
	maxDiff := 0.0

	base := results[0]
	for i := 1; i < numRuns; i++ {
		run := results[i]

		diffs := []struct {
			name string
			a, b float64
		}{
			{"bpm", base.Tempo.BPM, run.Tempo.BPM},
			{"key_strength", base.Tonal.KeyStrength, run.Tonal.KeyStrength},
			{"confidence", base.EthnicGroup.Confidence, run.EthnicGroup.Confidence},
		}
		for j := 0; j < len(base.Tonal.HPCPFeatures) && j < len(run.Tonal.HPCPFeatures); j++ {
			diffs = append(diffs, struct {
				name string
				a, b float64
			}{fmt.Sprintf("hpcp[%d]", j), base.Tonal.HPCPFeatures[j], run.Tonal.HPCPFeatures[j]})
		}

		for _, d := range diffs {
			diff := math.Abs(d.a - d.b)
			maxDiff = math.Max(maxDiff, diff)
			if diff > 1e-12 { // Allow tiny floating point errors
				allIdentical = false
				fmt.Printf("❌ %s differs between run 1 and run %d: %.15f vs %.15f (diff: %e)\n",
					d.name, i+1, d.a, d.b, diff)
			}
		}

		if base.Tonal.Key != run.Tonal.Key || base.Tonal.Scale != run.Tonal.Scale {
			allIdentical = false
			fmt.Printf("❌ key differs between run 1 and run %d: %s %s vs %s %s\n",
				i+1, base.Tonal.Key, base.Tonal.Scale, run.Tonal.Key, run.Tonal.Scale)
		}
		if fmt.Sprint(base.Instruments) != fmt.Sprint(run.Instruments) {
			allIdentical = false
			fmt.Printf("❌ instruments differ between run 1 and run %d: %v vs %v\n", i+1, base.Instruments, run.Instruments)
		}
		if base.EthnicGroup.Primary != run.EthnicGroup.Primary {
			allIdentical = false
			fmt.Printf("❌ style differs between run 1 and run %d: %s vs %s\n", i+1, base.EthnicGroup.Primary, run.EthnicGroup.Primary)
		}
	}

	if allIdentical {
		fmt.Println("✅ All runs produced IDENTICAL results (deterministic)")
		fmt.Printf("   Max difference: %e\n", maxDiff)
	} else {
		fmt.Printf("❌ Analysis is NON-DETERMINISTIC (max diff: %e)\n", maxDiff)
	}
}
