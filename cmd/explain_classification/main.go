package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"essentia-analysis-api/analysis"
	"essentia-analysis-api/classifier"
	"essentia-analysis-api/config"
	"essentia-analysis-api/extractor"
)

// Explain WHY a file gets the instruments and cultural style it gets
func main() {
	extraInstruments := flag.String("instruments", "", "comma-separated labels added to the detected instruments (e.g. \"sitar,tabla\")")
	hpcpSize := flag.Int("hpcp", 0, "HPCP bin count (default from config)")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Usage: go run main.go [-instruments sitar,oud] [-hpcp 36] <audio-file>")
	}

	testFile := flag.Arg(0)
	fmt.Printf("=== Explaining Classification for: %s ===\n\n", filepath.Base(testFile))

	v := config.NewViper()
	cfg, err := config.Load(v, "")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *hpcpSize > 0 {
		cfg.Extractor.HPCPSize = *hpcpSize
	}

	ex, err := extractor.New(cfg.Extractor, os.TempDir())
	if err != nil {
		log.Fatalf("Failed to build extractor: %v", err)
	}

	raw, err := ex.Extract(context.Background(), testFile)
	if err != nil {
		log.Fatalf("Feature extraction error: %v", err)
	}
	features := analysis.Features(raw)

	fmt.Printf("🔍 Extracted Features (%s extractor):\n", cfg.Extractor.Mode)
	if raw.Duration > 0 {
		fmt.Printf("   Duration:      %.2fs @ %d Hz\n", raw.Duration, raw.SampleRate)
	}
	fmt.Printf("   Tempo:         %.1f BPM (raw rhythm: %v)\n", features.BPM, raw.Rhythm)
	fmt.Printf("   Key:           %s %s (strength %.2f)\n", features.Key, features.Scale, features.KeyStrength)
	fmt.Printf("   HPCP bins:     %d\n", len(features.HPCP))
	fmt.Printf("   Centroid frames: %d\n", len(raw.Centroids))
	fmt.Println()

	instrumentClassifier := classifier.NewInstrumentClassifier()
	instruments := instrumentClassifier.Classify(raw.Centroids)

	fmt.Printf("🎻 Instrument Decision:\n")
	stats, err := instrumentClassifier.Describe(raw.Centroids)
	if err != nil {
		fmt.Printf("   ❌ Centroid series rejected: %v\n", err)
	} else if stats.Frames == 0 {
		fmt.Printf("   (no centroid frames, no instruments)\n")
	} else {
		fmt.Printf("   Mean centroid (μ):   %.1f Hz\n", stats.Mean)
		fmt.Printf("   Spread (σ):          %.1f Hz", stats.StdDev)
		if stats.StdDev > 1500 {
			fmt.Printf("  ✅ > 1500 Hz, Ensemble\n")
		} else {
			fmt.Printf("  (≤ 1500 Hz, no Ensemble)\n")
		}
		fmt.Printf("   Brightness band:     %s\n", stats.Band)
	}
	fmt.Printf("   Labels: %s\n", formatList(instruments))

	if *extraInstruments != "" {
		for _, label := range strings.Split(*extraInstruments, ",") {
			if label = strings.TrimSpace(label); label != "" {
				instruments = append(instruments, label)
			}
		}
		fmt.Printf("   With extra labels: %s\n", formatList(instruments))
	}
	fmt.Println()

	ethnicClassifier := classifier.NewEthnicGroupClassifier()
	evidence := ethnicClassifier.Explain(instruments, features.HPCP, features.Key, features.Scale, features.BPM)

	fmt.Printf("🧮 Style Evidence (in scoring order):\n")
	if len(evidence) == 0 {
		fmt.Printf("   (no rule fired)\n")
	}
	for i, ev := range evidence {
		fmt.Printf("   %d. %-10s +%.1f %-18s %s\n", i+1, ev.Source, ev.Weight, ev.Label, ev.Reason)
	}
	fmt.Println()

	result := ethnicClassifier.Classify(instruments, features.HPCP, features.Key, features.Scale, features.BPM)

	fmt.Printf("🎯 Result:\n")
	emoji := "❌"
	if result.Confidence >= 0.9 {
		emoji = "✅"
	} else if result.Confidence >= 0.3 {
		emoji = "⚠️"
	}
	fmt.Printf("   %s %s (confidence %.0f%%)\n", emoji, result.Primary, result.Confidence*100)
	for label, score := range result.AllScores {
		fmt.Printf("      - %-18s %.2f\n", label, score)
	}

	fmt.Println()
	fmt.Printf("💡 Why?\n")
	switch {
	case result.Primary == classifier.Unclassified:
		fmt.Printf("   No rule fired: no instrument keyword, ≤ 24 HPCP bins, tempo outside every band, not minor.\n")
	case result.Confidence < 0.3:
		fmt.Printf("   Only weak evidence (tempo or mode). Instrument keywords carry +0.7 to +0.9,\n")
		fmt.Printf("   but centroid statistics alone only yield family labels that match no keyword.\n")
	default:
		fmt.Printf("   '%s' collected the most evidence; confidence is its score capped at 1.0.\n", result.Primary)
	}
}

func formatList(labels []string) string {
	if len(labels) == 0 {
		return "(none)"
	}
	return strings.Join(labels, ", ")
}
