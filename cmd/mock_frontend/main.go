package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"essentia-analysis-api/analysis"
	"essentia-analysis-api/config"
	"essentia-analysis-api/models"
	"essentia-analysis-api/utils"
)

func main() {
	dir := flag.String("dir", utils.GetEnv("ESSENTIA_SAMPLES_DIR", "samples"), "Directory containing audio files to upload (ignored if -file is set)")
	file := flag.String("file", "", "Single audio file to upload (overrides -dir)")
	endpoint := flag.String("url", utils.GetEnv("ESSENTIA_API_URL", "http://localhost:5000/analyze"), "Analysis endpoint")
	delay := flag.Duration("delay", 2*time.Second, "Delay between uploads when using -dir")
	timeout := flag.Duration("timeout", 3*time.Minute, "Per-upload timeout")
	flag.Parse()

	files, err := resolveFiles(*file, *dir)
	if err != nil {
		log.Fatalf("failed to resolve files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no audio files found (file=%s dir=%s)", *file, *dir)
	}

	client := &http.Client{Timeout: *timeout}

	fmt.Printf("Uploading %d file(s) to %s\n\n", len(files), *endpoint)
	for idx, path := range files {
		if err := uploadFile(client, path, *endpoint); err != nil {
			log.Printf("upload failed for %s: %v\n", path, err)
		}

		if idx < len(files)-1 && *delay > 0 {
			time.Sleep(*delay)
		}
	}
}

func resolveFiles(single, dir string) ([]string, error) {
	if single != "" {
		return []string{single}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !config.IsAllowedExtension(analysis.Extension(entry.Name())) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

func uploadFile(client *http.Client, path, endpoint string) error {
	fmt.Printf("→ %s\n", filepath.Base(path))

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer src.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post analysis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Code != "" {
			return fmt.Errorf("server returned %d %s: %s", resp.StatusCode, apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
	}

	var result models.AnalysisResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode analysis response: %w", err)
	}

	fmt.Printf("   tempo=%.1f BPM key=%s %s (%.2f) hpcp=%d bins\n",
		result.Tempo.BPM, result.Tonal.Key, result.Tonal.Scale, result.Tonal.KeyStrength, len(result.Tonal.HPCPFeatures))
	fmt.Printf("   instruments=%v\n", result.Instruments)
	fmt.Printf("   style=%s (%.0f%%) latency=%s\n",
		result.EthnicGroup.Primary, result.EthnicGroup.Confidence*100, time.Since(started).Round(time.Millisecond))

	return nil
}
