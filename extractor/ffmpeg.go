package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// CheckFFmpegAvailable reports whether the ffmpeg binary can be executed.
func CheckFFmpegAvailable(ffmpegPath string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): flac, m4a and aac uploads cannot be decoded: %w", ffmpegPath, err)
	}
	return nil
}

// decodeWithFFmpeg converts path into a temporary mono 16-bit WAV at
// TargetSampleRate and decodes that.
func (l *Loader) decodeWithFFmpeg(ctx context.Context, path string) (*Audio, error) {
	tmp, err := os.CreateTemp(l.ScratchDir, "decode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion target: %w", err)
	}
	target := tmp.Name()
	tmp.Close()
	defer os.Remove(target)

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		target,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.FFmpegPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg conversion failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg conversion failed: %w", err)
	}

	return decodeWAVFile(target)
}
