// Package audio provides sox-based audio conversion and voice activity
// detection for the voicebot. The telephony layer plays 8 kHz mono WAV;
// the TTS provider produces MP3; Whisper wants 16 kHz.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"outreach_backend/platform/logger"
)

var rmsAmplitudeRe = regexp.MustCompile(`RMS\s+amplitude:\s+([\d.]+)`)

// Converter shells out to sox for format conversion and signal statistics.
type Converter struct {
	soundsDir    string
	recordingDir string
	log          *logger.Logger
}

// NewConverter creates a Converter writing playable sounds under soundsDir.
func NewConverter(soundsDir, recordingDir string, log *logger.Logger) *Converter {
	return &Converter{
		soundsDir:    soundsDir,
		recordingDir: recordingDir,
		log:          log,
	}
}

// Check verifies sox is installed and the audio directories exist.
func (c *Converter) Check(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "sox", "--version").Run(); err != nil {
		return fmt.Errorf("sox not available: %w", err)
	}

	for _, dir := range []string{c.soundsDir, c.recordingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audio dir %s: %w", dir, err)
		}
	}

	return nil
}

// ForPlayback converts a synthesized file into an 8 kHz mono WAV in the
// telephony sounds directory and returns the sound reference (path without
// extension, relative to the sounds root) the telephony layer plays.
func (c *Converter) ForPlayback(ctx context.Context, srcPath, name string) (string, error) {
	wavPath := filepath.Join(c.soundsDir, name+".wav")

	cmd := exec.CommandContext(ctx, "sox", srcPath, "-r", "8000", "-c", "1", "-b", "16", wavPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("sox playback conversion: %w: %s", err, out)
	}

	return "custom/" + name, nil
}

// ForWhisper converts a telephony recording to 16 kHz mono for transcription.
func (c *Converter) ForWhisper(ctx context.Context, srcPath string) (string, error) {
	outPath := srcPath[:len(srcPath)-len(filepath.Ext(srcPath))] + "_whisper.wav"

	cmd := exec.CommandContext(ctx, "sox", srcPath, "-r", "16000", "-c", "1", "-b", "16", outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("sox whisper conversion: %w: %s", err, out)
	}

	return outPath, nil
}

// HasVoice reports whether the recording contains voice activity, based on
// the RMS amplitude reported by sox. On stat failure it assumes voice is
// present so a borderline recording still reaches transcription.
func (c *Converter) HasVoice(ctx context.Context, audioPath string, threshold float64) bool {
	cmd := exec.CommandContext(ctx, "sox", audioPath, "-n", "stat")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return true
	}

	match := rmsAmplitudeRe.FindSubmatch(out)
	if match == nil {
		return true
	}

	rms, err := strconv.ParseFloat(string(match[1]), 64)
	if err != nil {
		return true
	}

	return rms > threshold
}

// Cleanup removes recordings and synthesized sounds older than maxAge.
func (c *Converter) Cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	for _, dir := range []string{c.recordingDir, c.soundsDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil || info.IsDir() {
				continue
			}
			if info.ModTime().Before(cutoff) {
				_ = os.Remove(filepath.Join(dir, entry.Name()))
			}
		}
	}
}
