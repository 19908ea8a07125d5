package voice

import (
	"context"
	"os"
	"path/filepath"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/audio"
)

// Media implements SpeechToText, TextToSpeech and VoiceDetector by
// combining the speech provider with sox format conversion.
type Media struct {
	ai   *ai.Client
	conv *audio.Converter
	tmp  string
}

// NewMedia creates the media pipeline. Synthesized raw audio is staged
// under tmpDir before conversion into the telephony sounds directory.
func NewMedia(client *ai.Client, conv *audio.Converter, tmpDir string) *Media {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Media{ai: client, conv: conv, tmp: tmpDir}
}

// Transcribe converts a telephony recording to the transcription sample
// rate and sends it to the speech provider.
func (m *Media) Transcribe(ctx context.Context, recordingPath string) (string, error) {
	wavPath, err := m.conv.ForWhisper(ctx, recordingPath)
	if err != nil {
		return "", err
	}
	defer os.Remove(wavPath)

	return m.ai.Transcribe(ctx, wavPath)
}

// Render synthesizes text and converts it into a playable sound,
// returning the sound reference.
func (m *Media) Render(ctx context.Context, text, name string) (string, error) {
	rawPath := filepath.Join(m.tmp, name+".mp3")
	if err := m.ai.Synthesize(ctx, text, rawPath); err != nil {
		return "", err
	}
	defer os.Remove(rawPath)

	return m.conv.ForPlayback(ctx, rawPath, name)
}

// HasVoice reports whether a recording contains voice activity.
func (m *Media) HasVoice(ctx context.Context, audioPath string, threshold float64) bool {
	return m.conv.HasVoice(ctx, audioPath, threshold)
}

var (
	_ SpeechToText  = (*Media)(nil)
	_ TextToSpeech  = (*Media)(nil)
	_ VoiceDetector = (*Media)(nil)
)
