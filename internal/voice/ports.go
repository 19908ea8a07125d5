// Package voice runs outbound call campaigns: a dispatcher enforcing the
// global concurrency cap and a per-call turn loop speaking with the
// customer over the telephony bridge.
package voice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/internal/classifier"
)

// AnsweredCall is emitted by the telephony adapter when an originated
// call is answered and bridged.
type AnsweredCall struct {
	ChannelID string
	BridgeID  string
	// Phone is the dialed number as passed to Originate.
	Phone string
}

// Telephony abstracts the ARI surface the voicebot uses.
type Telephony interface {
	// Originate dials a number through the configured trunk. The eventual
	// AnsweredCall carries the same phone string back.
	Originate(ctx context.Context, phone string) error
	// Answered delivers answered-call events.
	Answered() <-chan AnsweredCall
	// Play plays a sound reference on the call bridge and waits for it
	// to finish.
	Play(ctx context.Context, bridgeID, sound string) error
	// Record captures a bounded audio segment from the bridge and
	// returns the recording path.
	Record(ctx context.Context, bridgeID, name string, maxSeconds int, maxSilence float64) (string, error)
	Hangup(ctx context.Context, channelID string) error
	Connected() bool
}

// SpeechToText transcribes a telephony recording.
type SpeechToText interface {
	Transcribe(ctx context.Context, recordingPath string) (string, error)
}

// TextToSpeech renders text into a playable sound and returns the sound
// reference Play accepts.
type TextToSpeech interface {
	Render(ctx context.Context, text, name string) (string, error)
}

// VoiceDetector reports whether a recording contains voice activity.
type VoiceDetector interface {
	HasVoice(ctx context.Context, audioPath string, threshold float64) bool
}

// Completer generates live call replies.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []ai.ChatMessage, maxTokens int) (string, error)
}

// IntentAnalyzer extracts structured intent from a finished call.
type IntentAnalyzer interface {
	CallIntent(ctx context.Context, turns []ai.ChatMessage) (classifier.Intent, error)
}

// CallStore is the campaign repository surface the dispatcher and turn
// loop need.
type CallStore interface {
	RunningCampaigns(ctx context.Context) ([]repository.Campaign, error)
	SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error
	RefreshCampaignStats(ctx context.Context, id uuid.UUID) error
	ClaimNextPending(ctx context.Context, campaignID uuid.UUID) (*repository.Contact, error)
	SetContactStatus(ctx context.Context, id uuid.UUID, status string) error
	SetContactInterest(ctx context.Context, id uuid.UUID, level string) error
	CreateCall(ctx context.Context, call *repository.Call) error
	SetCallChannel(ctx context.Context, id uuid.UUID, channelID string) error
	EndCall(ctx context.Context, id uuid.UUID, status string, duration time.Duration) error
	AddTranscriptTurn(ctx context.Context, callID uuid.UUID, sequence int, speaker, content string) error
	CreateAppointment(ctx context.Context, a *repository.Appointment) error
}
