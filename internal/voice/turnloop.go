package voice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
)

var (
	affirmativeRe = regexp.MustCompile(`(?i)\b(si|sí|claro|ok|dale|bueno|dime|adelante)\b`)
	negativeRe    = regexp.MustCompile(`(?i)\b(no|ocupado|despu[eé]s|luego|no puedo|no gracias)\b`)
	farewellRe    = regexp.MustCompile(`(?i)gracias por tu tiempo|que tengas (buen|excelente) d[ií]a|hasta luego|adi[oó]s`)
)

const replyMaxTokens = 150

// TurnLoop runs the spoken conversation of one answered call.
type TurnLoop struct {
	tel       Telephony
	stt       SpeechToText
	tts       TextToSpeech
	vad       VoiceDetector
	completer Completer
	responses *ResponseSet
	store     CallStore
	log       *logger.Logger

	maxTurns     int
	maxDuration  time.Duration
	recordSecs   int
	maxSilence   float64
	vadThreshold float64
}

// NewTurnLoop creates the call turn loop.
func NewTurnLoop(tel Telephony, stt SpeechToText, tts TextToSpeech, vad VoiceDetector, completer Completer, responses *ResponseSet, store CallStore, cfg config.VoicebotConfig, log *logger.Logger) *TurnLoop {
	return &TurnLoop{
		tel:          tel,
		stt:          stt,
		tts:          tts,
		vad:          vad,
		completer:    completer,
		responses:    responses,
		store:        store,
		log:          log,
		maxTurns:     cfg.GetMaxTurns(),
		maxDuration:  cfg.GetMaxCallDuration(),
		recordSecs:   cfg.GetRecordSeconds(),
		maxSilence:   cfg.GetRecordMaxSilence(),
		vadThreshold: 0.01,
	}
}

type pitchResult struct {
	sound string
	text  string
	err   error
}

// Run speaks with the customer until the turn budget, the call duration
// or a closing phrase ends the conversation. It returns the accumulated
// transcript regardless of how the loop exits.
func (t *TurnLoop) Run(ctx context.Context, bridgeID string, contact *repository.Contact, callID uuid.UUID) ([]ai.ChatMessage, error) {
	log := t.log.WithCall(callID.String())
	start := time.Now()
	var history []ai.ChatMessage

	// Pitch synthesis runs alongside the greeting so a positive first
	// answer can be met with cached audio instead of a live round trip.
	pitchCh := make(chan pitchResult, 1)
	go func() {
		text := BuildPitch(contact)
		sound, err := t.tts.Render(ctx, text, fmt.Sprintf("pitch_%s", callID))
		pitchCh <- pitchResult{sound: sound, text: text, err: err}
	}()

	greeting := BuildGreeting(contact)
	if err := t.speak(ctx, bridgeID, greeting, fmt.Sprintf("tts_%s_greeting", callID)); err != nil {
		return history, err
	}
	history = t.appendTurn(ctx, history, callID, 0, "bot", greeting)

	// The pitch synthesized while the greeting played; collect it before
	// the first customer turn.
	var pitch *pitchResult
	select {
	case result := <-pitchCh:
		if result.err != nil {
			log.ProviderError("openai", "pitch synthesis", result.err)
		} else {
			pitch = &result
		}
	case <-ctx.Done():
		return history, ctx.Err()
	}

	firstResponse := true

	turn := 1
	for turn < t.maxTurns {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		if time.Since(start) > t.maxDuration {
			log.Info("call duration limit reached")
			break
		}

		recording, err := t.tel.Record(ctx, bridgeID, fmt.Sprintf("client_%s_%d", callID, turn), t.recordSecs, t.maxSilence)
		if err != nil {
			return history, fmt.Errorf("record segment: %w", err)
		}

		if !t.vad.HasVoice(ctx, recording, t.vadThreshold) {
			if err := t.playRepeat(ctx, bridgeID); err != nil {
				return history, err
			}
			continue
		}

		text, err := t.stt.Transcribe(ctx, recording)
		if err != nil {
			log.ProviderError("openai", "transcribe", err)
			if err := t.playRepeat(ctx, bridgeID); err != nil {
				return history, err
			}
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" || ai.IsHallucination(text) {
			if err := t.playRepeat(ctx, bridgeID); err != nil {
				return history, err
			}
			continue
		}

		history = t.appendTurn(ctx, history, callID, turn, "client", text)

		if firstResponse {
			firstResponse = false
			if pitch != nil {
				if negativeRe.MatchString(text) {
					if err := t.playCommon(ctx, bridgeID, keyDeclineFarewell); err != nil {
						return history, err
					}
					history = t.appendTurn(ctx, history, callID, turn, "bot", t.responses.Text(keyDeclineFarewell))
					break
				}
				if affirmativeRe.MatchString(text) {
					if err := t.tel.Play(ctx, bridgeID, pitch.sound); err != nil {
						return history, fmt.Errorf("play pitch: %w", err)
					}
					history = t.appendTurn(ctx, history, callID, turn, "bot", pitch.text)
					turn++
					continue
				}
			}
		}

		if key := t.responses.Match(text); key != "" && t.responses.Has(key) {
			if err := t.playCommon(ctx, bridgeID, key); err != nil {
				return history, err
			}
			history = t.appendTurn(ctx, history, callID, turn, "bot", t.responses.Text(key))
			if t.responses.Terminal(key) {
				break
			}
			turn++
			continue
		}

		reply, err := t.completer.Complete(ctx, CallSystemPrompt(contact), history, replyMaxTokens)
		if err != nil {
			log.ProviderError("openai", "call reply", err)
			if err := t.playRepeat(ctx, bridgeID); err != nil {
				return history, err
			}
			turn++
			continue
		}

		if err := t.speak(ctx, bridgeID, reply, fmt.Sprintf("tts_%s_%d", callID, turn)); err != nil {
			return history, err
		}
		history = t.appendTurn(ctx, history, callID, turn, "bot", reply)
		turn++

		if farewellRe.MatchString(reply) {
			break
		}
	}

	return history, nil
}

// speak synthesizes text and plays it on the bridge.
func (t *TurnLoop) speak(ctx context.Context, bridgeID, text, name string) error {
	sound, err := t.tts.Render(ctx, text, name)
	if err != nil {
		return fmt.Errorf("synthesize %s: %w", name, err)
	}
	if err := t.tel.Play(ctx, bridgeID, sound); err != nil {
		return fmt.Errorf("play %s: %w", name, err)
	}
	return nil
}

func (t *TurnLoop) playRepeat(ctx context.Context, bridgeID string) error {
	return t.playCommon(ctx, bridgeID, keyPleaseRepeat)
}

// playCommon plays a pre-synthesized utterance, falling back to live
// synthesis when the cache entry is missing.
func (t *TurnLoop) playCommon(ctx context.Context, bridgeID, key string) error {
	if sound, ok := t.responses.Sound(key); ok {
		return t.tel.Play(ctx, bridgeID, sound)
	}
	return t.speak(ctx, bridgeID, t.responses.Text(key), fmt.Sprintf("live_%s_%d", key, time.Now().UnixNano()))
}

// appendTurn persists a transcript turn and extends the in-memory history.
func (t *TurnLoop) appendTurn(ctx context.Context, history []ai.ChatMessage, callID uuid.UUID, sequence int, speaker, text string) []ai.ChatMessage {
	if err := t.store.AddTranscriptTurn(ctx, callID, sequence, speaker, text); err != nil {
		t.log.DatabaseError("add transcript turn", err)
	}

	role := ai.RoleAssistant
	if speaker == "client" {
		role = ai.RoleUser
	}
	return append(history, ai.ChatMessage{Role: role, Content: text})
}
