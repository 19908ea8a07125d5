// Package ai provides the OpenAI-backed language, speech-to-text and
// text-to-speech providers used by the chat bot and the voicebot.
package ai

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
)

// ChatMessage is a single turn of LLM context, shared by the chat bot,
// the voicebot turn loop and the classifiers.
type ChatMessage struct {
	Role    string
	Content string
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Known Whisper hallucinations on silent or noisy telephone audio. A
// transcription containing any of these is treated as empty.
var whisperHallucinations = []string{
	"suscribete", "gracias por ver", "nos vemos", "♪", "[musica]",
	"like", "subscribe", "thanks for watching", "see you next time",
}

// Client wraps the OpenAI API for completions, transcription and synthesis.
type Client struct {
	api *openai.Client
	cfg config.OpenAIConfig
	log *logger.Logger
}

// NewClient creates a new OpenAI client.
func NewClient(cfg config.OpenAIConfig, log *logger.Logger) *Client {
	return &Client{
		api: openai.NewClient(cfg.GetOpenAIKey()),
		cfg: cfg,
		log: log,
	}
}

// Complete generates a chat completion with the fast model. History is sent
// as-is; callers are responsible for truncating it to their context window.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []ChatMessage, maxTokens int) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            c.cfg.GetGPTModelFast(),
		Messages:         messages,
		Temperature:      c.cfg.GetGPTTemperature(),
		MaxTokens:        maxTokens,
		PresencePenalty:  0.5,
		FrequencyPenalty: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}

	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON generates a completion with the analysis model in JSON mode.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.GetGPTModel(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("json completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("json completion: empty response")
	}

	return resp.Choices[0].Message.Content, nil
}

// Transcribe runs Whisper on a recorded audio file. Known hallucinations
// are filtered to an empty transcription so the turn loop re-prompts
// instead of replying to YouTube outro noise.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Language: c.cfg.GetWhisperLanguage(),
		Prompt:   "Llamada telefonica de ventas inmobiliarias. Cliente responde con: si, no, me interesa, manana, el lunes, a las diez, cuanto cuesta.",
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if IsHallucination(text) {
		return "", nil
	}

	return text, nil
}

// IsHallucination reports whether a transcription matches the Whisper
// hallucination blacklist.
func IsHallucination(text string) bool {
	lower := strings.ToLower(text)
	for _, h := range whisperHallucinations {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// Synthesize converts text to speech and writes an MP3 file to outPath.
func (c *Client) Synthesize(ctx context.Context, text, outPath string) error {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.GetTTSModel()),
		Input:          NormalizeForSpeech(text),
		Voice:          openai.SpeechVoice(c.cfg.GetTTSVoice()),
		Speed:          c.cfg.GetTTSSpeed(),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("speech synthesis: %w", err)
	}
	defer resp.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create speech file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp); err != nil {
		return fmt.Errorf("write speech file: %w", err)
	}

	return nil
}
