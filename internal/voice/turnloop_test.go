package voice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/platform/logger"
)

func stringPtr(s string) *string { return &s }

func testContact() *repository.Contact {
	return &repository.Contact{
		ID:               uuid.New(),
		CampaignID:       uuid.New(),
		Phone:            "+525512345678",
		Name:             "Juan",
		PropertyType:     stringPtr("industrial"),
		PropertyLocation: stringPtr("Querétaro"),
		PropertySize:     stringPtr("5000"),
		PropertyPrice:    stringPtr("12000000"),
	}
}

func newLoop(tel *fakeTel, stt *fakeSTT, completer fakeCompleter, store *memCallStore, maxTurns int) *TurnLoop {
	log := logger.Noop()
	cfg := voicebotCfg{maxCalls: 2, maxTurns: maxTurns, callDuration: 5 * time.Second, answerTimeout: time.Second}
	return NewTurnLoop(tel, stt, fakeTTS{}, fakeVAD{}, completer, NewResponseSet(log), store, cfg, log)
}

func playedContains(tel *fakeTel, fragment string) bool {
	tel.mu.Lock()
	defer tel.mu.Unlock()
	for _, sound := range tel.played {
		if strings.Contains(sound, fragment) {
			return true
		}
	}
	return false
}

func TestFirstResponseAffirmativePlaysCachedPitch(t *testing.T) {
	tel := newFakeTel(false)
	stt := &fakeSTT{replies: []string{"sí, dime", "no gracias"}}
	store := newMemCallStore()
	loop := newLoop(tel, stt, fakeCompleter{reply: "Claro."}, store, 8)
	callID := uuid.New()

	history, err := loop.Run(context.Background(), "br-1", testContact(), callID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !playedContains(tel, "pitch_"+callID.String()) {
		t.Fatalf("cached pitch was not played; played = %v", tel.played)
	}

	var pitchTurn *ai.ChatMessage
	for i := range history {
		if strings.Contains(history[i].Content, "Tenemos terreno industrial") {
			pitchTurn = &history[i]
		}
	}
	if pitchTurn == nil || pitchTurn.Role != ai.RoleAssistant {
		t.Fatalf("pitch text missing from history: %+v", history)
	}
}

func TestFirstResponseNegativeEndsCall(t *testing.T) {
	tel := newFakeTel(false)
	stt := &fakeSTT{replies: []string{"no puedo ahorita"}}
	store := newMemCallStore()
	loop := newLoop(tel, stt, fakeCompleter{reply: "Claro."}, store, 8)
	callID := uuid.New()

	history, err := loop.Run(context.Background(), "br-1", testContact(), callID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := history[len(history)-1]
	if last.Role != ai.RoleAssistant || !strings.Contains(last.Content, "gracias por tu tiempo") {
		t.Fatalf("call did not end with decline farewell: %+v", last)
	}
	// Greeting, one client turn, farewell.
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
}

func TestVoiceActivityRetryDoesNotConsumeTurn(t *testing.T) {
	tel := newFakeTel(false)
	stt := &fakeSTT{replies: []string{"no gracias"}}
	store := newMemCallStore()
	log := logger.Noop()
	cfg := voicebotCfg{maxCalls: 2, maxTurns: 8, callDuration: 5 * time.Second, answerTimeout: time.Second}

	silentFirst := &countingVAD{silentUntil: 2}
	loop := NewTurnLoop(tel, stt, fakeTTS{}, silentFirst, fakeCompleter{reply: "Claro."}, NewResponseSet(log), store, cfg, log)
	callID := uuid.New()

	history, err := loop.Run(context.Background(), "br-1", testContact(), callID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !playedContains(tel, "pedir_repetir") {
		t.Fatalf("silent segments should trigger a repeat prompt; played = %v", tel.played)
	}
	// Silent retries must not appear as turns: greeting, client decline, farewell.
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if tel.recordings != 3 {
		t.Fatalf("recordings = %d, want 3 (two silent retries plus the real one)", tel.recordings)
	}
}

// countingVAD reports silence for the first silentUntil recordings.
type countingVAD struct {
	calls       int
	silentUntil int
}

func (c *countingVAD) HasVoice(context.Context, string, float64) bool {
	c.calls++
	return c.calls > c.silentUntil
}

func TestCommonResponseShortCircuitsGeneration(t *testing.T) {
	tel := newFakeTel(false)
	// Second turn mentions a weekday, which has a precompiled response.
	stt := &fakeSTT{replies: []string{"cuéntame del proyecto", "el martes me queda bien", "no gracias"}}
	store := newMemCallStore()
	completer := fakeCompleter{reply: "Es un desarrollo industrial premium."}
	loop := newLoop(tel, stt, completer, store, 8)

	history, err := loop.Run(context.Background(), "br-1", testContact(), uuid.New())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, msg := range history {
		if strings.Contains(msg.Content, "el martes entonces") {
			found = true
		}
	}
	if !found {
		t.Fatalf("weekday response not used: %+v", history)
	}
}

func TestMaxTurnsBoundaryStillYieldsTranscript(t *testing.T) {
	tel := newFakeTel(false)
	stt := &fakeSTT{replies: []string{"mmm dejame pensarlo bien"}}
	store := newMemCallStore()
	// Reply never contains a farewell, so only the turn budget ends the loop.
	loop := newLoop(tel, stt, fakeCompleter{reply: "Entiendo, es una gran inversión."}, store, 4)
	callID := uuid.New()

	history, err := loop.Run(context.Background(), "br-1", testContact(), callID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Greeting plus three full turns (client + bot each).
	if len(history) != 7 {
		t.Fatalf("history length = %d, want 7", len(history))
	}

	store.mu.Lock()
	turns := len(store.turns[callID])
	store.mu.Unlock()
	if turns != 7 {
		t.Fatalf("persisted transcript turns = %d, want 7", turns)
	}
}

func TestFarewellInGeneratedReplyEndsCall(t *testing.T) {
	tel := newFakeTel(false)
	stt := &fakeSTT{replies: []string{"dejame pensarlo y te marco"}}
	store := newMemCallStore()
	loop := newLoop(tel, stt, fakeCompleter{reply: "Perfecto, gracias por tu tiempo. Hasta luego."}, store, 8)

	history, err := loop.Run(context.Background(), "br-1", testContact(), uuid.New())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Greeting, one client turn, one generated farewell.
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
}

func TestGenerationFailureSpeaksFallbackAndContinues(t *testing.T) {
	tel := newFakeTel(false)
	stt := &fakeSTT{replies: []string{"dejame pensarlo un poco"}}
	store := newMemCallStore()
	loop := newLoop(tel, stt, fakeCompleter{err: errors.New("rate limited")}, store, 3)

	history, err := loop.Run(context.Background(), "br-1", testContact(), uuid.New())
	if err != nil {
		t.Fatalf("generation failure must not end the call: %v", err)
	}

	if !playedContains(tel, "pedir_repetir") {
		t.Fatalf("fallback prompt not played; played = %v", tel.played)
	}
	if len(history) < 2 {
		t.Fatalf("client turns should still be recorded: %+v", history)
	}
}

func TestCancelledCallReturnsPartialTranscript(t *testing.T) {
	tel := newFakeTel(false)
	stt := &fakeSTT{replies: []string{"dejame pensarlo un poco"}}
	store := newMemCallStore()
	loop := newLoop(tel, stt, fakeCompleter{reply: "Entiendo."}, store, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	history, err := loop.Run(ctx, "br-1", testContact(), uuid.New())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// The greeting already went out before cancellation was observed.
	if len(history) == 0 {
		t.Fatalf("partial transcript should be returned")
	}
}
