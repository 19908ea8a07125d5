package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/classifier"
	"outreach_backend/internal/conversation/repository"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"
)

type memStore struct {
	records  map[string]*repository.Record
	modes    map[string]string
	messages []repository.Message
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]*repository.Record),
		modes:   make(map[string]string),
	}
}

func (m *memStore) GetRecord(_ context.Context, customerID string) (*repository.Record, error) {
	rec, ok := m.records[customerID]
	if !ok {
		return nil, apperr.NotFound("conversation record not found")
	}
	copied := *rec
	return &copied, nil
}

func (m *memStore) CreateRecord(_ context.Context, customerID string) (*repository.Record, error) {
	if _, ok := m.records[customerID]; !ok {
		m.records[customerID] = &repository.Record{CustomerID: customerID, DataStage: repository.StageNone}
	}
	copied := *m.records[customerID]
	return &copied, nil
}

func (m *memStore) UpdateStage(_ context.Context, customerID, stage string) error {
	m.records[customerID].DataStage = stage
	return nil
}

func (m *memStore) SetName(_ context.Context, customerID, name string) error {
	m.records[customerID].Name = &name
	m.records[customerID].DataStage = repository.StageNameCollected
	return nil
}

func (m *memStore) SetEmail(_ context.Context, customerID, email string) error {
	m.records[customerID].Email = &email
	return nil
}

func (m *memStore) SetPendingSupport(_ context.Context, customerID string, pending bool) error {
	m.records[customerID].PendingSupportActivation = pending
	return nil
}

func (m *memStore) TouchSession(_ context.Context, customerID, channelID string) (*repository.Session, error) {
	mode, ok := m.modes[customerID]
	if !ok {
		mode = repository.ModeBot
		m.modes[customerID] = mode
	}
	return &repository.Session{CustomerID: customerID, ChannelID: channelID, Mode: mode}, nil
}

func (m *memStore) SetMode(_ context.Context, customerID, mode string) error {
	m.modes[customerID] = mode
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, _, _, role, content string) error {
	m.messages = append(m.messages, repository.Message{Role: role, Content: content})
	return nil
}

type memWindow struct {
	turns []ai.ChatMessage
}

func (w *memWindow) Append(_ context.Context, _, _ string, msg ai.ChatMessage) error {
	w.turns = append(w.turns, msg)
	return nil
}

func (w *memWindow) Recent(_ context.Context, _, _ string) ([]ai.ChatMessage, error) {
	return append([]ai.ChatMessage(nil), w.turns...), nil
}

type fakeGenerator struct {
	reply string
	err   error
}

func (g *fakeGenerator) Complete(_ context.Context, _ string, _ []ai.ChatMessage, _ int) (string, error) {
	return g.reply, g.err
}

type fakeDetector struct {
	wants bool
	err   error
}

func (d *fakeDetector) WantsSupport(_ context.Context, _ []ai.ChatMessage) (bool, error) {
	return d.wants, d.err
}

type fakeRoster struct{}

func (fakeRoster) Assign() classifier.Advisor {
	return classifier.Advisor{Name: "Laura Méndez", Phone: "+525511110001"}
}

type fakeFollowUps struct {
	inbound  int
	stopped  []string
	stopErr  error
	lastText string
}

func (f *fakeFollowUps) OnInbound(_ context.Context, _ string, _ []ai.ChatMessage, lastMessage string) {
	f.inbound++
	f.lastText = lastMessage
}

func (f *fakeFollowUps) StopActive(_ context.Context, _ string, reason string) error {
	f.stopped = append(f.stopped, reason)
	return f.stopErr
}

type fakeCatalog struct{}

func (fakeCatalog) PromptBlock() string { return "" }

type fixture struct {
	svc       *Service
	store     *memStore
	window    *memWindow
	generator *fakeGenerator
	detector  *fakeDetector
	followUps *fakeFollowUps
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemStore(),
		window:    &memWindow{},
		generator: &fakeGenerator{reply: "Claro, con gusto te explico."},
		detector:  &fakeDetector{},
		followUps: &fakeFollowUps{},
	}
	f.svc = New(f.store, f.window, f.generator, f.detector, fakeRoster{}, f.followUps, fakeCatalog{}, "", logger.Noop())
	return f
}

const (
	testCustomer = "5215511112222"
	testChannel  = "whatsapp"
)

func (f *fixture) handle(t *testing.T, text string) string {
	t.Helper()
	reply, err := f.svc.HandleInbound(context.Background(), testCustomer, testChannel, text)
	if err != nil {
		t.Fatalf("HandleInbound(%q): %v", text, err)
	}
	return reply
}

func (f *fixture) record(t *testing.T) *repository.Record {
	t.Helper()
	rec, ok := f.store.records[testCustomer]
	if !ok {
		t.Fatal("record not created")
	}
	return rec
}

func TestNewCustomerGreeting(t *testing.T) {
	f := newFixture()

	reply := f.handle(t, "hola")
	if reply == "" {
		t.Fatal("expected a welcome reply")
	}

	rec := f.record(t)
	if rec.DataStage != repository.StageWaitingNameAfterInterest {
		t.Fatalf("stage = %s, want %s", rec.DataStage, repository.StageWaitingNameAfterInterest)
	}
	if len(f.store.messages) != 2 {
		t.Fatalf("persisted turns = %d, want user + assistant", len(f.store.messages))
	}
	if f.store.messages[0].Role != ai.RoleUser || f.store.messages[1].Role != ai.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", f.store.messages)
	}
}

func TestNewCustomerSubstantiveMessage(t *testing.T) {
	f := newFixture()

	f.handle(t, "quiero información sobre los terrenos de Querétaro")

	if got := f.record(t).DataStage; got != repository.StageWaitingName {
		t.Fatalf("stage = %s, want %s", got, repository.StageWaitingName)
	}
}

func TestInterestAffirmativeAsksForName(t *testing.T) {
	f := newFixture()
	f.handle(t, "hola")

	reply := f.handle(t, "sí, me interesa")
	if !strings.Contains(reply, "nombre completo") {
		t.Fatalf("expected name request, got %q", reply)
	}
	if got := f.record(t).DataStage; got != repository.StageWaitingName {
		t.Fatalf("stage = %s, want %s", got, repository.StageWaitingName)
	}
}

func TestInterestNonAffirmativeFallsThrough(t *testing.T) {
	f := newFixture()
	f.handle(t, "hola")

	reply := f.handle(t, "¿en qué zona están los terrenos?")
	if reply != f.generator.reply {
		t.Fatalf("expected generated reply, got %q", reply)
	}
	if got := f.record(t).DataStage; got != repository.StageWaitingNameAfterInterest {
		t.Fatalf("stage changed to %s", got)
	}
}

func TestNameCollection(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")

	reply := f.handle(t, "juan perez")
	if !strings.Contains(reply, "Mucho gusto") {
		t.Fatalf("expected confirmation, got %q", reply)
	}

	rec := f.record(t)
	if rec.DataStage != repository.StageNameCollected {
		t.Fatalf("stage = %s", rec.DataStage)
	}
	if rec.Name == nil || *rec.Name != "Juan Perez" {
		t.Fatalf("name = %v, want Juan Perez", rec.Name)
	}
}

func TestInvalidNameReprompts(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")

	reply := f.handle(t, "123456")
	if !strings.Contains(reply, "nombre válido") {
		t.Fatalf("expected re-prompt, got %q", reply)
	}
	if got := f.record(t).DataStage; got != repository.StageWaitingName {
		t.Fatalf("stage = %s, want unchanged", got)
	}
}

func TestEmailBeforeNameIsStoredWithoutHandoff(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")

	reply := f.handle(t, "juan@ejemplo.com")

	rec := f.record(t)
	if rec.Email == nil || *rec.Email != "juan@ejemplo.com" {
		t.Fatalf("email = %v", rec.Email)
	}
	if rec.DataStage != repository.StageWaitingName {
		t.Fatalf("stage = %s, want unchanged", rec.DataStage)
	}
	if f.store.modes[testCustomer] != repository.ModeBot {
		t.Fatal("mode must stay bot")
	}
	if !strings.Contains(reply, "nombre") {
		t.Fatalf("expected name re-prompt, got %q", reply)
	}
}

func TestRepeatedNameDoesNotRevertStage(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")
	f.handle(t, "juan perez")

	f.handle(t, "juan perez")

	rec := f.record(t)
	if rec.DataStage != repository.StageNameCollected {
		t.Fatalf("stage = %s, want %s", rec.DataStage, repository.StageNameCollected)
	}
	if *rec.Name != "Juan Perez" {
		t.Fatalf("name = %q", *rec.Name)
	}
}

func TestSupportIntentWithoutEmailAsksForIt(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")
	f.handle(t, "juan perez")
	f.detector.wants = true

	reply := f.handle(t, "quiero hablar con un asesor")
	if !strings.Contains(reply, "correo electrónico") {
		t.Fatalf("expected email request, got %q", reply)
	}

	rec := f.record(t)
	if !rec.PendingSupportActivation {
		t.Fatal("pending support flag not set")
	}
	if rec.DataStage != repository.StageEmailPendingForSupport {
		t.Fatalf("stage = %s", rec.DataStage)
	}
	if f.store.modes[testCustomer] != repository.ModeBot {
		t.Fatal("mode must stay bot until email arrives")
	}
}

func TestEmailCollectionCompletesHandoff(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")
	f.handle(t, "juan perez")
	f.detector.wants = true
	f.handle(t, "quiero hablar con un asesor")
	f.detector.wants = false

	badReply := f.handle(t, "esto no es un correo")
	if !strings.Contains(badReply, "correo electrónico válido") {
		t.Fatalf("expected email re-prompt, got %q", badReply)
	}

	reply := f.handle(t, "Juan@Ejemplo.com")
	if !strings.Contains(reply, "Laura Méndez") {
		t.Fatalf("expected advisor name in confirmation, got %q", reply)
	}

	rec := f.record(t)
	if rec.DataStage != repository.StageComplete {
		t.Fatalf("stage = %s", rec.DataStage)
	}
	if *rec.Email != "juan@ejemplo.com" {
		t.Fatalf("email = %q, want lowercased", *rec.Email)
	}
	if rec.PendingSupportActivation {
		t.Fatal("pending support flag not cleared")
	}
	if f.store.modes[testCustomer] != repository.ModeSupport {
		t.Fatalf("mode = %s, want support", f.store.modes[testCustomer])
	}
	if len(f.followUps.stopped) == 0 || f.followUps.stopped[0] != "handed off" {
		t.Fatalf("follow-up stop reasons = %v", f.followUps.stopped)
	}
}

func TestSpontaneousEmailWithPendingSupportHandsOffDirectly(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")
	f.handle(t, "juan perez")
	f.store.records[testCustomer].PendingSupportActivation = true
	f.store.records[testCustomer].DataStage = repository.StageNameCollected

	reply := f.handle(t, "juan@ejemplo.com")
	if !strings.Contains(reply, "Laura Méndez") {
		t.Fatalf("expected direct handoff, got %q", reply)
	}
	if f.store.modes[testCustomer] != repository.ModeSupport {
		t.Fatal("mode must be support after direct handoff")
	}
}

func TestSpontaneousEmailWithoutPendingSupport(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")
	f.handle(t, "juan perez")

	reply := f.handle(t, "juan@ejemplo.com")
	if strings.Contains(reply, "Laura Méndez") {
		t.Fatal("must not hand off without pending support flag")
	}
	if f.store.modes[testCustomer] != repository.ModeBot {
		t.Fatal("mode must stay bot")
	}
	if got := *f.record(t).Email; got != "juan@ejemplo.com" {
		t.Fatalf("email = %q", got)
	}
}

func TestHumanModeSuppressesReplies(t *testing.T) {
	f := newFixture()
	f.handle(t, "hola")
	f.store.modes[testCustomer] = repository.ModeHuman

	before := len(f.store.messages)
	reply := f.handle(t, "¿sigues ahí?")
	if reply != "" {
		t.Fatalf("expected suppressed reply, got %q", reply)
	}
	if len(f.store.messages) != before+1 {
		t.Fatal("suppressed message must still be logged")
	}
	if got := f.followUps.inbound; got != 1 {
		t.Fatalf("follow-up OnInbound calls = %d, suppressed messages must not count", got)
	}
}

func TestGenerationFailureYieldsFallback(t *testing.T) {
	f := newFixture()
	f.handle(t, "quiero información")
	f.handle(t, "juan perez")
	f.generator.err = errors.New("timeout")

	reply := f.handle(t, "¿cuánto cuesta el terreno de 500m2?")
	if reply != msgGenericError {
		t.Fatalf("reply = %q, want fallback", reply)
	}
}

func TestSetModeValidatesAndStopsFollowUps(t *testing.T) {
	f := newFixture()
	f.handle(t, "hola")

	if err := f.svc.SetMode(context.Background(), testCustomer, "robot"); err == nil {
		t.Fatal("expected validation error")
	}

	if err := f.svc.SetMode(context.Background(), testCustomer, repository.ModeHuman); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if f.store.modes[testCustomer] != repository.ModeHuman {
		t.Fatal("mode not updated")
	}
	if len(f.followUps.stopped) != 1 || f.followUps.stopped[0] != "handed off" {
		t.Fatalf("stop reasons = %v", f.followUps.stopped)
	}
}

func TestFollowUpHookReceivesInboundText(t *testing.T) {
	f := newFixture()
	f.handle(t, "hola")
	f.handle(t, "ya no me contacten")

	if f.followUps.lastText != "ya no me contacten" {
		t.Fatalf("follow-up hook saw %q", f.followUps.lastText)
	}
}
