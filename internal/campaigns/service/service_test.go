package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"
)

type memStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*repository.Campaign
	contacts  map[uuid.UUID][]repository.Contact
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[uuid.UUID]*repository.Campaign),
		contacts:  make(map[uuid.UUID][]repository.Contact),
	}
}

func (m *memStore) CreateCampaign(_ context.Context, c *repository.Campaign, contacts []repository.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *c
	stored.Status = repository.CampaignPending
	stored.TotalContacts = len(contacts)
	stored.CallsPending = len(contacts)
	m.campaigns[c.ID] = &stored
	m.contacts[c.ID] = contacts
	return nil
}

func (m *memStore) GetCampaign(_ context.Context, id uuid.UUID) (*repository.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, apperr.NotFound("campaign not found")
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) ListCampaigns(_ context.Context) ([]repository.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Campaign
	for _, c := range m.campaigns {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) SetCampaignStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return apperr.NotFound("campaign not found")
	}
	c.Status = status
	return nil
}

func (m *memStore) DeleteCampaign(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return apperr.NotFound("campaign not found")
	}
	delete(m.campaigns, id)
	delete(m.contacts, id)
	return nil
}

func (m *memStore) RefreshCampaignStats(context.Context, uuid.UUID) error { return nil }

func (m *memStore) ListCampaignCalls(context.Context, uuid.UUID) ([]repository.Call, error) {
	return nil, nil
}

func (m *memStore) GetTranscript(context.Context, uuid.UUID) ([]repository.Turn, error) {
	return nil, nil
}

func (m *memStore) GetAppointment(context.Context, uuid.UUID) (*repository.Appointment, error) {
	return nil, apperr.NotFound("appointment not found")
}

func (m *memStore) ListAppointments(context.Context, *uuid.UUID) ([]repository.Appointment, error) {
	return nil, nil
}

func (m *memStore) UpdateAppointmentStatus(context.Context, uuid.UUID, string) error { return nil }

func (m *memStore) UpdateAppointment(context.Context, uuid.UUID, *string, *string, *string) error {
	return nil
}

func (m *memStore) DeleteAppointment(context.Context, uuid.UUID) error { return nil }

type fakeDispatcher struct {
	mu      sync.Mutex
	wakes   int
	aborted []uuid.UUID
}

func (f *fakeDispatcher) Wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
}

func (f *fakeDispatcher) AbortCampaign(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, id)
}

func fixture(t *testing.T) (*Service, *memStore, *fakeDispatcher) {
	t.Helper()
	store := newMemStore()
	dispatcher := &fakeDispatcher{}
	return New(store, dispatcher, logger.Noop()), store, dispatcher
}

const sampleCSV = `Nombre,Teléfono,Tipo de Terreno,Ubicación,Tamaño (m2),Precio (MXN),Info Adicional
Juan Pérez,5512345678,Industrial,Querétaro,5000,12000000,Cliente previo
María López,+525598765432,Comercial,Tultitlán,2500,6500000,
Sin Teléfono,,Industrial,CDMX,1000,2000000,
`

func TestCreateFromCSV(t *testing.T) {
	svc, store, _ := fixture(t)
	ctx := context.Background()

	campaign, err := svc.CreateFromCSV(ctx, "Q3 Industrial", "contactos.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("CreateFromCSV: %v", err)
	}
	if campaign.TotalContacts != 2 {
		t.Fatalf("TotalContacts = %d, want 2 (row without phone skipped)", campaign.TotalContacts)
	}
	if campaign.Status != repository.CampaignPending {
		t.Fatalf("Status = %q, want pending", campaign.Status)
	}

	contacts := store.contacts[campaign.ID]
	if len(contacts) != 2 {
		t.Fatalf("stored %d contacts, want 2", len(contacts))
	}
	if contacts[0].Name != "Juan Pérez" {
		t.Fatalf("first contact name = %q", contacts[0].Name)
	}
	if contacts[0].Phone != "+525512345678" {
		t.Fatalf("first contact phone = %q, want normalized +525512345678", contacts[0].Phone)
	}
	if contacts[0].PropertyLocation == nil || *contacts[0].PropertyLocation != "Querétaro" {
		t.Fatalf("first contact location = %v", contacts[0].PropertyLocation)
	}
	if contacts[1].ExtraInfo != nil {
		t.Fatalf("empty extra info should map to nil, got %v", *contacts[1].ExtraInfo)
	}
}

func TestCreateFromCSVEnglishHeaders(t *testing.T) {
	svc, _, _ := fixture(t)

	csv := "name,phone,type\nAna,5511223344,Industrial\n"
	campaign, err := svc.CreateFromCSV(context.Background(), "english", "c.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("CreateFromCSV: %v", err)
	}
	if campaign.TotalContacts != 1 {
		t.Fatalf("TotalContacts = %d, want 1", campaign.TotalContacts)
	}
}

func TestCreateFromCSVRejectsMissingPhoneColumn(t *testing.T) {
	svc, _, _ := fixture(t)

	csv := "nombre,correo\nJuan,juan@example.com\n"
	_, err := svc.CreateFromCSV(context.Background(), "broken", "c.csv", strings.NewReader(csv))
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateFromCSVRejectsAllRowsSkipped(t *testing.T) {
	svc, _, _ := fixture(t)

	csv := "telefono,nombre\n,Juan\nabc,Pedro\n"
	_, err := svc.CreateFromCSV(context.Background(), "empty", "c.csv", strings.NewReader(csv))
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateFromCSVRequiresName(t *testing.T) {
	svc, _, _ := fixture(t)

	_, err := svc.CreateFromCSV(context.Background(), "  ", "c.csv", strings.NewReader(sampleCSV))
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartWakesDispatcher(t *testing.T) {
	svc, _, dispatcher := fixture(t)
	ctx := context.Background()

	campaign, err := svc.CreateFromCSV(ctx, "c", "c.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("CreateFromCSV: %v", err)
	}

	if err := svc.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if dispatcher.wakes != 1 {
		t.Fatalf("dispatcher wakes = %d, want 1", dispatcher.wakes)
	}

	got, _ := svc.Get(ctx, campaign.ID)
	if got.Status != repository.CampaignRunning {
		t.Fatalf("Status = %q, want running", got.Status)
	}

	if err := svc.Start(ctx, campaign.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("starting a running campaign: expected conflict, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	campaign, _ := svc.CreateFromCSV(ctx, "c", "c.csv", strings.NewReader(sampleCSV))

	if err := svc.Pause(ctx, campaign.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("pausing a pending campaign: expected conflict, got %v", err)
	}

	if err := svc.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Pause(ctx, campaign.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	got, _ := svc.Get(ctx, campaign.ID)
	if got.Status != repository.CampaignPaused {
		t.Fatalf("Status = %q, want paused", got.Status)
	}

	// A paused campaign resumes through Start.
	if err := svc.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestStopAbortsActiveCalls(t *testing.T) {
	svc, _, dispatcher := fixture(t)
	ctx := context.Background()

	campaign, _ := svc.CreateFromCSV(ctx, "c", "c.csv", strings.NewReader(sampleCSV))
	if err := svc.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Stop(ctx, campaign.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(dispatcher.aborted) != 1 || dispatcher.aborted[0] != campaign.ID {
		t.Fatalf("aborted = %v, want [%s]", dispatcher.aborted, campaign.ID)
	}

	got, _ := svc.Get(ctx, campaign.ID)
	if got.Status != repository.CampaignCancelled {
		t.Fatalf("Status = %q, want cancelled", got.Status)
	}

	if err := svc.Stop(ctx, campaign.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("stopping a finished campaign: expected conflict, got %v", err)
	}
}

func TestDeleteRefusesRunningCampaign(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	campaign, _ := svc.CreateFromCSV(ctx, "c", "c.csv", strings.NewReader(sampleCSV))
	if err := svc.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := svc.Delete(ctx, campaign.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("deleting a running campaign: expected conflict, got %v", err)
	}

	if err := svc.Stop(ctx, campaign.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.Delete(ctx, campaign.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, campaign.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestUpdateAppointmentStatusValidates(t *testing.T) {
	svc, _, _ := fixture(t)

	err := svc.UpdateAppointmentStatus(context.Background(), uuid.New(), "maybe")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.UpdateAppointmentStatus(context.Background(), uuid.New(), "confirmed"); err != nil {
		t.Fatalf("UpdateAppointmentStatus: %v", err)
	}
}
