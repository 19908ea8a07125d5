package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/classifier"
	"outreach_backend/internal/conversation/repository"
	followups "outreach_backend/internal/followup/repository"
	"outreach_backend/platform/logger"
)

// memFollowUps mirrors the repository's atomic create/stop contract.
type memFollowUps struct {
	mu   sync.Mutex
	seq  int64
	recs []*followups.Record
}

func (m *memFollowUps) activeLocked(customerID string) *followups.Record {
	for _, r := range m.recs {
		if r.CustomerID == customerID && r.Status == followups.StatusActive {
			return r
		}
	}
	return nil
}

func (m *memFollowUps) CreateIfAbsent(_ context.Context, customerID string, sinceActivity time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.recs {
		if r.CustomerID != customerID {
			continue
		}
		if r.Status == followups.StatusActive || !r.StartedAt.Before(sinceActivity) {
			return false, nil
		}
	}

	m.seq++
	now := time.Now()
	m.recs = append(m.recs, &followups.Record{
		ID:             m.seq,
		CustomerID:     customerID,
		Status:         followups.StatusActive,
		LastFollowUpAt: now,
		StartedAt:      now,
	})
	return true, nil
}

func (m *memFollowUps) Active(_ context.Context, customerID string) (*followups.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.activeLocked(customerID); r != nil {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *memFollowUps) StopActive(_ context.Context, customerID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.activeLocked(customerID)
	if r == nil {
		return false, nil
	}
	now := time.Now()
	r.Status = followups.StatusStopped
	r.StopReason = &reason
	r.StoppedAt = &now
	return true, nil
}

func (m *memFollowUps) DueForNudge(_ context.Context, interval time.Duration) ([]followups.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-interval)
	var due []followups.Record
	for _, r := range m.recs {
		if r.Status == followups.StatusActive && !r.LastFollowUpAt.After(cutoff) {
			due = append(due, *r)
		}
	}
	return due, nil
}

func (m *memFollowUps) MarkNudged(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.recs {
		if r.ID == id && r.Status == followups.StatusActive {
			r.FollowUpCount++
			r.LastFollowUpAt = time.Now()
			return r.FollowUpCount, nil
		}
	}
	return -1, nil
}

func (m *memFollowUps) StopByID(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.recs {
		if r.ID == id && r.Status == followups.StatusActive {
			now := time.Now()
			r.Status = followups.StatusStopped
			r.StopReason = &reason
			r.StoppedAt = &now
		}
	}
	return nil
}

func (m *memFollowUps) activeCount(customerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.recs {
		if r.CustomerID == customerID && r.Status == followups.StatusActive {
			n++
		}
	}
	return n
}

func (m *memFollowUps) lastStopReason(customerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.recs) - 1; i >= 0; i-- {
		r := m.recs[i]
		if r.CustomerID == customerID && r.StopReason != nil {
			return *r.StopReason
		}
	}
	return ""
}

type fakeSessions struct {
	stale    []repository.Session
	appended []string
}

func (f *fakeSessions) StaleSessions(_ context.Context, _ time.Duration) ([]repository.Session, error) {
	return f.stale, nil
}

func (f *fakeSessions) AppendMessage(_ context.Context, _, _, _, content string) error {
	f.appended = append(f.appended, content)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, phoneNumber, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, phoneNumber)
	return nil
}

type fakeOracle struct {
	status classifier.Status
	calls  int
}

func (f *fakeOracle) ConversationStatus(_ context.Context, _ []ai.ChatMessage, _ string) classifier.Status {
	f.calls++
	return f.status
}

type cfgStub struct{}

func (cfgStub) GetFollowUpInterval() time.Duration { return time.Hour }
func (cfgStub) GetMaxFollowUps() int               { return 3 }
func (cfgStub) GetSessionTimeout() time.Duration   { return 5 * time.Minute }

const testCustomer = "5215511112222"

func newService(store *memFollowUps, sessions *fakeSessions, sender *fakeSender, oracle *fakeOracle) *Service {
	return New(store, sessions, sender, oracle, cfgStub{}, "whatsapp", logger.Noop())
}

func staleSession(at time.Time) repository.Session {
	return repository.Session{CustomerID: testCustomer, ChannelID: "whatsapp", Mode: repository.ModeBot, LastActivity: at}
}

func TestTickOpensFollowUpForStaleSession(t *testing.T) {
	store := &memFollowUps{}
	sessions := &fakeSessions{stale: []repository.Session{staleSession(time.Now().Add(-10 * time.Minute))}}
	svc := newService(store, sessions, &fakeSender{}, &fakeOracle{})

	svc.Tick(context.Background())

	rec, _ := store.Active(context.Background(), testCustomer)
	if rec == nil {
		t.Fatal("follow-up not created")
	}
	if rec.FollowUpCount != 0 {
		t.Fatalf("count = %d, want 0", rec.FollowUpCount)
	}
}

func TestTickDoesNotDuplicateActiveRecord(t *testing.T) {
	store := &memFollowUps{}
	sessions := &fakeSessions{stale: []repository.Session{staleSession(time.Now().Add(-10 * time.Minute))}}
	svc := newService(store, sessions, &fakeSender{}, &fakeOracle{})

	svc.Tick(context.Background())
	svc.Tick(context.Background())

	if n := store.activeCount(testCustomer); n != 1 {
		t.Fatalf("active records = %d, want 1", n)
	}
}

func TestConcurrentTicksCreateOneRecord(t *testing.T) {
	store := &memFollowUps{}
	sessions := &fakeSessions{stale: []repository.Session{staleSession(time.Now().Add(-10 * time.Minute))}}
	svc := newService(store, sessions, &fakeSender{}, &fakeOracle{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.openForStaleSessions(context.Background())
		}()
	}
	wg.Wait()

	if n := store.activeCount(testCustomer); n != 1 {
		t.Fatalf("active records = %d, want 1", n)
	}
}

func TestDueNudgeSendsAndIncrements(t *testing.T) {
	store := &memFollowUps{}
	sender := &fakeSender{}
	sessions := &fakeSessions{}
	svc := newService(store, sessions, sender, &fakeOracle{})

	_, _ = store.CreateIfAbsent(context.Background(), testCustomer, time.Now().Add(-10*time.Minute))
	store.recs[0].LastFollowUpAt = time.Now().Add(-2 * time.Hour)

	svc.Tick(context.Background())

	if len(sender.sent) != 1 || sender.sent[0] != testCustomer {
		t.Fatalf("sent = %v", sender.sent)
	}
	rec, _ := store.Active(context.Background(), testCustomer)
	if rec == nil || rec.FollowUpCount != 1 {
		t.Fatalf("record after nudge = %+v", rec)
	}
	if len(sessions.appended) != 1 {
		t.Fatal("nudge not appended to history")
	}
}

func TestNudgeNotDueIsNotSent(t *testing.T) {
	store := &memFollowUps{}
	sender := &fakeSender{}
	svc := newService(store, &fakeSessions{}, sender, &fakeOracle{})

	_, _ = store.CreateIfAbsent(context.Background(), testCustomer, time.Now().Add(-10*time.Minute))

	svc.Tick(context.Background())

	if len(sender.sent) != 0 {
		t.Fatalf("nudge sent before interval elapsed: %v", sender.sent)
	}
}

func TestNudgeCapStopsRecord(t *testing.T) {
	store := &memFollowUps{}
	sender := &fakeSender{}
	svc := newService(store, &fakeSessions{}, sender, &fakeOracle{})

	_, _ = store.CreateIfAbsent(context.Background(), testCustomer, time.Now().Add(-10*time.Minute))
	store.recs[0].FollowUpCount = 2
	store.recs[0].LastFollowUpAt = time.Now().Add(-2 * time.Hour)

	svc.Tick(context.Background())

	if n := store.activeCount(testCustomer); n != 0 {
		t.Fatal("record still active after reaching the cap")
	}
	if got := store.lastStopReason(testCustomer); got != ReasonMaxAttempts {
		t.Fatalf("stop reason = %q, want %q", got, ReasonMaxAttempts)
	}
	// The final nudge still goes out before the stop.
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %v", sender.sent)
	}
}

func TestNoRecreationAfterMaxAttemptsWhileStillIdle(t *testing.T) {
	store := &memFollowUps{}
	lastActivity := time.Now().Add(-10 * time.Minute)
	sessions := &fakeSessions{stale: []repository.Session{staleSession(lastActivity)}}
	svc := newService(store, sessions, &fakeSender{}, &fakeOracle{})

	svc.Tick(context.Background())
	_, _ = store.StopActive(context.Background(), testCustomer, ReasonMaxAttempts)

	// Still the same inactivity episode: tick must not open a new record.
	svc.Tick(context.Background())

	if n := store.activeCount(testCustomer); n != 0 {
		t.Fatal("record recreated within the same inactivity episode")
	}
}

func TestRecreationAfterNewActivity(t *testing.T) {
	store := &memFollowUps{}
	sessions := &fakeSessions{stale: []repository.Session{staleSession(time.Now().Add(-10 * time.Minute))}}
	svc := newService(store, sessions, &fakeSender{}, &fakeOracle{})

	svc.Tick(context.Background())
	_, _ = store.StopActive(context.Background(), testCustomer, ReasonBecameActive)

	// The customer spoke again and went idle once more.
	sessions.stale = []repository.Session{staleSession(time.Now().Add(time.Minute))}
	svc.Tick(context.Background())

	if n := store.activeCount(testCustomer); n != 1 {
		t.Fatalf("active records = %d, want a fresh one", n)
	}
}

func TestKeywordRejectionShortCircuitsClassifier(t *testing.T) {
	store := &memFollowUps{}
	oracle := &fakeOracle{status: classifier.StatusActivo}
	svc := newService(store, &fakeSessions{}, &fakeSender{}, oracle)

	_, _ = store.CreateIfAbsent(context.Background(), testCustomer, time.Now().Add(-10*time.Minute))

	svc.OnInbound(context.Background(), testCustomer, nil, "ya no me contacten por favor")

	if oracle.calls != 0 {
		t.Fatal("classifier must not run on a keyword rejection")
	}
	if got := store.lastStopReason(testCustomer); got != ReasonKeywordRejection {
		t.Fatalf("stop reason = %q, want %q", got, ReasonKeywordRejection)
	}
}

func TestOnInboundStatusOutcomes(t *testing.T) {
	cases := []struct {
		status     classifier.Status
		wantActive bool
		wantReason string
	}{
		{classifier.StatusAceptado, false, "aceptado"},
		{classifier.StatusRechazado, false, "rechazado"},
		{classifier.StatusFrustrado, false, "frustrado"},
		{classifier.StatusActivo, false, ReasonBecameActive},
		{classifier.StatusInactivo, true, ""},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			store := &memFollowUps{}
			oracle := &fakeOracle{status: tc.status}
			svc := newService(store, &fakeSessions{}, &fakeSender{}, oracle)

			_, _ = store.CreateIfAbsent(context.Background(), testCustomer, time.Now().Add(-10*time.Minute))

			svc.OnInbound(context.Background(), testCustomer, nil, "gracias por la info")

			active := store.activeCount(testCustomer) == 1
			if active != tc.wantActive {
				t.Fatalf("active = %v, want %v", active, tc.wantActive)
			}
			if tc.wantReason != "" {
				if got := store.lastStopReason(testCustomer); got != tc.wantReason {
					t.Fatalf("stop reason = %q, want %q", got, tc.wantReason)
				}
			}
		})
	}
}

func TestOnInboundWithoutActiveRecordSkipsClassifier(t *testing.T) {
	oracle := &fakeOracle{status: classifier.StatusActivo}
	svc := newService(&memFollowUps{}, &fakeSessions{}, &fakeSender{}, oracle)

	svc.OnInbound(context.Background(), testCustomer, nil, "hola")

	if oracle.calls != 0 {
		t.Fatal("classifier must not run without an active record")
	}
}

func TestSendFailureLeavesRecordUntouched(t *testing.T) {
	store := &memFollowUps{}
	sender := &fakeSender{err: context.DeadlineExceeded}
	svc := newService(store, &fakeSessions{}, sender, &fakeOracle{})

	_, _ = store.CreateIfAbsent(context.Background(), testCustomer, time.Now().Add(-10*time.Minute))
	store.recs[0].LastFollowUpAt = time.Now().Add(-2 * time.Hour)

	svc.Tick(context.Background())

	rec, _ := store.Active(context.Background(), testCustomer)
	if rec == nil || rec.FollowUpCount != 0 {
		t.Fatalf("record = %+v, count must stay 0 when the send fails", rec)
	}
}
