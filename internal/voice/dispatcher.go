package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/internal/campaigns/transport"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/phone"
)

// pollInterval is how often the dispatcher rescans running campaigns
// when nothing wakes it explicitly.
const pollInterval = 5 * time.Second

// originationPace spaces consecutive originations so the trunk is not
// slammed with simultaneous dials.
const originationPace = 2 * time.Second

// pendingCall tracks an originated call between Originate and either the
// answered event or the answer timeout. Whichever side removes it from
// the pending map owns the contact's fate and the concurrency slot.
type pendingCall struct {
	contact  *repository.Contact
	campaign uuid.UUID
	timer    *time.Timer
}

type activeCall struct {
	campaign uuid.UUID
	cancel   context.CancelFunc
}

// Dispatcher walks running campaigns and originates calls under a global
// concurrency cap shared across all campaigns.
type Dispatcher struct {
	store    CallStore
	tel      Telephony
	turns    *TurnLoop
	analyzer *Analyzer
	log      *logger.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	maxCalls      int
	answerTimeout time.Duration

	wake chan struct{}

	mu       sync.Mutex
	inflight int
	pending  map[string]*pendingCall
	active   map[string]*activeCall
	running  []uuid.UUID
}

// NewDispatcher creates the campaign call dispatcher.
func NewDispatcher(store CallStore, tel Telephony, turns *TurnLoop, analyzer *Analyzer, cfg config.VoicebotConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:         store,
		tel:           tel,
		turns:         turns,
		analyzer:      analyzer,
		log:           log,
		sem:           semaphore.NewWeighted(int64(cfg.GetMaxConcurrentCalls())),
		limiter:       rate.NewLimiter(rate.Every(originationPace), 1),
		maxCalls:      cfg.GetMaxConcurrentCalls(),
		answerTimeout: cfg.GetAnswerTimeout(),
		wake:          make(chan struct{}, 1),
		pending:       make(map[string]*pendingCall),
		active:        make(map[string]*activeCall),
	}
}

// Wake nudges the dispatcher to scan for work immediately.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives the dispatch loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	go d.consumeAnswered(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
		d.dispatchRound(ctx)
	}
}

// Status reports the live dispatcher state for the dashboard.
func (d *Dispatcher) Status() transport.SystemStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	campaigns := make([]uuid.UUID, len(d.running))
	copy(campaigns, d.running)

	return transport.SystemStatus{
		ActiveCallsCount:   d.inflight,
		MaxConcurrentCalls: d.maxCalls,
		TelephonyConnected: d.tel.Connected(),
		ActiveCampaigns:    campaigns,
	}
}

// AbortCampaign cancels the in-flight calls of a campaign. Post-call
// analysis still runs for each aborted call.
func (d *Dispatcher) AbortCampaign(campaignID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, call := range d.active {
		if call.campaign == campaignID {
			call.cancel()
		}
	}
}

func (d *Dispatcher) dispatchRound(ctx context.Context) {
	campaigns, err := d.store.RunningCampaigns(ctx)
	if err != nil {
		d.log.DatabaseError("list running campaigns", err)
		return
	}

	running := make([]uuid.UUID, 0, len(campaigns))
	for _, c := range campaigns {
		running = append(running, c.ID)
	}
	d.mu.Lock()
	d.running = running
	d.mu.Unlock()

	for _, campaign := range campaigns {
		d.dispatchCampaign(ctx, campaign.ID)
	}
}

// dispatchCampaign originates calls for one campaign until the cap is
// reached or its queue drains.
func (d *Dispatcher) dispatchCampaign(ctx context.Context, campaignID uuid.UUID) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !d.acquireSlot() {
			return
		}

		contact, err := d.store.ClaimNextPending(ctx, campaignID)
		if err != nil {
			d.releaseSlot()
			d.log.DatabaseError("claim pending contact", err)
			return
		}
		if contact == nil {
			d.releaseSlot()
			d.finishCampaignIfDrained(ctx, campaignID)
			return
		}

		if err := d.limiter.Wait(ctx); err != nil {
			d.releaseSlot()
			return
		}
		d.originate(ctx, campaignID, contact)
	}
}

// finishCampaignIfDrained marks a campaign completed once its queue is
// empty and none of its calls are still in flight.
func (d *Dispatcher) finishCampaignIfDrained(ctx context.Context, campaignID uuid.UUID) {
	d.mu.Lock()
	for _, p := range d.pending {
		if p.campaign == campaignID {
			d.mu.Unlock()
			return
		}
	}
	for _, a := range d.active {
		if a.campaign == campaignID {
			d.mu.Unlock()
			return
		}
	}
	d.mu.Unlock()

	if err := d.store.SetCampaignStatus(ctx, campaignID, repository.CampaignCompleted); err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			d.log.DatabaseError("complete campaign", err)
		}
		return
	}
	if err := d.store.RefreshCampaignStats(ctx, campaignID); err != nil {
		d.log.DatabaseError("refresh campaign stats", err)
	}
	d.log.Info("campaign completed", "campaign_id", campaignID)
}

func (d *Dispatcher) originate(ctx context.Context, campaignID uuid.UUID, contact *repository.Contact) {
	dial := phone.Digits(contact.Phone)
	log := d.log.WithCall(contact.Phone)

	pc := &pendingCall{contact: contact, campaign: campaignID}
	d.mu.Lock()
	d.pending[dial] = pc
	d.mu.Unlock()

	if err := d.tel.Originate(ctx, dial); err != nil {
		d.takePending(dial)
		d.releaseSlot()
		log.Error("origination failed", "error", err)
		if err := d.store.SetContactStatus(ctx, contact.ID, repository.ContactFailed); err != nil {
			log.DatabaseError("mark contact failed", err)
		}
		return
	}

	log.Info("call originated", "contact", contact.Name)

	// The timeout and the answered event race for the pending entry;
	// takePending hands the call to exactly one of them.
	pc.timer = time.AfterFunc(d.answerTimeout, func() {
		if d.takePending(dial) == nil {
			return
		}
		d.releaseSlot()
		log.Info("no answer")

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.store.SetContactStatus(timeoutCtx, contact.ID, repository.ContactNoAnswer); err != nil {
			log.DatabaseError("mark contact no_answer", err)
		}
	})
}

func (d *Dispatcher) consumeAnswered(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.tel.Answered():
			if !ok {
				return
			}
			pc := d.takePending(phone.Digits(ev.Phone))
			if pc == nil {
				// Answered after the timeout already gave up on it.
				if err := d.tel.Hangup(ctx, ev.ChannelID); err != nil {
					d.log.Error("hangup of orphan call failed", "channel", ev.ChannelID, "error", err)
				}
				continue
			}
			pc.timer.Stop()
			go d.runCall(ctx, pc, ev)
		}
	}
}

// runCall owns an answered call end to end: turn loop, teardown and the
// always-run post-call analysis.
func (d *Dispatcher) runCall(ctx context.Context, pc *pendingCall, ev AnsweredCall) {
	defer d.releaseSlot()

	contact := pc.contact
	log := d.log.WithCall(contact.Phone)
	log.Info("call answered", "contact", contact.Name)

	callCtx, cancel := context.WithTimeout(ctx, d.turns.maxDuration)
	defer cancel()

	d.mu.Lock()
	d.active[ev.ChannelID] = &activeCall{campaign: pc.campaign, cancel: cancel}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, ev.ChannelID)
		d.mu.Unlock()
	}()

	call := &repository.Call{
		ID:         uuid.New(),
		ContactID:  contact.ID,
		CampaignID: pc.campaign,
		Phone:      contact.Phone,
		Status:     "in_call",
	}
	startedAt := time.Now()
	if err := d.store.CreateCall(ctx, call); err != nil {
		log.DatabaseError("create call", err)
	}
	if err := d.store.SetCallChannel(ctx, call.ID, ev.ChannelID); err != nil {
		log.DatabaseError("set call channel", err)
	}
	if err := d.store.SetContactStatus(ctx, contact.ID, repository.ContactInCall); err != nil {
		log.DatabaseError("mark contact in_call", err)
	}

	history, loopErr := d.turns.Run(callCtx, ev.BridgeID, contact, call.ID)

	// Teardown and analysis use fresh contexts: an aborted or timed-out
	// call must still hang up cleanly and capture its outcome.
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cleanupCancel()

	if err := d.tel.Hangup(cleanupCtx, ev.ChannelID); err != nil {
		log.Error("hangup failed", "error", err)
	}

	callStatus := "completed"
	contactStatus := repository.ContactCompleted
	switch {
	case errors.Is(loopErr, context.Canceled):
		callStatus = "cancelled"
	case loopErr != nil && !errors.Is(loopErr, context.DeadlineExceeded):
		callStatus = "failed"
		contactStatus = repository.ContactFailed
		log.Error("call ended with error", "error", loopErr)
	}

	if err := d.store.SetContactStatus(cleanupCtx, contact.ID, contactStatus); err != nil {
		log.DatabaseError("mark contact terminal", err)
	}
	if err := d.store.EndCall(cleanupCtx, call.ID, callStatus, time.Since(startedAt)); err != nil {
		log.DatabaseError("end call", err)
	}

	d.analyzer.Analyze(cleanupCtx, call.ID, contact, history)

	if err := d.store.RefreshCampaignStats(cleanupCtx, pc.campaign); err != nil {
		log.DatabaseError("refresh campaign stats", err)
	}

	log.Info("call finished", "status", callStatus, "duration", time.Since(startedAt))
	d.Wake()
}

// takePending removes and returns the pending entry for a dialed number.
// Returns nil if another path already claimed it.
func (d *Dispatcher) takePending(dial string) *pendingCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc := d.pending[dial]
	delete(d.pending, dial)
	return pc
}

func (d *Dispatcher) acquireSlot() bool {
	if !d.sem.TryAcquire(1) {
		return false
	}
	d.mu.Lock()
	d.inflight++
	d.mu.Unlock()
	return true
}

func (d *Dispatcher) releaseSlot() {
	d.sem.Release(1)
	d.mu.Lock()
	d.inflight--
	d.mu.Unlock()
}
