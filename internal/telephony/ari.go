// Package telephony implements the voice.Telephony port against the
// Asterisk REST Interface: REST commands for call control plus the ARI
// websocket event stream.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"outreach_backend/internal/voice"
	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
)

const (
	originateTimeoutSecs = 30
	playbackTimeout      = 30 * time.Second

	reconnectBaseDelay  = time.Second
	reconnectMaxDelay   = time.Minute
	reconnectMaxAttempt = 10
)

// ARI talks to Asterisk over its REST interface and event websocket.
type ARI struct {
	baseURL  string
	username string
	password string
	app      string

	trunkName   string
	trunkPrefix string
	callerID    string

	recordingDir string

	http     *http.Client
	log      *logger.Logger
	answered chan voice.AnsweredCall

	connected atomic.Bool

	mu      sync.Mutex
	bridges map[string]string // channel id -> bridge id
	chans   map[string]string // bridge id -> channel id
	waiters map[string]chan string
	arrived map[string]string // events that beat their waiter
}

// New creates an ARI adapter. Call Connect before using it.
func New(cfg config.ARIConfig, log *logger.Logger) *ARI {
	return &ARI{
		baseURL:      strings.TrimRight(cfg.GetARIURL(), "/"),
		username:     cfg.GetARIUsername(),
		password:     cfg.GetARIPassword(),
		app:          cfg.GetARIApp(),
		trunkName:    cfg.GetTrunkName(),
		trunkPrefix:  cfg.GetTrunkPrefix(),
		callerID:     cfg.GetTrunkCallerID(),
		recordingDir: cfg.GetRecordingPath(),
		http:         &http.Client{Timeout: 15 * time.Second},
		log:          log,
		answered:     make(chan voice.AnsweredCall, 16),
		bridges:      make(map[string]string),
		chans:        make(map[string]string),
		waiters:      make(map[string]chan string),
		arrived:      make(map[string]string),
	}
}

var _ voice.Telephony = (*ARI)(nil)

// Connect opens the event websocket and starts the event loop. Dropped
// connections are re-established with exponential backoff up to a
// ceiling of attempts; the adapter reports disconnected in between.
func (a *ARI) Connect(ctx context.Context) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return fmt.Errorf("ari connect: %w", err)
	}
	a.connected.Store(true)
	a.log.Info("telephony connected", "app", a.app)

	go a.eventLoop(ctx, conn)
	return nil
}

func (a *ARI) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ari/events"
	q := wsURL.Query()
	q.Set("api_key", a.username+":"+a.password)
	q.Set("app", a.app)
	q.Set("subscribeAll", "false")
	wsURL.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// eventLoop reads events until the connection drops, then reconnects
// with backoff.
func (a *ARI) eventLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		err := a.readEvents(ctx, conn)
		a.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		a.log.Error("telephony event stream lost", "error", err)

		conn = a.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (a *ARI) reconnect(ctx context.Context) *websocket.Conn {
	delay := reconnectBaseDelay
	for attempt := 1; attempt <= reconnectMaxAttempt; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := a.dial(ctx)
		if err == nil {
			a.connected.Store(true)
			a.log.Info("telephony reconnected", "attempt", attempt)
			return conn
		}
		a.log.Error("telephony reconnect failed", "attempt", attempt, "error", err)

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
	a.log.Error("telephony reconnect attempts exhausted")
	return nil
}

type ariEvent struct {
	Type    string   `json:"type"`
	Args    []string `json:"args"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Playback struct {
		ID string `json:"id"`
	} `json:"playback"`
	Recording struct {
		Name string `json:"name"`
	} `json:"recording"`
}

func (a *ARI) readEvents(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var ev ariEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			a.log.Error("unparseable ari event", "error", err)
			continue
		}

		switch ev.Type {
		case "StasisStart":
			go a.handleStasisStart(ctx, ev)
		case "StasisEnd":
			a.handleStasisEnd(ctx, ev.Channel.ID)
		case "PlaybackFinished", "PlaybackFailed":
			a.notify("playback:"+ev.Playback.ID, ev.Type)
		case "RecordingFinished", "RecordingFailed":
			a.notify("recording:"+ev.Recording.Name, ev.Type)
		}
	}
}

// handleStasisStart answers the channel, bridges it and emits the
// answered event the dispatcher consumes.
func (a *ARI) handleStasisStart(ctx context.Context, ev ariEvent) {
	phone := ""
	if len(ev.Args) > 0 {
		phone = ev.Args[0]
	}
	channelID := ev.Channel.ID

	if err := a.post(ctx, "/ari/channels/"+channelID+"/answer", nil, nil); err != nil {
		a.log.Error("answer channel failed", "channel", channelID, "error", err)
		return
	}

	var bridge struct {
		ID string `json:"id"`
	}
	if err := a.post(ctx, "/ari/bridges", map[string]any{"type": "mixing"}, &bridge); err != nil {
		a.log.Error("create bridge failed", "channel", channelID, "error", err)
		return
	}
	if err := a.post(ctx, "/ari/bridges/"+bridge.ID+"/addChannel", map[string]any{"channel": channelID}, nil); err != nil {
		a.log.Error("add channel to bridge failed", "channel", channelID, "error", err)
		return
	}

	a.mu.Lock()
	a.bridges[channelID] = bridge.ID
	a.chans[bridge.ID] = channelID
	a.mu.Unlock()

	select {
	case a.answered <- voice.AnsweredCall{ChannelID: channelID, BridgeID: bridge.ID, Phone: phone}:
	case <-ctx.Done():
	}
}

func (a *ARI) handleStasisEnd(ctx context.Context, channelID string) {
	a.mu.Lock()
	bridgeID := a.bridges[channelID]
	delete(a.bridges, channelID)
	delete(a.chans, bridgeID)
	a.mu.Unlock()

	if bridgeID != "" {
		if err := a.delete(ctx, "/ari/bridges/"+bridgeID); err != nil {
			a.log.Error("destroy bridge failed", "bridge", bridgeID, "error", err)
		}
	}
}

// Originate dials a number through the configured trunk. The phone is
// passed as the Stasis app argument so the answered event can be
// correlated back to the contact.
func (a *ARI) Originate(ctx context.Context, phone string) error {
	dial := a.trunkPrefix + phone
	endpoint := fmt.Sprintf("PJSIP/%s@%s", dial, a.trunkName)

	body := map[string]any{
		"endpoint": endpoint,
		"app":      a.app,
		"appArgs":  phone,
		"callerId": a.callerID,
		"timeout":  originateTimeoutSecs,
	}
	if err := a.post(ctx, "/ari/channels", body, nil); err != nil {
		return fmt.Errorf("originate %s: %w", endpoint, err)
	}
	return nil
}

// Answered delivers answered-call events.
func (a *ARI) Answered() <-chan voice.AnsweredCall { return a.answered }

// Play plays a sound reference on the call's channel and waits for the
// playback to finish.
func (a *ARI) Play(ctx context.Context, bridgeID, sound string) error {
	a.mu.Lock()
	channelID := a.chans[bridgeID]
	a.mu.Unlock()
	if channelID == "" {
		return fmt.Errorf("no channel for bridge %s", bridgeID)
	}

	var playback struct {
		ID string `json:"id"`
	}
	body := map[string]any{"media": "sound:" + sound}
	if err := a.post(ctx, "/ari/channels/"+channelID+"/play", body, &playback); err != nil {
		return fmt.Errorf("play %s: %w", sound, err)
	}

	done := a.wait("playback:" + playback.ID)
	defer a.forget("playback:" + playback.ID)

	select {
	case <-done:
		return nil
	case <-time.After(playbackTimeout):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record captures a bounded audio segment from the bridge. The recording
// ends at the duration cap or after maxSilence seconds of silence.
func (a *ARI) Record(ctx context.Context, bridgeID, name string, maxSeconds int, maxSilence float64) (string, error) {
	body := map[string]any{
		"name":               name,
		"format":             "wav",
		"maxDurationSeconds": maxSeconds,
		"maxSilenceSeconds":  maxSilence,
		"ifExists":           "overwrite",
		"beep":               false,
		"terminateOn":        "none",
	}
	if err := a.post(ctx, "/ari/bridges/"+bridgeID+"/record", body, nil); err != nil {
		return "", fmt.Errorf("record %s: %w", name, err)
	}

	done := a.wait("recording:" + name)
	defer a.forget("recording:" + name)

	select {
	case result := <-done:
		if result == "RecordingFailed" {
			return "", fmt.Errorf("recording %s failed", name)
		}
	case <-time.After(time.Duration(maxSeconds+2) * time.Second):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return filepath.Join(a.recordingDir, name+".wav"), nil
}

// Hangup terminates a channel.
func (a *ARI) Hangup(ctx context.Context, channelID string) error {
	return a.delete(ctx, "/ari/channels/"+channelID)
}

// Connected reports whether the event websocket is up.
func (a *ARI) Connected() bool { return a.connected.Load() }

// wait returns a channel that receives the terminal event for key. An
// event that already arrived is delivered immediately; the playback id
// only becomes known after the command that triggers the event.
func (a *ARI) wait(key string) chan string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan string, 1)
	if result, ok := a.arrived[key]; ok {
		delete(a.arrived, key)
		ch <- result
		return ch
	}
	a.waiters[key] = ch
	return ch
}

func (a *ARI) notify(key, result string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.waiters[key]; ok {
		select {
		case ch <- result:
		default:
		}
		return
	}
	a.arrived[key] = result
}

func (a *ARI) forget(key string) {
	a.mu.Lock()
	delete(a.waiters, key)
	delete(a.arrived, key)
	a.mu.Unlock()
}

func (a *ARI) post(ctx context.Context, path string, body map[string]any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *ARI) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, nil)
}

func (a *ARI) do(req *http.Request, out any) error {
	req.SetBasicAuth(a.username, a.password)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ari %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
