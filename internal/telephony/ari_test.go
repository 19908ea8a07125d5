package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"outreach_backend/platform/logger"
)

type testConfig struct {
	url string
}

func (c testConfig) GetARIURL() string        { return c.url }
func (c testConfig) GetARIUsername() string   { return "ariuser" }
func (c testConfig) GetARIPassword() string   { return "aripass" }
func (c testConfig) GetARIApp() string        { return "voicebot" }
func (c testConfig) GetTrunkName() string     { return "trunk-out" }
func (c testConfig) GetTrunkPrefix() string   { return "9" }
func (c testConfig) GetTrunkCallerID() string { return "5550001111" }
func (c testConfig) GetSoundsPath() string    { return "/var/lib/asterisk/sounds/custom" }
func (c testConfig) GetRecordingPath() string { return "/var/spool/asterisk/recording" }
func (c testConfig) IsARIEnabled() bool       { return c.url != "" }

// ariServer fakes the Asterisk REST interface plus its event websocket.
type ariServer struct {
	t *testing.T

	mu       sync.Mutex
	requests []capturedRequest

	events chan any
	srv    *httptest.Server
}

type capturedRequest struct {
	method string
	path   string
	body   map[string]any
	auth   string
}

func newARIServer(t *testing.T) *ariServer {
	s := &ariServer{t: t, events: make(chan any, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ari/events", s.handleEvents)
	mux.HandleFunc("/", s.handleREST)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *ariServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.t.Errorf("websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			data, _ := json.Marshal(ev)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *ariServer) handleREST(w http.ResponseWriter, r *http.Request) {
	req := capturedRequest{method: r.Method, path: r.URL.Path}
	if user, pass, ok := r.BasicAuth(); ok {
		req.auth = user + ":" + pass
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req.body)
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/ari/bridges":
		json.NewEncoder(w).Encode(map[string]string{"id": "bridge-1"})
	default:
		if filepath.Base(r.URL.Path) == "play" {
			json.NewEncoder(w).Encode(map[string]string{"id": "pb-1"})
			return
		}
		w.Write([]byte("{}"))
	}
}

func (s *ariServer) find(method, path string) *capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.requests {
		if s.requests[i].method == method && s.requests[i].path == path {
			return &s.requests[i]
		}
	}
	return nil
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestARI(t *testing.T, srv *ariServer) *ARI {
	return New(testConfig{url: srv.srv.URL}, logger.Noop())
}

func TestOriginateBuildsTrunkEndpoint(t *testing.T) {
	srv := newARIServer(t)
	a := newTestARI(t, srv)

	if err := a.Originate(context.Background(), "525512345678"); err != nil {
		t.Fatalf("originate: %v", err)
	}

	req := srv.find(http.MethodPost, "/ari/channels")
	if req == nil {
		t.Fatal("no originate request captured")
	}
	if got := req.body["endpoint"]; got != "PJSIP/9525512345678@trunk-out" {
		t.Fatalf("endpoint = %v", got)
	}
	if got := req.body["appArgs"]; got != "525512345678" {
		t.Fatalf("appArgs = %v", got)
	}
	if got := req.body["callerId"]; got != "5550001111" {
		t.Fatalf("callerId = %v", got)
	}
	if got := req.body["timeout"]; got != float64(30) {
		t.Fatalf("timeout = %v", got)
	}
	if req.auth != "ariuser:aripass" {
		t.Fatalf("auth = %q", req.auth)
	}
}

func TestStasisStartAnswersBridgesAndEmits(t *testing.T) {
	srv := newARIServer(t)
	a := newTestARI(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !a.Connected() {
		t.Fatal("adapter should report connected")
	}

	srv.events <- map[string]any{
		"type":    "StasisStart",
		"args":    []string{"525512345678"},
		"channel": map[string]string{"id": "chan-1"},
	}

	select {
	case ev := <-a.Answered():
		if ev.ChannelID != "chan-1" || ev.BridgeID != "bridge-1" || ev.Phone != "525512345678" {
			t.Fatalf("answered event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no answered event")
	}

	if srv.find(http.MethodPost, "/ari/channels/chan-1/answer") == nil {
		t.Fatal("channel was not answered")
	}
	req := srv.find(http.MethodPost, "/ari/bridges/bridge-1/addChannel")
	if req == nil {
		t.Fatal("channel was not added to a bridge")
	}
	if got := req.body["channel"]; got != "chan-1" {
		t.Fatalf("addChannel body = %v", got)
	}

	srv.events <- map[string]any{
		"type":    "StasisEnd",
		"channel": map[string]string{"id": "chan-1"},
	}
	waitUntil(t, func() bool {
		return srv.find(http.MethodDelete, "/ari/bridges/bridge-1") != nil
	}, "bridge teardown")
}

func TestPlayWaitsForPlaybackFinished(t *testing.T) {
	srv := newARIServer(t)
	a := newTestARI(t, srv)
	a.chans["bridge-1"] = "chan-1"

	done := make(chan error, 1)
	go func() {
		done <- a.Play(context.Background(), "bridge-1", "custom/saludo")
	}()

	waitUntil(t, func() bool {
		return srv.find(http.MethodPost, "/ari/channels/chan-1/play") != nil
	}, "play request")
	select {
	case <-done:
		t.Fatal("play returned before playback finished")
	case <-time.After(50 * time.Millisecond):
	}

	a.notify("playback:pb-1", "PlaybackFinished")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("play: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("play did not return after playback finished")
	}

	req := srv.find(http.MethodPost, "/ari/channels/chan-1/play")
	if got := req.body["media"]; got != "sound:custom/saludo" {
		t.Fatalf("media = %v", got)
	}
}

func TestRecordReturnsRecordingPath(t *testing.T) {
	srv := newARIServer(t)
	a := newTestARI(t, srv)

	done := make(chan string, 1)
	go func() {
		path, err := a.Record(context.Background(), "bridge-1", "client_1", 8, 1.5)
		if err != nil {
			t.Errorf("record: %v", err)
		}
		done <- path
	}()

	waitUntil(t, func() bool {
		return srv.find(http.MethodPost, "/ari/bridges/bridge-1/record") != nil
	}, "record request")
	a.notify("recording:client_1", "RecordingFinished")

	select {
	case path := <-done:
		if path != "/var/spool/asterisk/recording/client_1.wav" {
			t.Fatalf("recording path = %q", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("record did not return")
	}

	req := srv.find(http.MethodPost, "/ari/bridges/bridge-1/record")
	if got := req.body["format"]; got != "wav" {
		t.Fatalf("format = %v", got)
	}
	if got := req.body["maxSilenceSeconds"]; got != 1.5 {
		t.Fatalf("maxSilenceSeconds = %v", got)
	}
	if got := req.body["ifExists"]; got != "overwrite" {
		t.Fatalf("ifExists = %v", got)
	}
}

func TestRecordFailureReturnsError(t *testing.T) {
	srv := newARIServer(t)
	a := newTestARI(t, srv)

	done := make(chan error, 1)
	go func() {
		_, err := a.Record(context.Background(), "bridge-1", "client_2", 8, 1.5)
		done <- err
	}()

	waitUntil(t, func() bool {
		return srv.find(http.MethodPost, "/ari/bridges/bridge-1/record") != nil
	}, "record request")
	a.notify("recording:client_2", "RecordingFailed")

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for a failed recording")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("record did not return")
	}
}
