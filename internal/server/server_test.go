package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/signal-monitor/internal/app"
	"github.com/petems/signal-monitor/internal/audio"
	"github.com/petems/signal-monitor/internal/graph"
	"github.com/rs/zerolog"
)

// Mock implementations for testing
type fakeController struct {
	mu       sync.Mutex
	snap     app.Snapshot
	startErr error
	calls    []string
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Start(context.Context) error {
	f.record("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.snap.State = app.StateError
		return f.startErr
	}
	f.snap.State = app.StateActive
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.record("stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.State = app.StateIdle
	return nil
}

func (f *fakeController) SelectDevice(_ context.Context, id string) error {
	f.record("select:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.SelectedDeviceID = id
	return nil
}

func (f *fakeController) SetEchoEnabled(_ context.Context, enabled bool) error {
	if enabled {
		f.record("echo:on")
	} else {
		f.record("echo:off")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Params.EchoEnabled = enabled
	return nil
}

func (f *fakeController) SetDelayMs(_ context.Context, ms int) error {
	f.record("delay")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Params.DelayMs = ms
	return nil
}

func (f *fakeController) Snapshot() app.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestServer(t *testing.T) (*fakeController, *httptest.Server) {
	t.Helper()
	ctrl := &fakeController{snap: app.Snapshot{
		Devices:          []audio.Device{{ID: "a", Label: "Built-in"}},
		SelectedDeviceID: "a",
		Params:           graph.Params{DelayMs: 300},
	}}
	ts := httptest.NewServer(New(ctrl, zerolog.Nop()).Routes())
	t.Cleanup(ts.Close)
	return ctrl, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readType reads messages until one of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, cmdType, data string) {
	t.Helper()
	cmd := WSCommand{Type: cmdType}
	if data != "" {
		cmd.Data = json.RawMessage(data)
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("send %s: %v", cmdType, err)
	}
}

func TestStateEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	var snap map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap["state"] != "idle" || snap["selected_device_id"] != "a" {
		t.Fatalf("unexpected snapshot %v", snap)
	}

	post, err := http.Post(ts.URL+"/api/state", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", post.StatusCode)
	}
}

func TestWebSocketPushesState(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	msg := readType(t, conn, "state")
	if msg["state"] != "idle" {
		t.Fatalf("expected idle state, got %v", msg["state"])
	}
	params, ok := msg["params"].(map[string]any)
	if !ok || params["delay_ms"] != float64(300) {
		t.Fatalf("expected params in state message, got %v", msg["params"])
	}

	// Pushes keep coming on the ticker
	readType(t, conn, "state")
}

func TestWebSocketCommands(t *testing.T) {
	ctrl, ts := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "start", "")
	if res := readType(t, conn, "start_result"); res["success"] != true {
		t.Fatalf("expected start success, got %v", res)
	}

	send(t, conn, "set_delay", `{"delay_ms": 800}`)
	if res := readType(t, conn, "set_delay_result"); res["success"] != true {
		t.Fatalf("expected set_delay success, got %v", res)
	}

	send(t, conn, "set_echo", `{"enabled": false}`)
	if res := readType(t, conn, "set_echo_result"); res["success"] != true {
		t.Fatalf("expected set_echo success, got %v", res)
	}

	send(t, conn, "select_device", `{"device_id": "b"}`)
	if res := readType(t, conn, "select_device_result"); res["success"] != true {
		t.Fatalf("expected select_device success, got %v", res)
	}

	send(t, conn, "stop", "")
	if res := readType(t, conn, "stop_result"); res["success"] != true {
		t.Fatalf("expected stop success, got %v", res)
	}

	want := []string{"start", "delay", "echo:off", "select:b", "stop"}
	if got := ctrl.getCalls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	snap := ctrl.Snapshot()
	if snap.Params.DelayMs != 800 || snap.SelectedDeviceID != "b" {
		t.Fatalf("unexpected controller state %+v", snap)
	}
}

func TestWebSocketRejectsInvalidCommands(t *testing.T) {
	tests := []struct {
		name    string
		cmdType string
		data    string
		field   string
		message string
	}{
		{name: "delay above range", cmdType: "set_delay", data: `{"delay_ms": 2500}`, field: "delay_ms", message: "must be less than or equal to 2000"},
		{name: "negative delay", cmdType: "set_delay", data: `{"delay_ms": -1}`, field: "delay_ms", message: "must be greater than or equal to 0"},
		{name: "missing delay", cmdType: "set_delay", data: `{}`, field: "delay_ms", message: "is required"},
		{name: "missing echo flag", cmdType: "set_echo", data: `{}`, field: "enabled", message: "is required"},
		{name: "missing device", cmdType: "select_device", data: `{"device_id": ""}`, field: "device_id", message: "is required"},
	}

	ctrl, ts := newTestServer(t)
	conn := dial(t, ts)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.cmdType, tt.data)
			res := readType(t, conn, tt.cmdType+"_result")
			if res["success"] != false {
				t.Fatalf("expected failure, got %v", res)
			}

			verr, ok := res["error"].(map[string]any)
			if !ok {
				t.Fatalf("expected validation error object, got %v", res["error"])
			}
			errs, _ := verr["errors"].([]any)
			if len(errs) != 1 {
				t.Fatalf("expected one field error, got %v", verr)
			}
			fe := errs[0].(map[string]any)
			if fe["field"] != tt.field || fe["message"] != tt.message {
				t.Fatalf("expected %s %q, got %v", tt.field, tt.message, fe)
			}
		})
	}

	if calls := ctrl.getCalls(); len(calls) != 0 {
		t.Fatalf("expected no controller calls for invalid commands, got %v", calls)
	}
}

func TestWebSocketMalformedAndUnknown(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "set_delay", `"soon"`)
	res := readType(t, conn, "set_delay_result")
	if msg, _ := res["error"].(string); !strings.HasPrefix(msg, "invalid JSON") {
		t.Fatalf("expected invalid JSON error, got %v", res["error"])
	}

	send(t, conn, "reboot", "")
	res = readType(t, conn, "reboot_result")
	if res["success"] != false {
		t.Fatalf("expected unknown command failure, got %v", res)
	}
}

func TestStartFailureReportsUserMessage(t *testing.T) {
	ctrl, ts := newTestServer(t)
	ctrl.startErr = audio.NewAcquisitionError(audio.ErrPermissionDenied, nil, "denied")
	conn := dial(t, ts)

	send(t, conn, "start", "")
	res := readType(t, conn, "start_result")
	if res["success"] != false || res["error"] != app.ErrorMessage {
		t.Fatalf("expected generic failure message, got %v", res)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{name: "no origin", origin: "", host: "example.com:8080", want: true},
		{name: "localhost", origin: "http://localhost:3000", host: "127.0.0.1:8080", want: true},
		{name: "loopback ip", origin: "http://127.0.0.1:3000", host: "example.com", want: true},
		{name: "ipv6 loopback", origin: "http://[::1]:3000", host: "example.com", want: true},
		{name: "same host", origin: "http://monitor.lan", host: "monitor.lan:8080", want: true},
		{name: "private range", origin: "http://192.168.1.20", host: "monitor.lan", want: true},
		{name: "foreign site", origin: "https://evil.example", host: "monitor.lan:8080", want: false},
		{name: "public ip", origin: "http://8.8.8.8", host: "monitor.lan", want: false},
		{name: "invalid url", origin: "http://%zz", host: "monitor.lan", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(r, zerolog.Nop()); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
