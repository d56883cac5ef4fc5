package relay

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rickgao/signal-relay/internal/backplane"
	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/version"
)

func newTestServer(t *testing.T, id string, bp backplane.Backplane) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultRelayConfig()
	cfg.Instance.ID = id
	s := NewServer(cfg, bp, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		ts.Close()
	})
	return s, ts
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(data))
}

func TestServePush(t *testing.T) {
	s, ts := newTestServer(t, "relay-a", nil)
	c := newRecordingConn()
	s.Registry().Attach(c)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "lowercase fields",
			path:       PushPath,
			body:       `{"event":"amqpMessage","payload":{"q":"orders"}}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"delivered":true}`,
		},
		{
			name:       "producer casing on alias path",
			path:       PushAliasPath,
			body:       `{"Event":"amqpMessage","Payload":{"exchange":"ex","message":"hi"}}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"delivered":true}`,
		},
		{
			name:       "missing event name",
			path:       PushPath,
			body:       `{"payload":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "newline in event name",
			path:       PushPath,
			body:       `{"event":"x\ndata: {\"event\":\"amqpMessage\"}","payload":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not json",
			path:       PushPath,
			body:       `event=amqpMessage`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, ts.URL+tt.path, tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", status, tt.wantStatus, body)
			}
			if tt.wantBody != "" && body != tt.wantBody {
				t.Errorf("body = %s, want %s", body, tt.wantBody)
			}
			if tt.wantStatus == http.StatusBadRequest && !strings.Contains(body, `"error"`) {
				t.Errorf("error body = %s, want an error field", body)
			}
		})
	}

	if got := len(c.received()); got != 2 {
		t.Errorf("connection received %d envelopes, want 2", got)
	}
}

func TestServePush_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, "relay-a", nil)

	resp, err := http.Get(ts.URL + PushPath)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServeHealth(t *testing.T) {
	_, ts := newTestServer(t, "relay-a", nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestServeVersion(t *testing.T) {
	_, ts := newTestServer(t, "relay-a", nil)

	resp, err := http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version: %v", err)
	}
	defer resp.Body.Close()

	var info version.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != version.Version {
		t.Errorf("version = %q, want %q", info.Version, version.Version)
	}
}

func TestServeMetrics(t *testing.T) {
	_, ts := newTestServer(t, "relay-a", nil)
	post(t, ts.URL+PushPath, `{"event":"x","payload":1}`)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `signal_relay_pushes_total{result="delivered"} 1`) {
		t.Errorf("metrics missing push counter:\n%s", data)
	}
}

func TestRelay_EndToEndAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	network := backplane.NewMemoryNetwork()
	a, tsA := newTestServer(t, "relay-a", network.Adapter("lab"))
	b, tsB := newTestServer(t, "relay-b", network.Adapter("lab"))
	go a.Service().Run(ctx)
	go b.Service().Run(ctx)
	waitFor(t, "both subscriptions", func() bool { return network.Subscribers("lab") == 2 })

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(tsB.URL, "http")+"/hubs/signal", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	waitFor(t, "hub attach", func() bool { return b.Registry().Count() == 1 })

	status, body := post(t, tsA.URL+PushPath, `{"event":"amqpMessage","payload":{"q":"orders"}}`)
	if status != http.StatusOK {
		t.Fatalf("push status = %d, body %s", status, body)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := model.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Name() != model.EventAMQPMessage || string(env.Payload()) != `{"q":"orders"}` {
		t.Errorf("received %v", env)
	}
}

func TestServer_RunShutsDown(t *testing.T) {
	cfg := config.DefaultRelayConfig()
	s := NewServer(cfg, backplane.NewMemory("lab"), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	waitFor(t, "health", func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
