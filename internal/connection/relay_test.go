package connection

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/relay"
	"github.com/rickgao/signal-relay/internal/transport"
)

func newRelay(t *testing.T, transports ...string) (*relay.Server, string) {
	t.Helper()
	cfg := config.DefaultRelayConfig()
	cfg.Hub.PollTimeout = 200 * time.Millisecond
	cfg.Hub.Transports = transports
	s := relay.NewServer(cfg, nil, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts.URL
}

func TestManager_ReceivesPushesOverEachTransport(t *testing.T) {
	all := []string{transport.WebSockets, transport.ServerSentEvents, transport.LongPolling}

	for _, name := range all {
		t.Run(name, func(t *testing.T) {
			srv, url := newRelay(t, name)

			transports, err := transport.Build(all, transport.Options{PollTimeout: 2 * time.Second}, nil)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			cfg := DefaultManagerConfig()
			cfg.BaseURL = url
			cfg.ConnectTimeout = 5 * time.Second
			m := NewManager(cfg, transports, nil)
			defer m.Stop(context.Background())

			sub := m.Subscribe()
			defer sub.Close()

			if err := m.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			waitState(t, m, Connected)
			if got := m.Stats().Transport; got != name {
				t.Fatalf("Transport = %q, want %q", got, name)
			}

			// The hub attaches SSE and long-poll sessions as part of the handshake; wait for
			// the registry to catch up before pushing.
			deadline := time.Now().Add(2 * time.Second)
			for srv.Registry().Count() != 1 {
				if time.Now().After(deadline) {
					t.Fatalf("registry Count() = %d, want 1", srv.Registry().Count())
				}
				time.Sleep(5 * time.Millisecond)
			}

			env := model.MustEnvelope(model.EventAMQPMessage, map[string]string{"q": "orders"})
			if _, err := srv.Service().Push(context.Background(), env); err != nil {
				t.Fatalf("Push() error = %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			got, ok := sub.Next(ctx)
			if !ok {
				t.Fatal("no envelope received")
			}
			if !got.Equal(env) {
				t.Errorf("received %s, want %s", got, env)
			}
		})
	}
}
