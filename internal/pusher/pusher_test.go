package pusher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_Body(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"delivered":true}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	require.NoError(t, c.Send(context.Background(), "amqpMessage", map[string]string{"q": "orders"}))

	assert.Equal(t, "amqpMessage", got["Event"])
	assert.Equal(t, map[string]any{"q": "orders"}, got["Payload"])
}

func TestSend_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"malformed envelope"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	err := c.Send(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Contains(t, err.Error(), "malformed envelope")

	assert.Error(t, c.Send(context.Background(), "", nil), "empty event name")
}

func TestPush_SwallowsFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, WithTimeout(20*time.Millisecond))

	start := time.Now()
	c.Push(context.Background(), "amqpMessage", nil)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "push should give up at the timeout")
	assert.Equal(t, int32(1), calls.Load())

	// Unreachable relay.
	NewClient("http://127.0.0.1:1/push-event").Push(context.Background(), "amqpMessage", nil)
}

func TestPush_DeliversThroughRelay(t *testing.T) {
	srv := relay.NewServer(config.DefaultRelayConfig(), nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := NewClient(ts.URL + relay.PushPath)
	require.NoError(t, c.Send(context.Background(), model.EventQueueCount, map[string]any{"queue": "orders", "count": 3}))
}
