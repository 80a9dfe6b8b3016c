package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub("sim", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readKind(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Kind
}

func TestHub_StatusThenEvents(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)

	assert.Equal(t, "status", readKind(t, conn))
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Record(context.Background(), domain.Event{Kind: domain.EventEntry, MarketID: "m1"}))
	assert.Equal(t, "entry", readKind(t, conn))
}

func TestHub_SubscriptionFiltersKinds(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)
	readKind(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Kinds: []domain.EventKind{domain.EventExit}}))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			return !c.wants(domain.EventSignal)
		}
		return false
	}, time.Second, 5*time.Millisecond)

	h.Record(context.Background(), domain.Event{Kind: domain.EventSignal})
	h.Record(context.Background(), domain.Event{Kind: domain.EventExit})
	assert.Equal(t, "exit", readKind(t, conn))
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv)
	readKind(t, conn)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
