package wsgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/smc-engine/smcengine/internal/bus"
	"github.com/smc-engine/smcengine/internal/config"
	"github.com/smc-engine/smcengine/internal/models"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		wsConn := NewConnection(uuid.NewString(), conn, r.URL.Query().Get("symbol"))
		hub.Register(wsConn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/alerts/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		WSPingInterval: 50 * time.Millisecond,
	}
}

func TestHub_DeliversAlertToConnectedClient(t *testing.T) {
	b := bus.New()
	hub := NewHub(testAPIConfig(), b)
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := newTestServer(t, hub)
	conn := dial(t, srv, "")

	time.Sleep(20 * time.Millisecond) // let Register complete
	b.Publish(context.Background(), models.Alert{ID: "1", Symbol: "AAPL", Type: models.AlertBOSEntry})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "AAPL")
}

func TestHub_SymbolFilterExcludesOtherSymbols(t *testing.T) {
	b := bus.New()
	hub := NewHub(testAPIConfig(), b)
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := newTestServer(t, hub)
	conn := dial(t, srv, "?symbol=AAPL")

	time.Sleep(20 * time.Millisecond)
	b.Publish(context.Background(), models.Alert{ID: "1", Symbol: "MSFT", Type: models.AlertBOSEntry})
	b.Publish(context.Background(), models.Alert{ID: "2", Symbol: "AAPL", Type: models.AlertBOSEntry})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "AAPL")
	require.NotContains(t, string(data), "MSFT")
}

func TestHub_UnregisterRemovesFromRegistry(t *testing.T) {
	b := bus.New()
	hub := NewHub(testAPIConfig(), b)
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := newTestServer(t, hub)
	conn := dial(t, srv, "")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, hub.registry.Count())

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.registry.Count() == 0
	}, time.Second, 10*time.Millisecond)
}
