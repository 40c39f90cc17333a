package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cdex/paper-engine/internal/api"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := api.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	// Registration runs through the hub loop; keep broadcasting until the
	// client is wired in and receives.
	go func() {
		for i := 0; i < 50; i++ {
			hub.Broadcast(api.WSMessage{Type: "price_update", AssetID: "bitcoin", Price: "104500"})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "price_update") {
		t.Errorf("unexpected message: %s", data)
	}
}

func TestHub_BroadcastSurvivesDeadClient(t *testing.T) {
	hub := api.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	alive := dialWS(t, srv)
	defer alive.Close()
	dead := dialWS(t, srv)
	dead.Close() // abrupt teardown, no close handshake

	// Broadcasting must evict the dead connection without disturbing the
	// survivor, concurrent with the per-connection ping goroutines reading
	// the client set.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			hub.Broadcast(api.WSMessage{Type: "price_update", AssetID: "bitcoin", Price: "104500"})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	alive.SetReadDeadline(time.Now().Add(3 * time.Second))
	received := 0
	for received < 5 {
		if _, _, err := alive.ReadMessage(); err != nil {
			t.Fatalf("surviving client lost its stream after %d messages: %v", received, err)
		}
		received++
	}
	<-done
}
