package ledger_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rafa-canseco/TokenDistributor/internal/ledger"
	"github.com/rafa-canseco/TokenDistributor/internal/model"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func TestWSHub_BroadcastReachesAllClients(t *testing.T) {
	hub := ledger.NewWSHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	a := dialWS(t, srv)
	defer a.Close()
	b := dialWS(t, srv)
	defer b.Close()
	time.Sleep(50 * time.Millisecond) // let the hub register both

	hub.Broadcast(model.Event{ID: "1", Name: model.EventTransfer, Value: "42"})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev model.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("client read: %v", err)
		}
		if ev.Name != model.EventTransfer || ev.Value != "42" {
			t.Errorf("received %+v, want the broadcast transfer event", ev)
		}
	}
}

func TestWSHub_DeadClientPrunedDuringBroadcast(t *testing.T) {
	hub := ledger.NewWSHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	dead := dialWS(t, srv)
	alive := dialWS(t, srv)
	defer alive.Close()
	time.Sleep(50 * time.Millisecond)

	// Kill the first client's transport so the hub's next write to it
	// fails and removes it mid-broadcast, concurrently with the second
	// client's pumps.
	dead.UnderlyingConn().Close()

	for i := 0; i < 5; i++ {
		hub.Broadcast(model.Event{ID: strconv.Itoa(i), Name: model.EventTransfer})
	}

	alive.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.Event
	if err := alive.ReadJSON(&ev); err != nil {
		t.Fatalf("surviving client read: %v", err)
	}
	if ev.Name != model.EventTransfer {
		t.Errorf("received %+v, want a transfer event", ev)
	}
}
