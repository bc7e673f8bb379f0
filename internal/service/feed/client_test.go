package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"FinFuse/pkg/logger"

	"github.com/gorilla/websocket"
)

func newFeedServer(t *testing.T, subscribed chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub["symbol"]

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"signal","data":[{"symbol":"BTC","action":"buy","confidence":81,"source":"technical"},`+
				`{"symbol":"BTC","action":"sell","confidence":40,"source":"sentiment"}]}`))
		time.Sleep(100 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientStreamsSignalFrames(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := newFeedServer(t, subscribed)
	c := New(Config{URL: wsURL(srv), Token: "secret", Symbols: []string{"BTC"}}, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if !c.IsConnected() {
		t.Fatalf("client should report connected")
	}
	if sym := <-subscribed; sym != "BTC" {
		t.Fatalf("subscribed to %q", sym)
	}

	sigs, errs := c.Read(ctx)
	var got []string
	for len(got) < 2 {
		select {
		case s, ok := <-sigs:
			if !ok {
				t.Fatalf("stream closed after %d signals", len(got))
			}
			got = append(got, s.Source+":"+s.Action)
		case err := <-errs:
			t.Fatalf("unexpected error before signals: %v", err)
		case <-ctx.Done():
			t.Fatalf("timed out")
		}
	}
	if got[0] != "technical:buy" || got[1] != "sentiment:sell" {
		t.Fatalf("unexpected signals %v", got)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("expected read error after server closed")
		}
	case <-ctx.Done():
		t.Fatalf("no error after server closed")
	}
}

func TestClientConnectRejected(t *testing.T) {
	srv := newFeedServer(t, make(chan string, 1))
	c := New(Config{URL: wsURL(srv), Token: "wrong"}, logger.NewNop())
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if c.IsConnected() {
		t.Fatalf("client must not report connected")
	}
}
