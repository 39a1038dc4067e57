package dydx

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSessionReconnectKeepsFreshConnection(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	hold := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if dials.Add(1) == 1 {
			// Drop the first connection right away to force a reconnect.
			conn.Close()
			return
		}
		frame := `{"type":"channel_data","channel":"v4_orderbook","id":"BTC-USD","contents":{"bids":[["100","1"]],"asks":[]}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		<-hold
		conn.Close()
	}))
	defer srv.Close()
	defer close(hold)

	s := NewSession(wsURL(srv), 5, slog.New(slog.DiscardHandler))
	s.retryDelay = 10 * time.Millisecond

	frames := make(chan Frame, 16)
	s.OnFrame(func(f Frame) { frames <- f })

	reconnected := make(chan struct{}, 1)
	s.OnReconnect(func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})

	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not reconnect")
	}

	// A frame delivered after the reconnect proves the new connection
	// survived the old read loop's teardown.
	select {
	case f := <-frames:
		assert.Equal(t, "BTC-USD", f.Market)
		assert.Equal(t, FrameUpdate, f.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("no frame arrived on the reconnected connection")
	}

	// Give a flapping client time to show itself: the dial count must stay
	// at exactly two (initial connect plus one reconnect).
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(2), dials.Load())
}

func TestSessionReconnectBudgetFiresDown(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 1 {
			// Refuse the upgrade so every reconnect attempt fails.
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	s := NewSession(wsURL(srv), 2, slog.New(slog.DiscardHandler))
	s.retryDelay = 5 * time.Millisecond

	down := make(chan error, 1)
	s.OnDown(func(err error) { down <- err })

	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	select {
	case err := <-down:
		assert.ErrorIs(t, err, domain.ErrWSDisconnect)
	case <-time.After(3 * time.Second):
		t.Fatal("down handler did not fire after the reconnect budget")
	}
}
