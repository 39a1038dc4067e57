package dydx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// FrameHandler is called for every decoded market-data frame.
type FrameHandler func(Frame)

// DownHandler is called once when the session gives up reconnecting, so the
// caller can flatten exposure.
type DownHandler func(err error)

// ReconnectHandler is called after every successful reconnect, once
// subscriptions have been restored. Book state accumulated before the drop
// is stale and must be invalidated until fresh snapshots arrive.
type ReconnectHandler func()

// Session is a WebSocket client for the dYdX v4 indexer feed. It manages the
// connection lifecycle, keep-alive, reconnection with exponential backoff,
// and subscription restoration, and hands every decoded frame to a single
// handler.
type Session struct {
	wsURL  string
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	// connStop is closed when conn is replaced, so the loops serving the
	// previous connection stop instead of touching the new one.
	connStop chan struct{}

	retryDelay time.Duration

	// Subscriptions to restore on reconnect, keyed by channel+market.
	subscriptions map[string]ControlFrame

	maxAttempts int // reconnect budget before escalating; 0 = unbounded

	onFrame     FrameHandler
	onDown      DownHandler
	onReconnect ReconnectHandler
	handlerMu   sync.RWMutex

	// done is closed when the session is shut down.
	done chan struct{}
}

// NewSession creates a session for the given indexer WebSocket URL, e.g.
// "wss://indexer.dydx.trade/v4/ws". maxReconnectAttempts bounds consecutive
// failed reconnects before the down handler fires; pass 0 to retry forever.
func NewSession(wsURL string, maxReconnectAttempts int, logger *slog.Logger) *Session {
	return &Session{
		wsURL:         wsURL,
		maxAttempts:   maxReconnectAttempts,
		retryDelay:    reconnectDelay,
		subscriptions: make(map[string]ControlFrame),
		logger:        logger.With(slog.String("component", "dydx_ws")),
		done:          make(chan struct{}),
	}
}

// OnFrame registers the frame handler. Must be called before Connect.
func (s *Session) OnFrame(h FrameHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onFrame = h
}

// OnDown registers the handler invoked when the reconnect budget is spent.
func (s *Session) OnDown(h DownHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onDown = h
}

// OnReconnect registers the handler invoked after each successful reconnect.
func (s *Session) OnReconnect(h ReconnectHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onReconnect = h
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Tracked subscriptions are restored after a reconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("dydx: connect: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dydx: connect: %w", err)
	}

	// Retire the loops still serving the previous connection.
	if s.connStop != nil {
		close(s.connStop)
	}
	stop := make(chan struct{})
	s.connStop = stop
	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop(conn)
	go s.pingLoop(conn, stop)

	for _, cmd := range s.subscriptions {
		if err := s.sendLocked(cmd); err != nil {
			return fmt.Errorf("dydx: restore subscription %s/%s: %w", cmd.Channel, cmd.ID, err)
		}
	}

	return nil
}

// Subscribe sends a subscribe command for the channel and market and tracks
// it for restoration after reconnects. Re-subscribing an already-tracked
// pair is a no-op; no duplicate control frame goes out.
func (s *Session) Subscribe(ctx context.Context, ch Channel, market string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("dydx: subscribe: not connected")
	}

	key := subKey(ch, market)
	if _, exists := s.subscriptions[key]; exists {
		return nil
	}

	cmd := SubscribeFrame(ch, market)
	if err := s.sendLocked(cmd); err != nil {
		return fmt.Errorf("dydx: subscribe %s/%s: %w", ch, market, err)
	}
	s.subscriptions[key] = cmd
	return nil
}

// Unsubscribe sends an unsubscribe command and drops the tracked
// subscription. Unsubscribing a pair that is not tracked is a no-op.
func (s *Session) Unsubscribe(ctx context.Context, ch Channel, market string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("dydx: unsubscribe: not connected")
	}

	key := subKey(ch, market)
	if _, exists := s.subscriptions[key]; !exists {
		return nil
	}

	if err := s.sendLocked(UnsubscribeFrame(ch, market)); err != nil {
		return fmt.Errorf("dydx: unsubscribe %s/%s: %w", ch, market, err)
	}
	delete(s.subscriptions, key)
	return nil
}

// Close shuts down the connection and stops the loops. Safe to call more
// than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}

	return nil
}

func subKey(ch Channel, market string) string {
	return string(ch) + "/" + market
}

// sendLocked marshals and writes a control frame. Caller must hold s.mu.
func (s *Session) sendLocked(cmd ControlFrame) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}

	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads raw messages from one connection, decodes them once, and
// dispatches frames to the handler. On disconnect it hands off to reconnect.
// It only ever closes the connection it was started for; by the time it
// exits, reconnect may have installed a fresh one.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			s.reconnect(err)
			return // a new readLoop is started by reconnect -> Connect
		}

		s.dispatch(message)
	}
}

// pingLoop sends periodic pings on one connection. stop is closed when that
// connection is replaced.
func (s *Session) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one raw message and forwards market-data frames.
func (s *Session) dispatch(raw []byte) {
	frame, err := ParseFrame(raw)
	if err != nil {
		s.logger.Warn("dropping undecodable frame",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(raw)),
		)
		return
	}
	if frame.Dropped > 0 {
		s.logger.Warn("skipped malformed entries in frame",
			slog.String("market", frame.Market),
			slog.String("channel", string(frame.Channel)),
			slog.Int("dropped", frame.Dropped),
		)
	}
	if frame.Kind != FrameSnapshot && frame.Kind != FrameUpdate {
		return
	}

	s.handlerMu.RLock()
	h := s.onFrame
	s.handlerMu.RUnlock()

	if h != nil {
		h(frame)
	}
}

// reconnect re-establishes the connection with exponential backoff. When the
// attempt budget is spent it invokes the down handler and gives up.
func (s *Session) reconnect(cause error) {
	delay := s.retryDelay
	attempts := 0

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if s.maxAttempts > 0 && attempts >= s.maxAttempts {
			s.logger.Error("reconnect budget exhausted",
				slog.Int("attempts", attempts),
				slog.String("cause", cause.Error()),
			)
			s.handlerMu.RLock()
			down := s.onDown
			s.handlerMu.RUnlock()
			if down != nil {
				down(fmt.Errorf("dydx: reconnect failed after %d attempts: %w", attempts, domain.ErrWSDisconnect))
			}
			return
		}

		time.Sleep(delay)
		attempts++

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			s.logger.Info("reconnected", slog.Int("attempts", attempts))
			s.handlerMu.RLock()
			onReconnect := s.onReconnect
			s.handlerMu.RUnlock()
			if onReconnect != nil {
				onReconnect()
			}
			return
		}

		s.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
