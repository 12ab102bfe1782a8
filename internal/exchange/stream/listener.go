// Package stream provides a long-lived WebSocket Listener for feeds such as
// mark-price updates or a user-data stream of order/position events. The
// reconnect/backoff/ping machinery here is shared; message decoding is
// supplied by the caller via Handler. No adapter, the snapshot cache, or the
// dependency container constructs a Listener.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pingInterval     = 15 * time.Second
	readTimeout      = 45 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// Handler is invoked with each raw message frame read off the socket. It
// returns an error only for malformed frames; a returned error does not tear
// down the connection, it is just logged.
type Handler func(msg []byte) error

// SubscribeFunc sends whatever subscription frame(s) the venue expects,
// immediately after connecting (and on every reconnect).
type SubscribeFunc func(conn *websocket.Conn) error

// Listener manages one WebSocket connection with auto-reconnect and
// exponential backoff, dispatching every inbound frame to Handler.
type Listener struct {
	name      string
	url       string
	subscribe SubscribeFunc
	handle    Handler

	connMu sync.Mutex
	conn   *websocket.Conn

	log zerolog.Logger
}

// New builds a Listener for the given named feed (used only for logging,
// e.g. "binance-markprice" or "bitget-userdata").
func New(name, url string, subscribe SubscribeFunc, handle Handler, log zerolog.Logger) *Listener {
	return &Listener{
		name:      name,
		url:       url,
		subscribe: subscribe,
		handle:    handle,
		log:       log.With().Str("feed", name).Logger(),
	}
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.log.Warn().Err(err).Dur("backoff", backoff).Msg("stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close drops the current connection, if any; Run will then reconnect
// unless ctx has already been cancelled.
func (l *Listener) Close() error {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}

func (l *Listener) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	defer func() {
		l.connMu.Lock()
		conn.Close()
		l.conn = nil
		l.connMu.Unlock()
	}()

	if l.subscribe != nil {
		if err := l.subscribe(conn); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	l.log.Info().Msg("stream connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go l.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if err := l.handle(msg); err != nil {
			l.log.Warn().Err(err).Msg("discarding malformed frame")
		}
	}
}

func (l *Listener) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			l.connMu.Unlock()
			if err != nil {
				l.log.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
