package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/queue"
)

const (
	// DefaultStreamURL is the public market channel.
	DefaultStreamURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameBytes = 16 << 20
)

// StreamConfig configures the market-data stream.
type StreamConfig struct {
	URL              string
	FlushInterval    time.Duration // subscription batching window
	ChunkSize        int           // asset ids per subscribe frame
	ReconnectBackoff time.Duration
	HandshakeTimeout time.Duration
	SubscribeBuffer  int // queued Subscribe calls before new ones are dropped
}

func (c *StreamConfig) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultStreamURL
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 50
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.SubscribeBuffer <= 0 {
		c.SubscribeBuffer = 4096
	}
}

// StreamHooks lets callers observe the stream without the client depending
// on a metrics package. Every hook is optional.
type StreamHooks struct {
	OnFrame     func(FrameKind)
	OnConnect   func(reconnect bool)
	OnDrop      func()
	OnSubscribe func(ids int)
}

// StreamClient keeps one websocket connection to the market channel open,
// batches subscriptions onto it and publishes decoded updates to a
// single-producer channel. It does not replay subscriptions after a
// reconnect; it signals Reconnected and the owner resubscribes.
type StreamClient struct {
	cfg    StreamConfig
	out    *queue.Channel[domain.OrderBookUpdate]
	subCh  chan []string
	recon  chan struct{}
	hooks  StreamHooks
	logger *slog.Logger

	connected atomic.Bool
}

var _ domain.Subscriber = (*StreamClient)(nil)

// NewStreamClient creates a client that publishes to out. The client's
// reader goroutine is the channel's only producer.
func NewStreamClient(cfg StreamConfig, out *queue.Channel[domain.OrderBookUpdate], hooks StreamHooks, logger *slog.Logger) *StreamClient {
	cfg.setDefaults()
	return &StreamClient{
		cfg:    cfg,
		out:    out,
		subCh:  make(chan []string, cfg.SubscribeBuffer),
		recon:  make(chan struct{}, 1),
		hooks:  hooks,
		logger: logger.With(slog.String("component", "stream")),
	}
}

// Subscribe queues asset ids for the next flush. It never blocks; when the
// queue is full the request is dropped with a warning.
func (s *StreamClient) Subscribe(assetIDs []string) {
	if len(assetIDs) == 0 {
		return
	}
	ids := append([]string(nil), assetIDs...)
	select {
	case s.subCh <- ids:
	default:
		s.logger.Warn("subscription queue full, dropping request", slog.Int("ids", len(ids)))
	}
}

// Reconnected fires once after each successful reconnect (not the first
// connection).
func (s *StreamClient) Reconnected() <-chan struct{} {
	return s.recon
}

// Connected reports whether a connection is currently open.
func (s *StreamClient) Connected() bool {
	return s.connected.Load()
}

// Run maintains the connection until ctx is cancelled. Read errors and close
// frames tear the connection down; the client waits ReconnectBackoff and
// dials again. Subscriptions that were not flushed survive the reconnect.
func (s *StreamClient) Run(ctx context.Context) error {
	var pending []string
	everConnected := false

	for {
		err := s.session(ctx, &pending, &everConnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WarnContext(ctx, "stream disconnected",
			slog.String("error", errString(err)),
			slog.Duration("backoff", s.cfg.ReconnectBackoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectBackoff):
		}
		s.logger.InfoContext(ctx, "stream reconnecting")
	}
}

// session runs one connection. The reader goroutine has exited by the time
// session returns, so at most one producer ever touches the channel.
func (s *StreamClient) session(ctx context.Context, pending *[]string, everConnected *bool) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/stream: dial: %w", err)
	}
	defer conn.Close()

	reconnect := *everConnected
	*everConnected = true
	s.connected.Store(true)
	defer s.connected.Store(false)

	s.logger.InfoContext(ctx, "stream connected", slog.String("url", s.cfg.URL), slog.Bool("reconnect", reconnect))
	if s.hooks.OnConnect != nil {
		s.hooks.OnConnect(reconnect)
	}
	if reconnect {
		select {
		case s.recon <- struct{}{}:
		default:
		}
	}

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	readerDone := make(chan error, 1)
	go s.readLoop(conn, readerDone)

	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			<-readerDone
			return ctx.Err()

		case err := <-readerDone:
			return err

		case ids := <-s.subCh:
			*pending = append(*pending, ids...)

		case <-flush.C:
			if len(*pending) == 0 {
				continue
			}
			batch := sortDedup(*pending)
			if err := s.flush(conn, batch); err != nil {
				conn.Close()
				<-readerDone
				return err
			}
			*pending = (*pending)[:0]

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				<-readerDone
				return fmt.Errorf("polymarket/stream: ping: %w", err)
			}
		}
	}
}

// flush writes batch as subscribe frames of at most ChunkSize ids.
func (s *StreamClient) flush(conn *websocket.Conn, batch []string) error {
	for start := 0; start < len(batch); start += s.cfg.ChunkSize {
		end := min(start+s.cfg.ChunkSize, len(batch))
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(subscribeFrame{AssetsIDs: batch[start:end], Type: "market"}); err != nil {
			return fmt.Errorf("polymarket/stream: subscribe: %w", err)
		}
	}
	s.logger.Debug("subscriptions flushed", slog.Int("ids", len(batch)))
	if s.hooks.OnSubscribe != nil {
		s.hooks.OnSubscribe(len(batch))
	}
	return nil
}

func (s *StreamClient) readLoop(conn *websocket.Conn, done chan<- error) {
	logged := make(map[FrameKind]bool)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			done <- fmt.Errorf("polymarket/stream: read: %w", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}

		updates, kind := decodeFrame(data, time.Now())
		if s.hooks.OnFrame != nil {
			s.hooks.OnFrame(kind)
		}
		if kind.Ignored() {
			if kind != FrameTrade && kind != FrameKeepAlive && !logged[kind] {
				logged[kind] = true
				s.logger.Debug("ignoring frame, logged once per connection",
					slog.String("kind", kind.String()),
					slog.String("sample", truncate(data, 120)),
				)
			}
			continue
		}

		for _, u := range updates {
			if s.out.Send(u) {
				continue
			}
			if s.hooks.OnDrop != nil {
				s.hooks.OnDrop()
			}
			if n := s.out.Dropped(); n == 1 || n%1000 == 0 {
				s.logger.Warn("tick channel full, dropping newest update", slog.Uint64("dropped_total", n))
			}
		}
	}
}

// sortDedup returns the sorted unique ids.
func sortDedup(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	w := 0
	for i, id := range out {
		if i > 0 && id == out[w-1] {
			continue
		}
		out[w] = id
		w++
	}
	return out[:w]
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
