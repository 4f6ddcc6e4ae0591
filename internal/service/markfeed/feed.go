package markfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	drepo "SignalDesk/internal/domain/repository"
	applogger "SignalDesk/pkg/logger"
)

// Feed keeps the latest mark price per symbol from a websocket stream.
// Frames are {"type":"trade"|"mark","data":[{"s":symbol,"p":price,"t":ms}]}.
type Feed struct {
	url            string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu    sync.RWMutex
	marks map[string]float64

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	closed    atomic.Bool

	l *applogger.Logger
}

func New(url string, symbols []string, reconnectDelay, pingInterval time.Duration) *Feed {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Feed{
		url:            url,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		marks:          make(map[string]float64),
	}
}

func (f *Feed) SetLogger(l *applogger.Logger) { f.l = l }

func (f *Feed) Mark(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.marks[symbol]
	return v, ok
}

func (f *Feed) IsConnected() bool { return f.connected.Load() }

// Run connects and reads until ctx is cancelled, reconnecting after any
// failure. Marks survive reconnects.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		f.connected.Store(false)
		if ctx.Err() != nil || f.closed.Load() {
			return nil
		}
		if f.l != nil {
			f.l.Warn("mark feed disconnected, reconnecting",
				applogger.Error(err),
				applogger.Duration("delay_ms", f.reconnectDelay),
			)
		}
		t := time.NewTimer(f.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("mark feed connect: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.connMu.Unlock()
		_ = conn.Close()
	}()

	for _, s := range f.symbols {
		if err := f.write(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	f.connected.Store(true)
	if f.l != nil {
		f.l.Info("mark feed connected", applogger.Strings("symbols", f.symbols))
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(sctx)
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("mark feed read: %w", err)
		}
		f.apply(b)
	}
}

type tick struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	T int64   `json:"t"`
}

type frame struct {
	Type string `json:"type"`
	Data []tick `json:"data"`
}

func (f *Feed) apply(b []byte) {
	var m frame
	if err := json.Unmarshal(b, &m); err != nil {
		return
	}
	if m.Type != "trade" && m.Type != "mark" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range m.Data {
		if d.S != "" && d.P > 0 {
			f.marks[d.S] = d.P
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	t := time.NewTicker(f.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.connMu.Lock()
			if f.conn != nil {
				_ = f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			f.connMu.Unlock()
		}
	}
}

func (f *Feed) write(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("mark feed not connected")
	}
	return f.conn.WriteJSON(v)
}

// Close stops reconnecting and drops the current connection.
func (f *Feed) Close() error {
	f.closed.Store(true)
	f.connected.Store(false)
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		return err
	}
	return nil
}

var _ drepo.MarkStream = (*Feed)(nil)
