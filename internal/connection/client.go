package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport opens sockets. Open must not block: the dial happens in the
// background and its outcome is reported through events.
type Transport interface {
	Open(rawURL string, events SocketEvents) (Socket, error)
}

// SocketEvents are the callbacks a Socket reports through. They may be
// called from any goroutine. OnClose is called exactly once.
type SocketEvents struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(code int, reason string)
}

// Socket is one open (or opening) connection.
type Socket interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Close starts a close with the given code and reason.
	Close(code int, reason string) error
}

// TransportConfig configures the WebSocket transport.
type TransportConfig struct {
	HandshakeTimeout time.Duration // Dial timeout
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping period (0 disables)
	Header           http.Header   // Extra dial headers
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// WSTransport is the gorilla/websocket Transport.
type WSTransport struct {
	cfg    TransportConfig
	logger *slog.Logger
}

// NewWSTransport creates a WebSocket transport.
func NewWSTransport(cfg TransportConfig, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultTransportConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = d.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	return &WSTransport{cfg: cfg, logger: logger}
}

// Open validates the URL and starts dialing in the background.
func (t *WSTransport) Open(rawURL string, events SocketEvents) (Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		cfg:    t.cfg,
		logger: t.logger.With("url", rawURL),
		url:    rawURL,
		events: events,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// wsSocket implements Socket over a gorilla connection.
type wsSocket struct {
	cfg    TransportConfig
	logger *slog.Logger
	url    string
	events SocketEvents

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu          sync.Mutex
	conn        *websocket.Conn
	closed      bool
	closeCode   int
	closeReason string

	closeOnce sync.Once
}

func (s *wsSocket) run() {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(s.ctx, s.url, s.cfg.Header)
	if err != nil {
		code, reason := s.localClose()
		if code == 0 {
			code, reason = CloseAbnormal, err.Error()
		}
		s.logger.Debug("websocket dial failed", "error", err)
		s.finish(code, reason)
		return
	}

	s.mu.Lock()
	if s.closed {
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		conn.Close()
		s.finish(code, reason)
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Debug("websocket connected")
	if s.events.OnOpen != nil {
		s.events.OnOpen()
	}

	if s.cfg.PingInterval > 0 {
		go s.heartbeatLoop(conn)
	}
	s.readLoop(conn)
}

// readLoop forwards frames until the connection fails or is closed.
func (s *wsSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := s.closeStatus(err)
			conn.Close()
			s.finish(code, reason)
			return
		}
		if s.events.OnMessage != nil {
			s.events.OnMessage(data)
		}
	}
}

// closeStatus prefers a locally requested close, then the peer's close
// frame, then 1006.
func (s *wsSocket) closeStatus(err error) (int, string) {
	if code, reason := s.localClose(); code != 0 {
		return code, reason
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CloseAbnormal, err.Error()
}

func (s *wsSocket) localClose() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return 0, ""
	}
	return s.closeCode, s.closeReason
}

func (s *wsSocket) finish(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		if s.events.OnClose != nil {
			s.events.OnClose(code, reason)
		}
	})
}

// heartbeatLoop sends keepalive pings so intermediaries keep the
// connection open.
func (s *wsSocket) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}

// Send writes raw bytes to the connection.
func (s *wsSocket) Send(data []byte) error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()

	if closed {
		return ErrAlreadyClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the connection down. The code and
// reason are what OnClose reports.
func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// Still dialing; run reports the close once the dial returns.
		s.cancel()
		return nil
	}

	s.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(wireCloseCode(code), reason),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	return conn.Close()
}

// wireCloseCode maps codes that may not appear in a close frame to 1000.
func wireCloseCode(code int) int {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseNormalClosure
	}
	return code
}
