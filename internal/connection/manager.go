package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/gateway-companion/internal/latency"
	"github.com/rickgao/gateway-companion/internal/loop"
	"github.com/rickgao/gateway-companion/internal/protocol"
	"github.com/rickgao/gateway-companion/internal/resolver"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithScheduler replaces the wall-clock loop, usually with a loop.Fake.
func WithScheduler(s loop.Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRand sets the source of uniform [0,1) draws used for backoff jitter.
func WithRand(fn func() float64) Option {
	return func(m *Manager) { m.rand = fn }
}

// WithIDGenerator sets the request id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// pendingRequest is a request awaiting its response.
type pendingRequest struct {
	id          string
	kind        protocol.Kind
	method      string
	methodIndex int
	sentAt      time.Time
	timeout     loop.Timer
}

// Manager owns one gateway connection: handshake, reconnect with backoff,
// stale watchdog, and single-flight state polling.
//
// Public methods post to the control goroutine and return immediately.
// Every field below the options is touched only from that goroutine.
type Manager struct {
	cfg       ManagerConfig
	transport Transport
	sink      EventSink
	logger    *slog.Logger
	sched     loop.Scheduler
	rand      func() float64
	newID     func() string

	instanceID string
	resolver   *resolver.Resolver
	latency    *latency.Tracker

	// Lifecycle
	gen       uint64 // Bumped on every teardown; stale callbacks compare against it
	socket    Socket
	gateway   GatewayConfig
	phase     Phase
	destroyed bool
	disarmed  bool
	paused    bool

	targetURL          string
	connectedURL       string
	connectedSince     time.Time
	firstConnectedAt   time.Time
	lastDisconnectedAt time.Time
	lastClose          *CloseInfo
	connectedTotal     time.Duration

	connectCount     int
	attemptCount     int
	reconnectAttempt int

	// Requests
	pending         map[string]*pendingRequest
	statePending    string
	resetPending    string
	lastPollAt      time.Time
	lastMessageAt   time.Time
	pluginAvailable bool

	sent, succeeded, failed int64

	// Timers
	watchdog       loop.Timer
	poller         loop.Timer
	reconnectTimer loop.Timer
	countdown      loop.Timer

	published atomic.Pointer[view]
}

// NewManager creates a Manager. A nil transport uses the WebSocket
// transport; a nil sink discards events.
func NewManager(cfg ManagerConfig, transport Transport, sink EventSink, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		transport: transport,
		sink:      sink,
		phase:     PhaseDisconnected,
		pending:   make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.sched == nil {
		m.sched = loop.New()
	}
	if m.rand == nil {
		m.rand = rand.Float64
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.transport == nil {
		m.transport = NewWSTransport(DefaultTransportConfig(), m.logger)
	}
	if m.sink == nil {
		m.sink = discardSink{}
	}

	m.instanceID = uuid.NewString()
	m.resolver = resolver.New(m.cfg.StateMethods, m.cfg.ResetMethods)
	m.latency = latency.NewTracker(m.cfg.LatencyWindow)
	m.logger = m.logger.With("instance_id", m.instanceID)

	m.publish()
	return m
}

// Run drives the control goroutine until ctx is cancelled. It is only
// needed with the default scheduler.
func (m *Manager) Run(ctx context.Context) error {
	r, ok := m.sched.(interface{ Run(context.Context) error })
	if !ok {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.Run(ctx)
}

// InstanceID returns the id sent in every handshake of this manager.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Connect tears down any current connection and connects to cfg.
func (m *Manager) Connect(cfg GatewayConfig) {
	m.post(func() { m.connect(cfg, false) })
}

// ForceReconnect resets backoff, tears everything down and, when cfg is
// non-nil, connects to it. With nil the manager stays disarmed until the
// next Connect.
func (m *Manager) ForceReconnect(cfg *GatewayConfig) {
	m.post(func() {
		if m.destroyed {
			return
		}
		m.reconnectAttempt = 0
		m.lastDisconnectedAt = m.sched.Now()
		m.teardown()
		m.latency.Reset()
		m.emit(Event{Kind: EventPluginStateReset})
		m.emit(Event{Kind: EventStateChange, Phase: PhaseDisconnected})

		if cfg == nil {
			m.disarmed = true
			m.logger.Info("connection disarmed")
			return
		}
		m.connect(*cfg, false)
	})
}

// Destroy permanently stops the manager. Later calls are no-ops.
func (m *Manager) Destroy() {
	m.post(func() {
		if m.destroyed {
			return
		}
		if m.phase != PhaseDisconnected {
			m.lastDisconnectedAt = m.sched.Now()
		}
		m.teardown()
		m.destroyed = true
		m.latency.Reset()
		m.emit(Event{Kind: EventPluginStateReset})
		m.emit(Event{Kind: EventStateChange, Phase: PhaseDisconnected})
		m.logger.Info("connection manager destroyed")
	})
}

// PausePolling stops state requests without stopping the ticker.
func (m *Manager) PausePolling() {
	m.post(func() {
		if m.destroyed {
			return
		}
		m.paused = true
	})
}

// ResumePolling clears the pause, resets the pending and rate-limit guards,
// rebases the watchdog and polls once.
func (m *Manager) ResumePolling() {
	m.post(func() {
		if m.destroyed {
			return
		}
		m.paused = false
		m.dropPending(m.statePending)
		m.statePending = ""
		m.lastPollAt = time.Time{}
		m.lastMessageAt = m.sched.Now()
		m.poll(false)
	})
}

// ResetPluginState asks the plugin to reset, probing reset method aliases.
func (m *Manager) ResetPluginState() {
	m.post(func() {
		if m.destroyed {
			return
		}
		if m.phase != PhaseConnected || m.socket == nil {
			m.emitError(fmt.Errorf("reset plugin state: %w", ErrNotConnected))
			return
		}
		if m.resetPending != "" {
			return
		}
		m.sendReset()
	})
}

// Status returns the current snapshot. It is safe to call from any
// goroutine.
func (m *Manager) Status() Snapshot {
	return m.published.Load().derive(m.sched.Now(), m.cfg.Health)
}

// post runs fn on the control goroutine and republishes the snapshot.
func (m *Manager) post(fn func()) {
	m.sched.Post(func() {
		fn()
		m.publish()
	})
}

// after schedules fn for the current lifecycle only.
func (m *Manager) after(d time.Duration, fn func()) loop.Timer {
	gen := m.gen
	return m.sched.AfterFunc(d, func() {
		if m.gen != gen || m.destroyed {
			return
		}
		fn()
		m.publish()
	})
}

// every schedules a periodic fn for the current lifecycle only.
func (m *Manager) every(d time.Duration, fn func()) loop.Timer {
	gen := m.gen
	return m.sched.Every(d, func() {
		if m.gen != gen || m.destroyed {
			return
		}
		fn()
		m.publish()
	})
}

// socketEvents binds socket callbacks to the current generation.
func (m *Manager) socketEvents() SocketEvents {
	gen := m.gen
	guard := func(fn func()) {
		m.sched.Post(func() {
			if m.gen != gen || m.destroyed {
				return
			}
			fn()
			m.publish()
		})
	}
	return SocketEvents{
		OnOpen: func() {
			guard(m.handleOpen)
		},
		OnMessage: func(data []byte) {
			guard(func() { m.handleMessage(data) })
		},
		OnClose: func(code int, reason string) {
			guard(func() { m.handleClose(code, reason) })
		},
	}
}

func (m *Manager) connect(cfg GatewayConfig, retry bool) {
	if m.destroyed {
		return
	}
	m.attemptCount++
	m.disarmed = false
	m.gateway = cfg

	if m.teardown() {
		m.emit(Event{Kind: EventPluginStateReset})
	}

	target, err := NormalizeURL(cfg.URL)
	if err != nil {
		m.logger.Warn("connect rejected", "url", cfg.URL, "error", err)
		m.emitError(fmt.Errorf("connect: %w", err))
		m.emit(Event{Kind: EventStateChange, Phase: PhaseDisconnected})
		return
	}
	m.targetURL = target

	m.phase = PhaseConnecting
	m.emit(Event{Kind: EventStateChange, Phase: PhaseConnecting})

	sock, err := m.transport.Open(target, m.socketEvents())
	if err != nil {
		m.phase = PhaseDisconnected
		m.logger.Warn("transport open failed", "url", target, "error", err)
		m.emitError(fmt.Errorf("open %s: %w", target, err))
		m.emit(Event{Kind: EventStateChange, Phase: PhaseDisconnected})
		if retry {
			m.scheduleReconnect()
		}
		return
	}
	m.socket = sock

	m.logger.Debug("connecting", "url", target, "attempt", m.reconnectAttempt)
}

// teardown detaches and closes the socket, stops every timer and clears
// pending requests. It reports whether a session was connected.
func (m *Manager) teardown() (wasConnected bool) {
	m.gen++

	m.stopTimer(&m.watchdog)
	m.stopTimer(&m.poller)
	m.stopTimer(&m.reconnectTimer)
	m.stopTimer(&m.countdown)
	m.clearPending()

	if m.socket != nil {
		sock := m.socket
		m.socket = nil
		if err := sock.Close(CloseNormal, "client teardown"); err != nil {
			m.logger.Debug("socket close failed", "error", err)
		}
	}

	wasConnected = m.phase == PhaseConnected
	if wasConnected {
		m.connectedTotal += m.sched.Now().Sub(m.connectedSince)
	}
	m.connectedSince = time.Time{}
	m.connectedURL = ""
	m.pluginAvailable = false
	m.phase = PhaseDisconnected
	return wasConnected
}

func (m *Manager) stopTimer(t *loop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) clearPending() {
	for id := range m.pending {
		m.dropPending(id)
	}
	m.statePending = ""
	m.resetPending = ""
	m.lastPollAt = time.Time{}
}

// dropPending forgets a request so a late response is ignored.
func (m *Manager) dropPending(id string) *pendingRequest {
	req, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	if req.timeout != nil {
		req.timeout.Stop()
	}
	return req
}

func (m *Manager) handleOpen() {
	m.lastMessageAt = m.sched.Now()

	params := protocol.ConnectParams{
		MinProtocol: m.cfg.MinProtocol,
		MaxProtocol: m.cfg.MaxProtocol,
		Client: protocol.ClientInfo{
			ID:          m.cfg.ClientID,
			DisplayName: m.cfg.DisplayName,
			Version:     m.cfg.Version,
			Platform:    m.cfg.Platform,
			Arch:        m.cfg.Arch,
			InstanceID:  m.instanceID,
		},
		Role:   m.cfg.Role,
		Scopes: m.cfg.Scopes,
	}
	if m.gateway.Token != "" {
		params.Auth = &protocol.Auth{Token: m.gateway.Token}
	}

	if _, err := m.send(protocol.KindConnect, protocol.MethodConnect, 0, params); err != nil {
		m.socket.Close(CloseInternalError, "handshake send failed")
	}
}

func (m *Manager) handleMessage(data []byte) {
	m.lastMessageAt = m.sched.Now()

	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		m.logger.Debug("dropping frame", "error", err)
		return
	}

	if frame.Event != nil {
		m.handleEvent(frame.Event)
		return
	}

	resp := *frame.Response
	req := m.dropPending(resp.ID)
	if req == nil {
		m.logger.Debug("ignoring response for unknown request", "id", resp.ID)
		return
	}

	result := protocol.Classify(req.kind, resp)
	switch req.kind {
	case protocol.KindConnect:
		m.handleHandshake(result)
	case protocol.KindState:
		m.statePending = ""
		m.handleStateResult(req, result)
	case protocol.KindReset:
		m.resetPending = ""
		m.handleResetResult(req, result)
	}
}

func (m *Manager) handleHandshake(result protocol.Result) {
	switch r := result.(type) {
	case protocol.HandshakeOK:
		now := m.sched.Now()
		m.reconnectAttempt = 0
		m.connectCount++
		m.connectedSince = now
		if m.firstConnectedAt.IsZero() {
			m.firstConnectedAt = now
		}
		m.connectedURL = m.targetURL
		m.phase = PhaseConnected
		m.lastMessageAt = now
		m.resolver.Reset()
		m.pluginAvailable = false

		m.watchdog = m.every(m.cfg.StaleCheckInterval, m.checkStale)
		m.poller = m.every(m.cfg.PollInterval, func() { m.poll(false) })

		m.logger.Info("handshake complete",
			"url", m.connectedURL,
			"session", m.connectCount,
		)
		m.emit(Event{Kind: EventHandshake, OK: true})
		m.emit(Event{Kind: EventStateChange, Phase: PhaseConnected})
		m.poll(false)

	case protocol.HandshakeError:
		m.logger.Warn("handshake rejected", "url", m.targetURL, "reason", r.Reason)
		m.lastDisconnectedAt = m.sched.Now()
		// teardown bumps the generation first, so the close this causes is
		// never seen by handleClose.
		m.teardown()
		m.latency.Reset()
		m.emit(Event{Kind: EventHandshake, OK: false, Reason: r.Reason})
		m.emit(Event{Kind: EventPluginStateReset})
		m.emit(Event{Kind: EventStateChange, Phase: PhaseDisconnected})
	}
}

func (m *Manager) handleStateResult(req *pendingRequest, result protocol.Result) {
	switch r := result.(type) {
	case protocol.StateOK:
		m.succeeded++
		m.latency.Push(float64(m.sched.Now().Sub(req.sentAt)) / float64(time.Millisecond))
		if !m.pluginAvailable {
			m.logger.Info("plugin state capability found", "method", req.method)
		}
		m.pluginAvailable = true
		m.emit(Event{Kind: EventPluginState, Method: req.method, Payload: r.Payload})

	case protocol.MissingMethod:
		if m.resolver.OnMissingMethod(resolver.CapabilityState) {
			m.logger.Debug("state method missing, trying alias",
				"missing", req.method,
				"next", m.resolver.Current(resolver.CapabilityState),
			)
			m.poll(true)
			return
		}
		m.pluginAvailable = false
		m.logger.Info("no plugin state method available, forwarding raw events")

	case protocol.GenericError:
		m.failed++
		m.emitError(fmt.Errorf("%s: %w: %s", req.method, ErrRequestFailed, describe(r.Code, r.Message)))
	}
}

func (m *Manager) handleResetResult(req *pendingRequest, result protocol.Result) {
	switch r := result.(type) {
	case protocol.StateOK:
		m.succeeded++
		m.emit(Event{Kind: EventPluginReset, OK: true, Method: req.method})
		m.poll(true)

	case protocol.MissingMethod:
		if m.resolver.OnMissingMethod(resolver.CapabilityReset) {
			m.sendReset()
			return
		}
		m.emit(Event{Kind: EventPluginReset, OK: false, Method: req.method, Reason: "no reset method available"})

	case protocol.GenericError:
		m.failed++
		reason := describe(r.Code, r.Message)
		m.emit(Event{Kind: EventPluginReset, OK: false, Method: req.method, Reason: reason})
		m.emitError(fmt.Errorf("%s: %w: %s", req.method, ErrRequestFailed, reason))
	}
}

func describe(code, message string) string {
	switch {
	case code != "" && message != "":
		return code + ": " + message
	case message != "":
		return message
	case code != "":
		return code
	default:
		return "unknown error"
	}
}

// handleEvent triggers a refresh when the plugin answers state requests and
// forwards the raw event otherwise.
func (m *Manager) handleEvent(ev *protocol.Event) {
	if m.phase != PhaseConnected {
		return
	}
	if m.pluginAvailable {
		m.poll(false)
		return
	}
	m.emit(Event{Kind: EventAgent, Name: ev.Name, Payload: ev.Payload})
}

// poll sends a state request unless one is pending, polling is paused, the
// capability is known absent, or the last send was under MinPollGap ago.
// Alias retries pass skipGap.
func (m *Manager) poll(skipGap bool) {
	if m.phase != PhaseConnected || m.socket == nil {
		return
	}
	if m.paused || m.statePending != "" {
		return
	}
	if m.resolver.Exhausted(resolver.CapabilityState) {
		return
	}

	now := m.sched.Now()
	if !skipGap && !m.lastPollAt.IsZero() && now.Sub(m.lastPollAt) < m.cfg.MinPollGap {
		return
	}

	method := m.resolver.Current(resolver.CapabilityState)
	id, err := m.send(protocol.KindState, method, m.resolver.Index(resolver.CapabilityState), nil)
	if err != nil {
		return
	}
	m.statePending = id
	m.lastPollAt = now
}

func (m *Manager) sendReset() {
	method := m.resolver.Current(resolver.CapabilityReset)
	id, err := m.send(protocol.KindReset, method, m.resolver.Index(resolver.CapabilityReset), nil)
	if err != nil {
		return
	}
	m.resetPending = id
}

// send writes a request and registers it as pending. Send failures are
// reported and leave no pending entry behind.
func (m *Manager) send(kind protocol.Kind, method string, index int, params any) (string, error) {
	if m.socket == nil {
		return "", ErrNotConnected
	}

	id := m.newID()
	data, err := json.Marshal(protocol.NewRequest(id, method, params))
	if err != nil {
		m.emitError(fmt.Errorf("encode %s: %w", method, err))
		return "", err
	}

	if err := m.socket.Send(data); err != nil {
		m.logger.Warn("send failed", "method", method, "error", err)
		m.emitError(fmt.Errorf("send %s: %w", method, err))
		return "", err
	}

	req := &pendingRequest{
		id:          id,
		kind:        kind,
		method:      method,
		methodIndex: index,
		sentAt:      m.sched.Now(),
	}
	req.timeout = m.after(m.cfg.RequestTimeout, func() { m.expire(id) })
	m.pending[id] = req

	if kind != protocol.KindConnect {
		m.sent++
	}
	return id, nil
}

// expire drops a request that never got a response.
func (m *Manager) expire(id string) {
	req := m.dropPending(id)
	if req == nil {
		return
	}

	m.logger.Warn("request timed out",
		"method", req.method,
		"candidate", req.methodIndex,
		"timeout", m.cfg.RequestTimeout,
	)

	switch req.kind {
	case protocol.KindConnect:
		m.emitError(fmt.Errorf("handshake: %w", ErrRequestTimeout))
		if m.socket != nil {
			m.socket.Close(CloseHandshakeTimeout, "handshake timeout")
		}
		return
	case protocol.KindState:
		if m.statePending == id {
			m.statePending = ""
		}
	case protocol.KindReset:
		if m.resetPending == id {
			m.resetPending = ""
		}
	}

	m.failed++
	m.emitError(fmt.Errorf("%s: %w", req.method, ErrRequestTimeout))
}

// checkStale closes a connection that has been silent for too long. The
// close then follows the normal reconnect path.
func (m *Manager) checkStale() {
	if m.phase != PhaseConnected || m.paused || m.socket == nil {
		return
	}

	silent := m.sched.Now().Sub(m.lastMessageAt)
	if silent <= m.cfg.StaleAfter {
		return
	}

	m.logger.Warn("no message received, connection stale",
		"last_message", m.lastMessageAt,
		"timeout", m.cfg.StaleAfter,
	)
	m.emitError(fmt.Errorf("%w: silent for %s", ErrStaleConnection, silent.Truncate(time.Millisecond)))
	m.socket.Close(CloseStale, "stale connection")
}

func (m *Manager) handleClose(code int, reason string) {
	now := m.sched.Now()
	fatal := IsFatalClose(code)

	// The socket is already gone; teardown must not close it again.
	m.socket = nil
	m.teardown()
	m.lastDisconnectedAt = now
	m.lastClose = &CloseInfo{Code: code, Reason: reason, Fatal: fatal}

	m.logger.Info("connection closed",
		"code", code,
		"reason", reason,
		"fatal", fatal,
	)

	m.emit(Event{Kind: EventPluginStateReset})
	m.emit(Event{Kind: EventDisconnect, Close: m.lastClose})
	m.emit(Event{Kind: EventStateChange, Phase: PhaseDisconnected})

	if fatal {
		m.latency.Reset()
		m.emit(Event{Kind: EventFatalClose, Close: m.lastClose})
		return
	}
	m.scheduleReconnect()
}

// scheduleReconnect arms the retry timer and a once-per-second countdown.
func (m *Manager) scheduleReconnect() {
	delay := Backoff(m.reconnectAttempt, m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, m.cfg.ReconnectJitter, m.rand())
	m.reconnectAttempt++
	deadline := m.sched.Now().Add(delay)

	m.logger.Info("scheduling reconnect",
		"attempt", m.reconnectAttempt,
		"delay", delay,
	)

	m.reconnectTimer = m.after(delay, func() {
		m.stopTimer(&m.countdown)
		m.reconnectTimer = nil
		m.connect(m.gateway, true)
	})

	tick := func() {
		remaining := deadline.Sub(m.sched.Now())
		if remaining <= 0 {
			return
		}
		m.emit(Event{Kind: EventReconnectCountdown, Seconds: int(math.Ceil(remaining.Seconds()))})
	}
	tick()
	m.countdown = m.every(time.Second, tick)
}

func (m *Manager) emit(e Event) {
	e.At = m.sched.Now()
	m.sink.Emit(e)
}

func (m *Manager) emitError(err error) {
	m.emit(Event{Kind: EventError, Err: err})
}

// publish stores a fresh view for Status.
func (m *Manager) publish() {
	s := Snapshot{
		Phase:     m.phase,
		Connected: m.phase == PhaseConnected,
		Destroyed: m.destroyed,
		Disarmed:  m.disarmed,
		Paused:    m.paused,

		URL:        m.connectedURL,
		TargetURL:  m.targetURL,
		InstanceID: m.instanceID,

		ConnectedSince:     m.connectedSince,
		FirstConnectedAt:   m.firstConnectedAt,
		LastDisconnectedAt: m.lastDisconnectedAt,
		LastMessageAt:      m.lastMessageAt,

		ReconnectAttempt:    m.reconnectAttempt,
		SessionConnectCount: m.connectCount,
		SessionAttemptCount: m.attemptCount,

		PluginAvailable:   m.pluginAvailable,
		PluginStateMethod: m.resolver.Current(resolver.CapabilityState),
		PluginResetMethod: m.resolver.Current(resolver.CapabilityReset),

		LatencyTrend: m.latency.Trend(m.cfg.TrendThreshold),

		RequestsSent:      m.sent,
		RequestsSucceeded: m.succeeded,
		RequestsFailed:    m.failed,
	}
	if m.lastClose != nil {
		c := *m.lastClose
		s.LastClose = &c
	}
	if last, ok := m.latency.Last(); ok {
		s.LatencyMs = &last
	}

	stats := m.latency.Stats()
	if stats != nil {
		rounded := stats.Rounded()
		s.LatencyStats = &rounded
	}

	m.published.Store(&view{
		snap:           s,
		stats:          stats,
		connectedTotal: m.connectedTotal,
	})
}
