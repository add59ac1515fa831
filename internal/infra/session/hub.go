package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event names on the device socket.
const (
	EventRegisterDevice  = "registerDevice"
	EventRegisterNodeMCU = "registerNodeMCU"
	EventRegistered      = "registered"
	EventError           = "error"
	EventNewTransaction  = "newTransaction"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxFrameBytes       = 4096
)

// Frame is one message on the device socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Announce is the data of a registerDevice frame.
type Announce struct {
	WalletAddress  string `json:"walletAddress"`
	DeviceAddress  string `json:"deviceAddress"`
	NodeMCUAddress string `json:"nodeMCUAddress"`
}

// Device returns the device address, accepting the legacy key.
func (a Announce) Device() string {
	if a.DeviceAddress != "" {
		return a.DeviceAddress
	}
	return a.NodeMCUAddress
}

// Binder attaches and detaches live sessions to registrations.
type Binder interface {
	BindSession(wallet, device string, handle domain.SessionHandle) error
	ReleaseSession(handle domain.SessionHandle) []string
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) writeFrame(deadline time.Time, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Hub owns every open device socket and implements domain.SessionSender.
type Hub struct {
	binder       Binder
	metrics      *infra.Metrics
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	readTimeout  time.Duration

	mu    sync.RWMutex
	conns map[domain.SessionHandle]*conn
	wg    sync.WaitGroup
}

// NewHub creates a hub. Zero durations fall back to defaults.
func NewHub(binder Binder, metrics *infra.Metrics, pingInterval, readTimeout time.Duration) *Hub {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Hub{
		binder:  binder,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Devices are not browsers and send arbitrary or no Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		conns:        make(map[domain.SessionHandle]*conn),
	}
}

// ServeHTTP upgrades the request and serves the session until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Session upgrade failed", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		return
	}

	handle := domain.SessionHandle(uuid.NewString())
	c := &conn{ws: ws}

	h.mu.Lock()
	h.conns[handle] = c
	h.mu.Unlock()
	h.metrics.IncrementSessions()
	h.wg.Add(1)

	logger := slog.With(slog.String("session", string(handle)), slog.String("remote", r.RemoteAddr))
	logger.Info("🔗 New client connected")

	done := make(chan struct{})
	go h.pingLoop(c, done)

	h.readLoop(handle, c, logger)

	close(done)
	h.drop(handle, c)
	if wallets := h.binder.ReleaseSession(handle); len(wallets) > 0 {
		logger.Info("Client disconnected, session released", slog.Any("wallets", wallets))
	} else {
		logger.Info("Client disconnected")
	}
	h.wg.Done()
}

func (h *Hub) readLoop(handle domain.SessionHandle, c *conn, logger *slog.Logger) {
	c.ws.SetReadLimit(maxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Session read error", slog.Any("error", err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(h.readTimeout))
		h.handleFrame(handle, c, message, logger)
	}
}

func (h *Hub) handleFrame(handle domain.SessionHandle, c *conn, message []byte, logger *slog.Logger) {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil {
		logger.Debug("Session frame parse error", slog.Any("error", err))
		h.reply(c, EventError, map[string]string{"message": "malformed frame"}, logger)
		return
	}

	switch f.Event {
	case EventRegisterDevice, EventRegisterNodeMCU:
		a, err := decodeAnnounce(f.Data)
		if err != nil {
			h.reply(c, EventError, map[string]string{"message": "malformed announce"}, logger)
			return
		}
		if err := h.binder.BindSession(a.WalletAddress, a.Device(), handle); err != nil {
			logger.Warn("Device not found in registrations",
				slog.String("wallet", a.WalletAddress),
				slog.String("device", a.Device()),
				slog.Any("error", err),
			)
			h.reply(c, EventError, map[string]string{"message": "device not registered"}, logger)
			return
		}
		logger.Info("📟 Device bound to session", slog.String("wallet", a.WalletAddress), slog.String("device", a.Device()))
		h.reply(c, EventRegistered, map[string]string{"walletAddress": a.WalletAddress, "session": string(handle)}, logger)
	default:
		logger.Debug("Unknown session event", slog.String("event", f.Event))
	}
}

// decodeAnnounce accepts the data as an object or as a JSON-encoded string of one.
func decodeAnnounce(data json.RawMessage) (Announce, error) {
	var a Announce
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return a, err
		}
		data = json.RawMessage(s)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, err
	}
	return a, nil
}

func (h *Hub) reply(c *conn, event string, data interface{}, logger *slog.Logger) {
	if err := c.writeFrame(time.Now().Add(defaultWriteTimeout), event, data); err != nil {
		logger.Warn("Session reply failed", slog.String("event", event), slog.Any("error", err))
	}
}

func (h *Hub) pingLoop(c *conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(handle domain.SessionHandle, c *conn) {
	h.mu.Lock()
	if h.conns[handle] == c {
		delete(h.conns, handle)
	}
	h.mu.Unlock()
	c.ws.Close()
	h.metrics.DecrementSessions()
}

// Send writes a newTransaction frame to the session.
func (h *Hub) Send(ctx context.Context, handle domain.SessionHandle, payload domain.PaymentPayload) error {
	h.mu.RLock()
	c, ok := h.conns[handle]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w: %w", handle, domain.ErrDeliveryFailed, domain.ErrSessionNotFound)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := c.writeFrame(deadline, EventNewTransaction, payload); err != nil {
		return fmt.Errorf("%s: %w: %w", handle, domain.ErrDeliveryFailed, err)
	}
	return nil
}

// Sessions returns the number of open sockets.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every socket and waits for their handlers to finish.
func (h *Hub) Close() {
	h.mu.RLock()
	for _, c := range h.conns {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	}
	h.mu.RUnlock()
	h.wg.Wait()
	slog.Info("Session hub closed")
}
