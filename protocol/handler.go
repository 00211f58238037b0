package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/chloezql/breakingnews-sub001/domain"
)

type Registry interface {
	Lookup(connID string) (domain.Peer, bool)
	Classify(connID string, role domain.Role, deviceID, deviceType string) bool
	Broadcast(sender domain.Connection, role domain.Role, data []byte) (delivered, failed int)
}

type Cache interface {
	Store(ev domain.ScanEvent)
	Load() (domain.ScanEvent, bool)
}

// Observer is told about accepted scans and rejected messages.
type Observer interface {
	ScanAccepted(ev domain.ScanEvent, delivered, failed int)
	MessageRejected(reason string)
}

type nopObserver struct{}

func (nopObserver) ScanAccepted(domain.ScanEvent, int, int) {}
func (nopObserver) MessageRejected(string)                  {}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// Handler classifies inbound frames and routes them.
type Handler struct {
	registry Registry
	lastScan Cache
	roles    RoleMap
	observer Observer
	now      func() time.Time
}

func NewHandler(r Registry, c Cache, roles RoleMap, opts ...Option) *Handler {
	h := &Handler{
		registry: r,
		lastScan: c,
		roles:    roles,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	msg, err := domain.Decode(data)
	if err != nil {
		reason := rejectReason(err)
		slog.Warn("invalid message", "connId", conn.ID(), "reason", reason, "error", err)
		h.observer.MessageRejected(reason)
		return
	}

	switch m := msg.(type) {
	case domain.DeviceConnect:
		h.handleDeviceConnect(conn, m)
	case domain.RFIDScan:
		h.handleScan(conn, m)
	}
}

func (h *Handler) handleDeviceConnect(conn domain.Connection, m domain.DeviceConnect) {
	role := h.roles.RoleFor(m.DeviceType)
	if !h.registry.Classify(conn.ID(), role, m.DeviceID, m.DeviceType) {
		if _, ok := h.registry.Lookup(conn.ID()); !ok {
			slog.Warn("announce from unregistered connection", "connId", conn.ID(), "deviceId", m.DeviceID)
			h.observer.MessageRejected("unregistered")
			return
		}
		slog.Debug("duplicate announce ignored", "connId", conn.ID(), "deviceId", m.DeviceID)
		return
	}
	slog.Info("device announced", "connId", conn.ID(), "deviceId", m.DeviceID, "deviceType", m.DeviceType, "role", role)

	if role != domain.RoleViewer {
		return
	}
	ev, ok := h.lastScan.Load()
	if !ok {
		return
	}
	data, err := json.Marshal(domain.NewScanMessage(domain.TypeLastRFIDScan, ev))
	if err != nil {
		slog.Warn("marshal error", "connId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("last scan replay failed", "connId", conn.ID(), "error", err)
	}
}

func (h *Handler) handleScan(conn domain.Connection, m domain.RFIDScan) {
	ev, err := domain.NewScanEvent(m.CardID, m.DeviceID, h.now())
	if err != nil {
		slog.Warn("invalid scan", "connId", conn.ID(), "error", err)
		h.observer.MessageRejected(rejectReason(err))
		return
	}

	data, err := json.Marshal(domain.NewScanMessage(domain.TypeRFIDScan, ev))
	if err != nil {
		slog.Warn("marshal error", "connId", conn.ID(), "error", err)
		return
	}

	h.lastScan.Store(ev)
	delivered, failed := h.registry.Broadcast(conn, domain.RoleViewer, data)

	slog.Info("card scanned",
		"cardId", ev.CardID,
		"deviceId", ev.SourceDeviceID,
		"delivered", delivered,
		"failed", failed,
	)
	h.observer.ScanAccepted(ev, delivered, failed)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformed):
		return "malformed"
	case errors.Is(err, domain.ErrMissingType):
		return "missing_type"
	case errors.Is(err, domain.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, domain.ErrMissingField):
		return "missing_field"
	default:
		return "other"
	}
}
