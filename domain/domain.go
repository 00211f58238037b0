package domain

import (
	"time"
)

type Role string

const (
	RoleUnclassified Role = "unclassified"
	RoleScanner      Role = "scanner"
	RoleViewer       Role = "viewer"
)

// Peer is the registry's view of one live connection.
type Peer struct {
	ConnID     string
	Role       Role
	DeviceID   string
	DeviceType string
}

func (p Peer) Classified() bool {
	return p.Role != RoleUnclassified
}

// ScanEvent is a single card read reported by a scanner. ObservedAt comes from
// the relay clock, never from the device.
type ScanEvent struct {
	CardID         string
	SourceDeviceID string
	ObservedAt     time.Time
}

func NewScanEvent(cardID, deviceID string, observedAt time.Time) (ScanEvent, error) {
	if cardID == "" {
		return ScanEvent{}, missingField("cardId")
	}
	if deviceID == "" {
		return ScanEvent{}, missingField("deviceId")
	}
	return ScanEvent{
		CardID:         cardID,
		SourceDeviceID: deviceID,
		ObservedAt:     observedAt,
	}, nil
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Dispatcher receives transport events from every connection.
type Dispatcher interface {
	Register(conn Connection)
	Unregister(conn Connection)
	Dispatch(conn Connection, data []byte)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
}
