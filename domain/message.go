package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	TypeDeviceConnect = "device_connect"
	TypeRFIDScan      = "rfid_scan"
	TypeLastRFIDScan  = "last_rfid_scan"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrMalformed    = errors.New("malformed message")
	ErrMissingType  = errors.New("missing message type")
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

func missingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

// Inbound is one of DeviceConnect or RFIDScan.
type Inbound interface {
	inboundType() string
}

type DeviceConnect struct {
	DeviceID   string
	DeviceType string
}

func (DeviceConnect) inboundType() string { return TypeDeviceConnect }

type RFIDScan struct {
	CardID   string
	DeviceID string
}

func (RFIDScan) inboundType() string { return TypeRFIDScan }

// Envelope is a parsed frame with its type split out. Fields keeps every
// member of the object, type included.
type Envelope struct {
	Type   string
	Fields map[string]json.RawMessage
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	raw, ok := fields["type"]
	if !ok {
		return Envelope{}, ErrMissingType
	}
	var typ string
	if err := json.Unmarshal(raw, &typ); err != nil || typ == "" {
		return Envelope{}, ErrMissingType
	}

	return Envelope{Type: typ, Fields: fields}, nil
}

// String returns a string field, or "" when absent or not a string.
func (e Envelope) String(name string) string {
	raw, ok := e.Fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Decode validates a frame once and returns its typed form.
func Decode(data []byte) (Inbound, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeDeviceConnect:
		msg := DeviceConnect{
			DeviceID:   env.String("deviceId"),
			DeviceType: env.String("deviceType"),
		}
		if msg.DeviceType == "" {
			return nil, missingField("deviceType")
		}
		return msg, nil
	case TypeRFIDScan:
		msg := RFIDScan{
			CardID:   env.String("cardId"),
			DeviceID: env.String("deviceId"),
		}
		if msg.CardID == "" {
			return nil, missingField("cardId")
		}
		if msg.DeviceID == "" {
			return nil, missingField("deviceId")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ScanMessage is the server→viewer form of a scan, used for both live
// broadcasts (rfid_scan) and join-time replay (last_rfid_scan).
type ScanMessage struct {
	Type      string `json:"type"`
	CardID    string `json:"cardId"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
}

func NewScanMessage(typ string, ev ScanEvent) ScanMessage {
	return ScanMessage{
		Type:      typ,
		CardID:    ev.CardID,
		DeviceID:  ev.SourceDeviceID,
		Timestamp: FormatTimestamp(ev.ObservedAt),
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// AnnounceMessage is what a client sends right after its socket opens.
type AnnounceMessage struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
}

// ScanReport is what a scanner sends for each card read.
type ScanReport struct {
	Type     string `json:"type"`
	CardID   string `json:"cardId"`
	DeviceID string `json:"deviceId"`
}
