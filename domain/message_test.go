package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Inbound
		wantErr error
	}{
		{
			name:  "device connect",
			input: `{"type":"device_connect","deviceId":"scanner-1","deviceType":"rfid_reader"}`,
			want:  DeviceConnect{DeviceID: "scanner-1", DeviceType: "rfid_reader"},
		},
		{
			name:  "device connect without device id",
			input: `{"type":"device_connect","deviceType":"react_client"}`,
			want:  DeviceConnect{DeviceType: "react_client"},
		},
		{
			name:    "device connect without device type",
			input:   `{"type":"device_connect","deviceId":"x"}`,
			wantErr: ErrMissingField,
		},
		{
			name:  "rfid scan",
			input: `{"type":"rfid_scan","cardId":"CAFEBABE","deviceId":"scanner-1"}`,
			want:  RFIDScan{CardID: "CAFEBABE", DeviceID: "scanner-1"},
		},
		{
			name:    "rfid scan without card id",
			input:   `{"type":"rfid_scan","deviceId":"scanner-1"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "rfid scan with numeric card id",
			input:   `{"type":"rfid_scan","cardId":1234,"deviceId":"scanner-1"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "rfid scan without device id",
			input:   `{"type":"rfid_scan","cardId":"CAFEBABE"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "unknown type",
			input:   `{"type":"start_game"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "missing type",
			input:   `{"cardId":"CAFEBABE"}`,
			wantErr: ErrMissingType,
		},
		{
			name:    "empty type",
			input:   `{"type":""}`,
			wantErr: ErrMissingType,
		},
		{
			name:    "not json",
			input:   `garbage\x00`,
			wantErr: ErrMalformed,
		},
		{
			name:    "json array",
			input:   `[1,2,3]`,
			wantErr: ErrMalformed,
		},
		{
			name:    "json null",
			input:   `null`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_MissingFieldNamesField(t *testing.T) {
	_, err := Decode([]byte(`{"type":"rfid_scan","deviceId":"scanner-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cardId")
}

func TestNewScanEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, err := NewScanEvent("AB12CD34", "scanner-1", now)
	require.NoError(t, err)
	assert.Equal(t, ScanEvent{CardID: "AB12CD34", SourceDeviceID: "scanner-1", ObservedAt: now}, ev)

	_, err = NewScanEvent("", "scanner-1", now)
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = NewScanEvent("AB12CD34", "", now)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestNewScanMessage(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	ev := ScanEvent{
		CardID:         "CAFEBABE",
		SourceDeviceID: "scanner-1",
		ObservedAt:     time.Date(2026, 3, 1, 14, 30, 15, 123_456_789, loc),
	}

	data, err := json.Marshal(NewScanMessage(TypeLastRFIDScan, ev))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "last_rfid_scan",
		"cardId": "CAFEBABE",
		"deviceId": "scanner-1",
		"timestamp": "2026-03-01T12:30:15.123Z"
	}`, string(data))
}

func TestEnvelope_String(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"rfid_scan","cardId":"X","count":3}`))
	require.NoError(t, err)

	assert.Equal(t, "rfid_scan", env.Type)
	assert.Equal(t, "X", env.String("cardId"))
	assert.Equal(t, "", env.String("count"))
	assert.Equal(t, "", env.String("absent"))
}
