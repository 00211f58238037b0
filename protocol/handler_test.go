package protocol

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chloezql/breakingnews-sub001/cache"
	"github.com/chloezql/breakingnews-sub001/domain"
	"github.com/chloezql/breakingnews-sub001/hub"
)

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) getSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type mockObserver struct {
	scans    []domain.ScanEvent
	rejected []string
	mu       sync.Mutex
}

func (m *mockObserver) ScanAccepted(ev domain.ScanEvent, delivered, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans = append(m.scans, ev)
}

func (m *mockObserver) MessageRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

var fixedNow = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

type fixture struct {
	registry *hub.Registry
	lastScan *cache.LastScan
	observer *mockObserver
	handler  *Handler
}

func newFixture() *fixture {
	f := &fixture{
		registry: hub.New(),
		lastScan: cache.New(),
		observer: &mockObserver{},
	}
	f.handler = NewHandler(f.registry, f.lastScan, DefaultRoleMap(),
		WithClock(func() time.Time { return fixedNow }),
		WithObserver(f.observer),
	)
	return f
}

func (f *fixture) connect(id string) *mockConn {
	c := &mockConn{id: id}
	f.registry.Register(c)
	return c
}

func (f *fixture) announce(c *mockConn, deviceID, deviceType string) {
	f.handler.Handle(c, mustJSON(map[string]string{
		"type":       domain.TypeDeviceConnect,
		"deviceId":   deviceID,
		"deviceType": deviceType,
	}))
}

func (f *fixture) scan(c *mockConn, cardID, deviceID string) {
	f.handler.Handle(c, mustJSON(map[string]string{
		"type":     domain.TypeRFIDScan,
		"cardId":   cardID,
		"deviceId": deviceID,
	}))
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func decodeScan(t *testing.T, data []byte) domain.ScanMessage {
	t.Helper()
	var msg domain.ScanMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_ScanReachesEveryViewer(t *testing.T) {
	f := newFixture()
	scanner := f.connect("a")
	f.announce(scanner, "scanner-1", "rfid_reader")
	viewers := []*mockConn{f.connect("b"), f.connect("c"), f.connect("d")}
	for i, v := range viewers {
		f.announce(v, "viewer-"+string(rune('1'+i)), "react_client")
	}

	f.scan(scanner, "CAFEBABE", "scanner-1")

	for _, v := range viewers {
		sent := v.getSent()
		require.Len(t, sent, 1, "viewer %s", v.ID())
		msg := decodeScan(t, sent[0])
		assert.Equal(t, domain.TypeRFIDScan, msg.Type)
		assert.Equal(t, "CAFEBABE", msg.CardID)
		assert.Equal(t, "scanner-1", msg.DeviceID)
		assert.Equal(t, "2026-05-04T18:00:00.000Z", msg.Timestamp)
	}
	assert.Empty(t, scanner.getSent())

	ev, ok := f.lastScan.Load()
	require.True(t, ok)
	assert.Equal(t, domain.ScanEvent{CardID: "CAFEBABE", SourceDeviceID: "scanner-1", ObservedAt: fixedNow}, ev)
	assert.Len(t, f.observer.scans, 1)
}

func TestHandler_UnclassifiedSenderStillBroadcasts(t *testing.T) {
	f := newFixture()
	anonymous := f.connect("a")
	viewer := f.connect("b")
	f.announce(viewer, "viewer-1", "react_client")

	f.scan(anonymous, "0011AABB", "bench-reader")

	require.Len(t, viewer.getSent(), 1)
	assert.Equal(t, "0011AABB", decodeScan(t, viewer.getSent()[0]).CardID)
}

func TestHandler_ScanMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{name: "missing card id", payload: map[string]any{"type": "rfid_scan", "deviceId": "scanner-1"}},
		{name: "missing device id", payload: map[string]any{"type": "rfid_scan", "cardId": "CAFEBABE"}},
		{name: "empty card id", payload: map[string]any{"type": "rfid_scan", "cardId": "", "deviceId": "scanner-1"}},
		{name: "numeric card id", payload: map[string]any{"type": "rfid_scan", "cardId": 42, "deviceId": "scanner-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			scanner := f.connect("a")
			viewer := f.connect("b")
			f.announce(viewer, "viewer-1", "react_client")
			f.scan(scanner, "PREVIOUS", "scanner-1")
			before := len(viewer.getSent())

			f.handler.Handle(scanner, mustJSON(tt.payload))

			assert.Len(t, viewer.getSent(), before)
			ev, ok := f.lastScan.Load()
			require.True(t, ok)
			assert.Equal(t, "PREVIOUS", ev.CardID)
			assert.Equal(t, []string{"missing_field"}, f.observer.rejected)
		})
	}
}

func TestHandler_ViewerJoinReplaysLastScan(t *testing.T) {
	f := newFixture()
	f.lastScan.Store(domain.ScanEvent{CardID: "AB12CD34", SourceDeviceID: "scanner-1", ObservedAt: fixedNow})
	bystander := f.connect("old")
	f.announce(bystander, "viewer-0", "react_client")
	scanner := f.connect("s")
	f.announce(scanner, "scanner-1", "rfid_reader")

	joiner := f.connect("new")
	f.announce(joiner, "viewer-1", "react_client")

	sent := joiner.getSent()
	require.Len(t, sent, 1)
	msg := decodeScan(t, sent[0])
	assert.Equal(t, domain.TypeLastRFIDScan, msg.Type)
	assert.Equal(t, "AB12CD34", msg.CardID)

	assert.Len(t, bystander.getSent(), 1, "only its own replay")
	assert.Empty(t, scanner.getSent())
}

func TestHandler_ViewerJoinWithEmptyCache(t *testing.T) {
	f := newFixture()
	viewer := f.connect("v")

	f.announce(viewer, "viewer-1", "react_client")

	assert.Empty(t, viewer.getSent())
	peer, ok := f.registry.Lookup("v")
	require.True(t, ok)
	assert.Equal(t, domain.RoleViewer, peer.Role)
}

func TestHandler_DuplicateAnnounceIsIgnored(t *testing.T) {
	f := newFixture()
	f.lastScan.Store(domain.ScanEvent{CardID: "AB12CD34", SourceDeviceID: "scanner-1", ObservedAt: fixedNow})
	c := f.connect("c")

	f.announce(c, "viewer-1", "react_client")
	f.announce(c, "scanner-9", "rfid_reader")
	f.announce(c, "viewer-1", "react_client")

	peer, ok := f.registry.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, domain.RoleViewer, peer.Role)
	assert.Equal(t, "viewer-1", peer.DeviceID)
	assert.Len(t, c.getSent(), 1)
	assert.Empty(t, f.observer.rejected)
}

func TestHandler_AnnounceFromUnregisteredConnection(t *testing.T) {
	f := newFixture()
	f.lastScan.Store(domain.ScanEvent{CardID: "AB12CD34", SourceDeviceID: "scanner-1", ObservedAt: fixedNow})
	ghost := &mockConn{id: "ghost"}

	f.announce(ghost, "viewer-1", "react_client")

	assert.Empty(t, ghost.getSent())
	assert.Equal(t, []string{"unregistered"}, f.observer.rejected)
	_, ok := f.registry.Lookup("ghost")
	assert.False(t, ok)
}

func TestHandler_ScannerAnnounceGetsNoReplay(t *testing.T) {
	f := newFixture()
	f.lastScan.Store(domain.ScanEvent{CardID: "AB12CD34", SourceDeviceID: "scanner-1", ObservedAt: fixedNow})
	c := f.connect("c")

	f.announce(c, "scanner-2", "rfid_reader")

	assert.Empty(t, c.getSent())
}

func TestHandler_InvalidInputKeepsState(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{name: "not json", input: "not json", reason: "malformed"},
		{name: "missing type", input: `{"cardId":"X","deviceId":"Y"}`, reason: "missing_type"},
		{name: "unknown type", input: `{"type":"ping"}`, reason: "unknown_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			c := f.connect("c")
			viewer := f.connect("v")
			f.announce(viewer, "viewer-1", "react_client")

			f.handler.Handle(c, []byte(tt.input))

			assert.Empty(t, c.getSent())
			assert.Empty(t, viewer.getSent())
			_, ok := f.lastScan.Load()
			assert.False(t, ok)
			assert.Equal(t, []string{tt.reason}, f.observer.rejected)
			_, registered := f.registry.Lookup("c")
			assert.True(t, registered)
		})
	}
}
