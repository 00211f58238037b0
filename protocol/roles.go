package protocol

import (
	"fmt"
	"strings"

	"github.com/chloezql/breakingnews-sub001/domain"
)

var (
	DefaultViewerTypes  = []string{"react_client", "web_client", "display"}
	DefaultScannerTypes = []string{"rfid_reader", "esp32_rfid"}
)

// RoleMap maps a declared deviceType to a role. Matching is exact after
// trimming and lower-casing; unlisted types get the fallback role.
type RoleMap struct {
	types    map[string]domain.Role
	fallback domain.Role
}

func NewRoleMap(viewerTypes, scannerTypes []string, fallback domain.Role) (RoleMap, error) {
	if fallback != domain.RoleViewer && fallback != domain.RoleScanner {
		return RoleMap{}, fmt.Errorf("fallback role must be %q or %q, got %q", domain.RoleViewer, domain.RoleScanner, fallback)
	}

	m := RoleMap{
		types:    make(map[string]domain.Role, len(viewerTypes)+len(scannerTypes)),
		fallback: fallback,
	}
	for _, t := range viewerTypes {
		if key := normalizeType(t); key != "" {
			m.types[key] = domain.RoleViewer
		}
	}
	for _, t := range scannerTypes {
		key := normalizeType(t)
		if key == "" {
			continue
		}
		if m.types[key] == domain.RoleViewer {
			return RoleMap{}, fmt.Errorf("device type %q listed as both viewer and scanner", t)
		}
		m.types[key] = domain.RoleScanner
	}
	return m, nil
}

func DefaultRoleMap() RoleMap {
	m, _ := NewRoleMap(DefaultViewerTypes, DefaultScannerTypes, domain.RoleScanner)
	return m
}

func (m RoleMap) RoleFor(deviceType string) domain.Role {
	if role, ok := m.types[normalizeType(deviceType)]; ok {
		return role
	}
	if m.fallback == "" {
		return domain.RoleScanner
	}
	return m.fallback
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
