package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chloezql/breakingnews-sub001/domain"
)

func TestRoleMap_RoleFor(t *testing.T) {
	m := DefaultRoleMap()

	tests := []struct {
		deviceType string
		want       domain.Role
	}{
		{deviceType: "react_client", want: domain.RoleViewer},
		{deviceType: " React_Client ", want: domain.RoleViewer},
		{deviceType: "display", want: domain.RoleViewer},
		{deviceType: "rfid_reader", want: domain.RoleScanner},
		{deviceType: "react_client_v2", want: domain.RoleScanner},
		{deviceType: "", want: domain.RoleScanner},
	}

	for _, tt := range tests {
		t.Run(tt.deviceType, func(t *testing.T) {
			assert.Equal(t, tt.want, m.RoleFor(tt.deviceType))
		})
	}
}

func TestNewRoleMap(t *testing.T) {
	m, err := NewRoleMap([]string{"kiosk"}, nil, domain.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, m.RoleFor("kiosk"))
	assert.Equal(t, domain.RoleViewer, m.RoleFor("anything"))

	_, err = NewRoleMap([]string{"kiosk"}, []string{"KIOSK"}, domain.RoleScanner)
	assert.Error(t, err)

	_, err = NewRoleMap(nil, nil, domain.RoleUnclassified)
	assert.Error(t, err)
}

func TestRoleMap_ZeroValue(t *testing.T) {
	var m RoleMap
	assert.Equal(t, domain.RoleScanner, m.RoleFor("react_client"))
}
