package executor

import (
	"encoding/json"
	"testing"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/params"
)

func validatedPortScan(t *testing.T, raw string) *params.Validated {
	t.Helper()
	v, err := params.Validate(db.ScanTypePortScan, json.RawMessage(raw))
	require.NoError(t, err)
	return v
}

func TestBuildOptions(t *testing.T) {
	tests := []struct {
		name     string
		scanType string
		raw      string
	}{
		{name: "port scan", scanType: db.ScanTypePortScan, raw: `{"ports": "80", "speed": "fast"}`},
		{name: "os detection", scanType: db.ScanTypeOSDetection, raw: `{"intensity": "light"}`},
		{name: "vulnerability scan", scanType: db.ScanTypeVulnerability, raw: `{"severity": "high"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := params.Validate(tt.scanType, json.RawMessage(tt.raw))
			require.NoError(t, err)

			options, err := buildOptions(&Request{
				Targets: []string{"192.0.2.10"},
				Params:  v,
			})
			require.NoError(t, err)
			assert.NotEmpty(t, options)
		})
	}
}

func TestBuildOptionsUnsupportedType(t *testing.T) {
	_, err := buildOptions(&Request{
		Targets: []string{"192.0.2.10"},
		Params:  &params.Validated{ScanType: "banner-grab"},
	})
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "build options", execErr.Op)
}

func TestConvertRun(t *testing.T) {
	run := &nmap.Run{
		Hosts: []nmap.Host{
			{
				Addresses: []nmap.Address{{Addr: "192.0.2.10"}},
				Status:    nmap.Status{State: "up"},
				Ports: []nmap.Port{
					{
						ID:       80,
						Protocol: "tcp",
						State:    nmap.State{State: "open"},
						Service:  nmap.Service{Name: "http", Product: "nginx", Version: "1.24"},
					},
					{
						ID:       22,
						Protocol: "tcp",
						State:    nmap.State{State: "closed"},
					},
				},
				OS: nmap.OS{
					Matches: []nmap.OSMatch{{Name: "Linux 5.x", Accuracy: 95}},
				},
			},
		},
	}

	output := convertRun(run, []string{"192.0.2.10", "192.0.2.11"})
	require.Len(t, output.Hosts, 2)

	up := output.Hosts[0]
	assert.Equal(t, "192.0.2.10", up.Target)
	assert.Equal(t, "up", up.Status)
	require.Len(t, up.Ports, 2)
	assert.Equal(t, uint16(80), up.Ports[0].Port)
	assert.Equal(t, "open", up.Ports[0].State)
	assert.Equal(t, "http", up.Ports[0].Service)
	require.Len(t, up.OS, 1)
	assert.Equal(t, "Linux 5.x", up.OS[0].Name)
	assert.Equal(t, 95, up.OS[0].Accuracy)

	// The unreported target still shows up, marked down.
	down := output.Hosts[1]
	assert.Equal(t, "192.0.2.11", down.Target)
	assert.Equal(t, "down", down.Status)
	assert.Empty(t, down.Ports)
}

func TestExecuteRejectsEmptyTargets(t *testing.T) {
	exec := NewNmapExecutor(nil)
	_, err := exec.Execute(t.Context(), &Request{
		Targets: nil,
		Params:  validatedPortScan(t, `{}`),
	})
	require.Error(t, err)
}
