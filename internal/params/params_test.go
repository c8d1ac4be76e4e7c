package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/errors"
)

func TestValidateUnsupportedScanType(t *testing.T) {
	_, err := Validate("ping-sweep", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedScanType))
}

func TestValidatePortScanDefaults(t *testing.T) {
	v, err := Validate(db.ScanTypePortScan, nil)
	require.NoError(t, err)
	require.NotNil(t, v.PortScan)

	assert.Equal(t, db.ScanTypePortScan, v.ScanType)
	assert.Equal(t, "1-1000", v.PortScan.Ports)
	assert.Equal(t, SpeedNormal, v.PortScan.Speed)
	assert.Equal(t, DefaultTimeoutSeconds, v.PortScan.TimeoutSeconds)
	assert.Nil(t, v.OSDetection)
	assert.Nil(t, v.Vulnerability)
}

func TestValidatePortScan(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		field   string
	}{
		{
			name: "valid explicit params",
			raw:  `{"ports": "22,80,8000-9000", "speed": "fast", "timeout_seconds": 120}`,
		},
		{
			name: "single port",
			raw:  `{"ports": "443"}`,
		},
		{
			name:    "port zero",
			raw:     `{"ports": "0-100"}`,
			wantErr: true,
			field:   "ports",
		},
		{
			name:    "port above max",
			raw:     `{"ports": "70000"}`,
			wantErr: true,
			field:   "ports",
		},
		{
			name:    "inverted range",
			raw:     `{"ports": "100-50"}`,
			wantErr: true,
			field:   "ports",
		},
		{
			name:    "empty ports",
			raw:     `{"ports": "  "}`,
			wantErr: true,
			field:   "ports",
		},
		{
			name:    "garbage port",
			raw:     `{"ports": "http"}`,
			wantErr: true,
			field:   "ports",
		},
		{
			name:    "unknown speed",
			raw:     `{"speed": "ludicrous"}`,
			wantErr: true,
			field:   "speed",
		},
		{
			name:    "unknown field rejected",
			raw:     `{"portz": "80"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Validate(db.ScanTypePortScan, json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.CodeInvalidParameters))
				if tt.field != "" {
					var ve *errors.ValidationError
					require.ErrorAs(t, err, &ve)
					assert.Equal(t, tt.field, ve.Field)
				}
				return
			}
			require.NoError(t, err)
			require.NotNil(t, v.PortScan)
		})
	}
}

func TestValidateTimeoutClamping(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "below minimum clamps up", raw: `{"timeout_seconds": 5}`, want: MinTimeoutSeconds},
		{name: "above maximum clamps down", raw: `{"timeout_seconds": 90000}`, want: MaxTimeoutSeconds},
		{name: "zero takes default", raw: `{"timeout_seconds": 0}`, want: DefaultTimeoutSeconds},
		{name: "in range untouched", raw: `{"timeout_seconds": 600}`, want: 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Validate(db.ScanTypePortScan, json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.PortScan.TimeoutSeconds)
			assert.Equal(t, tt.want, v.TimeoutSeconds())
		})
	}
}

func TestValidateOSDetection(t *testing.T) {
	v, err := Validate(db.ScanTypeOSDetection, nil)
	require.NoError(t, err)
	require.NotNil(t, v.OSDetection)
	assert.Equal(t, "22,80,443", v.OSDetection.Ports)
	assert.Equal(t, IntensityNormal, v.OSDetection.Intensity)

	v, err = Validate(db.ScanTypeOSDetection, json.RawMessage(`{"intensity": "aggressive"}`))
	require.NoError(t, err)
	assert.Equal(t, IntensityAggressive, v.OSDetection.Intensity)

	_, err = Validate(db.ScanTypeOSDetection, json.RawMessage(`{"intensity": "brutal"}`))
	require.Error(t, err)
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "intensity", ve.Field)
}

func TestValidateVulnerability(t *testing.T) {
	v, err := Validate(db.ScanTypeVulnerability, nil)
	require.NoError(t, err)
	require.NotNil(t, v.Vulnerability)
	assert.Equal(t, SeverityLow, v.Vulnerability.Severity)

	for _, severity := range []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		raw := json.RawMessage(`{"severity": "` + severity + `"}`)
		v, err := Validate(db.ScanTypeVulnerability, raw)
		require.NoError(t, err)
		assert.Equal(t, severity, v.Vulnerability.Severity)
	}

	_, err = Validate(db.ScanTypeVulnerability, json.RawMessage(`{"severity": "catastrophic"}`))
	require.Error(t, err)
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "severity", ve.Field)
}

func TestValidateMalformedDocument(t *testing.T) {
	_, err := Validate(db.ScanTypePortScan, json.RawMessage(`{"ports": `))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParameters))
}

func TestMarshalRoundTrip(t *testing.T) {
	v, err := Validate(db.ScanTypePortScan, json.RawMessage(`{"ports": "80,443", "speed": "slow"}`))
	require.NoError(t, err)

	raw, err := v.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, v, restored)
}

func TestValidatePorts(t *testing.T) {
	assert.NoError(t, ValidatePorts("1-65535"))
	assert.NoError(t, ValidatePorts("22, 80, 443"))
	assert.Error(t, ValidatePorts("80,"))
	assert.Error(t, ValidatePorts("-1"))
	assert.Error(t, ValidatePorts("1-2-3"))
}
