// Package params validates and normalizes per-scan-type parameters.
// Validation is pure: no I/O, deterministic, and rejections name the
// offending field through typed errors.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/errors"
)

// Scan speed values mapped to nmap timing templates by the executor.
const (
	SpeedSlow   = "slow"
	SpeedNormal = "normal"
	SpeedFast   = "fast"
)

// OS detection intensity values.
const (
	IntensityLight      = "light"
	IntensityNormal     = "normal"
	IntensityAggressive = "aggressive"
)

// Vulnerability severity floor values.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Timeout bounds in seconds. Requests outside the bounds are clamped,
// not rejected.
const (
	MinTimeoutSeconds     = 30
	MaxTimeoutSeconds     = 3600
	DefaultTimeoutSeconds = 300
)

// Default port expressions per scan type.
const (
	defaultPortScanPorts    = "1-1000"
	defaultOSDetectionPorts = "22,80,443"
	maxPort                 = 65535
)

// PortScanParams are the validated parameters for a port scan.
type PortScanParams struct {
	Ports          string `json:"ports"`
	Speed          string `json:"speed"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OSDetectionParams are the validated parameters for OS detection.
type OSDetectionParams struct {
	Ports          string `json:"ports"`
	Intensity      string `json:"intensity"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// VulnerabilityParams are the validated parameters for a vulnerability
// scan. Severity is the minimum severity to report.
type VulnerabilityParams struct {
	Ports          string `json:"ports"`
	Severity       string `json:"severity"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Validated is the tagged result of parameter validation. Exactly one of
// the variant fields is set, matching ScanType.
type Validated struct {
	ScanType      string               `json:"scan_type"`
	PortScan      *PortScanParams      `json:"port_scan,omitempty"`
	OSDetection   *OSDetectionParams   `json:"os_detection,omitempty"`
	Vulnerability *VulnerabilityParams `json:"vulnerability,omitempty"`
}

// TimeoutSeconds returns the effective timeout of whichever variant is set.
func (v *Validated) TimeoutSeconds() int {
	switch v.ScanType {
	case db.ScanTypePortScan:
		return v.PortScan.TimeoutSeconds
	case db.ScanTypeOSDetection:
		return v.OSDetection.TimeoutSeconds
	case db.ScanTypeVulnerability:
		return v.Vulnerability.TimeoutSeconds
	}
	return DefaultTimeoutSeconds
}

// Marshal renders the validated parameters as canonical JSON for
// persistence.
func (v *Validated) Marshal() (db.JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validated params: %w", err)
	}
	return db.JSONB(data), nil
}

// Unmarshal restores a Validated from its persisted form.
func Unmarshal(raw db.JSONB) (*Validated, error) {
	var v Validated
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validated params: %w", err)
	}
	return &v, nil
}

// Validate checks the raw parameter document against the rules for the
// given scan type, fills defaults, and returns the normalized variant.
// Unknown scan types fail with UnsupportedScanType; unknown fields and
// out-of-range values fail with InvalidParameters naming the field.
func Validate(scanType string, raw json.RawMessage) (*Validated, error) {
	switch scanType {
	case db.ScanTypePortScan:
		return validatePortScan(raw)
	case db.ScanTypeOSDetection:
		return validateOSDetection(raw)
	case db.ScanTypeVulnerability:
		return validateVulnerability(raw)
	default:
		return nil, errors.NewUnsupportedScanType(scanType)
	}
}

func validatePortScan(raw json.RawMessage) (*Validated, error) {
	p := PortScanParams{
		Ports:          defaultPortScanPorts,
		Speed:          SpeedNormal,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}

	if err := ValidatePorts(p.Ports); err != nil {
		return nil, err
	}
	if err := validateSpeed(p.Speed); err != nil {
		return nil, err
	}
	p.TimeoutSeconds = clampTimeout(p.TimeoutSeconds)

	return &Validated{ScanType: db.ScanTypePortScan, PortScan: &p}, nil
}

func validateOSDetection(raw json.RawMessage) (*Validated, error) {
	p := OSDetectionParams{
		Ports:          defaultOSDetectionPorts,
		Intensity:      IntensityNormal,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}

	if err := ValidatePorts(p.Ports); err != nil {
		return nil, err
	}
	switch p.Intensity {
	case IntensityLight, IntensityNormal, IntensityAggressive:
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("intensity must be one of light, normal, aggressive (got %q)", p.Intensity),
			"intensity")
	}
	p.TimeoutSeconds = clampTimeout(p.TimeoutSeconds)

	return &Validated{ScanType: db.ScanTypeOSDetection, OSDetection: &p}, nil
}

func validateVulnerability(raw json.RawMessage) (*Validated, error) {
	p := VulnerabilityParams{
		Ports:          defaultPortScanPorts,
		Severity:       SeverityLow,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}

	if err := ValidatePorts(p.Ports); err != nil {
		return nil, err
	}
	switch p.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("severity must be one of low, medium, high, critical (got %q)", p.Severity),
			"severity")
	}
	p.TimeoutSeconds = clampTimeout(p.TimeoutSeconds)

	return &Validated{ScanType: db.ScanTypeVulnerability, Vulnerability: &p}, nil
}

// decodeStrict unmarshals raw JSON into target, rejecting unknown fields.
// A nil or empty document leaves the defaults intact.
func decodeStrict(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		ve := errors.NewValidationError("malformed parameters document", "")
		ve.Cause = err
		return ve
	}
	return nil
}

// ValidatePorts checks a comma-separated port/range expression. Each
// element is a single port or "start-end" with 1 <= start <= end <= 65535.
func ValidatePorts(ports string) error {
	if strings.TrimSpace(ports) == "" {
		return errors.NewValidationError("ports expression cannot be empty", "ports")
	}

	for _, part := range strings.Split(ports, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return errors.NewValidationError("ports expression contains an empty element", "ports")
		}

		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := parsePort(bounds[0])
			if err != nil {
				return err
			}
			end, err := parsePort(bounds[1])
			if err != nil {
				return err
			}
			if start > end {
				return errors.NewValidationError(
					fmt.Sprintf("port range start exceeds end in %q", part), "ports")
			}
			continue
		}

		if _, err := parsePort(part); err != nil {
			return err
		}
	}

	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.NewValidationError(
			fmt.Sprintf("invalid port %q", s), "ports")
	}
	if port < 1 || port > maxPort {
		return 0, errors.NewValidationError(
			fmt.Sprintf("port %d out of range [1, %d]", port, maxPort), "ports")
	}
	return port, nil
}

func validateSpeed(speed string) error {
	switch speed {
	case SpeedSlow, SpeedNormal, SpeedFast:
		return nil
	}
	return errors.NewValidationError(
		fmt.Sprintf("speed must be one of slow, normal, fast (got %q)", speed), "speed")
}

func clampTimeout(seconds int) int {
	if seconds == 0 {
		return DefaultTimeoutSeconds
	}
	if seconds < MinTimeoutSeconds {
		return MinTimeoutSeconds
	}
	if seconds > MaxTimeoutSeconds {
		return MaxTimeoutSeconds
	}
	return seconds
}
