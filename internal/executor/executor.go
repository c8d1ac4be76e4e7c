// Package executor adapts validated scan requests onto an external scan
// capability. The production implementation drives nmap; the engine and
// scheduler depend only on the Executor interface so tests can substitute
// fakes.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/params"
)

// Request carries everything an executor needs to run one scan: the
// resolved target addresses, in submission order, and the validated
// parameters.
type Request struct {
	Targets []string
	Params  *params.Validated
}

// PortOutput is a single observed port on a host.
type PortOutput struct {
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
}

// OSGuess is an OS fingerprint match with its accuracy percentage.
type OSGuess struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
}

// ScriptOutput is raw NSE script output attached to a host or port.
type ScriptOutput struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

// HostOutput is the raw per-target output of a scan.
type HostOutput struct {
	Target  string         `json:"target"`
	Status  string         `json:"status"`
	Ports   []PortOutput   `json:"ports,omitempty"`
	OS      []OSGuess      `json:"os,omitempty"`
	Scripts []ScriptOutput `json:"scripts,omitempty"`
}

// RawOutput is the structured output of one scan execution, before
// normalization into findings.
type RawOutput struct {
	Hosts     []HostOutput  `json:"hosts"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// Error wraps an executor failure with the stage it occurred in.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Executor runs a scan against a set of targets. Implementations must
// honour context cancellation and deadlines.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*RawOutput, error)
}

// NmapExecutor executes scans via the nmap binary.
type NmapExecutor struct {
	logger *logging.Logger
}

// NewNmapExecutor creates an executor backed by nmap.
func NewNmapExecutor(logger *logging.Logger) *NmapExecutor {
	if logger == nil {
		logger = logging.Default()
	}
	return &NmapExecutor{logger: logger.WithComponent("executor")}
}

// Execute runs the scan described by req. The context bounds the whole
// run: cancellation or deadline expiry aborts the underlying process.
func (e *NmapExecutor) Execute(ctx context.Context, req *Request) (*RawOutput, error) {
	if len(req.Targets) == 0 {
		return nil, &Error{Op: "validate request", Err: fmt.Errorf("no targets")}
	}

	options, err := buildOptions(req)
	if err != nil {
		return nil, err
	}

	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, &Error{Op: "create scanner", Err: err}
	}

	started := time.Now()
	result, warnings, err := scanner.Run()
	if err != nil {
		// Context errors surface as-is so callers can tell timeout and
		// cancellation apart from scanner failures.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Op: "run scan", Err: err}
	}

	output := convertRun(result, req.Targets)
	output.StartedAt = started
	output.Duration = time.Since(started)
	if warnings != nil && len(*warnings) > 0 {
		output.Warnings = *warnings
		e.logger.Warn("scan completed with warnings", "warnings", *warnings)
	}

	return output, nil
}

// buildOptions maps validated parameters onto nmap options.
func buildOptions(req *Request) ([]nmap.Option, error) {
	options := []nmap.Option{
		nmap.WithTargets(req.Targets...),
		nmap.WithSkipHostDiscovery(),
	}

	switch req.Params.ScanType {
	case db.ScanTypePortScan:
		p := req.Params.PortScan
		options = append(options,
			nmap.WithPorts(p.Ports),
			nmap.WithConnectScan(),
			nmap.WithServiceInfo(),
			timingOption(p.Speed),
		)
	case db.ScanTypeOSDetection:
		p := req.Params.OSDetection
		options = append(options,
			nmap.WithPorts(p.Ports),
			nmap.WithOSDetection(),
		)
		switch p.Intensity {
		case params.IntensityLight:
			options = append(options, nmap.WithOSScanLimit(), nmap.WithTimingTemplate(nmap.TimingNormal))
		case params.IntensityAggressive:
			options = append(options, nmap.WithOSScanGuess(), nmap.WithTimingTemplate(nmap.TimingAggressive))
		default:
			options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
		}
	case db.ScanTypeVulnerability:
		p := req.Params.Vulnerability
		options = append(options,
			nmap.WithPorts(p.Ports),
			nmap.WithConnectScan(),
			nmap.WithServiceInfo(),
			nmap.WithScripts("vuln"),
			nmap.WithTimingTemplate(nmap.TimingNormal),
		)
	default:
		return nil, &Error{Op: "build options", Err: fmt.Errorf("unsupported scan type %q", req.Params.ScanType)}
	}

	return options, nil
}

// timingOption maps the request speed onto an nmap timing template.
func timingOption(speed string) nmap.Option {
	switch speed {
	case params.SpeedSlow:
		return nmap.WithTimingTemplate(nmap.TimingPolite)
	case params.SpeedFast:
		return nmap.WithTimingTemplate(nmap.TimingAggressive)
	default:
		return nmap.WithTimingTemplate(nmap.TimingNormal)
	}
}

// convertRun converts nmap results to raw output, keying each host back
// to its requested target where possible.
func convertRun(result *nmap.Run, targets []string) *RawOutput {
	output := &RawOutput{
		Hosts: make([]HostOutput, 0, len(result.Hosts)),
	}

	for i := range result.Hosts {
		if host := convertHost(&result.Hosts[i]); host != nil {
			output.Hosts = append(output.Hosts, *host)
		}
	}

	// Hosts nmap never reported (down, filtered out) still appear in the
	// output so reports can show every requested target.
	seen := make(map[string]bool, len(output.Hosts))
	for _, h := range output.Hosts {
		seen[h.Target] = true
	}
	for _, target := range targets {
		if !seen[target] {
			output.Hosts = append(output.Hosts, HostOutput{Target: target, Status: "down"})
		}
	}

	return output
}

func convertHost(h *nmap.Host) *HostOutput {
	if len(h.Addresses) == 0 {
		return nil
	}

	target := h.Addresses[0].Addr
	for _, name := range h.Hostnames {
		if name.Type == "user" {
			target = name.Name
			break
		}
	}

	host := &HostOutput{
		Target: target,
		Status: h.Status.State,
		Ports:  make([]PortOutput, 0, len(h.Ports)),
	}

	for j := range h.Ports {
		p := &h.Ports[j]
		port := PortOutput{
			Port:     p.ID,
			Protocol: p.Protocol,
			State:    p.State.State,
			Service:  p.Service.Name,
			Product:  p.Service.Product,
			Version:  p.Service.Version,
		}
		for _, script := range p.Scripts {
			host.Scripts = append(host.Scripts, ScriptOutput{
				ID:     script.ID,
				Output: script.Output,
			})
		}
		host.Ports = append(host.Ports, port)
	}

	for _, match := range h.OS.Matches {
		host.OS = append(host.OS, OSGuess{
			Name:     match.Name,
			Accuracy: match.Accuracy,
		})
	}

	return host
}
