// Package report turns raw executor output into normalized findings and
// projects them into renderable reports and comparisons. Everything here
// is pure: the same result model always yields the same report.
package report

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/executor"
	"github.com/vigilsec/vigil/internal/params"
)

// PortFinding is an open port with its best service guess.
type PortFinding struct {
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
}

// OSFinding is the highest-accuracy OS guess for a target.
type OSFinding struct {
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
}

// VulnFinding is a vulnerability flag extracted from script output.
type VulnFinding struct {
	ID       string  `json:"id"`
	Severity string  `json:"severity"`
	CVSS     float64 `json:"cvss,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// TargetFindings holds everything observed for one target.
type TargetFindings struct {
	Target          string        `json:"target"`
	Status          string        `json:"status"`
	OpenPorts       []PortFinding `json:"open_ports,omitempty"`
	OS              *OSFinding    `json:"os,omitempty"`
	Vulnerabilities []VulnFinding `json:"vulnerabilities,omitempty"`
}

// Findings is the normalized result model persisted for a completed job.
type Findings struct {
	ScanType string           `json:"scan_type"`
	Targets  []TargetFindings `json:"targets"`
}

// Marshal renders the findings as JSON for persistence.
func (f *Findings) Marshal() (db.JSONB, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal findings: %w", err)
	}
	return db.JSONB(data), nil
}

// UnmarshalFindings restores findings from their persisted form.
func UnmarshalFindings(raw db.JSONB) (*Findings, error) {
	var f Findings
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal findings: %w", err)
	}
	return &f, nil
}

// cveRe matches CVE identifiers in script output.
var cveRe = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

// cvssRe matches a bare CVSS score next to a CVE id, as emitted by the
// vulners family of scripts.
var cvssRe = regexp.MustCompile(`\b(\d{1,2}\.\d)\b`)

// Normalize converts raw executor output into the findings model. The
// second return value reports whether any part of the output could not be
// interpreted; the result is still usable and the job still completes.
func Normalize(output *executor.RawOutput, v *params.Validated) (*Findings, bool) {
	findings := &Findings{ScanType: v.ScanType}
	if output == nil {
		return findings, true
	}

	incomplete := false
	for i := range output.Hosts {
		host := &output.Hosts[i]
		target := TargetFindings{
			Target: host.Target,
			Status: host.Status,
		}

		for _, port := range host.Ports {
			if port.State != "open" {
				continue
			}
			target.OpenPorts = append(target.OpenPorts, PortFinding{
				Port:     port.Port,
				Protocol: port.Protocol,
				Service:  port.Service,
				Product:  port.Product,
				Version:  port.Version,
			})
		}
		sort.Slice(target.OpenPorts, func(a, b int) bool {
			return target.OpenPorts[a].Port < target.OpenPorts[b].Port
		})

		if best := bestOSGuess(host.OS); best != nil {
			target.OS = best
		}

		if v.ScanType == db.ScanTypeVulnerability {
			vulns, ok := extractVulns(host.Scripts)
			if !ok {
				incomplete = true
			}
			target.Vulnerabilities = filterBySeverity(vulns, v.Vulnerability.Severity)
		}

		findings.Targets = append(findings.Targets, target)
	}

	return findings, incomplete
}

// bestOSGuess picks the highest-accuracy match.
func bestOSGuess(guesses []executor.OSGuess) *OSFinding {
	var best *OSFinding
	for _, g := range guesses {
		if best == nil || g.Accuracy > best.Accuracy {
			best = &OSFinding{Name: g.Name, Accuracy: g.Accuracy}
		}
	}
	return best
}

// extractVulns parses NSE script output into vulnerability findings.
// Output that flags a vulnerability but yields no identifiable finding
// marks the extraction incomplete.
func extractVulns(scripts []executor.ScriptOutput) (vulns []VulnFinding, ok bool) {
	ok = true
	for _, script := range scripts {
		cves := cveRe.FindAllString(script.Output, -1)
		if len(cves) == 0 {
			if strings.Contains(script.Output, "VULNERABLE") {
				// Flagged but unparseable: keep a generic finding and mark
				// the result incomplete.
				vulns = append(vulns, VulnFinding{
					ID:       script.ID,
					Severity: params.SeverityLow,
					Source:   script.ID,
				})
				ok = false
			}
			continue
		}

		seen := make(map[string]bool, len(cves))
		for _, cve := range cves {
			if seen[cve] {
				continue
			}
			seen[cve] = true
			cvss := scoreNear(script.Output, cve)
			vulns = append(vulns, VulnFinding{
				ID:       cve,
				Severity: severityFromCVSS(cvss),
				CVSS:     cvss,
				Source:   script.ID,
			})
		}
	}

	sort.Slice(vulns, func(a, b int) bool { return vulns[a].ID < vulns[b].ID })
	return vulns, ok
}

// scoreNear finds a CVSS score on the same output line as the CVE id.
func scoreNear(output, cve string) float64 {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, cve) {
			continue
		}
		rest := strings.Replace(line, cve, "", 1)
		if m := cvssRe.FindString(rest); m != "" {
			if score, err := strconv.ParseFloat(m, 64); err == nil && score <= 10.0 {
				return score
			}
		}
	}
	return 0
}

// severityFromCVSS maps a CVSS v3 base score onto the severity scale.
func severityFromCVSS(score float64) string {
	switch {
	case score >= 9.0:
		return params.SeverityCritical
	case score >= 7.0:
		return params.SeverityHigh
	case score >= 4.0:
		return params.SeverityMedium
	default:
		return params.SeverityLow
	}
}

var severityRank = map[string]int{
	params.SeverityLow:      0,
	params.SeverityMedium:   1,
	params.SeverityHigh:     2,
	params.SeverityCritical: 3,
}

// filterBySeverity drops findings below the requested severity floor.
func filterBySeverity(vulns []VulnFinding, minSeverity string) []VulnFinding {
	floor := severityRank[minSeverity]
	var kept []VulnFinding
	for _, v := range vulns {
		if severityRank[v.Severity] >= floor {
			kept = append(kept, v)
		}
	}
	return kept
}
