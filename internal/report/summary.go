package report

// Summary aggregates findings across all targets of one result.
type Summary struct {
	TotalTargets         int            `json:"total_targets"`
	TotalOpenPorts       int            `json:"total_open_ports"`
	TotalVulnerabilities int            `json:"total_vulnerabilities"`
	OSDistribution       map[string]int `json:"os_distribution,omitempty"`
}

// Summarize projects findings into per-scan totals and an OS name
// histogram.
func Summarize(f *Findings) *Summary {
	s := &Summary{}
	for i := range f.Targets {
		target := &f.Targets[i]
		s.TotalTargets++
		s.TotalOpenPorts += len(target.OpenPorts)
		s.TotalVulnerabilities += len(target.Vulnerabilities)
		if target.OS != nil {
			if s.OSDistribution == nil {
				s.OSDistribution = make(map[string]int)
			}
			s.OSDistribution[target.OS.Name]++
		}
	}
	return s
}
