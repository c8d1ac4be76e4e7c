package report

import (
	"fmt"
	"sort"
	"strconv"
)

// FindingRef names a single finding on a target for comparison output.
type FindingRef struct {
	Target  string `json:"target"`
	Finding string `json:"finding"`
}

// Comparison is the diff of two normalized results. Findings are keyed by
// (target, finding); targets present in only one result are listed as not
// comparable rather than diffed.
type Comparison struct {
	OnlyInA       []FindingRef `json:"only_in_a"`
	OnlyInB       []FindingRef `json:"only_in_b"`
	InBoth        []FindingRef `json:"in_both"`
	NotComparable []string     `json:"not_comparable"`
}

// Compare diffs two findings models. The operation is symmetric up to
// swapping the only-in sides.
func Compare(a, b *Findings) *Comparison {
	targetsA := indexTargets(a)
	targetsB := indexTargets(b)

	cmp := &Comparison{}

	notComparable := make(map[string]bool)
	for target := range targetsA {
		if _, ok := targetsB[target]; !ok {
			notComparable[target] = true
		}
	}
	for target := range targetsB {
		if _, ok := targetsA[target]; !ok {
			notComparable[target] = true
		}
	}
	for target := range notComparable {
		cmp.NotComparable = append(cmp.NotComparable, target)
	}
	sort.Strings(cmp.NotComparable)

	for target, findingsA := range targetsA {
		findingsB, ok := targetsB[target]
		if !ok {
			continue
		}

		for key := range findingsA {
			if findingsB[key] {
				cmp.InBoth = append(cmp.InBoth, FindingRef{Target: target, Finding: key})
			} else {
				cmp.OnlyInA = append(cmp.OnlyInA, FindingRef{Target: target, Finding: key})
			}
		}
		for key := range findingsB {
			if !findingsA[key] {
				cmp.OnlyInB = append(cmp.OnlyInB, FindingRef{Target: target, Finding: key})
			}
		}
	}

	sortRefs(cmp.OnlyInA)
	sortRefs(cmp.OnlyInB)
	sortRefs(cmp.InBoth)

	return cmp
}

// indexTargets builds the finding-key set per target.
func indexTargets(f *Findings) map[string]map[string]bool {
	index := make(map[string]map[string]bool, len(f.Targets))
	for i := range f.Targets {
		t := &f.Targets[i]
		keys := make(map[string]bool)

		for _, port := range t.OpenPorts {
			key := "port:" + port.Protocol + "/" + strconv.Itoa(int(port.Port))
			if port.Service != "" {
				key += "/" + port.Service
			}
			keys[key] = true
		}
		if t.OS != nil {
			keys["os:"+t.OS.Name] = true
		}
		for _, vuln := range t.Vulnerabilities {
			keys["vuln:"+vuln.ID] = true
		}

		index[t.Target] = keys
	}
	return index
}

func sortRefs(refs []FindingRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Target != refs[j].Target {
			return refs[i].Target < refs[j].Target
		}
		return refs[i].Finding < refs[j].Finding
	})
}

// String summarizes the comparison for logs.
func (c *Comparison) String() string {
	return fmt.Sprintf("only_a=%d only_b=%d both=%d not_comparable=%d",
		len(c.OnlyInA), len(c.OnlyInB), len(c.InBoth), len(c.NotComparable))
}
