package scan

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Adapter interprets one tool's exit status and raw report, turning
// them into normalised severity counts. Returning an error means the
// invocation cannot be interpreted (unexpected exit code, mangled
// report) and the runner records a tool error; all knowledge of a
// particular scanner lives here and nowhere else.
type Adapter interface {
	Normalize(exitCode int, report []byte) (SeverityCounts, error)
}

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]Adapter{
		"gitleaks": gitleaksAdapter{},
		"trivy":    trivyAdapter{},
		"grype":    grypeAdapter{},
		"semgrep":  semgrepAdapter{},
		"findings": findingsAdapter{},
	}
)

// RegisterAdapter makes an adapter available under the given parser
// name. Later registrations replace earlier ones.
func RegisterAdapter(name string, a Adapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[name] = a
}

func LookupAdapter(name string) (Adapter, error) {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	a, ok := adapters[name]
	if !ok {
		return nil, errors.Errorf("no adapter registered for %q", name)
	}
	return a, nil
}

// gitleaksAdapter understands gitleaks' detect mode: exit 0 means a
// clean tree, exit 1 means leaks were found and the report is a JSON
// array of them. Leaked credentials have no severity field; every
// leak counts as critical.
type gitleaksAdapter struct{}

func (gitleaksAdapter) Normalize(exitCode int, report []byte) (SeverityCounts, error) {
	switch exitCode {
	case 0:
		return SeverityCounts{}, nil
	case 1:
		var leaks []struct {
			RuleID string `json:"RuleID"`
		}
		if err := json.Unmarshal(report, &leaks); err != nil {
			return nil, errors.Wrap(err, "parsing gitleaks report")
		}
		counts := SeverityCounts{}
		counts.Add(SeverityCritical, len(leaks))
		return counts, nil
	default:
		return nil, errors.Errorf("gitleaks exited with code %d", exitCode)
	}
}

// trivyAdapter understands trivy's JSON report. Trivy is run without
// --exit-code so findings still exit 0; exit 1 is tolerated for
// installations that set it anyway.
type trivyAdapter struct{}

func (trivyAdapter) Normalize(exitCode int, report []byte) (SeverityCounts, error) {
	if exitCode != 0 && exitCode != 1 {
		return nil, errors.Errorf("trivy exited with code %d", exitCode)
	}
	var doc struct {
		Results []struct {
			Vulnerabilities []struct {
				Severity string `json:"Severity"`
			} `json:"Vulnerabilities"`
		} `json:"Results"`
	}
	if err := json.Unmarshal(report, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing trivy report")
	}
	counts := SeverityCounts{}
	for _, res := range doc.Results {
		for _, v := range res.Vulnerabilities {
			counts.Add(ParseSeverity(v.Severity), 1)
		}
	}
	return counts, nil
}

// grypeAdapter understands grype's JSON report ("matches" with a
// severity per vulnerability).
type grypeAdapter struct{}

func (grypeAdapter) Normalize(exitCode int, report []byte) (SeverityCounts, error) {
	if exitCode != 0 && exitCode != 1 {
		return nil, errors.Errorf("grype exited with code %d", exitCode)
	}
	var doc struct {
		Matches []struct {
			Vulnerability struct {
				Severity string `json:"severity"`
			} `json:"vulnerability"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(report, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing grype report")
	}
	counts := SeverityCounts{}
	for _, m := range doc.Matches {
		counts.Add(ParseSeverity(m.Vulnerability.Severity), 1)
	}
	return counts, nil
}

// semgrepAdapter understands semgrep's JSON report: results with an
// ERROR/WARNING/INFO severity in their extra block. Exit 1 means
// findings when --error is set; both are tolerated.
type semgrepAdapter struct{}

func (semgrepAdapter) Normalize(exitCode int, report []byte) (SeverityCounts, error) {
	if exitCode != 0 && exitCode != 1 {
		return nil, errors.Errorf("semgrep exited with code %d", exitCode)
	}
	var doc struct {
		Results []struct {
			Extra struct {
				Severity string `json:"severity"`
			} `json:"extra"`
		} `json:"results"`
	}
	if err := json.Unmarshal(report, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing semgrep report")
	}
	counts := SeverityCounts{}
	for _, r := range doc.Results {
		counts.Add(ParseSeverity(r.Extra.Severity), 1)
	}
	return counts, nil
}

// findingsAdapter is the fallback contract for in-house tools: a JSON
// document {"findings": [{"severity": "..."}]} on exit 0 or 1.
type findingsAdapter struct{}

func (findingsAdapter) Normalize(exitCode int, report []byte) (SeverityCounts, error) {
	if exitCode != 0 && exitCode != 1 {
		return nil, errors.Errorf("tool exited with code %d", exitCode)
	}
	var doc struct {
		Findings []struct {
			Severity string `json:"severity"`
		} `json:"findings"`
	}
	if err := json.Unmarshal(report, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing findings report")
	}
	counts := SeverityCounts{}
	for _, f := range doc.Findings {
		counts.Add(ParseSeverity(f.Severity), 1)
	}
	return counts, nil
}
