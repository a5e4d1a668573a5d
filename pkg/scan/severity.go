package scan

import (
	"fmt"
	"sort"
	"strings"
)

// Severity is the normalised severity scale all scanner output is
// mapped onto. Tools disagree about naming ("MODERATE", "Medium",
// "med"); adapters translate into this scale and the rest of the
// system never sees tool-specific values.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities from most to least severe. Used for
// threshold comparisons; a lower rank is more severe.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// ParseSeverity maps a tool-reported severity string onto the
// normalised scale. Unrecognised values map to info rather than
// failing the scan; a scanner inventing a new severity name should
// not block releases on a parse error.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit":
		return SeverityCritical
	case "high", "important", "error":
		return SeverityHigh
	case "medium", "moderate", "med", "warning":
		return SeverityMedium
	case "low", "minor":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Valid reports whether s is one of the normalised severities. Config
// validation uses this; adapters use ParseSeverity instead.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at least as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRank[s] <= severityRank[threshold]
}

// SeverityCounts is a histogram of findings by severity.
type SeverityCounts map[Severity]int

func (c SeverityCounts) Add(s Severity, n int) {
	c[s] += n
}

// Total is the number of findings across all severities.
func (c SeverityCounts) Total() int {
	var n int
	for _, v := range c {
		n += v
	}
	return n
}

// AtOrAbove is the number of findings at or above the given
// threshold severity.
func (c SeverityCounts) AtOrAbove(threshold Severity) int {
	var n int
	for s, v := range c {
		if s.AtLeast(threshold) {
			n += v
		}
	}
	return n
}

// String renders the non-zero buckets most severe first, e.g.
// "critical:1 high:3". Empty counts render as "clean".
func (c SeverityCounts) String() string {
	if c.Total() == 0 {
		return "clean"
	}
	keys := make([]Severity, 0, len(c))
	for s, v := range c {
		if v > 0 {
			keys = append(keys, s)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return severityRank[keys[i]] < severityRank[keys[j]]
	})
	parts := make([]string, len(keys))
	for i, s := range keys {
		parts[i] = fmt.Sprintf("%s:%d", s, c[s])
	}
	return strings.Join(parts, " ")
}
