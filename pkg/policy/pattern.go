package policy

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ryanuber/go-glob"
)

const (
	globPrefix      = "glob:"
	semverPrefix    = "semver:"
	regexpPrefix    = "regexp:"
	regexpAltPrefix = "regex:"
)

var (
	// PatternAll matches everything.
	PatternAll = NewPattern(globPrefix + "*")
)

// Pattern matches strings from pipeline config: changed paths when
// selecting which pipeline a change triggers, branch names when
// deciding whether a change releases at all, version tags when
// validating artifacts.
type Pattern interface {
	// Matches returns true if the given string matches the pattern.
	Matches(s string) bool
	// String returns the prefixed string representation.
	String() string
	// Valid returns true if the pattern is considered valid.
	Valid() bool
}

type GlobPattern string

// SemverPattern matches by semantic versioning.
// See https://semver.org/
type SemverPattern struct {
	pattern     string // pattern without prefix
	constraints *semver.Constraints
}

// RegexpPattern matches by regular expression.
type RegexpPattern struct {
	pattern string // pattern without prefix
	regexp  *regexp.Regexp
}

// NewPattern instantiates a Pattern according to the prefix
// it finds. The prefix can be either `glob:` (default if omitted),
// `semver:` or `regexp:`.
func NewPattern(pattern string) Pattern {
	switch {
	case strings.HasPrefix(pattern, semverPrefix):
		pattern = strings.TrimPrefix(pattern, semverPrefix)
		c, _ := semver.NewConstraint(pattern)
		return SemverPattern{pattern, c}
	case strings.HasPrefix(pattern, regexpPrefix):
		pattern = strings.TrimPrefix(pattern, regexpPrefix)
		r, _ := regexp.Compile(pattern)
		return RegexpPattern{pattern, r}
	case strings.HasPrefix(pattern, regexpAltPrefix):
		pattern = strings.TrimPrefix(pattern, regexpAltPrefix)
		r, _ := regexp.Compile(pattern)
		return RegexpPattern{pattern, r}
	default:
		return GlobPattern(strings.TrimPrefix(pattern, globPrefix))
	}
}

// MatchesAny reports whether any of the given strings matches the
// pattern. Convenient for a change's list of touched paths.
func MatchesAny(p Pattern, ss []string) bool {
	for _, s := range ss {
		if p.Matches(s) {
			return true
		}
	}
	return false
}

func (g GlobPattern) Matches(s string) bool {
	return glob.Glob(string(g), s)
}

func (g GlobPattern) String() string {
	return globPrefix + string(g)
}

func (g GlobPattern) Valid() bool {
	return true
}

func (s SemverPattern) Matches(tag string) bool {
	v, err := semver.NewVersion(tag)
	if err != nil {
		return false
	}
	if s.constraints == nil {
		// Invalid constraints match anything
		return true
	}
	return s.constraints.Check(v)
}

func (s SemverPattern) String() string {
	return semverPrefix + s.pattern
}

func (s SemverPattern) Valid() bool {
	return s.constraints != nil
}

func (r RegexpPattern) Matches(s string) bool {
	if r.regexp == nil {
		// Invalid regexp match anything
		return true
	}
	return r.regexp.MatchString(s)
}

func (r RegexpPattern) String() string {
	return regexpPrefix + r.pattern
}

func (r RegexpPattern) Valid() bool {
	return r.regexp != nil
}
