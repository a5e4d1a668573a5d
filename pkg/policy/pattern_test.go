package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobPattern(t *testing.T) {
	p := NewPattern("glob:services/checkout/*")
	assert.True(t, p.Valid())
	assert.True(t, p.Matches("services/checkout/handler.go"))
	assert.False(t, p.Matches("services/billing/handler.go"))

	// no prefix means glob
	bare := NewPattern("release-*")
	assert.True(t, bare.Matches("release-2026-08"))
	assert.False(t, bare.Matches("feature/foo"))

	assert.True(t, PatternAll.Matches("anything/at/all"))
}

func TestSemverPattern(t *testing.T) {
	p := NewPattern("semver:>=2.0, <3.0")
	assert.True(t, p.Valid())
	assert.True(t, p.Matches("2.4.1"))
	assert.False(t, p.Matches("3.0.0"))
	assert.False(t, p.Matches("not-a-version"))

	invalid := NewPattern("semver:not a constraint")
	assert.False(t, invalid.Valid())
}

func TestRegexpPattern(t *testing.T) {
	p := NewPattern("regexp:^(main|release-.*)$")
	assert.True(t, p.Valid())
	assert.True(t, p.Matches("main"))
	assert.True(t, p.Matches("release-hotfix"))
	assert.False(t, p.Matches("feature/main"))

	alt := NewPattern("regex:^v[0-9]+$")
	assert.True(t, alt.Matches("v12"))
}

func TestMatchesAny(t *testing.T) {
	p := NewPattern("glob:services/checkout/**")
	assert.True(t, MatchesAny(p, []string{"README.md", "services/checkout/go.mod"}))
	assert.False(t, MatchesAny(p, []string{"README.md", "docs/checkout.md"}))
	assert.False(t, MatchesAny(p, nil))
}
