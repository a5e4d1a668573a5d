package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitleaksAdapter(t *testing.T) {
	a, err := LookupAdapter("gitleaks")
	require.NoError(t, err)

	counts, err := a.Normalize(0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())

	report := []byte(`[{"RuleID":"aws-access-key"},{"RuleID":"generic-api-key"}]`)
	counts, err = a.Normalize(1, report)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[SeverityCritical])

	_, err = a.Normalize(2, nil)
	assert.Error(t, err)

	_, err = a.Normalize(1, []byte("segfault"))
	assert.Error(t, err)
}

func TestTrivyAdapter(t *testing.T) {
	a, err := LookupAdapter("trivy")
	require.NoError(t, err)

	report := []byte(`{"Results":[
		{"Vulnerabilities":[{"Severity":"CRITICAL"},{"Severity":"HIGH"}]},
		{"Vulnerabilities":[{"Severity":"MEDIUM"},{"Severity":"UNKNOWN"}]}
	]}`)
	counts, err := a.Normalize(0, report)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 1, counts[SeverityHigh])
	assert.Equal(t, 1, counts[SeverityMedium])
	assert.Equal(t, 1, counts[SeverityInfo])

	_, err = a.Normalize(127, report)
	assert.Error(t, err)
}

func TestGrypeAdapter(t *testing.T) {
	a, err := LookupAdapter("grype")
	require.NoError(t, err)

	report := []byte(`{"matches":[{"vulnerability":{"severity":"High"}},{"vulnerability":{"severity":"Low"}}]}`)
	counts, err := a.Normalize(0, report)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[SeverityHigh])
	assert.Equal(t, 1, counts[SeverityLow])
}

func TestFindingsAdapter(t *testing.T) {
	a, err := LookupAdapter("findings")
	require.NoError(t, err)

	counts, err := a.Normalize(1, []byte(`{"findings":[{"severity":"high"},{"severity":"high"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, counts[SeverityHigh])

	counts, err = a.Normalize(0, []byte(`{"findings":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())
}

func TestLookupAdapterUnknown(t *testing.T) {
	_, err := LookupAdapter("no-such-scanner")
	assert.Error(t, err)
}

type constAdapter struct{ counts SeverityCounts }

func (a constAdapter) Normalize(int, []byte) (SeverityCounts, error) { return a.counts, nil }

func TestRegisterAdapter(t *testing.T) {
	RegisterAdapter("in-house", constAdapter{SeverityCounts{SeverityLow: 1}})
	a, err := LookupAdapter("in-house")
	require.NoError(t, err)
	counts, err := a.Normalize(0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[SeverityLow])
}
