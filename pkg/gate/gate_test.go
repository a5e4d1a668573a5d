package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	srcReason := Reason{TaskID: "gitleaks-source", Tool: "gitleaks", Stage: "source", Cause: CauseFindings}
	imgReason := Reason{TaskID: "trivy-image", Tool: "trivy", Stage: "image", Cause: CauseFindings}

	for _, tc := range []struct {
		name    string
		source  Decision
		image   Decision
		allowed bool
		reasons []Reason
	}{
		{"both proceed", Allow(), Allow(), true, nil},
		{"source blocked", Block(srcReason), Allow(), false, []Reason{srcReason}},
		{"image blocked", Allow(), Block(imgReason), false, []Reason{imgReason}},
		{"both blocked", Block(srcReason), Block(imgReason), false, []Reason{srcReason, imgReason}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			combined := Combine(tc.source, tc.image)
			assert.Equal(t, tc.allowed, combined.Allowed())
			assert.Equal(t, tc.reasons, combined.Reasons)
		})
	}
}

func TestCombineKeepsSourceReasonsFirst(t *testing.T) {
	src := Block(Reason{TaskID: "a", Stage: "source"}, Reason{TaskID: "b", Stage: "source"})
	img := Block(Reason{TaskID: "c", Stage: "image"})
	combined := Combine(src, img)
	assert.Equal(t, []string{"a", "b", "c"}, []string{
		combined.Reasons[0].TaskID, combined.Reasons[1].TaskID, combined.Reasons[2].TaskID,
	})
}

func TestCombineIsPure(t *testing.T) {
	src := Block(Reason{TaskID: "a"})
	img := Block(Reason{TaskID: "b"})
	first := Combine(src, img)
	second := Combine(src, img)
	assert.Equal(t, first, second)
	// the inputs must not have been touched
	assert.Len(t, src.Reasons, 1)
	assert.Len(t, img.Reasons, 1)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "proceed", Allow().String())
	blocked := Block(Reason{TaskID: "trivy-image", Stage: "image", Cause: CauseFindings, Detail: "2 critical"})
	assert.Contains(t, blocked.String(), "blocked")
	assert.Contains(t, blocked.String(), "trivy-image")
}
