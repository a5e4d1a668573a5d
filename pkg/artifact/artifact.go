// Package artifact turns a gated source revision into the immutable,
// content-addressed thing a rollout ships.
package artifact

import (
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
)

// Artifact is one buildable unit at one content digest. Artifacts are
// immutable: rebuilding the same source with the same config yields
// the same digest, and one digest never maps to two contents.
type Artifact struct {
	Service  string        `json:"service"`
	Tag      string        `json:"tag"`
	Digest   digest.Digest `json:"digest"`
	Revision string        `json:"revision"`
	Branch   string        `json:"branch"`
	BuiltAt  time.Time     `json:"builtAt"`
	// Promoted is set once the artifact has passed both gates; only
	// promoted artifacts may be rolled out. A blocked artifact stays
	// in the registry un-promoted, for forensics.
	Promoted bool `json:"promoted"`
}

// Ref is the deployable reference handed to scanners and the rollout:
// service:tag pinned by digest.
func (a Artifact) Ref() string {
	return fmt.Sprintf("%s:%s", a.Service, a.Tag)
}

func (a Artifact) String() string {
	return fmt.Sprintf("%s@%s", a.Ref(), a.Digest)
}

// MakeTag is the version tag for a build: branch plus the short
// revision, e.g. "main-0123abcd". Unique per revision, readable in a
// service mesh dashboard.
func MakeTag(branch, revision string) string {
	short := revision
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s", branch, short)
}
