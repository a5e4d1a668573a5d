package artifact

import (
	"context"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound: no artifact at that digest.
	ErrNotFound = errors.New("artifact not found")
	// ErrDigestCollision: a push tried to bind an existing digest to
	// different content. That must never succeed.
	ErrDigestCollision = errors.New("digest already bound to different content")
)

// Registry is the external artifact store, reduced to what the
// pipeline needs: push a built artifact, promote it once gated, look
// it up by digest.
type Registry interface {
	Push(ctx context.Context, a Artifact) error
	Promote(ctx context.Context, d digest.Digest) error
	Get(ctx context.Context, d digest.Digest) (Artifact, error)
}

// Inmem is the in-process registry used in tests and single-node
// deployments. It enforces the immutability contract the same way a
// real registry would.
type Inmem struct {
	mu        sync.Mutex
	artifacts map[digest.Digest]Artifact
}

var _ Registry = &Inmem{}

func NewInmem() *Inmem {
	return &Inmem{artifacts: map[digest.Digest]Artifact{}}
}

func (r *Inmem) Push(_ context.Context, a Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.artifacts[a.Digest]; ok {
		// pushing the same content twice is fine; rebinding is not
		if existing.Service != a.Service || existing.Tag != a.Tag || existing.Revision != a.Revision {
			return ErrDigestCollision
		}
		return nil
	}
	r.artifacts[a.Digest] = a
	return nil
}

func (r *Inmem) Promote(_ context.Context, d digest.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[d]
	if !ok {
		return ErrNotFound
	}
	a.Promoted = true
	r.artifacts[d] = a
	return nil
}

func (r *Inmem) Get(_ context.Context, d digest.Digest) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[d]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}
