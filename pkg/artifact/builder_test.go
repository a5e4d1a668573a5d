package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestTreeDigestDeterministic(t *testing.T) {
	files := map[string]string{
		"main.go":        "package main\n",
		"handler/api.go": "package handler\n",
	}
	a := writeTree(t, files)
	b := writeTree(t, files)

	da, err := TreeDigest(a)
	require.NoError(t, err)
	db, err := TreeDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestTreeDigestSeesContentChange(t *testing.T) {
	a := writeTree(t, map[string]string{"main.go": "package main\n"})
	b := writeTree(t, map[string]string{"main.go": "package main // changed\n"})

	da, err := TreeDigest(a)
	require.NoError(t, err)
	db, err := TreeDigest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestTreeDigestIgnoresGitDir(t *testing.T) {
	a := writeTree(t, map[string]string{"main.go": "package main\n"})
	b := writeTree(t, map[string]string{"main.go": "package main\n", ".git/HEAD": "ref: refs/heads/main\n"})

	da, err := TreeDigest(a)
	require.NoError(t, err)
	db, err := TreeDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestMakeTag(t *testing.T) {
	assert.Equal(t, "main-0123abcd", MakeTag("main", "0123abcdef9876"))
	assert.Equal(t, "main-abc", MakeTag("main", "abc"))
}

func buildReq(workdir, command string) BuildRequest {
	return BuildRequest{
		Service:  "checkout-service",
		Branch:   "main",
		Revision: "0123abcdef9876",
		Workdir:  workdir,
		Command:  command,
		Timeout:  time.Minute,
	}
}

func TestBuildProducesDeterministicDigest(t *testing.T) {
	files := map[string]string{"main.go": "package main\n"}
	reg := NewInmem()
	b := NewBuilder(reg, log.NewNopLogger())

	first, err := b.Build(context.Background(), buildReq(writeTree(t, files), "true"))
	require.NoError(t, err)
	second, err := b.Build(context.Background(), buildReq(writeTree(t, files), "true"))
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, "main-0123abcd", first.Tag)
	assert.False(t, first.Promoted)
}

func TestBuildDigestDependsOnCommand(t *testing.T) {
	files := map[string]string{"main.go": "package main\n"}
	reg := NewInmem()
	b := NewBuilder(reg, log.NewNopLogger())

	one, err := b.Build(context.Background(), buildReq(writeTree(t, files), "true"))
	require.NoError(t, err)
	req := buildReq(writeTree(t, files), "true # different build")
	two, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, one.Digest, two.Digest)
}

func TestBuildFailureIsFatalWithOutput(t *testing.T) {
	reg := NewInmem()
	b := NewBuilder(reg, log.NewNopLogger())

	_, err := b.Build(context.Background(), buildReq(writeTree(t, map[string]string{"x": "y"}), "echo compile error >&2; exit 2"))
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Output, "compile error")
}

func TestBuildTimeout(t *testing.T) {
	reg := NewInmem()
	b := NewBuilder(reg, log.NewNopLogger())

	req := buildReq(writeTree(t, map[string]string{"x": "y"}), "sleep 5")
	req.Timeout = 50 * time.Millisecond
	_, err := b.Build(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")
}

func TestRegistryImmutability(t *testing.T) {
	reg := NewInmem()
	a := Artifact{Service: "checkout-service", Tag: "main-0123abcd", Digest: ContentDigest("checkout-service", "0123", "sha256:aaa", "make"), Revision: "0123"}
	require.NoError(t, reg.Push(context.Background(), a))
	// same artifact again: fine
	require.NoError(t, reg.Push(context.Background(), a))
	// same digest, different content: refused
	b := a
	b.Revision = "9999"
	assert.Equal(t, ErrDigestCollision, reg.Push(context.Background(), b))
}

func TestRegistryPromote(t *testing.T) {
	reg := NewInmem()
	a := Artifact{Service: "s", Tag: "main-1", Digest: ContentDigest("s", "1", "sha256:aaa", "make")}
	require.NoError(t, reg.Push(context.Background(), a))

	require.NoError(t, reg.Promote(context.Background(), a.Digest))
	got, err := reg.Get(context.Background(), a.Digest)
	require.NoError(t, err)
	assert.True(t, got.Promoted)

	assert.Equal(t, ErrNotFound, reg.Promote(context.Background(), "sha256:feed"))
}
