package artifact

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// TreeDigest fingerprints a working tree: every regular file's path
// and content, in sorted path order, so the same tree always hashes
// the same regardless of filesystem walk order. VCS internals are
// skipped; they change on every fetch without the source changing.
func TreeDigest(root string) (digest.Digest, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "walking %s", root)
	}
	sort.Strings(paths)

	digester := digest.SHA256.Digester()
	h := digester.Hash()
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", err
		}
		if _, err := io.WriteString(h, rel+"\x00"); err != nil {
			return "", err
		}
		f, err := os.Open(path)
		if err != nil {
			return "", errors.Wrapf(err, "reading %s", path)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "hashing %s", path)
		}
		if _, err := io.WriteString(h, "\x00"); err != nil {
			return "", err
		}
	}
	return digester.Digest(), nil
}

// ContentDigest derives the artifact digest from everything that
// determines the build: which service, which revision, what the tree
// hashed to, and the build command itself. Identical inputs give an
// identical digest; the build's wall-clock output never enters into
// it.
func ContentDigest(service, revision string, tree digest.Digest, buildCommand string) digest.Digest {
	return digest.FromString(service + "\x00" + revision + "\x00" + tree.String() + "\x00" + buildCommand)
}
