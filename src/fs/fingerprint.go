package fs

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/xattr"
	"github.com/zeebo/blake3"
)

// symlinkHashValue is used when we need to write something arbitrary indicating the input is a symlink.
var symlinkHashValue = []byte{2}

// BLAKE3 is the digest algorithm name we use for blake3 fingerprints.
// It is not one of go-digest's registered algorithms but we only ever format with it, never verify.
const BLAKE3 = digest.Algorithm("blake3")

// A Fingerprinter computes stable content digests of files and directory trees.
// Digests are a pure function of file contents and relative layout; timestamps,
// ownership and permission bits do not contribute. Results are memoised per path,
// so a Fingerprinter must not be used across mutations of the same path.
type Fingerprinter struct {
	algo      digest.Algorithm
	newHash   func() hash.Hash
	memo      map[string]digest.Digest
	mutex     sync.RWMutex
	xattrName string
	xattrRoot string
	useXattrs bool
}

// NewFingerprinter returns a new Fingerprinter using the given algorithm ("sha256" or "blake3").
// If xattrRoot is non-empty, computed file digests are recorded as extended attributes on files
// under that root and reused on later runs; this is best-effort and silently degrades.
func NewFingerprinter(algo string, xattrRoot string) (*Fingerprinter, error) {
	f := &Fingerprinter{
		memo:      map[string]digest.Digest{},
		xattrName: "user.whlhouse_" + algo,
		xattrRoot: xattrRoot,
		useXattrs: xattrRoot != "",
	}
	switch algo {
	case "sha256":
		f.algo = digest.SHA256
		f.newHash = sha256.New
	case "blake3":
		f.algo = BLAKE3
		f.newHash = func() hash.Hash { return blake3.New() }
	default:
		return nil, fmt.Errorf("unknown fingerprint algorithm %s (must be sha256 or blake3)", algo)
	}
	return f, nil
}

// MustNewFingerprinter is like NewFingerprinter but dies on an unknown algorithm.
func MustNewFingerprinter(algo, xattrRoot string) *Fingerprinter {
	f, err := NewFingerprinter(algo, xattrRoot)
	if err != nil {
		panic(err)
	}
	return f
}

// Algorithm returns the name of the algorithm this fingerprinter uses.
func (f *Fingerprinter) Algorithm() string {
	return string(f.algo)
}

// Fingerprint computes the digest of the file or directory tree at the given path.
func (f *Fingerprinter) Fingerprint(path string) (digest.Digest, error) {
	path = filepath.Clean(path)
	f.mutex.RLock()
	cached, present := f.memo[path]
	f.mutex.RUnlock()
	if present {
		return cached, nil
	}
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("cannot fingerprint %s: %w", path, err)
	}
	var d digest.Digest
	if info.IsDir() {
		d, err = f.dirFingerprint(path)
	} else {
		d, err = f.fileFingerprint(path, info.Mode()&os.ModeSymlink != 0)
	}
	if err != nil {
		return "", err
	}
	f.mutex.Lock()
	f.memo[path] = d
	f.mutex.Unlock()
	return d, nil
}

// fileFingerprint hashes a single file (or symlink) into a digest.
func (f *Fingerprinter) fileFingerprint(path string, isSymlink bool) (digest.Digest, error) {
	if isSymlink {
		dest, err := os.Readlink(path)
		if err != nil {
			return "", err
		}
		h := f.newHash()
		h.Write(symlinkHashValue)
		h.Write([]byte(dest))
		return digest.NewDigest(f.algo, h), nil
	}
	if d, present := f.readXattr(path); present {
		return d, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	h := f.newHash()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	d := digest.NewDigest(f.algo, h)
	f.storeXattr(path, d)
	return d, nil
}

// dirFingerprint hashes a directory tree. Each regular file contributes its relative
// path and content hash; the walk is in lexical order so the result is independent
// of filesystem iteration order.
func (f *Fingerprinter) dirFingerprint(root string) (digest.Digest, error) {
	h := f.newHash()
	err := WalkMode(root, func(name string, mode Mode) error {
		if mode.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, name)
		if err != nil {
			return err
		}
		h.Write([]byte(rel))
		h.Write([]byte{0})
		d, err := f.fileFingerprint(name, mode.IsSymlink())
		if err != nil {
			return err
		}
		h.Write([]byte(d.Encoded()))
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest.NewDigest(f.algo, h), nil
}

// readXattr attempts to read a previously stored digest off a file.
func (f *Fingerprinter) readXattr(path string) (digest.Digest, bool) {
	if !f.useXattrs || !strings.HasPrefix(path, f.xattrRoot) {
		return "", false
	}
	b, err := xattr.LGet(path, f.xattrName)
	if err != nil || len(b) == 0 {
		return "", false
	}
	d := digest.Digest(b)
	if d.Algorithm() != f.algo {
		return "", false
	}
	return d, true
}

// storeXattr stores the digest of a file on it as an xattr.
// This is best-effort since if it fails we can always fall back to a slower but reliable rehash.
func (f *Fingerprinter) storeXattr(path string, d digest.Digest) {
	// Only ever store digests on files inside our own cache tree.
	if !f.useXattrs || !strings.HasPrefix(path, f.xattrRoot) {
		return
	}
	if err := xattr.LSet(path, f.xattrName, []byte(d)); err != nil && os.IsPermission(err) {
		// If we get a permission denied, that may be because the cached file was readonly.
		// Cheekily attempt to chmod it into submission.
		if info, err := os.Lstat(path); err == nil {
			if err := os.Chmod(path, info.Mode()|0220); err == nil {
				xattr.LSet(path, f.xattrName, []byte(d))
				os.Chmod(path, info.Mode())
			}
		}
	}
}
