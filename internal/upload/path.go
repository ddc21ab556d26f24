package upload

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenBytes = 16 // 128 bits of entropy, hex-encoded to 32 chars

// Resolver derives randomized stored filenames and guarantees the resulting
// destination path stays inside a fixed storage root.
type Resolver struct {
	root string // canonical absolute storage root
}

// NewResolver canonicalizes root (which must already exist) and returns a
// resolver bound to it.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	// EvalSymlinks pins the root so later containment checks compare against
	// the real directory, not a symlink alias.
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize storage root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", canonical)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical absolute storage root.
func (r *Resolver) Root() string { return r.root }

// Destination is a containment-verified target for a new stored file.
type Destination struct {
	Name string // random token + extension
	ID   string // token with the extension stripped
	Path string // canonical absolute path under the storage root
}

// Resolve generates a fresh random filename for ext and returns its verified
// destination. The original upload filename never participates; only the
// already-whitelisted extension is appended to the token.
func (r *Resolver) Resolve(ext string) (Destination, error) {
	token, err := randomToken()
	if err != nil {
		return Destination{}, wrapError(KindIOError, "generate filename token", err)
	}
	name := token + strings.ToLower(ext)
	path := filepath.Clean(filepath.Join(r.root, name))
	if !r.contains(path) {
		return Destination{}, newError(KindInvalidPath, "destination escapes storage root")
	}
	return Destination{Name: name, ID: token, Path: path}, nil
}

// Locate maps a previously stored filename back to its canonical path,
// applying the same containment check as Resolve. It exists so that no other
// component ever joins names onto the storage root itself.
func (r *Resolver) Locate(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", newError(KindInvalidPath, "stored name contains path elements")
	}
	path := filepath.Clean(filepath.Join(r.root, name))
	if !r.contains(path) {
		return "", newError(KindInvalidPath, "stored name escapes storage root")
	}
	return path, nil
}

// contains checks that path sits strictly below the root. The separator
// suffix makes the check boundary-aware: /uploads-evil must not pass against
// root /uploads.
func (r *Resolver) contains(path string) bool {
	if path == r.root {
		return false // the root itself is never a valid file destination
	}
	return strings.HasPrefix(path, r.root+string(filepath.Separator))
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
