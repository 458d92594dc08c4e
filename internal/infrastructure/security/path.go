// Package security provides path validation for storage that maps untrusted
// names onto the local filesystem.
package security

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// PathValidator confines slash-separated object keys to a root directory.
type PathValidator struct {
	root string
}

// NewPathValidator creates a validator rooted at root.
func NewPathValidator(root string) (*PathValidator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve root %s: %w", root, err)
	}
	return &PathValidator{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute root directory.
func (v *PathValidator) Root() string {
	return v.root
}

// Resolve maps key to a path inside the root. Keys must be relative, must
// not traverse upwards and must not name the root itself.
func (v *PathValidator) Resolve(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	full := filepath.Join(v.root, filepath.FromSlash(key))
	if !v.Contains(full) || full == v.root {
		return "", fmt.Errorf("key escapes root: %s", key)
	}
	return full, nil
}

// Rel maps a path inside the root back to its slash-separated key.
func (v *PathValidator) Rel(full string) (string, error) {
	rel, err := filepath.Rel(v.root, full)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path is outside root: %s", full)
	}
	return filepath.ToSlash(rel), nil
}

// Contains reports whether p is the root or lies beneath it.
func (v *PathValidator) Contains(p string) bool {
	clean := filepath.Clean(p)
	return clean == v.root || strings.HasPrefix(clean, v.root+string(filepath.Separator))
}

// ValidateKey checks an object key without resolving it.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("key must be relative and slash-separated: %s", key)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("key contains NUL: %q", key)
	}
	if path.Clean(key) != strings.TrimSuffix(key, "/") {
		return fmt.Errorf("key contains traversal components: %s", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("key contains traversal components: %s", key)
		}
	}
	return nil
}
