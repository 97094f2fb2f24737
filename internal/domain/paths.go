package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathOutsideRoot marks a local path that resolves outside the directory
// it is confined to.
var ErrPathOutsideRoot = errors.New("path is outside the allowed directory")

// ResolveUnder confines p to root. A relative p is joined onto root and must
// not climb out of it; an absolute p must already lie inside root.
func ResolveUnder(root, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathOutsideRoot)
	}
	if !filepath.IsAbs(p) {
		if !filepath.IsLocal(p) {
			return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, p)
		}
		return filepath.Join(root, p), nil
	}
	if !WithinRoot(root, p) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, p)
	}
	return filepath.Clean(p), nil
}

// WithinRoot reports whether p names root itself or something below it.
// Both are made absolute against the working directory first.
func WithinRoot(root, p string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}
