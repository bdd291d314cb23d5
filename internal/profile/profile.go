// Package profile validates browser profile identifiers and maps them to
// directories under a sandboxed root.
package profile

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultPattern is the allow-list applied when no pattern is configured.
const DefaultPattern = `^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`

// ErrInvalidID is wrapped by every validation failure.
var ErrInvalidID = errors.New("invalid profile id")

// Validator normalizes profile ids and resolves them under Root.
type Validator struct {
	root      string
	defaultID string
	pattern   *regexp.Regexp
}

// NewValidator creates a validator for ids stored under root.
// An empty pattern falls back to DefaultPattern.
func NewValidator(root, defaultID, pattern string) (*Validator, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("profile root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve profile root: %w", err)
	}

	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile profile id pattern: %w", err)
	}

	v := &Validator{
		root:      filepath.Clean(abs),
		defaultID: strings.TrimSpace(defaultID),
		pattern:   re,
	}

	// The default must itself be valid, otherwise blank ids could never resolve.
	if v.defaultID != "" {
		if err := v.check(v.defaultID); err != nil {
			return nil, fmt.Errorf("default profile id: %w", err)
		}
	}
	return v, nil
}

// Root returns the absolute directory profiles are resolved under.
func (v *Validator) Root() string {
	return v.root
}

// Normalize returns the canonical form of id, substituting the default
// for a blank id.
func (v *Validator) Normalize(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		if v.defaultID == "" {
			return "", fmt.Errorf("%w: empty id and no default configured", ErrInvalidID)
		}
		return v.defaultID, nil
	}
	if err := v.check(id); err != nil {
		return "", err
	}
	return id, nil
}

// Resolve normalizes id and returns its absolute directory. The result is
// always strictly inside Root.
func (v *Validator) Resolve(id string) (string, error) {
	normalized, err := v.Normalize(id)
	if err != nil {
		return "", err
	}

	dir := filepath.Clean(filepath.Join(v.root, normalized))
	rel, err := filepath.Rel(v.root, dir)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidID, normalized, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q escapes profile root", ErrInvalidID, normalized)
	}
	return dir, nil
}

func (v *Validator) check(id string) error {
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q contains \"..\"", ErrInvalidID, id)
	}
	if !v.pattern.MatchString(id) {
		return fmt.Errorf("%w: %q does not match %s", ErrInvalidID, id, v.pattern.String())
	}
	return nil
}
