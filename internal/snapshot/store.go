// Package snapshot persists the login state of browser profiles as versioned
// snapshots. Publishing is compare-and-swap on the version number and is
// safe across processes.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/browserpool/internal/filelock"
	"github.com/neboloop/browserpool/internal/profile"
)

// File names inside a profile's snapshot directory.
const (
	StateFile       = "state.json"
	MetaFile        = "meta.json"
	TmpDir          = "tmp"
	LoginLockFile   = "login.lock"
	PublishLockFile = "publish.lock"
)

// EmptyState is the state written when a profile is first initialized.
const EmptyState = `{"cookies":[],"origins":[]}`

const (
	defaultPublishTimeout = 5 * time.Second
	defaultRetryInterval  = 50 * time.Millisecond
)

// Meta is the on-disk metadata for a snapshot.
type Meta struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	WriterID  string    `json:"writerId"`
}

// Handle is a cheap, versioned reference to a profile's current snapshot.
// It does not carry the state itself.
type Handle struct {
	ProfileID string
	Version   int64
	StatePath string
	UpdatedAt time.Time
	WriterID  string
}

// Store manages snapshots for all profiles under a validator's root.
type Store struct {
	profiles       *profile.Validator
	publishTimeout time.Duration
	retryInterval  time.Duration
	writerID       string
	logger         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPublishTimeout bounds how long TryPublish waits for the publish lock.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithRetryInterval sets the publish lock polling interval.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithWriterID overrides the writer id recorded in metadata.
func WithWriterID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.writerID = id
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store rooted at the validator's root.
func New(profiles *profile.Validator, opts ...Option) *Store {
	s := &Store{
		profiles:       profiles,
		publishTimeout: defaultPublishTimeout,
		retryInterval:  defaultRetryInterval,
		writerID:       defaultWriterID(),
		logger:         slog.Default().With("component", "snapshot"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultWriterID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}

// WriterID returns the id recorded by this store's publishes.
func (s *Store) WriterID() string {
	return s.writerID
}

// Dir returns the snapshot directory for a profile.
func (s *Store) Dir(profileID string) (string, error) {
	return s.profiles.Resolve(profileID)
}

// StatePath returns the path of the profile's state file.
func (s *Store) StatePath(profileID string) (string, error) {
	return s.file(profileID, StateFile)
}

// MetaPath returns the path of the profile's metadata file.
func (s *Store) MetaPath(profileID string) (string, error) {
	return s.file(profileID, MetaFile)
}

// LoginLockPath returns the lock file serializing login sessions.
func (s *Store) LoginLockPath(profileID string) (string, error) {
	return s.file(profileID, LoginLockFile)
}

// PublishLockPath returns the lock file serializing publishes.
func (s *Store) PublishLockPath(profileID string) (string, error) {
	return s.file(profileID, PublishLockFile)
}

func (s *Store) file(profileID, name string) (string, error) {
	dir, err := s.Dir(profileID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// EnsureInitialized creates the profile's snapshot directory, an empty
// version-0 snapshot and the lock marker files. Existing files are never
// overwritten, so concurrent callers cannot clobber each other.
func (s *Store) EnsureInitialized(profileID string) error {
	dir, err := s.Dir(profileID)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, TmpDir)
	if err := os.MkdirAll(tmp, 0700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	if err := createIfAbsent(tmp, filepath.Join(dir, StateFile), []byte(EmptyState)); err != nil {
		return fmt.Errorf("initialize state: %w", err)
	}

	meta, err := json.Marshal(Meta{Version: 0, UpdatedAt: time.Now().UTC(), WriterID: s.writerID})
	if err != nil {
		return err
	}
	if err := createIfAbsent(tmp, filepath.Join(dir, MetaFile), meta); err != nil {
		return fmt.Errorf("initialize meta: %w", err)
	}

	for _, name := range []string{LoginLockFile, PublishLockFile} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_RDWR, 0600)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		f.Close()
	}
	return nil
}

// ReadLatest returns the current version of a profile's snapshot without
// taking any lock or reading the state itself.
func (s *Store) ReadLatest(profileID string) (Handle, error) {
	dir, err := s.Dir(profileID)
	if err != nil {
		return Handle{}, err
	}
	normalized := filepath.Base(dir)

	meta, err := readMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		return Handle{}, err
	}
	return Handle{
		ProfileID: normalized,
		Version:   meta.Version,
		StatePath: filepath.Join(dir, StateFile),
		UpdatedAt: meta.UpdatedAt,
		WriterID:  meta.WriterID,
	}, nil
}

// Load returns the latest handle together with the state it points to.
func (s *Store) Load(profileID string) (Handle, []byte, error) {
	h, err := s.ReadLatest(profileID)
	if err != nil {
		return Handle{}, nil, err
	}
	data, err := os.ReadFile(h.StatePath)
	if err != nil {
		return Handle{}, nil, fmt.Errorf("read state: %w", err)
	}
	return h, data, nil
}

// TryPublish replaces the profile's state if its current version still
// equals baseVersion, bumping the version by one. It reports false on a
// stale base, lock timeout, cancellation or any I/O failure; a stale
// publish leaves the files untouched.
func (s *Store) TryPublish(ctx context.Context, profileID string, baseVersion int64, state []byte) bool {
	logger := s.logger.With("profile", profileID, "base_version", baseVersion)

	dir, err := s.Dir(profileID)
	if err != nil {
		logger.Warn("publish rejected", "error", err)
		return false
	}

	lock, ok, err := filelock.Acquire(ctx, filepath.Join(dir, PublishLockFile), s.publishTimeout, s.retryInterval)
	if err != nil {
		logger.Warn("publish lock failed", "error", err)
		return false
	}
	if !ok {
		logger.Warn("publish lock timed out", "timeout", s.publishTimeout)
		return false
	}
	defer lock.Close()

	current, err := readMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		logger.Warn("publish read meta failed", "error", err)
		return false
	}
	if current.Version != baseVersion {
		logger.Debug("stale publish dropped", "current_version", current.Version)
		return false
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("publish cancelled", "error", err)
		return false
	}

	tmp := filepath.Join(dir, TmpDir)
	if err := os.MkdirAll(tmp, 0700); err != nil {
		logger.Warn("publish tmp dir failed", "error", err)
		return false
	}
	statePath := filepath.Join(dir, StateFile)
	prev, err := os.ReadFile(statePath)
	if err != nil {
		logger.Warn("publish read state failed", "error", err)
		return false
	}
	if err := writeFile(tmp, statePath, state); err != nil {
		logger.Warn("publish state write failed", "error", err)
		return false
	}

	next := Meta{Version: baseVersion + 1, UpdatedAt: time.Now().UTC(), WriterID: s.writerID}
	data, err := json.Marshal(next)
	if err != nil {
		logger.Warn("publish encode meta failed", "error", err)
		return false
	}
	if err := writeFile(tmp, filepath.Join(dir, MetaFile), data); err != nil {
		logger.Warn("publish meta write failed", "error", err)
		// State is written before meta, so put the old state back to keep
		// it paired with the unchanged version. A crash between the two
		// writes leaves the new state under the old version; the next
		// publish from that base overwrites it.
		if rerr := writeFile(tmp, statePath, prev); rerr != nil {
			logger.Error("publish rollback failed, state is ahead of meta", "error", rerr)
		}
		return false
	}

	logger.Info("snapshot published", "version", next.Version)
	return true
}

func readMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("read snapshot meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("decode snapshot meta %s: %w", path, err)
	}
	return m, nil
}

// stage writes data to a new temp file in dir and returns its path.
func stage(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "stage-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// createIfAbsent publishes data at target only when target does not exist.
// A hard link never replaces an existing file; filesystems without links
// fall back to a checked rename.
func createIfAbsent(tmpDir, target string, data []byte) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	staged, err := stage(tmpDir, data)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	err = os.Link(staged, target)
	switch {
	case err == nil, errors.Is(err, fs.ErrExist):
		return nil
	}

	if _, statErr := os.Stat(target); statErr == nil {
		return nil
	}
	if err := os.Rename(staged, target); err != nil {
		if _, statErr := os.Stat(target); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// writeFile is replaced in tests to inject write failures.
var writeFile = replaceFile

// replaceFile atomically replaces target with data, falling back to a
// direct write when rename is not supported.
func replaceFile(tmpDir, target string, data []byte) error {
	staged, err := stage(tmpDir, data)
	if err != nil {
		return err
	}
	if err := os.Rename(staged, target); err != nil {
		os.Remove(staged)
		if werr := os.WriteFile(target, data, 0600); werr != nil {
			return fmt.Errorf("rename: %v; direct write: %w", err, werr)
		}
	}
	return nil
}
