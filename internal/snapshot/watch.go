package snapshot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn each time a newer snapshot of the profile is published, by
// this or any other process. It blocks until ctx is cancelled. The profile
// must already be initialized.
func (s *Store) Watch(ctx context.Context, profileID string, fn func(Handle)) error {
	dir, err := s.Dir(profileID)
	if err != nil {
		return err
	}

	last, err := s.ReadLatest(profileID)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Meta is replaced by rename, so watch the directory rather than the file.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch snapshot dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != MetaFile {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}

			h, err := s.ReadLatest(profileID)
			if err != nil {
				// Partially written meta on the fallback path; the next event catches up.
				s.logger.Debug("snapshot watch read failed", "profile", profileID, "error", err)
				continue
			}
			if h.Version <= last.Version {
				continue
			}
			last = h
			fn(h)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("snapshot watcher error", "profile", profileID, "error", err)
		}
	}
}
