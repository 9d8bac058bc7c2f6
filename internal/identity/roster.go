package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"codecast/collabd/pkg/logger"
)

// rosterFile is the YAML shape of the roster:
//
//	broadcasts:
//	  demo:
//	    editors:
//	      u1: Ada Lovelace
type rosterFile struct {
	Broadcasts map[string]struct {
		Editors map[string]string `yaml:"editors"`
	} `yaml:"broadcasts"`
}

// Roster is a file-backed Oracle. The roster file is reloaded whenever it
// changes on disk, so permissions can be granted or revoked without a
// restart.
type Roster struct {
	mu      sync.RWMutex
	path    string
	watcher *fsnotify.Watcher
	editors map[string]map[string]string // broadcast -> user id -> display name
}

// LoadRoster reads the roster file at path.
func LoadRoster(path string) (*Roster, error) {
	r := &Roster{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// reload re-reads and swaps in the roster file contents.
func (r *Roster) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read roster file: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse roster file: %w", err)
	}
	editors := make(map[string]map[string]string, len(f.Broadcasts))
	for broadcast, entry := range f.Broadcasts {
		editors[broadcast] = entry.Editors
	}
	r.mu.Lock()
	r.editors = editors
	r.mu.Unlock()
	return nil
}

// Watch starts monitoring the roster file for changes. The containing
// directory is watched so editors that replace the file atomically are
// still picked up.
func (r *Roster) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create roster watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch roster directory: %w", err)
	}
	r.watcher = watcher
	go r.watchLoop()
	return nil
}

// watchLoop reloads the roster on writes to its file.
func (r *Roster) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				logger.Error("roster_reload_failed", "path", r.path, "error", err)
				continue
			}
			logger.Info("roster_reloaded", "path", r.path)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("roster_watch_error", "error", err)
		}
	}
}

// Close stops the watcher, if one was started.
func (r *Roster) Close() {
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// CanEdit reports whether the user is a listed editor of the broadcast.
func (r *Roster) CanEdit(broadcastID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.editors[broadcastID][userID]
	return ok
}

// Profile resolves a user's display name from any broadcast listing them;
// unknown users fall back to their id.
func (r *Roster) Profile(userID string) Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, editors := range r.editors {
		if name, ok := editors[userID]; ok && name != "" {
			return Profile{ID: userID, DisplayName: name}
		}
	}
	return Profile{ID: userID, DisplayName: userID}
}
