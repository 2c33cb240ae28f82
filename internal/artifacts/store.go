// Package artifacts reads conversation artifacts from disk. It serves as
// the best-effort fallback for correlating a session to a conversation
// when in-process inspection finds no id.
package artifacts

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/devtap/internal/domain"
)

// Store answers "which known conversation directory was modified most
// recently". Results are cached; a filesystem watcher on the
// conversations root invalidates the cache so repeated lookups stay
// cheap between changes.
type Store struct {
	root string

	mu     sync.Mutex
	cached string
	valid  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates a store rooted at the given conversations directory.
// An empty root yields a store whose lookups always fail with
// ErrNoConversation; discovery treats that as "leave the id unset".
func NewStore(root string) *Store {
	s := &Store{
		root: root,
		done: make(chan struct{}),
	}

	if root == "" {
		return s
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("artifacts watcher unavailable, falling back to rescans")
		return s
	}
	if err := watcher.Add(root); err != nil {
		log.Warn().Err(err).Str("root", root).Msg("cannot watch conversations root, falling back to rescans")
		_ = watcher.Close()
		return s
	}

	s.watcher = watcher
	go s.watchLoop()
	return s
}

// watchLoop invalidates the cache on any event under the root.
func (s *Store) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case _, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.mu.Lock()
			s.valid = false
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("artifacts watcher error")
		}
	}
}

// LatestConversationID returns the name of the most recently modified
// conversation directory under the root.
func (s *Store) LatestConversationID() (string, error) {
	if s.root == "" {
		return "", domain.ErrNoConversation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Without a watcher the cache is never valid and every call rescans.
	if s.valid && s.watcher != nil {
		if s.cached == "" {
			return "", domain.ErrNoConversation
		}
		return s.cached, nil
	}

	id, err := s.scan()
	if err != nil {
		return "", err
	}
	s.cached = id
	s.valid = true
	if id == "" {
		return "", domain.ErrNoConversation
	}
	return id, nil
}

// scan walks the root's immediate children and picks the directory with
// the newest modification time.
func (s *Store) scan() (string, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod time.Time
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(s.root, d.Name()))
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = d.Name()
			latestMod = info.ModTime()
		}
	}
	return latest, nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
