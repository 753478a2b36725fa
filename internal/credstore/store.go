// Package credstore loads and hot-reloads Gemini API keys and Vertex
// service-account credentials from a filesystem tree.
package credstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce matches the teacher's configReloadDebounce: a burst of
// fsnotify events from one file write collapses into a single reload.
const reloadDebounce = 150 * time.Millisecond

// Store holds the live credential pools and reloads them from disk.
type Store struct {
	credsRoot       string
	encryptionKey   []byte
	geminiPool      atomic.Pointer[[]*GeminiCredential]
	vertexPool      atomic.Pointer[[]*VertexCredential]
	watcher         *fsnotify.Watcher
	reloadMu        sync.Mutex
	reloadTimer     *time.Timer
	onReload        func()
}

// NewStore constructs a Store rooted at credsRoot. encryptionKey may be nil
// when the deployment does not use encrypted_keys envelopes.
func NewStore(credsRoot string, encryptionKey []byte) *Store {
	s := &Store{credsRoot: credsRoot, encryptionKey: encryptionKey}
	empty := make([]*GeminiCredential, 0)
	emptyVertex := make([]*VertexCredential, 0)
	s.geminiPool.Store(&empty)
	s.vertexPool.Store(&emptyVertex)
	return s
}

// OnReload registers a callback invoked after every successful Load, on the
// goroutine that performed the reload. cmd/rotator wires it to reset the
// rotator cursors on every reload.
func (s *Store) OnReload(fn func()) {
	s.onReload = fn
}

// Load rebuilds both pools from disk and swaps them in atomically. In-flight
// requests already holding a credential reference continue with the old
// snapshot; Load never blocks them.
func (s *Store) Load() error {
	gemini, err := loadGemini(s.credsRoot, s.encryptionKey)
	if err != nil {
		return err
	}
	vertex, err := loadVertex(s.credsRoot)
	if err != nil {
		return err
	}
	s.geminiPool.Store(&gemini)
	s.vertexPool.Store(&vertex)
	log.Infof("credstore: loaded %d gemini key(s), %d vertex credential(s)", len(gemini), len(vertex))
	if s.onReload != nil {
		s.onReload()
	}
	return nil
}

// GeminiPool returns the current Gemini credential snapshot.
func (s *Store) GeminiPool() []*GeminiCredential {
	p := s.geminiPool.Load()
	if p == nil {
		return nil
	}
	return *p
}

// VertexPool returns the current Vertex credential snapshot.
func (s *Store) VertexPool() []*VertexCredential {
	p := s.vertexPool.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Watch starts an fsnotify watch on the gemini/ and vertex/ subdirectories
// and debounces bursts of events into a single Load call, the same way the
// teacher's Watcher debounces config-file changes.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = w

	if err = s.addWatchDirs(); err != nil {
		_ = w.Close()
		return err
	}

	go s.watchLoop(ctx)
	return nil
}

// addWatchDirs registers the gemini/ and vertex/ subdirectories (and the
// creds root itself, so a directory created after startup is picked up on
// the next reload) with fsnotify. Missing subdirectories are skipped rather
// than failing the watch — an empty pool is a valid state.
func (s *Store) addWatchDirs() error {
	if err := s.watcher.Add(s.credsRoot); err != nil {
		return err
	}
	for _, sub := range []string{"gemini", "vertex"} {
		dir := filepath.Join(s.credsRoot, sub)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := s.watcher.Add(dir); err != nil {
			log.WithError(err).Warnf("credstore: failed to watch %s", dir)
		}
	}
	return nil
}

func (s *Store) watchLoop(ctx context.Context) {
	defer func() {
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.scheduleReload()
		case errEvent, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(errEvent).Warn("credstore: fsnotify error")
		}
	}
}

func (s *Store) scheduleReload() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}
	s.reloadTimer = time.AfterFunc(reloadDebounce, func() {
		s.reloadMu.Lock()
		s.reloadTimer = nil
		s.reloadMu.Unlock()
		if err := s.Load(); err != nil {
			log.WithError(err).Error("credstore: reload failed")
		}
	})
}
