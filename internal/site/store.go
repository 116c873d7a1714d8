package site

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/watcher"
)

// DefaultReloadDelay debounces editor bursts when watching the content file.
const DefaultReloadDelay = 200 * time.Millisecond

// ReloadRecorder receives reload results. *monitoring.Metrics satisfies it.
type ReloadRecorder interface {
	ContentReloaded(success bool)
}

// Store serves the current content. Readers never block on a reload.
type Store struct {
	path    string
	current atomic.Pointer[Content]
	logger  logging.Logger
	metrics ReloadRecorder

	mu      sync.Mutex
	watcher *watcher.FileWatcher
}

// StoreOption configures a Store.
type StoreOption func(*Store)

func WithStoreLogger(logger logging.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithReloadRecorder(r ReloadRecorder) StoreOption {
	return func(s *Store) {
		s.metrics = r
	}
}

// NewStore loads content from path, or the embedded content when path is
// empty.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	s.logger = s.logger.WithComponent("site")

	c, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	return s, nil
}

// Content returns the content currently served.
func (s *Store) Content() *Content {
	return s.current.Load()
}

// Path returns the content file, empty for embedded content.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the content file. On failure the previous content stays
// in place.
func (s *Store) Reload(ctx context.Context) error {
	c, err := s.load()
	if s.metrics != nil {
		s.metrics.ContentReloaded(err == nil)
	}
	if err != nil {
		s.logger.Warn(ctx, err, "Content reload failed, keeping previous content", "path", s.path)
		return err
	}
	s.current.Store(c)
	s.logger.Info(ctx, "Content reloaded", "path", s.path)
	return nil
}

// Watch reloads the content whenever the file changes, until ctx is done or
// Close is called. It is a no-op for embedded content.
func (s *Store) Watch(ctx context.Context, delay time.Duration) error {
	if s.path == "" {
		return nil
	}
	if delay <= 0 {
		delay = DefaultReloadDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	fw, err := watcher.NewFileWatcher(delay, s.logger)
	if err != nil {
		return err
	}
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, ev := range events {
			if ev.Type == watcher.EventTypeDeleted {
				// keep serving; a rename-save recreates the file
				return nil
			}
		}
		return s.Reload(ctx)
	})
	if err := fw.WatchFile(s.path); err != nil {
		_ = fw.Stop()
		return err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}
	s.watcher = fw

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.logger.Info(ctx, "Watching content file", "path", s.path)
	return nil
}

// Close stops watching.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Stop()
	s.watcher = nil
	return err
}

func (s *Store) load() (*Content, error) {
	if s.path == "" {
		return DefaultContent()
	}
	return LoadContent(s.path)
}
