package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CachedProvider keeps recently loaded datasets in memory.
type CachedProvider struct {
	inner  Provider
	cache  *lru.Cache[int, *Dataset]
	logger *zap.Logger
}

func NewCachedProvider(inner Provider, size int, logger *zap.Logger) (*CachedProvider, error) {
	if size <= 0 {
		size = MaxID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[int, *Dataset](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache, logger: logger}, nil
}

func (p *CachedProvider) Load(ctx context.Context, id int) (*Dataset, error) {
	if d, ok := p.cache.Get(id); ok {
		return d, nil
	}
	d, err := p.inner.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	p.cache.Add(id, d)
	p.logger.Debug("dataset cached", zap.Int("dataset", id))
	return d, nil
}

// Invalidate drops dataset id from the cache.
func (p *CachedProvider) Invalidate(id int) {
	if p.cache.Remove(id) {
		p.logger.Info("dataset invalidated", zap.Int("dataset", id))
	}
}

func (p *CachedProvider) Len() int {
	return p.cache.Len()
}

// Watch invalidates cached datasets whose files change under dir (laid out as
// for CSVProvider). It returns once the watcher is running; the watcher stops
// when ctx is done. The returned channel is closed after shutdown.
func (p *CachedProvider) Watch(ctx context.Context, dir string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		return nil, multierr.Append(fmt.Errorf("watch %s: %w", dir, err), watcher.Close())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, multierr.Append(err, watcher.Close())
	}
	for _, entry := range entries {
		if _, ok := parseDatasetDir(entry.Name()); ok && entry.IsDir() {
			if err := watcher.Add(filepath.Join(dir, entry.Name())); err != nil {
				return nil, multierr.Append(err, watcher.Close())
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				p.handleEvent(watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("dataset watcher error", zap.Error(err))
			}
		}
	}()
	return done, nil
}

func (p *CachedProvider) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	// a new dataset directory: start watching it as well
	if id, ok := parseDatasetDir(filepath.Base(event.Name)); ok && event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				p.logger.Warn("watch dataset dir failed", zap.String("path", event.Name), zap.Error(err))
			}
		}
		p.Invalidate(id)
		return
	}
	if id, ok := parseDatasetDir(filepath.Base(filepath.Dir(event.Name))); ok {
		p.Invalidate(id)
	}
}

func parseDatasetDir(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "dataset")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || CheckID(id) != nil {
		return 0, false
	}
	return id, true
}
