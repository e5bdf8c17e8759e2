package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"viewer-backend/internal/logging"
	"viewer-backend/internal/metrics"
)

// Source hands out the current snapshot. Components keep a Source rather than
// a *Config so they observe reloads on their next request.
type Source interface {
	Current() *Config
}

// Static is a Source that always returns the same snapshot.
type Static struct {
	cfg *Config
}

func NewStatic(cfg *Config) *Static {
	return &Static{cfg: cfg}
}

func (s *Static) Current() *Config { return s.cfg }

// Provider owns the snapshot loaded from a file and replaces it atomically
// on Reload. A failed reload keeps the previous snapshot.
type Provider struct {
	path     string
	current  atomic.Pointer[Config]
	debounce time.Duration

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewProvider loads the initial snapshot from path.
func NewProvider(path string) (*Provider, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	p := &Provider{path: path, debounce: 200 * time.Millisecond}
	p.current.Store(cfg)
	return p, nil
}

func (p *Provider) Current() *Config {
	return p.current.Load()
}

// Path returns the file the provider reads.
func (p *Provider) Path() string {
	return p.path
}

// OnReload registers fn to run after every successful reload.
func (p *Provider) OnReload(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Reload re-reads the file and publishes the new snapshot.
func (p *Provider) Reload() error {
	cfg, err := Load(p.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	p.current.Store(cfg)
	metrics.ConfigReloads.WithLabelValues("success").Inc()

	p.mu.Lock()
	listeners := append([]func(*Config){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Watch reloads the snapshot whenever the config file changes. It watches the
// parent directory so editors that replace the file by rename are seen.
// Watch blocks until ctx is cancelled.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(p.path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log := logging.With().Str("component", "config").Str("path", abs).Logger()
	log.Info().Msg("watching configuration file")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reload := func() {
		if err := p.Reload(); err != nil {
			log.Error().Err(err).Msg("configuration reload failed, keeping previous snapshot")
			return
		}
		log.Info().Msg("configuration reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(p.debounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			log.Warn().Err(err).Msg("file watcher error")
		}
	}
}
