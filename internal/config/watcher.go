package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the .env file for changes and triggers a reload callback
// so log level and origin settings can change without a restart.
type Watcher struct {
	config      *Config
	envPath     string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	lastModTime time.Time
	mu          sync.RWMutex
	onReload    func()
}

// NewWatcher creates a watcher for the .env file in the data directory.
func NewWatcher(config *Config) (*Watcher, error) {
	envPath := filepath.Join(config.DataDir, ".env")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config:   config,
		envPath:  envPath,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}

	if stat, err := os.Stat(envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}

	return w, nil
}

// SetReloadCallback sets the function run after a successful reload.
func (w *Watcher) SetReloadCallback(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// Start begins watching the config file.
func (w *Watcher) Start() error {
	// Watch the directory; editors replace .env rather than writing in place
	dir := filepath.Dir(w.envPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory, falling back to polling")
		go w.pollForChanges()
		return nil
	}

	go w.watchForChanges()
	log.Info().Str("env_path", w.envPath).Msg("Started watching config file for changes")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stopChan:
		// Already stopped
		return
	default:
		close(w.stopChan)
	}
	w.watcher.Close()
}

// ReloadConfig manually triggers a config reload (e.g., from SIGHUP).
func (w *Watcher) ReloadConfig() {
	w.reloadConfig()
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.envPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors often fire several events per save; debounce on mtime
			stat, err := os.Stat(w.envPath)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := stat.ModTime().After(w.lastModTime)
			if changed {
				w.lastModTime = stat.ModTime()
			}
			w.mu.Unlock()
			if changed {
				log.Info().Str("file", w.envPath).Msg("Config file changed, reloading")
				w.reloadConfig()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			stat, err := os.Stat(w.envPath)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := stat.ModTime().After(w.lastModTime)
			if changed {
				w.lastModTime = stat.ModTime()
			}
			w.mu.Unlock()
			if changed {
				log.Info().Str("file", w.envPath).Msg("Config file changed, reloading")
				w.reloadConfig()
			}
		}
	}
}

func (w *Watcher) reloadConfig() {
	env, err := godotenv.Read(w.envPath)
	if err != nil {
		log.Warn().Err(err).Str("file", w.envPath).Msg("Failed to re-read .env file")
		return
	}

	w.mu.Lock()
	if level, ok := env["VIGIL_LOG_LEVEL"]; ok && strings.TrimSpace(level) != "" {
		w.config.LogLevel = strings.TrimSpace(level)
	}
	if origins, ok := env["VIGIL_ALLOWED_ORIGINS"]; ok {
		w.config.AllowedOrigins = strings.TrimSpace(origins)
	}
	callback := w.onReload
	w.mu.Unlock()

	log.Info().
		Str("log_level", w.config.LogLevel).
		Msg("Runtime configuration reloaded")

	if callback != nil {
		callback()
	}
}
