package selectors

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ReloadStats contains statistics about site contract reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// Manager provides hot-reload capable site contract management.
// It keeps the embedded contract and optionally watches an external
// file for runtime updates. Reads are lock-free using atomic.Value.
type Manager struct {
	embedded     *Site        // Compiled-in defaults (immutable)
	current      atomic.Value // *Site - atomic swap for lock-free reads
	externalPath string       // Path to external override file
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // Protects reload operations
	stats        ReloadStats
	closed       bool
}

// NewManager creates a new Manager.
// If externalPath is empty, only the embedded contract is used.
// If hotReload is true and externalPath is set, file changes trigger reloads.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Get(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath == "" {
		return m, nil
	}

	if err := m.loadExternal(); err != nil {
		// Keep serving with the embedded contract
		log.Warn().
			Err(err).
			Str("path", externalPath).
			Msg("Failed to load external site contract, using embedded defaults")
	} else {
		log.Info().
			Str("path", externalPath).
			Msg("Loaded external site contract")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().
				Str("path", externalPath).
				Msg("Hot-reload enabled for site contract")
		}
	}

	return m, nil
}

// Get returns the current Site.
// This is a lock-free O(1) operation safe for concurrent use.
func (m *Manager) Get() *Site {
	return m.current.Load().(*Site)
}

// Reload manually reloads the contract from the external file.
// On failure, the previous contract remains in use.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.externalPath == "" {
		return fmt.Errorf("no external site contract path configured")
	}

	return m.loadExternalLocked()
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher and cleans up resources.
// Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) loadExternal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadExternalLocked()
}

// loadExternalLocked loads the contract from the external file.
// Must be called with m.mu held.
func (m *Manager) loadExternalLocked() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to read site contract file: %w", err)
	}

	var external Site
	if err := yaml.Unmarshal(data, &external); err != nil {
		m.stats.LastError = err
		return fmt.Errorf("invalid YAML: %w", err)
	}

	// External overrides, embedded fills gaps; the result must be complete
	merged := m.mergeWithEmbedded(&external)
	if err := merged.Validate(); err != nil {
		m.stats.LastError = err
		return fmt.Errorf("invalid site contract file: %w", err)
	}

	m.current.Store(merged)

	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	log.Info().
		Int64("reload_count", m.stats.ReloadCount).
		Str("url", merged.URL).
		Msg("Site contract reloaded")

	return nil
}

// parseAndValidate parses a complete contract from YAML data.
func parseAndValidate(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// mergeWithEmbedded creates a new Site by merging external with embedded.
// External values take precedence; embedded fills in missing fields.
func (m *Manager) mergeWithEmbedded(external *Site) *Site {
	pick := func(ext, emb string) string {
		if ext != "" {
			return ext
		}
		return emb
	}
	return &Site{
		URL:          pick(external.URL, m.embedded.URL),
		Input:        pick(external.Input, m.embedded.Input),
		Submit:       pick(external.Submit, m.embedded.Submit),
		Results:      pick(external.Results, m.embedded.Results),
		Row:          pick(external.Row, m.embedded.Row),
		Format:       pick(external.Format, m.embedded.Format),
		Resolution:   pick(external.Resolution, m.embedded.Resolution),
		Link:         pick(external.Link, m.embedded.Link),
		LinkAttr:     pick(external.LinkAttr, m.embedded.LinkAttr),
		BackupMarker: pick(external.BackupMarker, m.embedded.BackupMarker),
	}
}

// startWatcher starts the file watcher for hot-reload.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(m.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	m.watcher = watcher

	m.wg.Add(1)
	go m.watchFile()

	return nil
}

// watchFile watches for file changes and triggers reloads.
func (m *Manager) watchFile() {
	defer m.wg.Done()

	// Editors write in bursts; coalesce them into one reload
	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Site contract file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				if err := m.Reload(); err != nil {
					log.Warn().
						Err(err).
						Str("path", m.externalPath).
						Msg("Hot-reload failed, keeping previous site contract")
				}
			})

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// GetManager returns a Manager serving only the embedded contract
// (no external file, no hot-reload).
func GetManager() *Manager {
	m := &Manager{
		embedded: Get(),
		stopCh:   make(chan struct{}),
	}
	m.current.Store(m.embedded)
	return m
}
