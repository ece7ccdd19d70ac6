package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DomainSource supplies the static domain list: inline domains from the
// environment plus the contents of an optional domains file. The file is
// watched for changes so edits take effect on the next tick.
type DomainSource struct {
	inline []string
	path   string

	mu          sync.RWMutex
	fromFile    []string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	lastModTime time.Time
}

// NewDomainSource builds a DomainSource and performs the initial file load.
// path may be empty when only inline domains are configured.
func NewDomainSource(inline []string, path string) *DomainSource {
	ds := &DomainSource{
		inline:   inline,
		path:     path,
		stopChan: make(chan struct{}),
	}
	if path != "" {
		ds.reload()
		if stat, err := os.Stat(path); err == nil {
			ds.lastModTime = stat.ModTime()
		}
	}
	return ds
}

// Domains returns the combined static domain list.
func (ds *DomainSource) Domains() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]string, 0, len(ds.inline)+len(ds.fromFile))
	out = append(out, ds.inline...)
	out = append(out, ds.fromFile...)
	return out
}

// Watch begins watching the domains file for changes. Falls back to polling
// when the fsnotify watch cannot be established.
func (ds *DomainSource) Watch() error {
	if ds.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	ds.watcher = watcher

	// Watch the directory so file replacement (the common editor pattern)
	// is still observed.
	if err := watcher.Add(filepath.Dir(ds.path)); err != nil {
		log.Warn().Err(err).Str("path", ds.path).Msg("Falling back to polling for domains file changes")
		go ds.pollForChanges()
		return nil
	}

	go ds.watchForChanges()
	log.Info().Str("path", ds.path).Msg("Started watching domains file for changes")
	return nil
}

// Stop stops the watcher.
func (ds *DomainSource) Stop() {
	select {
	case <-ds.stopChan:
		return
	default:
		close(ds.stopChan)
	}
	if ds.watcher != nil {
		ds.watcher.Close()
	}
}

func (ds *DomainSource) watchForChanges() {
	for {
		select {
		case event, ok := <-ds.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(ds.path) && event.Name != ds.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce so the write completes before reading.
				time.Sleep(100 * time.Millisecond)
				log.Info().Str("event", event.Op.String()).Msg("Detected domains file change")
				ds.reload()
			}

		case err, ok := <-ds.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Domains file watcher error")

		case <-ds.stopChan:
			return
		}
	}
}

func (ds *DomainSource) pollForChanges() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(ds.path)
			if err != nil {
				continue
			}
			if stat.ModTime().After(ds.lastModTime) {
				log.Info().Msg("Detected domains file change via polling")
				ds.lastModTime = stat.ModTime()
				ds.reload()
			}

		case <-ds.stopChan:
			return
		}
	}
}

// reload reads the domains file: one domain per line, blank lines and
// #-comments skipped, entries lowercased.
func (ds *DomainSource) reload() {
	f, err := os.Open(ds.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", ds.path).Msg("Failed to read domains file")
		}
		return
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, strings.ToLower(line))
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Str("path", ds.path).Msg("Failed to scan domains file")
		return
	}

	ds.mu.Lock()
	ds.fromFile = domains
	ds.mu.Unlock()
	log.Info().Int("count", len(domains)).Str("path", ds.path).Msg("Loaded domains file")
}
