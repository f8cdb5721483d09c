package relay

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
)

// IceSource serves the current ICE server list to clients.
// When a file is configured, the list is reloaded on every change,
// so TURN credentials can be rotated without a restart.
type IceSource struct {
	mu      sync.RWMutex
	servers []config.IceServer

	watcher *fsnotify.Watcher
	log     *logger.Logger
}

func NewIceSource(conf config.Webrtc, log *logger.Logger) *IceSource {
	s := &IceSource{servers: conf.IceServers, log: log}
	if conf.IceFile == "" {
		return s
	}
	path := filepath.Clean(conf.IceFile)
	if err := s.loadFile(path); err != nil {
		log.Warn().Err(err).Msgf("couldn't read the ICE list from %v", path)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("couldn't start the ICE list watcher")
		return s
	}
	// watch the directory, not the file: rotation tools and editors
	// replace the file by rename, which kills a watch on the file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Error().Err(err).Msgf("couldn't watch %v", filepath.Dir(path))
		_ = watcher.Close()
		return s
	}
	s.watcher = watcher
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path ||
					event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.loadFile(path); err != nil {
					log.Warn().Err(err).Msgf("skipping a broken ICE list update from %v", path)
					continue
				}
				log.Info().Msgf("the ICE list has been reloaded from %v", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("ICE list watch fail")
			}
		}
	}()
	return s
}

func (s *IceSource) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var servers []config.IceServer
	if err := json.Unmarshal(data, &servers); err != nil {
		return err
	}
	s.mu.Lock()
	s.servers = servers
	s.mu.Unlock()
	return nil
}

func (s *IceSource) Get() []config.IceServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers
}

// Handler replies with the ICE server list as JSON.
func (s *IceSource) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Get()); err != nil {
			s.log.Error().Err(err).Msg("ice response fail")
		}
	}
}

func (s *IceSource) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}
