package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Source provides the active security policy. Implementations must make
// Current safe for concurrent use.
type Source interface {
	Current() SecurityPolicy
}

// StaticSource serves one fixed policy. Used when no policy file is
// configured and in tests.
type StaticSource struct {
	policy SecurityPolicy
}

func NewStaticSource(p SecurityPolicy) *StaticSource {
	return &StaticSource{policy: p}
}

func (s *StaticSource) Current() SecurityPolicy { return s.policy }

// FileSource serves a policy loaded from a YAML file and reloads it when the
// file changes. Each successful reload bumps the active version so cached
// artifacts validated under the old policy are detected as stale.
type FileSource struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	current SecurityPolicy

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileSource loads the policy file once. Fields absent from the file keep
// their Default() values.
func NewFileSource(path string, logger zerolog.Logger) (*FileSource, error) {
	s := &FileSource{
		path: path,
		log:  logger.With().Str("component", "policy_source").Str("path", path).Logger(),
		done: make(chan struct{}),
	}

	p, err := loadPolicyFile(path, Default())
	if err != nil {
		return nil, fmt.Errorf("load policy file: %w", err)
	}
	s.current = p

	return s, nil
}

func (s *FileSource) Current() SecurityPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Watch starts the fsnotify loop. The parent directory is watched rather
// than the file itself so atomic rename-based rewrites are seen.
func (s *FileSource) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w

	go s.loop()
	return nil
}

func (s *FileSource) loop() {
	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.reload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("policy watcher error")
		}
	}
}

func (s *FileSource) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := loadPolicyFile(s.path, Default())
	if err != nil {
		// Keep serving the last good policy.
		s.log.Error().Err(err).Msg("policy reload failed, keeping previous version")
		return
	}

	// The version is monotonic even when the file does not manage it.
	if p.Version <= s.current.Version {
		p.Version = s.current.Version + 1
	}
	s.current = p

	s.log.Info().
		Str("policy_id", p.PolicyID).
		Int("version", p.Version).
		Msg("policy reloaded")
}

// Close stops the watcher. Safe to call when Watch was never started.
func (s *FileSource) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// loadPolicyFile unmarshals the YAML file over base, so omitted keys keep
// the base values while present keys, including lists, replace them.
func loadPolicyFile(path string, base SecurityPolicy) (SecurityPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SecurityPolicy{}, fmt.Errorf("read %s: %w", path, err)
	}

	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return SecurityPolicy{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if p.PolicyID == "" {
		p.PolicyID = base.PolicyID
	}
	if p.Version <= 0 {
		p.Version = base.Version
	}
	return p, nil
}
