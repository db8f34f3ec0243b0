package teleop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ConnectionConfig is the persisted bridge address. An empty IP means the
// configured default applies.
type ConnectionConfig struct {
	IP string `json:"ip,omitempty"`
}

// ConnectionConfigStore persists the bridge address.
type ConnectionConfigStore interface {
	Load() (ConnectionConfig, error)
	Save(cfg ConnectionConfig) error
}

// OpenConnectionConfig picks the store for location: an http(s) URL is
// another console's /api/ipconfig endpoint, anything else a file path.
func OpenConnectionConfig(location string, opts ...FetchOption) ConnectionConfigStore {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewRemoteConnectionConfig(location, opts...)
	}
	return NewConnectionConfigFile(location)
}

// StoredBridgeAddress returns the address held by s, falling back to def
// when none is stored or the store cannot be read.
func StoredBridgeAddress(s ConnectionConfigStore, def string) string {
	if s == nil {
		return def
	}
	cfg, err := s.Load()
	if err != nil || cfg.IP == "" {
		return def
	}
	return cfg.IP
}

// ConnectionConfigFile stores a ConnectionConfig as a JSON file.
type ConnectionConfigFile struct {
	path string
	mu   sync.Mutex
}

// NewConnectionConfigFile returns a store backed by path, or by
// DefaultConnectionConfigPath when path is empty.
func NewConnectionConfigFile(path string) *ConnectionConfigFile {
	if path == "" {
		path = DefaultConnectionConfigPath
	}
	return &ConnectionConfigFile{path: path}
}

// Path returns the backing file path.
func (f *ConnectionConfigFile) Path() string { return f.path }

// Load reads the stored config. A missing or empty file yields an empty
// config and no error. A file that cannot be read or parsed yields an
// empty config and the error.
func (f *ConnectionConfigFile) Load() (ConnectionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConnectionConfig{}, nil
		}
		return ConnectionConfig{}, fmt.Errorf("reading connection config: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return ConnectionConfig{}, nil
	}

	var cfg ConnectionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ConnectionConfig{}, fmt.Errorf("parsing connection config: %w", err)
	}
	return cfg, nil
}

// Save replaces the stored config.
func (f *ConnectionConfigFile) Save(cfg ConnectionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling connection config: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("writing connection config: %w", err)
	}
	return nil
}

// BridgeAddress returns the stored address, falling back to def when none
// is stored or the file is unreadable.
func (f *ConnectionConfigFile) BridgeAddress(def string) string {
	return StoredBridgeAddress(f, def)
}
