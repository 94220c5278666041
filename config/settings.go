package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Settings represents the player configuration persisted to disk.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Client   ClientSettings   `json:"client"`
	Playback PlaybackSettings `json:"playback"`
	Database DatabaseSettings `json:"database"`
	Control  ControlSettings  `json:"control"`
	Log      LogConfig        `json:"log"`
}

// ServerSettings identifies the transcoding backend this player talks to.
type ServerSettings struct {
	BaseURL string `json:"baseUrl"`
	Token   string `json:"token"` // bearer token for protected API routes
}

// ClientSettings holds the persistent identity of this player install.
type ClientSettings struct {
	ID string `json:"id"` // generated on first run, sent as X-Client-ID
}

// PlaybackSettings tunes the session controller and health monitor.
type PlaybackSettings struct {
	KeepaliveIntervalSeconds int     `json:"keepaliveIntervalSeconds"`
	BufferPaddingSeconds     float64 `json:"bufferPaddingSeconds"`
	SeekDebounceMillis       int     `json:"seekDebounceMillis"`
	MaxFatalRetries          int     `json:"maxFatalRetries"`
	ForceAAC                 bool    `json:"forceAAC"`
}

// DatabaseSettings defines where the local resume position store lives.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// ControlSettings defines the local control API listener.
type ControlSettings struct {
	Bind string `json:"bind"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			BaseURL: "http://127.0.0.1:7645",
		},
		Playback: PlaybackSettings{
			KeepaliveIntervalSeconds: 10,
			BufferPaddingSeconds:     0.5,
			SeekDebounceMillis:       1000,
			MaxFatalRetries:          2,
		},
		Database: DatabaseSettings{
			Path: filepath.Join("cache", "novaplayer.db"),
		},
		Control: ControlSettings{
			Bind: "127.0.0.1:7680",
		},
		Log: LogConfig{
			MaxSize:    20,
			MaxAge:     14,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	// Backfill fields older config files may be missing
	defaults := DefaultSettings()
	if s.Playback.KeepaliveIntervalSeconds <= 0 {
		s.Playback.KeepaliveIntervalSeconds = defaults.Playback.KeepaliveIntervalSeconds
	}
	if s.Playback.BufferPaddingSeconds <= 0 {
		s.Playback.BufferPaddingSeconds = defaults.Playback.BufferPaddingSeconds
	}
	if s.Playback.SeekDebounceMillis <= 0 {
		s.Playback.SeekDebounceMillis = defaults.Playback.SeekDebounceMillis
	}
	if s.Playback.MaxFatalRetries <= 0 {
		s.Playback.MaxFatalRetries = defaults.Playback.MaxFatalRetries
	}
	if s.Database.Path == "" {
		s.Database.Path = defaults.Database.Path
	}
	if s.Control.Bind == "" {
		s.Control.Bind = defaults.Control.Bind
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
