package config

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/voidmesh/backhaul/internal/backup"
	"github.com/voidmesh/backhaul/internal/models"
)

// Settings keys stored per device in the shared database.
const (
	settingRepositoryURL      = "repository_url"
	settingRepositoryPassword = "repository_password"
	settingCacheDir           = "cache_dir"
	settingSyncInterval       = "sync_interval_seconds"
	settingMaxConcurrent      = "max_concurrent_backups"
)

// DefaultSyncInterval is how often the agent refreshes its remote snapshot
// when the device has no sync_interval_seconds setting.
const DefaultSyncInterval = 300 * time.Second

// DefaultMaxConcurrentBackups bounds in-flight backups per device.
const DefaultMaxConcurrentBackups = 1

// RemoteStore loads the device's configuration from the shared database.
type RemoteStore interface {
	GetJobsForDevice(ctx context.Context, deviceID string) ([]models.BackupJob, error)
	GetSchedulesForDevice(ctx context.Context, deviceID string) ([]models.Schedule, error)
	GetSettingsForDevice(ctx context.Context, deviceID string) (map[string]string, error)
}

// Remote is an immutable snapshot of the device's database-held
// configuration: its jobs, schedules and settings as of one load.
type Remote struct {
	Jobs      []models.BackupJob
	Schedules []models.Schedule
	Settings  map[string]string
}

// LoadRemote fetches a fresh snapshot for the device.
func LoadRemote(ctx context.Context, store RemoteStore, deviceID string) (*Remote, error) {
	jobs, err := store.GetJobsForDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	schedules, err := store.GetSchedulesForDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	settings, err := store.GetSettingsForDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return &Remote{Jobs: jobs, Schedules: schedules, Settings: settings}, nil
}

// Setting returns a raw settings value, empty when absent.
func (r *Remote) Setting(key string) string {
	return r.Settings[key]
}

// RepositoryURL returns the restic repository location.
func (r *Remote) RepositoryURL() string {
	return r.Setting(settingRepositoryURL)
}

// RepositoryPassword returns the restic repository password.
func (r *Remote) RepositoryPassword() string {
	return r.Setting(settingRepositoryPassword)
}

// CacheDir returns the restic cache directory, empty for the engine default.
func (r *Remote) CacheDir() string {
	return r.Setting(settingCacheDir)
}

// SyncInterval returns how often the remote snapshot should be refreshed.
// Unset or unparsable values fall back to the default.
func (r *Remote) SyncInterval() time.Duration {
	if raw := r.Setting(settingSyncInterval); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultSyncInterval
}

// MaxConcurrentBackups returns the per-device execution ceiling.
func (r *Remote) MaxConcurrentBackups() int {
	if raw := r.Setting(settingMaxConcurrent); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return DefaultMaxConcurrentBackups
}

// Store holds the current remote snapshot and swaps it wholesale on reload.
// Readers always see one coherent snapshot.
type Store struct {
	mu     sync.RWMutex
	remote *Remote
}

// NewStore creates a Store seeded with an initial snapshot.
func NewStore(remote *Remote) *Store {
	return &Store{remote: remote}
}

// Current returns the active snapshot.
func (s *Store) Current() *Remote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

// Swap replaces the active snapshot.
func (s *Store) Swap(remote *Remote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
}

// EngineConfig builds the engine configuration from the current snapshot.
// Missing repository settings are a configuration error: the engine cannot
// run without a repository and password.
func (s *Store) EngineConfig() (backup.EngineConfig, error) {
	remote := s.Current()

	repo := remote.RepositoryURL()
	if repo == "" {
		return backup.EngineConfig{}, fmt.Errorf("%w: %s is not set", backup.ErrConfiguration, settingRepositoryURL)
	}
	password := remote.RepositoryPassword()
	if password == "" {
		return backup.EngineConfig{}, fmt.Errorf("%w: %s is not set", backup.ErrConfiguration, settingRepositoryPassword)
	}

	return backup.EngineConfig{
		Repository: repo,
		Password:   password,
		CacheDir:   remote.CacheDir(),
	}, nil
}
