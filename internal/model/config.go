package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// AccountConfig holds the connection settings for one mail account.
// The password is not stored here; it is resolved from the system keyring
// at startup using the account ID as the credential key.
type AccountConfig struct {
	// ID is the unique identifier for this account.
	ID string `mapstructure:"id" yaml:"id"`

	// Name is the user-defined label for this account.
	Name string `mapstructure:"name" yaml:"name"`

	// Host and Port locate the IMAP server.
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// Username is the login name.
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; when false, STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Folders is the mailbox paths to synchronize, in sync order.
	Folders []string `mapstructure:"folders" yaml:"folders"`
}

// SyncConfig holds the synchronization engine's tuning options.
type SyncConfig struct {
	// AutoSyncIntervalMs is how often stale folders are re-synced.
	AutoSyncIntervalMs int `mapstructure:"auto_sync_interval_ms" yaml:"auto_sync_interval_ms"`

	// MaxConcurrentDownloads bounds the number of body-download loops.
	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`

	// BandwidthLimitKBps throttles body downloads; 0 means unlimited.
	BandwidthLimitKBps int `mapstructure:"bandwidth_limit_kbps" yaml:"bandwidth_limit_kbps"`

	// OperationMaxRetries and DownloadMaxRetries bound replay attempts
	// before an item goes terminal.
	OperationMaxRetries int `mapstructure:"operation_max_retries" yaml:"operation_max_retries"`
	DownloadMaxRetries  int `mapstructure:"download_max_retries" yaml:"download_max_retries"`

	// OperationPollIntervalMs is the mutation-queue drain interval.
	OperationPollIntervalMs int `mapstructure:"operation_poll_interval_ms" yaml:"operation_poll_interval_ms"`
}

// AutoSyncInterval returns the auto-sync interval as a duration.
func (c SyncConfig) AutoSyncInterval() time.Duration {
	return time.Duration(c.AutoSyncIntervalMs) * time.Millisecond
}

// OperationPollInterval returns the drain interval as a duration.
func (c SyncConfig) OperationPollInterval() time.Duration {
	return time.Duration(c.OperationPollIntervalMs) * time.Millisecond
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// DataDir is where the database and body store live.
	// Defaults to ~/.local/share/mailsync.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Sync     SyncConfig      `mapstructure:"sync" yaml:"sync"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailsync-data")
	}
	return filepath.Join(home, ".local", "share", "mailsync")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DataDir:  defaultDataDir(),
		Accounts: []AccountConfig{},
		Sync: SyncConfig{
			AutoSyncIntervalMs:      300000,
			MaxConcurrentDownloads:  3,
			BandwidthLimitKBps:      0,
			OperationMaxRetries:     3,
			DownloadMaxRetries:      3,
			OperationPollIntervalMs: 5000,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("sync.auto_sync_interval_ms", 300000)
	v.SetDefault("sync.max_concurrent_downloads", 3)
	v.SetDefault("sync.bandwidth_limit_kbps", 0)
	v.SetDefault("sync.operation_max_retries", 3)
	v.SetDefault("sync.download_max_retries", 3)
	v.SetDefault("sync.operation_poll_interval_ms", 5000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Port == "" {
			if cfg.Accounts[i].TLS {
				cfg.Accounts[i].Port = "993"
			} else {
				cfg.Accounts[i].Port = "143"
			}
		}
		if len(cfg.Accounts[i].Folders) == 0 {
			cfg.Accounts[i].Folders = []string{"INBOX"}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("data_dir", cfg.DataDir)
	v.Set("accounts", cfg.Accounts)
	v.Set("sync", cfg.Sync)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
