package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Config holds the application configuration
type Config struct {
	IMAP IMAPConfig `yaml:"imap"`

	// Cache settings
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	MaxMessagesPerFolder int           `yaml:"max_messages_per_folder"`
	PreviewLength        int           `yaml:"preview_length"`

	// Move settings
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ResolveMovedUIDs bool          `yaml:"resolve_moved_uids"`

	Folders FolderConfig `yaml:"folders"`

	// Store settings
	StoreBackend string `yaml:"store_backend"`
	StorePath    string `yaml:"store_path"`
	SQLitePath   string `yaml:"sqlite_path"`

	SearchResultLimit int `yaml:"search_result_limit"`

	LogLevel string `yaml:"log_level"`
}

// IMAPConfig holds the mailbox connection settings
type IMAPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	PasswordKeyring    bool          `yaml:"password_keyring"`
	TLS                bool          `yaml:"tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	SessionRate        float64       `yaml:"session_rate"`
	SessionBurst       int           `yaml:"session_burst"`
}

// FolderConfig maps the three board columns to IMAP folder names
type FolderConfig struct {
	Inbox         string `yaml:"inbox"`
	InProgress    string `yaml:"in_progress"`
	AwaitingReply string `yaml:"awaiting_reply"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		IMAP: IMAPConfig{
			Port:           993,
			TLS:            true,
			ConnectTimeout: 3 * time.Second,
			CommandTimeout: 10 * time.Second,
			SessionRate:    5,
			SessionBurst:   10,
		},
		CacheTTL:             60 * time.Second,
		MaxMessagesPerFolder: 100,
		PreviewLength:        200,
		SettleDelay:          500 * time.Millisecond,
		ResolveMovedUIDs:     true,
		Folders: FolderConfig{
			Inbox:         "INBOX",
			InProgress:    "In_Bearbeitung",
			AwaitingReply: "Warte_auf_Antwort",
		},
		StoreBackend: StoreJSON,
		StorePath:    "data/emails.json",
		SQLitePath:   "data/mailkan.db",

		SearchResultLimit: 50,
		LogLevel:          "info",
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file
// named by CONFIG_FILE, an optional .env file and the environment
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// loadFile overlays the YAML file at path onto the configuration
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides configuration values with environment variables
func (c *Config) applyEnv() {
	c.IMAP.Host = getEnv("IMAP_HOST", c.IMAP.Host)
	c.IMAP.Port = getEnvInt("IMAP_PORT", c.IMAP.Port)
	c.IMAP.Username = getEnv("IMAP_USER", getEnv("IMAP_USERNAME", c.IMAP.Username))
	c.IMAP.Password = getEnv("IMAP_PASSWORD", c.IMAP.Password)
	c.IMAP.PasswordKeyring = getEnvBool("IMAP_PASSWORD_KEYRING", c.IMAP.PasswordKeyring)
	c.IMAP.TLS = getEnvBool("IMAP_TLS", c.IMAP.TLS)
	c.IMAP.InsecureSkipVerify = getEnvBool("IMAP_INSECURE_SKIP_VERIFY", c.IMAP.InsecureSkipVerify)
	c.IMAP.ConnectTimeout = getEnvDuration("IMAP_CONNECT_TIMEOUT", c.IMAP.ConnectTimeout)
	c.IMAP.CommandTimeout = getEnvDuration("IMAP_COMMAND_TIMEOUT", c.IMAP.CommandTimeout)
	c.IMAP.SessionRate = getEnvFloat("IMAP_SESSION_RATE", c.IMAP.SessionRate)
	c.IMAP.SessionBurst = getEnvInt("IMAP_SESSION_BURST", c.IMAP.SessionBurst)

	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.MaxMessagesPerFolder = getEnvInt("MAX_MESSAGES_PER_FOLDER", c.MaxMessagesPerFolder)
	c.PreviewLength = getEnvInt("PREVIEW_LENGTH", c.PreviewLength)

	c.SettleDelay = getEnvDuration("SETTLE_DELAY", c.SettleDelay)
	c.ResolveMovedUIDs = getEnvBool("RESOLVE_MOVED_UIDS", c.ResolveMovedUIDs)

	c.Folders.Inbox = getEnv("FOLDER_INBOX", c.Folders.Inbox)
	c.Folders.InProgress = getEnv("FOLDER_IN_PROGRESS", c.Folders.InProgress)
	c.Folders.AwaitingReply = getEnv("FOLDER_AWAITING_REPLY", c.Folders.AwaitingReply)

	c.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", c.StoreBackend))
	c.StorePath = getEnv("STORE_PATH", c.StorePath)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.SearchResultLimit = getEnvInt("SEARCH_RESULT_LIMIT", c.SearchResultLimit)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain milliseconds ("1500")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// Address returns host:port of the IMAP server
func (c *IMAPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("IMAP_HOST is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("IMAP_USER is required")
	}
	if c.IMAP.Password == "" && !c.IMAP.PasswordKeyring {
		return fmt.Errorf("IMAP_PASSWORD is required")
	}
	if c.IMAP.Port < 1 || c.IMAP.Port > 65535 {
		return fmt.Errorf("invalid IMAP_PORT")
	}
	if c.IMAP.ConnectTimeout <= 0 || c.IMAP.CommandTimeout <= 0 {
		return fmt.Errorf("IMAP timeouts must be positive")
	}
	if c.IMAP.SessionRate <= 0 || c.IMAP.SessionBurst < 1 {
		return fmt.Errorf("IMAP_SESSION_RATE and IMAP_SESSION_BURST must be positive")
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.MaxMessagesPerFolder < 1 {
		return fmt.Errorf("MAX_MESSAGES_PER_FOLDER must be at least 1")
	}
	if c.PreviewLength < 150 || c.PreviewLength > 200 {
		return fmt.Errorf("PREVIEW_LENGTH must be between 150 and 200")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("SETTLE_DELAY must not be negative")
	}

	folders := []string{c.Folders.Inbox, c.Folders.InProgress, c.Folders.AwaitingReply}
	seen := make(map[string]bool, len(folders))
	for _, f := range folders {
		if f == "" {
			return fmt.Errorf("folder names must not be empty")
		}
		if seen[strings.ToLower(f)] {
			return fmt.Errorf("duplicate folder name: %s", f)
		}
		seen[strings.ToLower(f)] = true
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}

	switch c.StoreBackend {
	case StoreJSON:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND: %s", c.StoreBackend)
	}

	return nil
}
