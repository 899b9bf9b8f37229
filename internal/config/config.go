package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for the ledger and the mailbox settings.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Environment string
	Port        string
	LogLevel    string
	APIToken    string

	EncryptionKeyBase64 string
	KeyringBackend      string
	KeyringDir          string
	KeyringPassword     string

	Store      string
	DataDir    string
	SQLitePath string
	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	IMAPUseTLS         bool
	ScanFolders        []string
	ScanLimitPerFolder int

	FetchTimeout    time.Duration
	BrowserEnabled  bool
	BrowserPath     string
	BrowserHeadless bool
	BrowserTimeout  time.Duration
}

func NewConfig() (*Config, error) {
	env := os.Getenv("LISTSWEEP_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	dataDir := getEnvOrDefault("LISTSWEEP_DATA_DIR", ".")

	config := &Config{
		Environment: env,
		Port:        getEnvOrDefault("PORT", "5000"),
		LogLevel:    getEnvOrDefault("LISTSWEEP_LOG_LEVEL", "info"),
		APIToken:    os.Getenv("LISTSWEEP_API_TOKEN"),

		EncryptionKeyBase64: os.Getenv("LISTSWEEP_ENCRYPTION_KEY_BASE64"),
		KeyringBackend:      getEnvOrDefault("LISTSWEEP_KEYRING_BACKEND", "file"),
		KeyringDir:          getEnvOrDefault("LISTSWEEP_KEYRING_DIR", filepath.Join(dataDir, ".keyring")),
		KeyringPassword:     getEnvOrDefault("LISTSWEEP_KEYRING_PASSWORD", "listsweep-file-key"),

		Store:      getEnvOrDefault("LISTSWEEP_STORE", StoreFile),
		DataDir:    dataDir,
		SQLitePath: getEnvOrDefault("LISTSWEEP_SQLITE_PATH", filepath.Join(dataDir, "listsweep.db")),
		DBHost:     getEnvOrDefault("LISTSWEEP_DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("LISTSWEEP_DB_PORT", "5432"),
		DBUsername: getEnvOrDefault("LISTSWEEP_DB_USER", "listsweep"),
		DBPassword: os.Getenv("LISTSWEEP_DB_PASSWORD"),
		DBName:     getEnvOrDefault("LISTSWEEP_DB_NAME", "listsweep"),
		DBSSLMode:  getEnvOrDefault("LISTSWEEP_DB_SSLMODE", "disable"),

		IMAPUseTLS:         getEnvBool("LISTSWEEP_IMAP_TLS", true),
		ScanFolders:        getEnvList("LISTSWEEP_SCAN_FOLDERS", []string{"INBOX", "Junk"}),
		ScanLimitPerFolder: getEnvInt("LISTSWEEP_SCAN_LIMIT", 200),

		FetchTimeout:    getEnvDuration("LISTSWEEP_FETCH_TIMEOUT", 10*time.Second),
		BrowserEnabled:  getEnvBool("LISTSWEEP_BROWSER_ENABLED", true),
		BrowserPath:     os.Getenv("LISTSWEEP_BROWSER_PATH"),
		BrowserHeadless: getEnvBool("LISTSWEEP_BROWSER_HEADLESS", true),
		BrowserTimeout:  getEnvDuration("LISTSWEEP_BROWSER_TIMEOUT", 15*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	case StorePostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("LISTSWEEP_DB_PASSWORD is required when LISTSWEEP_STORE=postgres")
		}
		if _, err := strconv.Atoi(c.DBPort); err != nil {
			return fmt.Errorf("LISTSWEEP_DB_PORT must be a number, got %q", c.DBPort)
		}
	default:
		return fmt.Errorf("LISTSWEEP_STORE must be one of file, sqlite, postgres; got %q", c.Store)
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if len(c.ScanFolders) == 0 {
		return fmt.Errorf("LISTSWEEP_SCAN_FOLDERS must name at least one folder")
	}

	if c.ScanLimitPerFolder < 0 {
		return fmt.Errorf("LISTSWEEP_SCAN_LIMIT must not be negative")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("LISTSWEEP_FETCH_TIMEOUT must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// LedgerPath is the JSON ledger file used by the file store.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "processed.json")
}

// SettingsPath is the JSON mailbox settings file used by the file store.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
