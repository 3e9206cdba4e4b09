// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreTables = "tables"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// Config holds every setting of the board service.
type Config struct {
	Debug     bool
	LogFormat string
	Port      string

	Store           string
	StorageConnStr  string
	BoardsTable     string
	SQLitePath      string
	MySQLDSN        string
	RedisConnStr    string
	CacheTTL        time.Duration
	ChangesChannel  string
	LockTimeout     time.Duration
	StoreTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	Auth0Domain     string
	Auth0Audience   string
	AuthTestMode    bool
	TestJWTSecret   string
}

// Load builds a Config from getenv, usually os.Getenv.
func Load(getenv func(string) string) (Config, error) {
	var err error
	cfg := Config{
		LogFormat:      envString(getenv, "LOG_FORMAT", "text"),
		Port:           envString(getenv, "BOARD_SERVICE_PORT", "9000"),
		Store:          strings.ToLower(envString(getenv, "BOARD_STORE", StoreSQLite)),
		StorageConnStr: getenv("STORAGE_CONNECTION_STRING"),
		BoardsTable:    envString(getenv, "BOARDS_TABLE", "Boards"),
		SQLitePath:     envString(getenv, "SQLITE_PATH", "prism-board.db"),
		MySQLDSN:       getenv("MYSQL_DSN"),
		RedisConnStr:   getenv("REDIS_CONNECTION_STRING"),
		ChangesChannel: envString(getenv, "BOARD_CHANGES_CHANNEL", "board-changes"),
		Auth0Domain:    getenv("AUTH0_DOMAIN"),
		Auth0Audience:  getenv("AUTH0_AUDIENCE"),
		AuthTestMode:   getenv("AUTH0_TEST_MODE") == "1",
		TestJWTSecret:  getenv("TEST_JWT_SECRET"),
	}
	if cfg.Debug, err = envBool(getenv, "DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration(getenv, "BOARD_CACHE_TTL", 10*time.Minute, true); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = envDuration(getenv, "BOARD_LOCK_TIMEOUT", 5*time.Second, false); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = envDuration(getenv, "STORE_TIMEOUT", 10*time.Second, false); err != nil {
		return Config{}, err
	}
	if cfg.PingInterval, err = envDuration(getenv, "WS_PING_INTERVAL", 30*time.Second, false); err != nil {
		return Config{}, err
	}
	maxBytes, err := envInt(getenv, "WS_MAX_MESSAGE_BYTES", 64*1024)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)
	if cfg.SendBuffer, err = envInt(getenv, "WS_SEND_BUFFER", 64); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StoreTables:
		if c.StorageConnStr == "" || c.BoardsTable == "" {
			return fmt.Errorf("missing storage config")
		}
	case StoreRedis:
		if c.RedisConnStr == "" {
			return fmt.Errorf("REDIS_CONNECTION_STRING is required for BOARD_STORE=redis")
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required for BOARD_STORE=mysql")
		}
	default:
		return fmt.Errorf("unsupported BOARD_STORE %q", c.Store)
	}
	if c.AuthTestMode && c.TestJWTSecret == "" {
		return fmt.Errorf("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
	}
	if (c.Auth0Domain == "") != (c.Auth0Audience == "") {
		return fmt.Errorf("missing Auth0 config: AUTH0_DOMAIN and AUTH0_AUDIENCE go together")
	}
	return nil
}

// AuthEnabled reports whether clients have to present a token.
func (c Config) AuthEnabled() bool {
	return c.AuthTestMode || c.Auth0Domain != ""
}

// RedisOptions parses a redis:// URL or the "host:port,password=..,ssl=true"
// form used by Azure Cache for Redis connection strings.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func envString(getenv func(string) string, name, def string) string {
	if v := strings.TrimSpace(getenv(name)); v != "" {
		return v
	}
	return def
}

func envBool(getenv func(string) string, name string, def bool) (bool, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func envInt(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	return n, nil
}

func envDuration(getenv func(string) string, name string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	return d, nil
}
