package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite  = "sqlite"
	DriverCouchDB = "couchdb"

	ReconnectFixed   = "fixed"
	ReconnectBackoff = "backoff"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Oracle    OracleConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	Client    ClientConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
	// Location resolves date-only search bounds.
	Location        *time.Location
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
	CouchDB    CouchDBConfig
}

type CouchDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c CouchDBConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", c.User, c.Password, c.Host, c.Port)
}

type OracleConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

// AuthConfig enables bearer token checks only when Secret is set.
type AuthConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

func (a AuthConfig) Enabled() bool {
	return a.Secret != ""
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

type ClientConfig struct {
	ServerURL         string
	Token             string
	ReconnectStrategy string
	ReconnectDelay    time.Duration
	BackoffMax        time.Duration
	HistoryCapacity   int
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
			SQLitePath: getEnv("SQLITE_PATH", "data/kit-notes.db"),
			CouchDB: CouchDBConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnv("DB_PORT", "5984"),
				User:     getEnv("DB_USER", "admin"),
				Password: getEnv("DB_PASSWORD", "password"),
				Name:     getEnv("DB_NAME", "kit_notes"),
			},
		},
		Oracle: OracleConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1048576)),
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		Auth: AuthConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "console")),
			File:   getEnv("LOG_FILE", ""),
		},
		Client: ClientConfig{
			ServerURL:         getEnv("KIT_SERVER_URL", "ws://localhost:8080/ws"),
			Token:             getEnv("KIT_TOKEN", ""),
			ReconnectStrategy: strings.ToLower(getEnv("KIT_RECONNECT_STRATEGY", ReconnectFixed)),
			HistoryCapacity:   getEnvAsInt("KIT_HISTORY_CAPACITY", 10),
		},
	}

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", "30s", &cfg.Server.ShutdownTimeout},
		{"ORACLE_TIMEOUT", "60s", &cfg.Oracle.Timeout},
		{"WS_WRITE_WAIT", "10s", &cfg.WebSocket.WriteWait},
		{"WS_PONG_WAIT", "60s", &cfg.WebSocket.PongWait},
		{"WS_PING_PERIOD", "54s", &cfg.WebSocket.PingPeriod},
		{"JWT_EXPIRATION", "720h", &cfg.Auth.Expiration},
		{"REFRESH_TOKEN_EXPIRATION", "2160h", &cfg.Auth.RefreshTokenExpiration},
		{"KIT_RECONNECT_DELAY", "3s", &cfg.Client.ReconnectDelay},
		{"KIT_BACKOFF_MAX", "30s", &cfg.Client.BackoffMax},
	}
	for _, d := range durations {
		v, err := getEnvAsDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Server.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have a closed set of values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverCouchDB:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want %s or %s", c.Store.Driver, DriverSQLite, DriverCouchDB)
	}

	switch c.Client.ReconnectStrategy {
	case ReconnectFixed, ReconnectBackoff:
	default:
		return fmt.Errorf("invalid KIT_RECONNECT_STRATEGY %q: want %s or %s", c.Client.ReconnectStrategy, ReconnectFixed, ReconnectBackoff)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: want console or json", c.Logging.Format)
	}

	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)", c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
