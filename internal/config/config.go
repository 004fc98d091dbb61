// Package config loads gatehouse configuration.
//
// Sources are applied in order, later ones winning:
//   - built-in defaults,
//   - an optional YAML file (--config flag or GATEHOUSE_CONFIG),
//   - a .env file in the working directory, if present,
//   - the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	HTTP     HTTPConfig     `yaml:"http"`
	JWT      JWTConfig      `yaml:"jwt"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Keys     KeysConfig     `yaml:"keys"`
	Password PasswordConfig `yaml:"password"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	Port        int    `yaml:"port"`
}

type HTTPConfig struct {
	CORSOrigins     []string `yaml:"cors_origins"`
	RateLimitWindow Duration `yaml:"rate_limit_window"`
	RateLimitMax    int      `yaml:"rate_limit_max"`
	// BodyLimit caps request bodies, in bytes.
	BodyLimit int64 `yaml:"body_limit"`
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind
	// a proxy that overwrites them.
	TrustProxy bool `yaml:"trust_proxy"`
}

type JWTConfig struct {
	AccessTTL   Duration `yaml:"access_ttl"`
	RefreshTTL  Duration `yaml:"refresh_ttl"`
	Issuer      string   `yaml:"issuer"`
	EnforceMode bool     `yaml:"enforce_mode"`
}

type DatabaseConfig struct {
	Driver      string      `yaml:"driver"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	Mongo       MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI                    string   `yaml:"uri"`
	Database               string   `yaml:"database"`
	MaxPoolSize            uint64   `yaml:"max_pool_size"`
	ServerSelectionTimeout Duration `yaml:"server_selection_timeout"`
	SocketTimeout          Duration `yaml:"socket_timeout"`
	ConnectTimeout         Duration `yaml:"connect_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KeysConfig points at the PEM key material. Layout under Dir:
// api/{private,public}.key signs tokens, encryption/{private,public}.key
// seals passwords.
type KeysConfig struct {
	Dir string `yaml:"dir"`
}

func (k KeysConfig) APIPrivate() string { return filepath.Join(k.Dir, "api", "private.key") }
func (k KeysConfig) APIPublic() string  { return filepath.Join(k.Dir, "api", "public.key") }
func (k KeysConfig) EncryptionPrivate() string {
	return filepath.Join(k.Dir, "encryption", "private.key")
}
func (k KeysConfig) EncryptionPublic() string {
	return filepath.Join(k.Dir, "encryption", "public.key")
}

type PasswordConfig struct {
	Scheme string `yaml:"scheme"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	OTPTopic string   `yaml:"otp_topic"`
}

type SweepConfig struct {
	Interval         Duration `yaml:"interval"`
	SessionRetention Duration `yaml:"session_retention"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:        "Gatehouse",
			URL:         "http://localhost:3001",
			Version:     "1",
			Environment: "development",
			Port:        3001,
		},
		HTTP: HTTPConfig{
			CORSOrigins:     []string{"*"},
			RateLimitWindow: Duration(15 * time.Minute),
			RateLimitMax:    100,
			BodyLimit:       5 << 20,
		},
		JWT: JWTConfig{
			AccessTTL:   Duration(time.Minute),
			RefreshTTL:  Duration(72 * time.Hour),
			EnforceMode: true,
		},
		Database: DatabaseConfig{
			Driver: DriverMongo,
			Mongo: MongoConfig{
				URI:                    "mongodb://localhost:27017",
				Database:               "gatehouse",
				MaxPoolSize:            10,
				ServerSelectionTimeout: Duration(time.Minute),
				SocketTimeout:          Duration(time.Minute),
				ConnectTimeout:         Duration(time.Minute),
			},
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Keys:     KeysConfig{Dir: "storage/keys"},
		Password: PasswordConfig{Scheme: "rsa-oaep"},
		Kafka:    KafkaConfig{OTPTopic: "auth.otp"},
		Sweep: SweepConfig{
			Interval:         Duration(time.Hour),
			SessionRetention: Duration(30 * 24 * time.Hour),
		},
	}
}

// Load builds the configuration. An empty path falls back to GATEHOUSE_CONFIG;
// no file at all is fine.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("GATEHOUSE_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	millis := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(time.Duration(n) * time.Millisecond)
		}
	}

	str("APP_NAME", &c.App.Name)
	str("APP_URL", &c.App.URL)
	str("APP_VERSION", &c.App.Version)
	str("NODE_ENV", &c.App.Environment)
	str("APP_ENV", &c.App.Environment)
	integer("PORT", &c.App.Port)

	list("CORS_ORIGIN", &c.HTTP.CORSOrigins)
	millis("RATE_LIMIT_WINDOW_MS", &c.HTTP.RateLimitWindow)
	integer("RATE_LIMIT_MAX_REQUESTS", &c.HTTP.RateLimitMax)
	boolean("TRUST_PROXY", &c.HTTP.TrustProxy)

	duration("JWT_EXPIRES_IN", &c.JWT.AccessTTL)
	duration("JWT_REFRESH_EXPIRES_IN", &c.JWT.RefreshTTL)
	str("JWT_ISSUER", &c.JWT.Issuer)
	boolean("JWT_ENFORCE_MODE", &c.JWT.EnforceMode)

	str("DB_DRIVER", &c.Database.Driver)
	str("POSTGRES_DSN", &c.Database.PostgresDSN)
	str("MONGODB_URI", &c.Database.Mongo.URI)
	str("MONGODB_DATABASE", &c.Database.Mongo.Database)
	var pool int
	integer("MONGODB_MAX_POOL_SIZE", &pool)
	if pool > 0 {
		c.Database.Mongo.MaxPoolSize = uint64(pool)
	}
	millis("MONGODB_SERVER_SELECTION_TIMEOUT", &c.Database.Mongo.ServerSelectionTimeout)
	millis("MONGODB_SOCKET_TIMEOUT", &c.Database.Mongo.SocketTimeout)
	millis("MONGODB_CONNECT_TIMEOUT", &c.Database.Mongo.ConnectTimeout)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("KEYS_DIR", &c.Keys.Dir)
	str("PASSWORD_SCHEME", &c.Password.Scheme)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_OTP_TOPIC", &c.Kafka.OTPTopic)
	duration("SWEEP_INTERVAL", &c.Sweep.Interval)
	duration("SESSION_RETENTION", &c.Sweep.SessionRetention)

	return errors.Join(errs...)
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.App.Port))
	}
	if strings.TrimSpace(c.App.Version) == "" {
		errs = append(errs, errors.New("app version is required"))
	}
	if c.HTTP.RateLimitMax <= 0 || c.HTTP.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit window and max must be positive"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	switch c.Database.Driver {
	case DriverMongo:
		if c.Database.Mongo.URI == "" || c.Database.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo driver needs MONGODB_URI and MONGODB_DATABASE"))
		}
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres driver needs POSTGRES_DSN"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	switch strings.ToLower(c.Password.Scheme) {
	case "rsa-oaep", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("unknown PASSWORD_SCHEME %q", c.Password.Scheme))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.OTPTopic == "" {
		errs = append(errs, errors.New("KAFKA_OTP_TOPIC is required with KAFKA_BROKERS"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + strconv.Itoa(c.App.Port) }

// BasePath is the versioned API prefix, e.g. "/v1".
func (c Config) BasePath() string { return "/v" + strings.TrimPrefix(c.App.Version, "v") }

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
