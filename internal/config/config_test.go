package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":3001", cfg.Addr())
	assert.Equal(t, "/v1", cfg.BasePath())
	assert.Equal(t, time.Minute, cfg.JWT.AccessTTL.D())
	assert.Equal(t, 72*time.Hour, cfg.JWT.RefreshTTL.D())
	assert.True(t, cfg.JWT.EnforceMode)
	assert.Equal(t, int64(5<<20), cfg.HTTP.BodyLimit)
	assert.False(t, cfg.HTTP.TrustProxy)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":                    "8080",
		"APP_VERSION":             "2",
		"CORS_ORIGIN":             "https://a.example, https://b.example",
		"RATE_LIMIT_WINDOW_MS":    "60000",
		"RATE_LIMIT_MAX_REQUESTS": "10",
		"TRUST_PROXY":             "true",
		"JWT_EXPIRES_IN":          "5m",
		"JWT_REFRESH_EXPIRES_IN":  "3d",
		"JWT_ENFORCE_MODE":        "false",
		"DB_DRIVER":               "postgres",
		"POSTGRES_DSN":            "postgres://localhost/gatehouse",
		"MONGODB_MAX_POOL_SIZE":   "25",
		"KAFKA_BROKERS":           "k1:9092,k2:9092",
		"SESSION_RETENTION":       "86400",
		"LOG_LEVEL":               "  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "/v2", cfg.BasePath())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, time.Minute, cfg.HTTP.RateLimitWindow.D())
	assert.Equal(t, 10, cfg.HTTP.RateLimitMax)
	assert.True(t, cfg.HTTP.TrustProxy)
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL.D())
	assert.Equal(t, 72*time.Hour, cfg.JWT.RefreshTTL.D())
	assert.False(t, cfg.JWT.EnforceMode)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, uint64(25), cfg.Database.Mongo.MaxPoolSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.SessionRetention.D())
	assert.Equal(t, "info", cfg.Log.Level, "blank values keep the default")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvCollectsErrors(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":             "http",
		"JWT_EXPIRES_IN":   "soon",
		"JWT_ENFORCE_MODE": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "JWT_EXPIRES_IN")
	assert.Contains(t, err.Error(), "JWT_ENFORCE_MODE")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.App.Port = 0 },
		"driver":        func(c *Config) { c.Database.Driver = "sqlite" },
		"postgres dsn":  func(c *Config) { c.Database.Driver = DriverPostgres },
		"scheme":        func(c *Config) { c.Password.Scheme = "md5" },
		"access ttl":    func(c *Config) { c.JWT.AccessTTL = 0 },
		"kafka topic":   func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.OTPTopic = "" },
		"rate limit":    func(c *Config) { c.HTTP.RateLimitMax = 0 },
		"empty version": func(c *Config) { c.App.Version = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Database.Driver = DriverMemory
	assert.NoError(t, cfg.Validate())
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":   time.Minute,
		"72h":  72 * time.Hour,
		"30d":  30 * 24 * time.Hour,
		"1w":   7 * 24 * time.Hour,
		"60":   time.Minute,
		" 2s ": 2 * time.Second,
		"0.5d": 12 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "d", "ten minutes"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: Gatehouse Test
  port: 4000
jwt:
  access_ttl: 2m
  refresh_ttl: 7d
database:
  driver: memory
sweep:
  interval: 15m
`), 0o600))

	// Run from an empty directory so no stray .env is picked up.
	t.Chdir(dir)

	t.Setenv("PORT", "4100")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Gatehouse Test", cfg.App.Name)
	assert.Equal(t, 4100, cfg.App.Port, "environment wins over file")
	assert.Equal(t, 2*time.Minute, cfg.JWT.AccessTTL.D())
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL.D())
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval.D())
	assert.Equal(t, "storage/keys", cfg.Keys.Dir, "unset keys keep defaults")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  nmae: typo\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_DRIVER=memory\nAPP_NAME=from-dotenv\n"), 0o600))
	t.Chdir(dir)
	// godotenv writes into the process environment.
	t.Cleanup(func() { _ = os.Unsetenv("DB_DRIVER") })

	t.Setenv("APP_NAME", "from-env")
	t.Setenv("GATEHOUSE_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.App.Name)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestKeyPaths(t *testing.T) {
	k := KeysConfig{Dir: "/keys"}
	assert.Equal(t, "/keys/api/private.key", k.APIPrivate())
	assert.Equal(t, "/keys/encryption/public.key", k.EncryptionPublic())
}
