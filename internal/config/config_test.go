package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcourtman/tierengine/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"TIERENGINE_CONFIG",
	"TIERENGINE_DATA_DIR",
	"TIERENGINE_STORE",
	"TIERENGINE_STORE_TIMEOUT",
	"TIERENGINE_REDIS_ADDR",
	"TIERENGINE_REDIS_PASSWORD",
	"TIERENGINE_REDIS_DB",
	"TIERENGINE_REDIS_NAMESPACE",
	"TIERENGINE_TRIAL_DAYS",
	"TIERENGINE_BACKUP_RETENTION_DAYS",
	"LOG_LEVEL",
	"LOG_FORMAT",
}

// isolateEnv clears every variable Load reads and points the data directory
// at a fresh temp dir. Variables are restored when the test ends.
func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv("TIERENGINE_ADMINS", "")
	require.NoError(t, os.Unsetenv("TIERENGINE_ADMINS"))

	dir := t.TempDir()
	t.Setenv("TIERENGINE_DATA_DIR", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolateEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, kvstore.KindFile, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, DefaultTrialDays, cfg.TrialDays)
	assert.Equal(t, 30*24*time.Hour, cfg.BackupRetention())
	assert.Empty(t, cfg.Admins)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolateEnv(t)

	envVars := map[string]string{
		"TIERENGINE_STORE":                 "REDIS",
		"TIERENGINE_REDIS_ADDR":            "localhost:6379",
		"TIERENGINE_REDIS_PASSWORD":        "secret",
		"TIERENGINE_REDIS_DB":              "2",
		"TIERENGINE_STORE_TIMEOUT":         "750ms",
		"TIERENGINE_ADMINS":                "admin@x.com, *@ops.example.com,",
		"TIERENGINE_TRIAL_DAYS":            "14",
		"TIERENGINE_BACKUP_RETENTION_DAYS": "7",
		"LOG_LEVEL":                        "debug",
		"LOG_FORMAT":                       "json",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, kvstore.KindRedis, cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, []string{"admin@x.com", "*@ops.example.com"}, cfg.Admins)
	assert.Equal(t, 14, cfg.TrialDays)
	assert.Equal(t, 7*24*time.Hour, cfg.BackupRetention())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	opts := cfg.StoreOptions()
	assert.Equal(t, kvstore.KindRedis, opts.Kind)
	assert.Equal(t, "localhost:6379", opts.Redis.Addr)
	assert.Equal(t, DefaultRedisNamespace, opts.Redis.Namespace)
	assert.Equal(t, 750*time.Millisecond, opts.Redis.Timeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"TIERENGINE_STORE": "etcd"}},
		{name: "redis without address", env: map[string]string{"TIERENGINE_STORE": "redis"}},
		{name: "zero trial days", env: map[string]string{"TIERENGINE_TRIAL_DAYS": "0"}},
		{name: "non-numeric trial days", env: map[string]string{"TIERENGINE_TRIAL_DAYS": "nine"}},
		{name: "bad timeout", env: map[string]string{"TIERENGINE_STORE_TIMEOUT": "soon"}},
		{name: "negative timeout", env: map[string]string{"TIERENGINE_STORE_TIMEOUT": "-1s"}},
		{name: "negative redis db", env: map[string]string{"TIERENGINE_REDIS_DB": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := isolateEnv(t)

	content := `
store: sqlite
storeTimeout: 2s
trialDays: 5
admins:
  - root@example.com
redis:
  namespace: "custom:"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tierengine.yaml"), []byte(content), 0o600))
	t.Setenv("TIERENGINE_TRIAL_DAYS", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "tierengine.yaml"), cfg.ConfigFile)
	assert.Equal(t, kvstore.KindSQLite, cfg.Store)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 6, cfg.TrialDays, "environment overrides the file")
	assert.Equal(t, []string{"root@example.com"}, cfg.Admins)
	assert.Equal(t, "custom:", cfg.Redis.Namespace)
}

func TestLoadExplicitConfigMustExist(t *testing.T) {
	dir := isolateEnv(t)
	t.Setenv("TIERENGINE_CONFIG", filepath.Join(dir, "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o600))
	t.Setenv("TIERENGINE_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadDotEnvFromDataDir(t *testing.T) {
	dir := isolateEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TIERENGINE_TRIAL_DAYS=12\nTIERENGINE_ADMINS=ops@x.com\n"), 0o600))

	// godotenv does not override variables that are already set, so the
	// cleared variable is removed for the duration of the test.
	require.NoError(t, os.Unsetenv("TIERENGINE_TRIAL_DAYS"))
	t.Cleanup(func() { _ = os.Unsetenv("TIERENGINE_ADMINS") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.TrialDays)
	assert.Equal(t, []string{"ops@x.com"}, cfg.Admins)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.DataDir = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.BackupRetentionDays = 0
	require.Error(t, cfg.Validate())
}
