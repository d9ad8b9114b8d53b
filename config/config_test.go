package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	fs := newFlags(t, "--data_source", "postgres://localhost/webitel")

	cfg, err := LoadConfig(fs)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/webitel", cfg.Database.Url)
	assert.Equal(t, 5, cfg.Export.Workers)
	assert.Equal(t, "/tmp", cfg.Export.Dir)
	assert.Equal(t, "cdr_exporter:tasks", cfg.Redis.Queue)
	assert.Equal(t, "POST", cfg.Callback.Method)
	assert.Equal(t, 10*time.Second, cfg.Callback.Timeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)

	assert.EqualError(t, cfg.Validate(), "Service id is required")
}

func TestLoadConfigRequiresDataSource(t *testing.T) {
	t.Setenv("DATA_SOURCE", "")
	fs := newFlags(t)

	_, err := LoadConfig(fs)
	assert.EqualError(t, err, "Data source is required")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DATA_SOURCE", "postgres://db/webitel")
	t.Setenv("CONSUL_ID", "cdr-1")
	t.Setenv("CONSUL_HOST", "consul:8500")
	t.Setenv("HTTP_PUBLIC_ADDR", "10.0.0.1:8080")
	t.Setenv("EXPORT_DIR", "/var/lib/exports")
	t.Setenv("CALLBACK_METHOD", "put")

	fs := newFlags(t, "--workers", "3")

	cfg, err := LoadConfig(fs)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cdr-1", cfg.Consul.Id)
	assert.Equal(t, "consul:8500", cfg.Consul.Address)
	assert.Equal(t, "10.0.0.1:8080", cfg.Consul.PublicAddress)
	assert.Equal(t, "/var/lib/exports", cfg.Export.Dir)
	assert.Equal(t, "PUT", cfg.Callback.Method)
	assert.Equal(t, 3, cfg.Export.Workers)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_source": "postgres://file/webitel",
		"export_retention": "72h"
	}`), 0o600))

	fs := newFlags(t, "--config_file", path)

	cfg, err := LoadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "postgres://file/webitel", cfg.Database.Url)
	assert.Equal(t, 72*time.Hour, cfg.Export.Retention)
}
