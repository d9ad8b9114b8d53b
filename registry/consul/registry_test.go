package consul

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	conf "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/registry"
)

func TestNewConsulRegistry(t *testing.T) {
	reg, err := NewConsulRegistry(&conf.ConsulConfig{
		Id:            "cdr-exporter-1",
		Address:       "127.0.0.1:8500",
		PublicAddress: "10.0.0.7:8080",
	}, "1.0.0")
	require.NoError(t, err)

	cfg := reg.registrationConfig
	assert.Equal(t, "cdr-exporter-1", cfg.ID)
	assert.Equal(t, registry.ServiceName, cfg.Name)
	assert.Equal(t, "10.0.0.7", cfg.Address)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "1.0.0", cfg.Meta["version"])
	assert.Equal(t, registry.CheckInterval.String(), cfg.Check.TTL)
}

func TestNewConsulRegistryRejectsBadConfig(t *testing.T) {
	cases := map[string]*conf.ConsulConfig{
		"no id":    {Address: "127.0.0.1:8500", PublicAddress: "10.0.0.7:8080"},
		"no port":  {Id: "x", Address: "127.0.0.1:8500", PublicAddress: "10.0.0.7"},
		"bad port": {Id: "x", Address: "127.0.0.1:8500", PublicAddress: "10.0.0.7:http"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewConsulRegistry(cfg, "1.0.0")
			require.Error(t, err)
			assert.NotEmpty(t, errors.ID(err))
		})
	}
}
