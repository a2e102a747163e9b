package control_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/rxmux/control"
	"github.com/momentics/rxmux/internal/logging"
)

func newViper() *viper.Viper {
	v := viper.New()
	control.SetDefaults(v)
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := control.LoadConfig(newViper())
	require.NoError(t, err)
	assert.Equal(t, control.DefaultConfig(), cfg)
}

func TestLoadConfigEndpoints(t *testing.T) {
	v := newViper()
	v.Set(control.KeyUDP, []string{"127.0.0.1:2152", "[::1]:2153"})
	v.Set(control.KeySCTP, "10.0.0.1:36412,10.0.0.2:36412")
	v.Set(control.KeyTCP, []string{"5000"})

	cfg, err := control.LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("127.0.0.1:2152"),
		netip.MustParseAddrPort("[::1]:2153"),
	}, cfg.UDP)
	assert.Len(t, cfg.SCTP, 2)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("0.0.0.0:5000")}, cfg.TCP)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"empty name", control.KeyName, ""},
		{"zero pool size", control.KeyPoolSize, 0},
		{"negative capacity", control.KeyPoolCapacity, -1},
		{"negative interval", control.KeyMetricsInterval, "-1s"},
		{"bad endpoint", control.KeyUDP, []string{"nowhere:99"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.val)
			_, err := control.LoadConfig(v)
			assert.Error(t, err)
		})
	}
}

func TestInitEnvOverrides(t *testing.T) {
	t.Setenv("RXMUX_LOG_LEVEL", "debug")
	t.Setenv("RXMUX_PRIORITY", "10")

	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(env, []byte("RXMUX_POOL_CAPACITY=64\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("RXMUX_POOL_CAPACITY") })

	v := newViper()
	control.InitEnv(v, env)
	cfg, err := control.LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Priority)
	assert.Equal(t, 64, cfg.PoolCapacity)
}

func TestConfigStoreNotifiesListeners(t *testing.T) {
	store := control.NewConfigStore(control.DefaultConfig())

	var gotOld, gotNew control.Config
	calls := 0
	store.OnReload(func(old, updated control.Config) {
		calls++
		gotOld, gotNew = old, updated
	})

	next := control.DefaultConfig()
	next.LogLevel = "warn"
	store.SetConfig(next)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "info", gotOld.LogLevel)
	assert.Equal(t, "warn", gotNew.LogLevel)
	assert.Equal(t, "warn", store.GetSnapshot().LogLevel)
}

func TestReloadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rxmux.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log-level: error\nmetrics-interval: 2s\n"), 0o600))

	v := newViper()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	store := control.NewConfigStore(control.DefaultConfig())
	require.True(t, control.Reload(v, store, logging.Discard()))
	assert.Equal(t, "error", store.GetSnapshot().LogLevel)
	assert.Equal(t, 2*time.Second, store.GetSnapshot().MetricsInterval)

	v.Set(control.KeyPoolSize, 0)
	assert.False(t, control.Reload(v, store, logging.Discard()))
	assert.Equal(t, "error", store.GetSnapshot().LogLevel, "invalid reload keeps the old config")
}
