// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Receive daemon configuration: typed settings loaded through viper from
// flags, RXMUX_* environment variables, .env files and an optional config
// file, plus a thread-safe store that propagates reloads to listeners.

package control

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (RXMUX_LOG_LEVEL...).
const EnvPrefix = "rxmux"

// Config keys shared by flags, environment and config files.
const (
	KeyName            = "name"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyPriority        = "priority"
	KeyCPU             = "cpu"
	KeyPoolSize        = "pool-size"
	KeyPoolCapacity    = "pool-capacity"
	KeyUDP             = "udp"
	KeySCTP            = "sctp"
	KeyTCP             = "tcp"
	KeyMetricsInterval = "metrics-interval"
)

// Config is the resolved daemon configuration.
type Config struct {
	Name      string
	LogLevel  string
	LogFormat string

	// Priority of the reactor thread, -1 for the default scheduler.
	Priority int
	// CPU the reactor thread is pinned to, -1 for no pinning.
	CPU int

	PoolSize     int
	PoolCapacity int

	UDP  []netip.AddrPort
	SCTP []netip.AddrPort
	TCP  []netip.AddrPort

	MetricsInterval time.Duration
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Name:            "RXMUX",
		LogLevel:        "info",
		LogFormat:       "text",
		Priority:        -1,
		CPU:             -1,
		PoolSize:        9000,
		PoolCapacity:    1024,
		MetricsInterval: 10 * time.Second,
	}
}

// SetDefaults registers DefaultConfig values on v so that lookups without a
// bound flag still resolve.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyName, d.Name)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyPriority, d.Priority)
	v.SetDefault(KeyCPU, d.CPU)
	v.SetDefault(KeyPoolSize, d.PoolSize)
	v.SetDefault(KeyPoolCapacity, d.PoolCapacity)
	v.SetDefault(KeyMetricsInterval, d.MetricsInterval)
}

// InitEnv loads .env files (missing files are ignored) and enables
// RXMUX_-prefixed environment overrides on v.
func InitEnv(v *viper.Viper, envFiles ...string) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Name:            v.GetString(KeyName),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
		Priority:        v.GetInt(KeyPriority),
		CPU:             v.GetInt(KeyCPU),
		PoolSize:        v.GetInt(KeyPoolSize),
		PoolCapacity:    v.GetInt(KeyPoolCapacity),
		MetricsInterval: v.GetDuration(KeyMetricsInterval),
	}
	if cfg.Name == "" {
		return Config{}, fmt.Errorf("%s must not be empty", KeyName)
	}
	if cfg.PoolSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", KeyPoolSize, cfg.PoolSize)
	}
	if cfg.PoolCapacity < 0 {
		return Config{}, fmt.Errorf("%s must not be negative, got %d", KeyPoolCapacity, cfg.PoolCapacity)
	}
	if cfg.MetricsInterval < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", KeyMetricsInterval)
	}

	var err error
	if cfg.UDP, err = parseEndpoints(KeyUDP, v.GetStringSlice(KeyUDP)); err != nil {
		return Config{}, err
	}
	if cfg.SCTP, err = parseEndpoints(KeySCTP, v.GetStringSlice(KeySCTP)); err != nil {
		return Config{}, err
	}
	if cfg.TCP, err = parseEndpoints(KeyTCP, v.GetStringSlice(KeyTCP)); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseEndpoints accepts host:port items, also comma separated inside one
// item as they arrive from a single environment variable.
func parseEndpoints(key string, items []string) ([]netip.AddrPort, error) {
	var out []netip.AddrPort
	for _, item := range items {
		for _, ep := range strings.Split(item, ",") {
			ep = strings.TrimSpace(ep)
			if ep == "" {
				continue
			}
			addr, err := ParseEndpoint(ep)
			if err != nil {
				return nil, fmt.Errorf("invalid %s endpoint %q: %w", key, ep, err)
			}
			out = append(out, addr)
		}
	}
	return out, nil
}

// ParseEndpoint parses "ip:port" or "[ipv6]:port".
func ParseEndpoint(ep string) (netip.AddrPort, error) {
	addr, err := netip.ParseAddrPort(ep)
	if err == nil {
		return addr, nil
	}
	// bare port binds the IPv4 wildcard
	if p, perr := strconv.ParseUint(ep, 10, 16); perr == nil {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(p)), nil
	}
	return netip.AddrPort{}, err
}

// ConfigStore holds the current Config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(old, updated Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// GetSnapshot returns a copy of the current configuration.
func (cs *ConfigStore) GetSnapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// SetConfig replaces the configuration and calls every listener with the old
// and new values. Listeners run on the caller's goroutine, outside the lock.
func (cs *ConfigStore) SetConfig(cfg Config) {
	cs.mu.Lock()
	old := cs.config
	cs.config = cfg
	listeners := append([]func(Config, Config){}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(old, cfg)
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(old, updated Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
