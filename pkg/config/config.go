package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

const EnvPrefix = "MESHINFO"

type Configuration struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	LogLevel   string `mapstructure:"log_level" validate:"required|in:debug,info,warn,error"`

	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Mesh     MeshSettings   `mapstructure:"mesh"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	User         string `mapstructure:"user" validate:"required"`
	Password     string `mapstructure:"password"`
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"required|uint|min:1"`
	DB           string `mapstructure:"db" validate:"required"`
	SSLMode      string `mapstructure:"sslmode" validate:"required|in:disable,allow,prefer,require,verify-ca,verify-full"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

// MQTTConfig controls the listener that invalidates caches as packets arrive.
type MQTTConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Broker   string   `mapstructure:"broker"`
	ClientID string   `mapstructure:"client_id"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Topics   []string `mapstructure:"topics"`
	// ChannelKeys are base64 PSKs tried on encrypted packets, in order.
	ChannelKeys []string `mapstructure:"channel_keys"`
	// InvalidateDebounce coalesces invalidations from bursts of packets.
	InvalidateDebounce time.Duration `mapstructure:"invalidate_debounce"`
	// RecordReceptions stores gateway reception metadata in the reception log.
	RecordReceptions bool `mapstructure:"record_receptions"`
}

type CacheConfig struct {
	NodeTTL         time.Duration `mapstructure:"node_ttl" validate:"required"`
	AppTTL          time.Duration `mapstructure:"app_ttl" validate:"required"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"required"`
	MemoryLimitMB   int           `mapstructure:"memory_limit_mb" validate:"uint"`
	MaxEntries      int           `mapstructure:"max_entries" validate:"uint"`
}

type MeshSettings struct {
	// ZeroHopTimeout is the window for zero-hop link aggregation.
	ZeroHopTimeout     time.Duration `mapstructure:"zero_hop_timeout" validate:"required"`
	ActiveThreshold    time.Duration `mapstructure:"active_threshold" validate:"required"`
	ChatPageSize       int           `mapstructure:"chat_page_size" validate:"required|min:1|max:1000"`
	TraceroutePageSize int           `mapstructure:"traceroute_page_size" validate:"required|min:1|max:1000"`
	// ReceptionRetention is how long raw receptions are kept. Zero keeps them forever.
	ReceptionRetention time.Duration `mapstructure:"reception_retention"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads config.yaml from the given directories (falling back to the
// working directory) and MESHINFO_* environment variables, then validates
// the result. A missing config file is not an error.
func Load(paths ...string) (*Configuration, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Configuration
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.user", "meshinfo")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.db", "meshinfo")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.migrate", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "meshinfo")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topics", []string{"msh/#"})
	v.SetDefault("mqtt.channel_keys", []string{})
	v.SetDefault("mqtt.invalidate_debounce", "15s")
	v.SetDefault("mqtt.record_receptions", true)

	v.SetDefault("cache.node_ttl", "60s")
	v.SetDefault("cache.app_ttl", "300s")
	v.SetDefault("cache.cleanup_interval", "15m")
	v.SetDefault("cache.memory_limit_mb", 1000)
	v.SetDefault("cache.max_entries", 500)

	v.SetDefault("mesh.zero_hop_timeout", "12h")
	v.SetDefault("mesh.active_threshold", "24h")
	v.SetDefault("mesh.chat_page_size", 50)
	v.SetDefault("mesh.traceroute_page_size", 100)
	v.SetDefault("mesh.reception_retention", "168h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks field rules and the cross-field constraints the tags
// cannot express.
func (c *Configuration) Validate() error {
	vd := validate.Struct(c)
	if !vd.Validate() {
		return fmt.Errorf("invalid configuration: %w", vd.Errors)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("invalid configuration: mqtt.broker is required when mqtt is enabled")
		}
		if len(c.MQTT.Topics) == 0 {
			return errors.New("invalid configuration: mqtt.topics is required when mqtt is enabled")
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid configuration: metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

// MemoryLimitBytes converts the configured limit for the cache manager.
func (c *CacheConfig) MemoryLimitBytes() uint64 {
	if c.MemoryLimitMB <= 0 {
		return 0
	}
	return uint64(c.MemoryLimitMB) << 20
}
