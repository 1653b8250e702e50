package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Security    SecurityConfig    `mapstructure:"security"`
	Progression ProgressionConfig `mapstructure:"progression"`
	Decay       DecayConfig       `mapstructure:"decay"`
	Status      StatusConfig      `mapstructure:"status"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Ranking     RankingConfig     `mapstructure:"ranking"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	MaxOpenConns int           `mapstructure:"max_open"`
	MaxIdleConns int           `mapstructure:"max_idle"`
	ConnMaxLife  time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// AdminAllow lists addresses or CIDR prefixes allowed on /api/admin.
	// Empty allows everyone.
	AdminAllow []string `mapstructure:"admin_allow"`
}

// ProgressionConfig selects the XP policy. Policy is "tiered" or "flat".
type ProgressionConfig struct {
	Policy string       `mapstructure:"policy"`
	Flat   FlatConfig   `mapstructure:"flat"`
	Tiered TieredConfig `mapstructure:"tiered"`
}

type FlatConfig struct {
	XPPerAction int `mapstructure:"xp_per_action"`
	Threshold   int `mapstructure:"threshold"`
}

// TieredConfig lists tiers and actions as slices, not maps: viper lowercases
// map keys, which would mangle action labels.
type TieredConfig struct {
	BaseThreshold int            `mapstructure:"base_threshold"`
	PerLevel      int            `mapstructure:"per_level"`
	DefaultXP     int            `mapstructure:"default_xp"`
	Tiers         []TierConfig   `mapstructure:"tiers"`
	Actions       []ActionConfig `mapstructure:"actions"`
}

type TierConfig struct {
	Name string `mapstructure:"name"`
	XP   int    `mapstructure:"xp"`
}

type ActionConfig struct {
	Label string `mapstructure:"label"`
	Tier  string `mapstructure:"tier"`
}

type DecayConfig struct {
	NeglectThresholdDays float64       `mapstructure:"neglect_threshold_days"`
	HealthDecreaseAmount int           `mapstructure:"health_decrease_amount"`
	Interval             time.Duration `mapstructure:"interval"`
}

type StatusConfig struct {
	HealthyDays float64 `mapstructure:"healthy_days"`
	NormalDays  float64 `mapstructure:"normal_days"`
	SickDays    float64 `mapstructure:"sick_days"`
}

type WorkerConfig struct {
	ProcessInterval time.Duration `mapstructure:"process_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
}

type RankingConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// ArchiveConfig points at an S3-compatible bucket for equipment snapshots.
type ArchiveConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	Prefix    string        `mapstructure:"prefix"`
	UseSSL    bool          `mapstructure:"use_ssl"`
	Interval  time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/equipets.db")
	v.SetDefault("database.max_open", 20)
	v.SetDefault("database.max_idle", 5)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
	v.SetDefault("progression.policy", "tiered")
	v.SetDefault("progression.flat.xp_per_action", 25)
	v.SetDefault("progression.flat.threshold", 100)
	v.SetDefault("progression.tiered.base_threshold", 100)
	v.SetDefault("progression.tiered.per_level", 10)
	v.SetDefault("progression.tiered.default_xp", 5)
	v.SetDefault("decay.neglect_threshold_days", 7)
	v.SetDefault("decay.health_decrease_amount", 10)
	v.SetDefault("decay.interval", "24h")
	v.SetDefault("status.healthy_days", 7)
	v.SetDefault("status.normal_days", 14)
	v.SetDefault("status.sick_days", 30)
	v.SetDefault("worker.process_interval", "1m")
	v.SetDefault("worker.batch_size", 200)
	v.SetDefault("ranking.refresh_interval", "10m")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.interval", "24h")
}

// Load reads config from the given YAML file path.
// Environment variables prefixed EQUIPETS_ override file values
// (EQUIPETS_DATABASE_MODE overrides database.mode).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("equipets")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
