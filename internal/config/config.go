package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Retention RetentionConfig `mapstructure:"retention"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Setup     SetupConfig     `mapstructure:"setup"`
	PaaS      PaaSConfig      `mapstructure:"paas"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	Enabled  bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

// CronConfig holds the robfig/cron specs (seconds field enabled) for the three jobs.
type CronConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SIPExecution  string `mapstructure:"sip_execution"`
	WalletMonitor string `mapstructure:"wallet_monitor"`
	Retention     string `mapstructure:"retention"`
}

type SchedulerConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Workers     int           `mapstructure:"workers"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
}

type MonitorConfig struct {
	Workers     int           `mapstructure:"workers"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
	MaxFunds    int           `mapstructure:"max_funds"`
}

type RetentionConfig struct {
	Horizon      time.Duration `mapstructure:"horizon"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxBatches   int           `mapstructure:"max_batches"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DetectorConfig selects the trader activity source: "mock" or "onchain".
type DetectorConfig struct {
	Kind              string        `mapstructure:"kind"`
	MockProbability   float64       `mapstructure:"mock_probability"`
	MockMaxRatio      float64       `mapstructure:"mock_max_ratio"`
	RPCURL            string        `mapstructure:"rpc_url"`
	RPCTimeout        time.Duration `mapstructure:"rpc_timeout"`
	RPCRatePerSecond  float64       `mapstructure:"rpc_rate_per_second"`
	RPCBurst          int           `mapstructure:"rpc_burst"`
	SignaturesPerPoll int           `mapstructure:"signatures_per_poll"`
}

// LeaseConfig selects the cross-process job lease backend: "memory" or "redis".
type LeaseConfig struct {
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	RedisPass string        `mapstructure:"redis_password"`
	TTL       time.Duration `mapstructure:"ttl"`
	Prefix    string        `mapstructure:"prefix"`
}

type SetupConfig struct {
	SeedDemoFunds bool `mapstructure:"seed_demo_funds"`
}

// PaaSConfig points at the easyweb3 platform used for audit logs. An empty
// BaseURL or APIKey disables reporting.
type PaaSConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Agent          string        `mapstructure:"agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AuthDisabled   bool          `mapstructure:"auth_disabled"`
	RequireGateway bool          `mapstructure:"require_gateway"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.ping_timeout", "5s")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.sip_execution", "@every 5m")
	v.SetDefault("cron.wallet_monitor", "@every 2m")
	v.SetDefault("cron.retention", "0 0 2 * * *")

	v.SetDefault("scheduler.batch_size", 500)
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.item_timeout", "10s")

	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.item_timeout", "30s")
	v.SetDefault("monitor.max_funds", 1000)

	v.SetDefault("retention.horizon", "2160h")
	v.SetDefault("retention.batch_size", 5000)
	v.SetDefault("retention.max_batches", 200)
	v.SetDefault("retention.batch_timeout", "30s")

	v.SetDefault("detector.kind", "mock")
	v.SetDefault("detector.mock_probability", 0.3)
	v.SetDefault("detector.mock_max_ratio", 0.1)
	v.SetDefault("detector.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("detector.rpc_timeout", "15s")
	v.SetDefault("detector.rpc_rate_per_second", 5)
	v.SetDefault("detector.rpc_burst", 5)
	v.SetDefault("detector.signatures_per_poll", 25)

	v.SetDefault("lease.backend", "memory")
	v.SetDefault("lease.redis_addr", "127.0.0.1:6379")
	v.SetDefault("lease.redis_db", 0)
	v.SetDefault("lease.ttl", "10m")
	v.SetDefault("lease.prefix", "copyfund:job:")

	v.SetDefault("setup.seed_demo_funds", false)

	v.SetDefault("paas.base_url", "")
	v.SetDefault("paas.api_key", "")
	v.SetDefault("paas.agent", "copyfund-scheduler")
	v.SetDefault("paas.timeout", "10s")
	v.SetDefault("paas.auth_disabled", false)
	v.SetDefault("paas.require_gateway", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
