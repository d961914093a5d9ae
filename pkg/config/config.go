package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Breaker struct {
		FailureThreshold int           `mapstructure:"FAILURE_THRESHOLD"`
		MonitoringPeriod time.Duration `mapstructure:"MONITORING_PERIOD"`
		ResetTimeout     time.Duration `mapstructure:"RESET_TIMEOUT"`
		HalfOpenMaxCalls int           `mapstructure:"HALF_OPEN_MAX_CALLS"`
	} `mapstructure:"BREAKER"`
	RateLimit struct {
		UserDailyLimit        int64         `mapstructure:"USER_DAILY_LIMIT"`
		IPWindow              time.Duration `mapstructure:"IP_WINDOW"`
		IPLimit               int64         `mapstructure:"IP_LIMIT"`
		WalletHourlyLimit     int64         `mapstructure:"WALLET_HOURLY_LIMIT"`
		LargeAmountThreshold  uint64        `mapstructure:"LARGE_AMOUNT_THRESHOLD"`
		LargeAmountDailyLimit int64         `mapstructure:"LARGE_AMOUNT_DAILY_LIMIT"`
		BlockTTL              time.Duration `mapstructure:"BLOCK_TTL"`
		BlockAfterViolations  int64         `mapstructure:"BLOCK_AFTER_VIOLATIONS"`
	} `mapstructure:"RATE_LIMIT"`
	Abuse struct {
		CircularWindow     time.Duration `mapstructure:"CIRCULAR_WINDOW"`
		FarmingSmallAmount uint64        `mapstructure:"FARMING_SMALL_AMOUNT"`
		FarmingDailyCap    int64         `mapstructure:"FARMING_DAILY_CAP"`
		VelocityWindow     time.Duration `mapstructure:"VELOCITY_WINDOW"`
		VelocityCap        int64         `mapstructure:"VELOCITY_CAP"`
		PatternRepeatCap   int64         `mapstructure:"PATTERN_REPEAT_CAP"`
		RoundAmountCap     int64         `mapstructure:"ROUND_AMOUNT_CAP"`
		WalletHourlyCap    int64         `mapstructure:"WALLET_HOURLY_CAP"`
		AnomalyFloor       uint64        `mapstructure:"ANOMALY_FLOOR"`
		AnomalyMultiplier  float64       `mapstructure:"ANOMALY_MULTIPLIER"`
	} `mapstructure:"ABUSE"`
	Queue struct {
		Concurrency      int           `mapstructure:"CONCURRENCY"`
		DequeuePerSecond int           `mapstructure:"DEQUEUE_PER_SECOND"`
		MaxAttempts      int           `mapstructure:"MAX_ATTEMPTS"`
		RetryBase        time.Duration `mapstructure:"RETRY_BASE"`
		SuccessRetention time.Duration `mapstructure:"SUCCESS_RETENTION"`
		FailureRetention time.Duration `mapstructure:"FAILURE_RETENTION"`
	} `mapstructure:"QUEUE"`
	Collaborators struct {
		SettlementURL string        `mapstructure:"SETTLEMENT_URL"`
		ContentURL    string        `mapstructure:"CONTENT_URL"`
		ModerationURL string        `mapstructure:"MODERATION_URL"`
		EnrichmentURL string        `mapstructure:"ENRICHMENT_URL"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"COLLABORATORS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	return &cfg
}

// applyDefaults fills zero values so a minimal config.yaml still yields a
// runnable pipeline.
func applyDefaults(cfg *Config) {
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.MonitoringPeriod == 0 {
		cfg.Breaker.MonitoringPeriod = time.Minute
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Breaker.HalfOpenMaxCalls == 0 {
		cfg.Breaker.HalfOpenMaxCalls = 3
	}
	if cfg.RateLimit.UserDailyLimit == 0 {
		cfg.RateLimit.UserDailyLimit = 100
	}
	if cfg.RateLimit.IPWindow == 0 {
		cfg.RateLimit.IPWindow = 15 * time.Minute
	}
	if cfg.RateLimit.IPLimit == 0 {
		cfg.RateLimit.IPLimit = 30
	}
	if cfg.RateLimit.WalletHourlyLimit == 0 {
		cfg.RateLimit.WalletHourlyLimit = 20
	}
	if cfg.RateLimit.LargeAmountThreshold == 0 {
		cfg.RateLimit.LargeAmountThreshold = 1_000_000
	}
	if cfg.RateLimit.LargeAmountDailyLimit == 0 {
		cfg.RateLimit.LargeAmountDailyLimit = 10
	}
	if cfg.RateLimit.BlockTTL == 0 {
		cfg.RateLimit.BlockTTL = time.Hour
	}
	if cfg.RateLimit.BlockAfterViolations == 0 {
		cfg.RateLimit.BlockAfterViolations = 5
	}
	if cfg.Abuse.CircularWindow == 0 {
		cfg.Abuse.CircularWindow = time.Hour
	}
	if cfg.Abuse.FarmingSmallAmount == 0 {
		cfg.Abuse.FarmingSmallAmount = 10_000
	}
	if cfg.Abuse.FarmingDailyCap == 0 {
		cfg.Abuse.FarmingDailyCap = 10
	}
	if cfg.Abuse.VelocityWindow == 0 {
		cfg.Abuse.VelocityWindow = 5 * time.Minute
	}
	if cfg.Abuse.VelocityCap == 0 {
		cfg.Abuse.VelocityCap = 10
	}
	if cfg.Abuse.PatternRepeatCap == 0 {
		cfg.Abuse.PatternRepeatCap = 8
	}
	if cfg.Abuse.RoundAmountCap == 0 {
		cfg.Abuse.RoundAmountCap = 12
	}
	if cfg.Abuse.WalletHourlyCap == 0 {
		cfg.Abuse.WalletHourlyCap = 30
	}
	if cfg.Abuse.AnomalyFloor == 0 {
		cfg.Abuse.AnomalyFloor = 100_000
	}
	if cfg.Abuse.AnomalyMultiplier == 0 {
		cfg.Abuse.AnomalyMultiplier = 10
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 10
	}
	if cfg.Queue.DequeuePerSecond == 0 {
		cfg.Queue.DequeuePerSecond = 100
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.RetryBase == 0 {
		cfg.Queue.RetryBase = 2 * time.Second
	}
	if cfg.Queue.SuccessRetention == 0 {
		cfg.Queue.SuccessRetention = 24 * time.Hour
	}
	if cfg.Queue.FailureRetention == 0 {
		cfg.Queue.FailureRetention = 7 * 24 * time.Hour
	}
	if cfg.Collaborators.Timeout == 0 {
		cfg.Collaborators.Timeout = 10 * time.Second
	}
}
