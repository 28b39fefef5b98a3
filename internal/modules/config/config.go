package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"grid_bot/internal/engine"
	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
	"grid_bot/internal/supervisor"
	"grid_bot/pkg/logger"
	"grid_bot/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	envPrefix         = "GRIDBOT"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config ...
type Config struct {
	Service struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"service"`

	Log      logger.Config  `mapstructure:"log"`
	Tracing  tracing.Config `mapstructure:"tracing"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	DB       string         `mapstructure:"db_dsn"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	API      APIConfig      `mapstructure:"api"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Engine   EngineConfig   `mapstructure:"engine"`

	Supervisor supervisor.Config `mapstructure:"supervisor"`
}

type TelegramConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Token     string  `mapstructure:"token"`
	AdminIDs  []int64 `mapstructure:"admin_ids"`
	QueueSize int     `mapstructure:"queue_size"`
}

type StorageConfig struct {
	Driver       string `mapstructure:"driver"` // postgres | memory
	Migrate      bool   `mapstructure:"migrate"`
	MaxConns     int32  `mapstructure:"max_conns"`
	SnapshotPath string `mapstructure:"snapshot_path"`
	SeedFile     string `mapstructure:"seed_file"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type APIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	AdminToken  string        `mapstructure:"admin_token"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	StatusPush  time.Duration `mapstructure:"status_push"`
}

type PaperMarket struct {
	Symbol       string  `mapstructure:"symbol"`
	TickSize     float64 `mapstructure:"tick_size"`
	StepSize     float64 `mapstructure:"step_size"`
	MinQty       float64 `mapstructure:"min_qty"`
	ContractSize float64 `mapstructure:"contract_size"`
	Price        float64 `mapstructure:"price"`
}

type ExchangeConfig struct {
	Testnet      bool          `mapstructure:"testnet"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	Burst        int           `mapstructure:"burst"`
	PaperMarkets []PaperMarket `mapstructure:"paper_markets"`
}

type EngineConfig struct {
	Timing           engine.Timing `mapstructure:"timing"`
	ToleranceTicks   float64       `mapstructure:"guard_tolerance_ticks"`
	KeepOrdersOnStop bool          `mapstructure:"keep_orders_on_stop"`
	// ResumeOnStart перезапускать движки, которые были running до рестарта процесса
	ResumeOnStart  bool `mapstructure:"resume_on_start"`
	ResumeParallel int  `mapstructure:"resume_parallel"`
}

func (c *Config) ExchangeOptions() exchange.Options {
	opts := exchange.Options{
		Testnet:     c.Exchange.Testnet,
		RateLimit:   c.Exchange.RateLimit,
		Burst:       c.Exchange.Burst,
		PaperPrices: make(map[string]float64, len(c.Exchange.PaperMarkets)),
	}
	for _, pm := range c.Exchange.PaperMarkets {
		opts.PaperMarkets = append(opts.PaperMarkets, models.Market{
			Symbol:       pm.Symbol,
			TickSize:     pm.TickSize,
			StepSize:     pm.StepSize,
			MinQty:       pm.MinQty,
			ContractSize: pm.ContractSize,
		})
		if pm.Price > 0 {
			opts.PaperPrices[pm.Symbol] = pm.Price
		}
	}
	return opts
}

func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Timing:           c.Engine.Timing,
		ToleranceTicks:   c.Engine.ToleranceTicks,
		KeepOrdersOnStop: c.Engine.KeepOrdersOnStop,
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DB == "" {
			return errors.New("config: db_dsn is required for postgres storage")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("config: telegram.token is required when telegram is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required when redis is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	t := engine.DefaultTiming()
	sv := supervisor.DefaultConfig()

	defaults := map[string]any{
		"service.name":          "grid_bot",
		"log.level":             "info",
		"log.development":       false,
		"log.encoding":          "json",
		"tracing.enabled":       false,
		"tracing.host":          "localhost",
		"tracing.port":          6831,
		"tracing.sample_rate":   1.0,
		"telegram.enabled":      false,
		"telegram.token":        "",
		"telegram.queue_size":   256,
		"db_dsn":                "",
		"storage.driver":        DriverMemory,
		"storage.migrate":       true,
		"storage.max_conns":     10,
		"storage.seed_file":     "",
		"storage.snapshot_path": "",
		"redis.enabled":         false,
		"redis.addr":            "localhost:6379",
		"redis.password":        "",
		"redis.db":              0,
		"redis.prefix":          "gridbot:",
		"redis.ttl":             2 * time.Minute,
		"api.enabled":           true,
		"api.addr":              ":8080",
		"api.admin_token":       "",
		"api.cors_origins":      []string{"*"},
		"api.status_push":       5 * time.Second,
		"exchange.testnet":      false,
		"exchange.rate_limit":   10.0,
		"exchange.burst":        5,

		"engine.guard_tolerance_ticks": engine.DefaultToleranceTicks,
		"engine.keep_orders_on_stop":   false,
		"engine.resume_on_start":       false,
		"engine.resume_parallel":       4,

		"engine.timing.cycle_interval":      t.CycleInterval,
		"engine.timing.error_sleep":         t.ErrorSleep,
		"engine.timing.fill_poll_interval":  t.FillPollInterval,
		"engine.timing.fill_poll_attempts":  t.FillPollAttempts,
		"engine.timing.entry_lock":          t.EntryLock,
		"engine.timing.entry_cooldown":      t.EntryCooldown,
		"engine.timing.post_entry_pause":    t.PostEntryPause,
		"engine.timing.post_ladder_pause":   t.PostLadderPause,
		"engine.timing.close_confirm_delay": t.CloseConfirmDelay,
		"engine.timing.repeat_cooldown":     t.RepeatCooldown,
		"engine.timing.guard_interval":      t.GuardInterval,
		"engine.timing.order_snooze":        t.OrderSnooze,
		"engine.timing.startup_snooze":      t.StartupSnooze,
		"engine.timing.cancel_wait":         t.CancelWait,
		"engine.timing.cancel_poll":         t.CancelPoll,
		"engine.timing.cancel_retries":      t.CancelRetries,
		"engine.timing.cancel_base_delay":   t.CancelBaseDelay,
		"engine.timing.cancel_max_delay":    t.CancelMaxDelay,
		"engine.timing.run_attempts":        t.RunAttempts,
		"engine.timing.run_backoff":         t.RunBackoff,

		"supervisor.join_timeout":            sv.JoinTimeout,
		"supervisor.heartbeat_persist_every": sv.HeartbeatPersistEvery,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load читает configs/<CONFIG_FILE>, поверх него переменные GRIDBOT_* и .env.
// Отсутствующий файл по умолчанию не ошибка: работаем на дефолтах и окружении.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFileName := os.Getenv(configFilePathENV)
	explicit := configFileName != ""
	if !explicit {
		configFileName = "values_local.yaml"
	}
	dir := os.Getenv(configDirENV)
	if dir == "" {
		dir = "configs"
	}
	v.SetConfigFile(filepath.Join(dir, configFileName))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("config: read %s: %w", configFileName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		cfg.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		cfg.DB = dsn
		if os.Getenv(envPrefix+"_STORAGE_DRIVER") == "" && !v.InConfig("storage") {
			cfg.Storage.Driver = DriverPostgres
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func NewConfig() (*Config, error) {
	return Load()
}
