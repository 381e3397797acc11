// Package config loads service and CLI configuration from defaults, an
// optional config file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/irfndi/etffactor/pkg/factors"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Precision   PrecisionConfig `mapstructure:"precision"`
	Sentinels   SentinelConfig  `mapstructure:"sentinels"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Sentry      SentryConfig    `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	// Persist writes computed results to the factor_values table.
	Persist bool `mapstructure:"persist"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type CacheConfig struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory redis sqlite none"`
	TTL        time.Duration `mapstructure:"ttl"`
	Prefix     string        `mapstructure:"prefix"`
	SQLitePath string        `mapstructure:"sqlite_path"`
}

type EngineConfig struct {
	Workers           int    `mapstructure:"workers" validate:"min=1,max=256"`
	QueueSize         int    `mapstructure:"queue_size" validate:"min=1"`
	Adjustment        string `mapstructure:"adjustment" validate:"oneof=hfq qfq raw none"`
	CrossCheck        bool   `mapstructure:"cross_check"`
	ReferenceProvider string `mapstructure:"reference_provider" validate:"oneof=talib goflux"`
	// TradingDaysPerYear annualizes volatility factors.
	TradingDaysPerYear int `mapstructure:"trading_days_per_year" validate:"min=1"`
	// MaxPrice is the upper bound of accepted price inputs.
	MaxPrice float64 `mapstructure:"max_price" validate:"gt=0"`
	// Percentage outputs outside [MinPercentage, MaxPercentage] become missing.
	MinPercentage float64 `mapstructure:"min_percentage"`
	MaxPercentage float64 `mapstructure:"max_percentage" validate:"gtfield=MinPercentage"`
}

type PrecisionConfig struct {
	Price      int `mapstructure:"price" validate:"min=0,max=12"`
	Percentage int `mapstructure:"percentage" validate:"min=0,max=12"`
	Indicator  int `mapstructure:"indicator" validate:"min=0,max=12"`
	Volume     int `mapstructure:"volume" validate:"min=0,max=12"`
	Statistics int `mapstructure:"statistics" validate:"min=0,max=12"`
	Default    int `mapstructure:"default" validate:"min=0,max=12"`
}

type SentinelConfig struct {
	RSINeutral        float64 `mapstructure:"rsi_neutral"`
	StochNeutral      float64 `mapstructure:"stoch_neutral"`
	KDJNeutral        float64 `mapstructure:"kdj_neutral"`
	WRNeutral         float64 `mapstructure:"wr_neutral"`
	CCIFlat           float64 `mapstructure:"cci_flat"`
	VolumeRatioNoBase float64 `mapstructure:"volume_ratio_no_base"`
	VolumeRatioIdle   float64 `mapstructure:"volume_ratio_idle"`
	VolumeRatioCap    float64 `mapstructure:"volume_ratio_cap" validate:"gt=0"`
	BBWidthCap        float64 `mapstructure:"bb_width_cap" validate:"gt=0"`
	BBWidthFallback   float64 `mapstructure:"bb_width_fallback"`
}

type AuthConfig struct {
	// JWTSecret protects cache administration endpoints. Empty disables auth.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Numeric builds the immutable numeric policy handed to factor computations.
func (c *Config) Numeric() factors.NumericConfig {
	n := factors.DefaultNumericConfig()
	n.Precision = factors.Precision{
		Price:      c.Precision.Price,
		Percentage: c.Precision.Percentage,
		Indicator:  c.Precision.Indicator,
		Volume:     c.Precision.Volume,
		Statistics: c.Precision.Statistics,
		Default:    c.Precision.Default,
	}
	n.Sentinels = factors.Sentinels{
		RSINeutral:        c.Sentinels.RSINeutral,
		StochNeutral:      c.Sentinels.StochNeutral,
		KDJNeutral:        c.Sentinels.KDJNeutral,
		WRNeutral:         c.Sentinels.WRNeutral,
		CCIFlat:           c.Sentinels.CCIFlat,
		VolumeRatioNoBase: c.Sentinels.VolumeRatioNoBase,
		VolumeRatioIdle:   c.Sentinels.VolumeRatioIdle,
		VolumeRatioCap:    c.Sentinels.VolumeRatioCap,
		BBWidthCap:        c.Sentinels.BBWidthCap,
		BBWidthFallback:   c.Sentinels.BBWidthFallback,
	}
	n.InputRanges.Price.Max = c.Engine.MaxPrice
	n.InputRanges.Percentage = factors.Range{Min: c.Engine.MinPercentage, Max: c.Engine.MaxPercentage}
	n.TradingDaysPerYear = c.Engine.TradingDaysPerYear
	return n
}

// Adjustment returns the configured price adjustment.
func (c *Config) Adjustment() factors.Adjustment {
	adj, err := factors.ParseAdjustment(c.Engine.Adjustment)
	if err != nil {
		return factors.AdjustmentHFQ
	}
	return adj
}

func setDefaults(v *viper.Viper) {
	def := factors.DefaultNumericConfig()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "etffactor")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")
	v.SetDefault("database.sqlite_path", "etffactor.db")
	v.SetDefault("database.persist", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.prefix", "factor:")
	v.SetDefault("cache.sqlite_path", "factor_cache.db")

	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.adjustment", "hfq")
	v.SetDefault("engine.cross_check", false)
	v.SetDefault("engine.reference_provider", "talib")
	v.SetDefault("engine.trading_days_per_year", def.TradingDaysPerYear)
	v.SetDefault("engine.max_price", def.InputRanges.Price.Max)
	v.SetDefault("engine.min_percentage", def.InputRanges.Percentage.Min)
	v.SetDefault("engine.max_percentage", def.InputRanges.Percentage.Max)

	v.SetDefault("precision.price", def.Precision.Price)
	v.SetDefault("precision.percentage", def.Precision.Percentage)
	v.SetDefault("precision.indicator", def.Precision.Indicator)
	v.SetDefault("precision.volume", def.Precision.Volume)
	v.SetDefault("precision.statistics", def.Precision.Statistics)
	v.SetDefault("precision.default", def.Precision.Default)

	v.SetDefault("sentinels.rsi_neutral", def.Sentinels.RSINeutral)
	v.SetDefault("sentinels.stoch_neutral", def.Sentinels.StochNeutral)
	v.SetDefault("sentinels.kdj_neutral", def.Sentinels.KDJNeutral)
	v.SetDefault("sentinels.wr_neutral", def.Sentinels.WRNeutral)
	v.SetDefault("sentinels.cci_flat", def.Sentinels.CCIFlat)
	v.SetDefault("sentinels.volume_ratio_no_base", def.Sentinels.VolumeRatioNoBase)
	v.SetDefault("sentinels.volume_ratio_idle", def.Sentinels.VolumeRatioIdle)
	v.SetDefault("sentinels.volume_ratio_cap", def.Sentinels.VolumeRatioCap)
	v.SetDefault("sentinels.bb_width_cap", def.Sentinels.BBWidthCap)
	v.SetDefault("sentinels.bb_width_fallback", def.Sentinels.BBWidthFallback)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.sample_rate", 1.0)
}

// Load reads configuration. Later sources override earlier ones: defaults,
// then a config file ($FACTOR_CONFIG, ./config.{yaml,json} or
// ~/.etffactor/config.{yaml,json}), then environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Short names kept for compatibility with existing deployments.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.sqlite_path", "SQLITE_PATH", "DATABASE_SQLITE_PATH")
	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")
	_ = v.BindEnv("sentry.environment", "SENTRY_ENVIRONMENT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	if path := os.Getenv("FACTOR_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".etffactor"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and the cross-field rules that tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errors.New(formatValidationError(verrs[0]))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Database.Driver == "sqlite" && strings.TrimSpace(c.Database.SQLitePath) == "" {
		return errors.New("database.sqlite_path is required when database.driver is sqlite")
	}
	if c.Cache.Backend == "sqlite" && strings.TrimSpace(c.Cache.SQLitePath) == "" {
		return errors.New("cache.sqlite_path is required when cache.backend is sqlite")
	}
	if c.Database.Persist && c.Database.Driver != "postgres" {
		return errors.New("database.persist requires database.driver postgres")
	}
	return nil
}

func formatValidationError(err validator.FieldError) string {
	field := err.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gtfield":
		other := snakeCase(param)
		if i := strings.LastIndex(field, "."); i >= 0 {
			other = field[:i+1] + other
		}
		return fmt.Sprintf("%s must be greater than %s", field, other)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// snakeCase turns a Go field name such as MinPercentage into its config key.
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
