package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr     string
	StoreDriver  string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	CatalogTTL   time.Duration
	RunSweeper   bool
	Engine       Engine
	// Catalog is the static item list used when Mongo is not configured.
	Catalog []domain.Item
}

// Engine is the immutable tuning of the hold and booking engine.
type Engine struct {
	HoldDuration       time.Duration
	InactivityTimeout  time.Duration
	GracePeriod        time.Duration
	HardCap            time.Duration
	HeartbeatInterval  time.Duration
	SweepInterval      time.Duration
	MaxPerTier         int
	MaxPerOrder        int
	PaymentFailureRate float64
	LockTimeout        time.Duration
}

func DefaultEngine() Engine {
	return Engine{
		HoldDuration:       5 * time.Minute,
		InactivityTimeout:  2 * time.Minute,
		GracePeriod:        time.Minute,
		HardCap:            15 * time.Minute,
		HeartbeatInterval:  30 * time.Second,
		SweepInterval:      10 * time.Second,
		MaxPerTier:         10,
		MaxPerOrder:        20,
		PaymentFailureRate: 0.15,
		LockTimeout:        2 * time.Second,
	}
}

func (e Engine) Validate() error {
	for name, d := range map[string]time.Duration{
		"hold duration":      e.HoldDuration,
		"inactivity timeout": e.InactivityTimeout,
		"grace period":       e.GracePeriod,
		"hard cap":           e.HardCap,
		"heartbeat interval": e.HeartbeatInterval,
		"sweep interval":     e.SweepInterval,
		"lock timeout":       e.LockTimeout,
	} {
		if d <= 0 {
			return errors.Newf("%s must be positive, got %s", name, d)
		}
	}
	if e.HardCap < e.HoldDuration {
		return errors.Newf("hard cap %s is shorter than hold duration %s", e.HardCap, e.HoldDuration)
	}
	if e.MaxPerTier <= 0 || e.MaxPerOrder <= 0 {
		return errors.New("per-tier and per-order limits must be positive")
	}
	if e.PaymentFailureRate < 0 || e.PaymentFailureRate > 1 {
		return errors.Newf("payment failure rate %v outside [0,1]", e.PaymentFailureRate)
	}
	return nil
}

func (e Engine) HoldPolicy() domain.HoldPolicy {
	return domain.HoldPolicy{
		HoldDuration:      e.HoldDuration,
		InactivityTimeout: e.InactivityTimeout,
		GracePeriod:       e.GracePeriod,
		HardCap:           e.HardCap,
		MaxPerTier:        e.MaxPerTier,
		MaxPerOrder:       e.MaxPerOrder,
	}
}

// Load reads .env, an optional config.yaml and the environment, in that order
// of increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	cfg := &Config{
		HTTPAddr:     v.GetString("http_addr"),
		StoreDriver:  v.GetString("store_driver"),
		CRDBDSN:      v.GetString("crdb_dsn"),
		MongoURI:     v.GetString("mongo_uri"),
		MongoDB:      v.GetString("mongo_db"),
		RedisAddr:    v.GetString("redis_addr"),
		RabbitURL:    v.GetString("rabbit_url"),
		OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),
		CatalogTTL:   v.GetDuration("catalog_ttl"),
		RunSweeper:   v.GetBool("run_sweeper"),
		Engine: Engine{
			HoldDuration:       v.GetDuration("hold_ttl"),
			InactivityTimeout:  v.GetDuration("inactivity_timeout"),
			GracePeriod:        v.GetDuration("grace_period"),
			HardCap:            v.GetDuration("hold_hard_cap"),
			HeartbeatInterval:  v.GetDuration("heartbeat_interval"),
			SweepInterval:      v.GetDuration("sweep_interval"),
			MaxPerTier:         v.GetInt("max_per_tier"),
			MaxPerOrder:        v.GetInt("max_per_order"),
			PaymentFailureRate: v.GetFloat64("payment_failure_rate"),
			LockTimeout:        v.GetDuration("lock_timeout"),
		},
	}
	if err := v.UnmarshalKey("catalog", &cfg.Catalog); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, errors.Wrap(err, "engine config")
	}
	return cfg, nil
}

// StaticCatalog indexes the configured items by id.
func (c *Config) StaticCatalog() domain.StaticCatalog {
	catalog := make(domain.StaticCatalog, len(c.Catalog))
	for _, item := range c.Catalog {
		catalog[item.ID] = item
	}
	return catalog
}

func setDefaults(v *viper.Viper) {
	e := DefaultEngine()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("store_driver", "crdb")
	v.SetDefault("mongo_db", "tro")
	v.SetDefault("catalog_ttl", time.Minute)
	v.SetDefault("run_sweeper", true)
	v.SetDefault("hold_ttl", e.HoldDuration)
	v.SetDefault("inactivity_timeout", e.InactivityTimeout)
	v.SetDefault("grace_period", e.GracePeriod)
	v.SetDefault("hold_hard_cap", e.HardCap)
	v.SetDefault("heartbeat_interval", e.HeartbeatInterval)
	v.SetDefault("sweep_interval", e.SweepInterval)
	v.SetDefault("max_per_tier", e.MaxPerTier)
	v.SetDefault("max_per_order", e.MaxPerOrder)
	v.SetDefault("payment_failure_rate", e.PaymentFailureRate)
	v.SetDefault("lock_timeout", e.LockTimeout)
}
