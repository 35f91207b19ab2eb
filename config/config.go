package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Map       MapConfig       `mapstructure:"map"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	PublicURL   string        `mapstructure:"public_url"`
	UploadDir   string        `mapstructure:"upload_dir"`
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

type DBConfig struct {
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	Migrations string `mapstructure:"migrations"`
}

// DSN renders the connection URL used by lib/pq and golang-migrate.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// TrackingConfig holds the fix acceptance policy and acquisition timings.
type TrackingConfig struct {
	MinMovementMeters float64       `mapstructure:"min_movement_meters"`
	Staleness         time.Duration `mapstructure:"staleness"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	InitialTimeout    time.Duration `mapstructure:"initial_timeout"`
	WatchTimeout      time.Duration `mapstructure:"watch_timeout"`
	WatchMaxAge       time.Duration `mapstructure:"watch_max_age"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	PollMaxAge        time.Duration `mapstructure:"poll_max_age"`
	ForceTimeout      time.Duration `mapstructure:"force_timeout"`
	ExcellentMeters   float64       `mapstructure:"excellent_meters"`
	GoodMeters        float64       `mapstructure:"good_meters"`
	FairMeters        float64       `mapstructure:"fair_meters"`
	FallbackLon       float64       `mapstructure:"fallback_lon"`
	FallbackLat       float64       `mapstructure:"fallback_lat"`
	Simulate          bool          `mapstructure:"simulate"`
}

type MapConfig struct {
	Zoom             float64       `mapstructure:"zoom"`
	Theme            string        `mapstructure:"theme"`
	RecenterMeters   float64       `mapstructure:"recenter_meters"`
	RecenterDuration time.Duration `mapstructure:"recenter_duration"`
}

type RoutingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GeocodingConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Lang     string        `mapstructure:"lang"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var (
	configMutex   sync.RWMutex
	currentConfig *Config
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.upload_dir", "./uploads")
	v.SetDefault("server.token_secret", "change-me")
	v.SetDefault("server.token_ttl", 24*time.Hour)

	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.dbname", "zholda")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.migrations", "file://database/migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.topic", "zholda_events")

	v.SetDefault("tracking.min_movement_meters", 1.0)
	v.SetDefault("tracking.staleness", 2*time.Second)
	v.SetDefault("tracking.poll_interval", time.Second)
	v.SetDefault("tracking.initial_timeout", 10*time.Second)
	v.SetDefault("tracking.watch_timeout", 2*time.Second)
	v.SetDefault("tracking.watch_max_age", time.Duration(0))
	v.SetDefault("tracking.poll_timeout", 1500*time.Millisecond)
	v.SetDefault("tracking.poll_max_age", 500*time.Millisecond)
	v.SetDefault("tracking.force_timeout", 5*time.Second)
	v.SetDefault("tracking.excellent_meters", 5.0)
	v.SetDefault("tracking.good_meters", 15.0)
	v.SetDefault("tracking.fair_meters", 20.0)
	v.SetDefault("tracking.fallback_lon", 76.889709)
	v.SetDefault("tracking.fallback_lat", 43.238949)

	v.SetDefault("map.zoom", 15.0)
	v.SetDefault("map.theme", "light")
	v.SetDefault("map.recenter_meters", 50.0)
	v.SetDefault("map.recenter_duration", time.Second)

	v.SetDefault("routing.base_url", "https://router.project-osrm.org")
	v.SetDefault("routing.timeout", 5*time.Second)

	v.SetDefault("geocoding.base_url", "https://geocode-maps.yandex.ru/1.x/")
	v.SetDefault("geocoding.lang", "ru_RU")
	v.SetDefault("geocoding.timeout", 5*time.Second)
	v.SetDefault("geocoding.cache_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present), the yaml file at path and environment overrides.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()
	return cfg, nil
}

// Watch reloads path on every change and hands the new config to onChange.
// Decode failures are logged and keep the previous config.
func Watch(path string, log *zap.Logger, onChange func(*Config)) error {
	if log == nil {
		log = zap.NewNop()
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Warn("config reload failed, keeping previous config",
				zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("file", e.Name))
		configMutex.Lock()
		currentConfig = cfg
		configMutex.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

// Current returns the most recently loaded config.
func Current() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return currentConfig
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
