// Package config carga la configuración del venue desde YAML, con overrides
// desde .env y variables de entorno para los secretos del despliegue.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nhowze/overunder/internal/application/settlement"
	"github.com/nhowze/overunder/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del venue.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Lock    LockConfig    `yaml:"lock"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig contiene los parámetros de liquidación fijados al desplegar.
type EngineConfig struct {
	Admin         string        `yaml:"admin"`        // dirección hex que abre pools y retira fees
	RoyaltySink   string        `yaml:"royalty_sink"` // vacío = admin
	FeeBPS        uint32        `yaml:"fee_bps"`
	RoyaltyBPS    uint32        `yaml:"royalty_bps"`
	DustThreshold uint64        `yaml:"dust_threshold"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// StorageConfig controla dónde se persiste el ledger.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta del fichero SQLite, o ":memory:"
}

// ServerConfig controla la API HTTP.
type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	MaxSkew    time.Duration `yaml:"max_skew"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	Burst      int           `yaml:"burst"`
	TrustProxy bool          `yaml:"trust_proxy"` // detrás de un reverse proxy que pone X-Forwarded-For
}

// LockConfig elige el locker de registros. Con RedisAddr vacío los locks
// quedan en el proceso.
type LockConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTLS      bool          `yaml:"redis_tls"`
	Prefix        string        `yaml:"prefix"`
	Retry         time.Duration `yaml:"retry"`
}

// EventsConfig controla dónde se publican los eventos confirmados, además
// de la consola.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	Console      bool     `yaml:"console"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML para sus keys.
func Load(path string) (*Config, error) {
	// .env es opcional: sin archivo no hay error
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse construye la config a partir de bytes YAML y aplica los overrides de
// entorno y los defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	return &cfg, nil
}

// Settlement convierte la sección engine en la config del motor.
func (c *Config) Settlement() (settlement.Config, error) {
	admin, err := domain.ParseAddress(c.Engine.Admin)
	if err != nil {
		return settlement.Config{}, fmt.Errorf("config: engine.admin: %w", err)
	}
	out := settlement.Config{
		Admin:         admin,
		FeeBPS:        c.Engine.FeeBPS,
		RoyaltyBPS:    c.Engine.RoyaltyBPS,
		DustThreshold: c.Engine.DustThreshold,
		LockTTL:       c.Engine.LockTTL,
	}
	if c.Engine.RoyaltySink != "" {
		if out.RoyaltySink, err = domain.ParseAddress(c.Engine.RoyaltySink); err != nil {
			return settlement.Config{}, fmt.Errorf("config: engine.royalty_sink: %w", err)
		}
	}
	if err := out.Validate(); err != nil {
		return settlement.Config{}, fmt.Errorf("config: %w", err)
	}
	return out, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OVERUNDER_ADMIN"); v != "" {
		cfg.Engine.Admin = v
	}
	if v := os.Getenv("OVERUNDER_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("OVERUNDER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OVERUNDER_REDIS_ADDR"); v != "" {
		cfg.Lock.RedisAddr = v
	}
	if v := os.Getenv("OVERUNDER_REDIS_PASSWORD"); v != "" {
		cfg.Lock.RedisPassword = v
	}
	if v := os.Getenv("OVERUNDER_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: OVERUNDER_REDIS_DB: %w", err)
		}
		cfg.Lock.RedisDB = db
	}
	if v := os.Getenv("OVERUNDER_KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("OVERUNDER_KAFKA_TOPIC"); v != "" {
		cfg.Events.KafkaTopic = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.FeeBPS == 0 {
		cfg.Engine.FeeBPS = settlement.DefaultFeeBPS
	}
	if cfg.Engine.RoyaltyBPS == 0 {
		cfg.Engine.RoyaltyBPS = settlement.DefaultRoyaltyBPS
	}
	if cfg.Engine.DustThreshold == 0 {
		cfg.Engine.DustThreshold = settlement.DefaultDustThreshold
	}
	if cfg.Engine.LockTTL <= 0 {
		cfg.Engine.LockTTL = 10 * time.Second
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "overunder.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxSkew <= 0 {
		cfg.Server.MaxSkew = 5 * time.Minute
	}
	if cfg.Server.RatePerSec <= 0 {
		cfg.Server.RatePerSec = 5
	}
	if cfg.Server.Burst <= 0 {
		cfg.Server.Burst = 10
	}
	if cfg.Lock.Prefix == "" {
		cfg.Lock.Prefix = "overunder:lock:"
	}
	if cfg.Lock.Retry <= 0 {
		cfg.Lock.Retry = 25 * time.Millisecond
	}
	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = "overunder.events"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
