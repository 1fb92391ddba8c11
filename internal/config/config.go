// Package config loads the server configuration from the environment, with
// an optional .env file underneath it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/servicehub/backend/internal/money"
)

type Config struct {
	Server    ServerConfig
	Store     string
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Argon2    Argon2Config
	Providers ProvidersConfig
	Payments  PaymentsConfig
	Reconcile ReconcileConfig
	Admin     AdminConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	CORSOrigins    []string
	PublicURL      string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders a libpq key/value connection string, understood by both
// lib/pq and pgx.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type JWTConfig struct {
	SecretKey   string
	ExpiryHours int
}

func (j JWTConfig) Expiry() time.Duration { return time.Duration(j.ExpiryHours) * time.Hour }

type Argon2Config struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

type ProvidersConfig struct {
	APIKey               string
	UserAgent            string
	ExamSubmitURL        string
	ExamStatusURL        string
	ExamCallbackURL      string
	LicensePDFURL        string
	PaymentStatusURL     string
	ExamSubmitTimeout    time.Duration
	ExamStatusTimeout    time.Duration
	LicensePDFTimeout    time.Duration
	PaymentStatusTimeout time.Duration
}

func (p ProvidersConfig) LongestTimeout() time.Duration {
	longest := p.ExamSubmitTimeout
	for _, d := range []time.Duration{p.ExamStatusTimeout, p.LicensePDFTimeout, p.PaymentStatusTimeout} {
		if d > longest {
			longest = d
		}
	}
	return longest
}

type PaymentsConfig struct {
	MinimumAmount   money.Amount
	UPIID           string
	PayeeName       string
	PaymentLinkBase string
	QRTTL           time.Duration
}

type ReconcileConfig struct {
	SweepInterval    time.Duration
	SweepLookback    time.Duration
	ReservationGrace time.Duration
}

type AdminConfig struct {
	Username string
	Password string
}

type LogConfig struct {
	Level       string
	Development bool
}

var defaults = map[string]any{
	"server.port":            "8080",
	"server.read_timeout":    15 * time.Second,
	"server.write_timeout":   120 * time.Second,
	"server.idle_timeout":    60 * time.Second,
	"server.request_timeout": 110 * time.Second,
	"server.cors_origins":    "https://*,http://*",
	"server.public_url":      "http://localhost:8080",

	"store.backend": "postgres",

	"database.driver":            "postgres",
	"database.host":              "localhost",
	"database.port":              "5432",
	"database.user":              "postgres",
	"database.password":          "password",
	"database.name":              "servicehub",
	"database.ssl_mode":          "disable",
	"database.max_open_conns":    25,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 5 * time.Minute,

	"mongo.uri":             "mongodb://localhost:27017",
	"mongo.database":        "servicehub",
	"mongo.connect_timeout": 10 * time.Second,

	"redis.host":     "localhost",
	"redis.port":     "6379",
	"redis.password": "",
	"redis.db":       0,

	"kafka.brokers": "",
	"kafka.topic":   "ledger.entries",

	"jwt.secret_key":   "",
	"jwt.expiry_hours": 24,

	"argon2.time":        1,
	"argon2.memory":      64 * 1024,
	"argon2.threads":     4,
	"argon2.key_length":  32,
	"argon2.salt_length": 16,

	"providers.api_key":                "",
	"providers.user_agent":             "ServiceHub/1.0",
	"providers.exam_submit_url":        "",
	"providers.exam_status_url":        "",
	"providers.exam_callback_url":      "",
	"providers.license_pdf_url":        "",
	"providers.payment_status_url":     "",
	"providers.exam_submit_timeout":    90 * time.Second,
	"providers.exam_status_timeout":    30 * time.Second,
	"providers.license_pdf_timeout":    60 * time.Second,
	"providers.payment_status_timeout": 30 * time.Second,

	"payments.minimum_amount":    "200.00",
	"payments.upi_id":            "payment@jkdigitalcenter.in",
	"payments.payee_name":        "JK Digital Center",
	"payments.payment_link_base": "",
	"payments.qr_ttl":            30 * time.Minute,

	"reconcile.sweep_interval":    10 * time.Minute,
	"reconcile.sweep_lookback":    24 * time.Hour,
	"reconcile.reservation_grace": 5 * time.Minute,

	"admin.username": "admin",
	"admin.password": "",

	"log.level":       "info",
	"log.development": false,
}

// Load reads envFile (if it exists) into the process environment and then
// resolves every key from the environment, falling back to defaults. Key
// "database.host" is read from DATABASE_HOST, and so on.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing file is fine; real deployments set the environment.
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
		if err := v.BindEnv(key, envName(key)); err != nil {
			return nil, err
		}
	}
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	minimum, err := money.Parse(v.GetString("payments.minimum_amount"))
	if err != nil {
		return nil, fmt.Errorf("config: payments.minimum_amount: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			IdleTimeout:    v.GetDuration("server.idle_timeout"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			CORSOrigins:    splitList(v.GetString("server.cors_origins")),
			PublicURL:      v.GetString("server.public_url"),
		},
		Store: strings.ToLower(v.GetString("store.backend")),
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Mongo: MongoConfig{
			URI:            v.GetString("mongo.uri"),
			Database:       v.GetString("mongo.database"),
			ConnectTimeout: v.GetDuration("mongo.connect_timeout"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		JWT: JWTConfig{
			SecretKey:   v.GetString("jwt.secret_key"),
			ExpiryHours: v.GetInt("jwt.expiry_hours"),
		},
		Argon2: Argon2Config{
			Time:       v.GetUint32("argon2.time"),
			Memory:     v.GetUint32("argon2.memory"),
			Threads:    uint8(v.GetUint("argon2.threads")),
			KeyLength:  v.GetUint32("argon2.key_length"),
			SaltLength: v.GetUint32("argon2.salt_length"),
		},
		Providers: ProvidersConfig{
			APIKey:               v.GetString("providers.api_key"),
			UserAgent:            v.GetString("providers.user_agent"),
			ExamSubmitURL:        v.GetString("providers.exam_submit_url"),
			ExamStatusURL:        v.GetString("providers.exam_status_url"),
			ExamCallbackURL:      v.GetString("providers.exam_callback_url"),
			LicensePDFURL:        v.GetString("providers.license_pdf_url"),
			PaymentStatusURL:     v.GetString("providers.payment_status_url"),
			ExamSubmitTimeout:    v.GetDuration("providers.exam_submit_timeout"),
			ExamStatusTimeout:    v.GetDuration("providers.exam_status_timeout"),
			LicensePDFTimeout:    v.GetDuration("providers.license_pdf_timeout"),
			PaymentStatusTimeout: v.GetDuration("providers.payment_status_timeout"),
		},
		Payments: PaymentsConfig{
			MinimumAmount:   minimum,
			UPIID:           v.GetString("payments.upi_id"),
			PayeeName:       v.GetString("payments.payee_name"),
			PaymentLinkBase: v.GetString("payments.payment_link_base"),
			QRTTL:           v.GetDuration("payments.qr_ttl"),
		},
		Reconcile: ReconcileConfig{
			SweepInterval:    v.GetDuration("reconcile.sweep_interval"),
			SweepLookback:    v.GetDuration("reconcile.sweep_lookback"),
			ReservationGrace: v.GetDuration("reconcile.reservation_grace"),
		},
		Admin: AdminConfig{
			Username: v.GetString("admin.username"),
			Password: v.GetString("admin.password"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Store {
	case "postgres", "mongo", "memory":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store)
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("config: JWT_SECRET_KEY is required")
	}
	if longest := c.Providers.LongestTimeout(); c.Reconcile.ReservationGrace <= longest {
		return fmt.Errorf("config: reconcile.reservation_grace (%s) must exceed the longest provider timeout (%s)",
			c.Reconcile.ReservationGrace, longest)
	}
	return nil
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
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
