package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type SysConfig struct {
	Appid     string `yaml:"appid"`
	Location  string `yaml:"location"`
	Workdir   string `yaml:"workdir"`
	Debug     bool   `yaml:"debug"`
	PublicURL string `yaml:"public_url"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Secret        string `yaml:"secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

type DBConfig struct {
	Type     string `yaml:"type"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type PaypackConfig struct {
	BaseURL         string  `yaml:"base_url"`
	ClientID        string  `yaml:"client_id"`
	ClientSecret    string  `yaml:"client_secret"`
	Environment     string  `yaml:"environment"`
	ExchangeRate    float64 `yaml:"exchange_rate"` // RWF per USD
	TokenTTLMinutes int     `yaml:"token_ttl_minutes"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

// Rate returns the exchange rate as a decimal to keep conversions exact.
func (p PaypackConfig) Rate() decimal.Decimal {
	return decimal.NewFromFloat(p.ExchangeRate)
}

type SmtpConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type BillingConfig struct {
	TrialDays          int    `yaml:"trial_days"`
	Currency           string `yaml:"currency"`
	OrderTokenTTLHours int    `yaml:"order_token_ttl_hours"`
	ReminderDays       int    `yaml:"reminder_days"`
	WhatsAppCountry    string `yaml:"whatsapp_country"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system"`
	Web      WebConfig     `yaml:"web"`
	Database DBConfig      `yaml:"database"`
	Logger   LogConfig     `yaml:"logger"`
	Redis    RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	Paypack  PaypackConfig `yaml:"paypack"`
	Smtp     SmtpConfig    `yaml:"smtp"`
	Billing  BillingConfig `yaml:"billing"`
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(c.GetLogDir(), 0o755)
	_ = os.MkdirAll(c.GetDataDir(), 0o755)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:     "Sokomarket",
		Location:  "Africa/Kigali",
		Workdir:   "/var/sokomarket",
		PublicURL: "http://127.0.0.1:1818",
	},
	Web: WebConfig{
		Host:          "0.0.0.0",
		Port:          1818,
		Secret:        "9b6de5cc-0731-4bf1-soko-0f568ac9da37",
		TokenTTLHours: 72,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "sokomarket",
		User:     "postgres",
		Passwd:   "myroot",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:     "development",
		Filename: "/var/sokomarket/logs/sokomarket.log",
	},
	Redis: RedisConfig{Addr: "127.0.0.1:6379"},
	Kafka: KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "sokomarket.events"},
	Paypack: PaypackConfig{
		BaseURL:         "https://payments.paypack.rw/api",
		Environment:     "development",
		ExchangeRate:    1457.39,
		TokenTTLMinutes: 55,
		TimeoutSeconds:  30,
	},
	Smtp: SmtpConfig{Port: 587},
	Billing: BillingConfig{
		TrialDays:          14,
		Currency:           "RWF",
		OrderTokenTTLHours: 48,
		ReminderDays:       3,
		WhatsAppCountry:    "250",
	},
}

// LoadConfig reads the yaml file (when present) over the defaults and applies SOKO_* environment overrides.
func LoadConfig(cfile string) *AppConfig {
	cfg := *DefaultAppConfig
	cfg.Kafka.Brokers = append([]string(nil), DefaultAppConfig.Kafka.Brokers...)
	if cfile == "" {
		cfile = "sokomarket.yml"
	}
	if data, err := os.ReadFile(cfile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(err)
		}
	}
	applyEnv(&cfg)
	cfg.initDirs()
	return &cfg
}

func applyEnv(cfg *AppConfig) {
	setString("SOKO_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setString("SOKO_SYSTEM_LOCATION", &cfg.System.Location)
	setString("SOKO_PUBLIC_URL", &cfg.System.PublicURL)
	setBool("SOKO_SYSTEM_DEBUG", &cfg.System.Debug)

	setString("SOKO_WEB_HOST", &cfg.Web.Host)
	setInt("SOKO_WEB_PORT", &cfg.Web.Port)
	setString("SOKO_WEB_SECRET", &cfg.Web.Secret)

	setString("SOKO_DB_TYPE", &cfg.Database.Type)
	setString("SOKO_DB_HOST", &cfg.Database.Host)
	setInt("SOKO_DB_PORT", &cfg.Database.Port)
	setString("SOKO_DB_NAME", &cfg.Database.Name)
	setString("SOKO_DB_USER", &cfg.Database.User)
	setString("SOKO_DB_PWD", &cfg.Database.Passwd)
	setBool("SOKO_DB_DEBUG", &cfg.Database.Debug)

	setString("SOKO_LOGGER_MODE", &cfg.Logger.Mode)
	setBool("SOKO_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)

	setBool("SOKO_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("SOKO_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SOKO_REDIS_PASSWORD", &cfg.Redis.Password)

	setBool("SOKO_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	if v, ok := os.LookupEnv("SOKO_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = cast.ToStringSlice(strings.Split(v, ","))
	}
	setString("SOKO_KAFKA_TOPIC", &cfg.Kafka.Topic)

	setString("SOKO_PAYPACK_BASE_URL", &cfg.Paypack.BaseURL)
	setString("SOKO_PAYPACK_CLIENT_ID", &cfg.Paypack.ClientID)
	setString("SOKO_PAYPACK_CLIENT_SECRET", &cfg.Paypack.ClientSecret)
	setString("SOKO_PAYPACK_ENVIRONMENT", &cfg.Paypack.Environment)
	if v, ok := os.LookupEnv("SOKO_PAYPACK_EXCHANGE_RATE"); ok {
		cfg.Paypack.ExchangeRate = cast.ToFloat64(v)
	}

	setBool("SOKO_SMTP_ENABLED", &cfg.Smtp.Enabled)
	setString("SOKO_SMTP_HOST", &cfg.Smtp.Host)
	setInt("SOKO_SMTP_PORT", &cfg.Smtp.Port)
	setString("SOKO_SMTP_USERNAME", &cfg.Smtp.Username)
	setString("SOKO_SMTP_PASSWORD", &cfg.Smtp.Password)
	setString("SOKO_SMTP_FROM", &cfg.Smtp.From)

	setInt("SOKO_BILLING_TRIAL_DAYS", &cfg.Billing.TrialDays)
}

func setString(name string, val *string) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*val = strings.TrimSpace(v)
	}
}

func setInt(name string, val *int) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*val = cast.ToInt(strings.TrimSpace(v))
	}
}

func setBool(name string, val *bool) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*val = cast.ToBool(strings.TrimSpace(v))
	}
}
