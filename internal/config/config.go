package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/config.yaml"

const (
	ProviderSendGrid = "sendgrid"
	ProviderSMTP     = "smtp"
	ProviderLog      = "log"
)

type EmailConfig struct {
	Provider       string `yaml:"provider"`
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	SMTPHost       string `yaml:"smtp_host"`
	SMTPPort       int    `yaml:"smtp_port"`
	SMTPUser       string `yaml:"smtp_user"`
	SMTPPassword   string `yaml:"smtp_password"`
}

type OTPConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxSends      int           `yaml:"max_sends"`
	SendWindow    time.Duration `yaml:"send_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ReceiptConfig enables signed receipts on successful verification when Secret is set.
type ReceiptConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type Config struct {
	Server struct {
		Port          int    `yaml:"port"`
		AllowedOrigin string `yaml:"allowed_origin"`
	} `yaml:"server"`
	AppName  string        `yaml:"app_name"`
	LogLevel string        `yaml:"log_level"`
	Email    EmailConfig   `yaml:"email"`
	OTP      OTPConfig     `yaml:"otp"`
	Receipt  ReceiptConfig `yaml:"receipt"`
}

func Default() *Config {
	var cfg Config
	cfg.Server.Port = 5050
	cfg.Server.AllowedOrigin = "https://dev-deakins.netlify.app"
	cfg.AppName = "DEV@Deakin"
	cfg.LogLevel = "info"
	cfg.Email.Provider = ProviderSendGrid
	cfg.Email.SMTPPort = 587
	cfg.OTP.TTL = 2 * time.Minute
	cfg.OTP.MaxAttempts = 3
	cfg.OTP.MaxSends = 5
	cfg.OTP.SendWindow = 10 * time.Minute
	cfg.OTP.SweepInterval = time.Minute
	cfg.Receipt.TTL = 12 * time.Hour
	return &cfg
}

// LoadConfig reads defaults, then the YAML file (CONFIG_PATH or config/config.yaml,
// skipped if absent), then .env and the process environment. The result is validated.
func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	cfg := Default()
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("ALLOWED_ORIGIN", &c.Server.AllowedOrigin)
	str("APP_NAME", &c.AppName)
	str("LOG_LEVEL", &c.LogLevel)
	str("EMAIL_PROVIDER", &c.Email.Provider)
	str("SENDGRID_API_KEY", &c.Email.SendGridAPIKey)
	str("FROM_EMAIL", &c.Email.FromEmail)
	str("FROM_NAME", &c.Email.FromName)
	str("SMTP_HOST", &c.Email.SMTPHost)
	str("SMTP_USER", &c.Email.SMTPUser)
	str("SMTP_PASSWORD", &c.Email.SMTPPassword)
	str("RECEIPT_SECRET", &c.Receipt.Secret)

	return errors.Join(
		num("PORT", &c.Server.Port),
		num("SMTP_PORT", &c.Email.SMTPPort),
		num("OTP_MAX_ATTEMPTS", &c.OTP.MaxAttempts),
		num("OTP_MAX_SENDS", &c.OTP.MaxSends),
		dur("OTP_TTL", &c.OTP.TTL),
		dur("OTP_SEND_WINDOW", &c.OTP.SendWindow),
		dur("OTP_SWEEP_INTERVAL", &c.OTP.SweepInterval),
		dur("RECEIPT_TTL", &c.Receipt.TTL),
	)
}

// Validate fails fast on a config that would start a server unable to deliver codes.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("otp.ttl must be positive"))
	}
	if c.OTP.MaxAttempts < 0 || c.OTP.MaxSends < 0 {
		errs = append(errs, errors.New("otp limits must not be negative"))
	}

	if c.Receipt.Secret != "" && len(c.Receipt.Secret) < 16 {
		errs = append(errs, errors.New("RECEIPT_SECRET must be at least 16 characters"))
	}

	c.Email.Provider = strings.ToLower(strings.TrimSpace(c.Email.Provider))
	switch c.Email.Provider {
	case ProviderSendGrid:
		if c.Email.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for the sendgrid provider"))
		}
		if c.Email.FromEmail == "" {
			errs = append(errs, errors.New("FROM_EMAIL is required"))
		}
	case ProviderSMTP:
		if c.Email.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for the smtp provider"))
		}
		if c.Email.FromEmail == "" {
			errs = append(errs, errors.New("FROM_EMAIL is required"))
		}
	case ProviderLog:
	default:
		errs = append(errs, fmt.Errorf("unknown email provider %q", c.Email.Provider))
	}

	return errors.Join(errs...)
}
