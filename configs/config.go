package config

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var loadEnv sync.Once

// loadDotEnv copies .env into the process environment once. Variables that
// are already set win.
func loadDotEnv() {
	loadEnv.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("Warning: .env file not found, reading from system environment variables")
		}
	})
}

type Settings struct {
	AppEnv   string
	LogLevel string
	Port     string

	DatabaseURL string
	JWTSecret   string

	DefaultTimezone string

	BillingCronSecret string
	BillingCronSpec   string
	BillingWorkers    int
	BillingBatchSize  int
	BillingMaxRetries int
	BillingTimezone   string
	ChargeTimeout     time.Duration

	AttendanceGraceBefore time.Duration
	AttendanceGraceAfter  time.Duration

	BaseRatePerHour    decimal.Decimal
	SettlementCurrency string

	PaymentProvider    string
	PayPalAPIBaseURL   string
	PayPalClientID     string
	PayPalClientSecret string
	MidtransServerKey  string
	MidtransProduction bool

	SessionAPIBaseURL  string
	SessionAPIKey      string
	SessionLinkBaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BrevoAPIKey     string
	EmailSender     string
	EmailSenderName string

	AdminEmail    string
	AdminPassword string
	AdminFullName string
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("BILLING_CRON_SPEC", "0 */1 * * *")
	v.SetDefault("BILLING_WORKERS", 4)
	v.SetDefault("BILLING_BATCH_SIZE", 200)
	v.SetDefault("BILLING_MAX_RETRIES", 2)
	v.SetDefault("BILLING_TIMEZONE", "UTC")
	v.SetDefault("CHARGE_TIMEOUT", 15*time.Second)
	v.SetDefault("ATTENDANCE_GRACE_BEFORE", 10*time.Minute)
	v.SetDefault("ATTENDANCE_GRACE_AFTER", time.Duration(0))
	v.SetDefault("BASE_RATE_PER_HOUR", "10.00")
	v.SetDefault("SETTLEMENT_CURRENCY", "USD")
	v.SetDefault("PAYMENT_PROVIDER", "paypal")
	v.SetDefault("PAYPAL_API_BASE_URL", "https://api-m.sandbox.paypal.com")
	v.SetDefault("MIDTRANS_PRODUCTION", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ADMIN_FULL_NAME", "Administrator")
}

// Load reads typed settings on top of the .env file.
func Load() (*Settings, error) {
	loadDotEnv()

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.AutomaticEnv()

	rate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("BASE_RATE_PER_HOUR")))
	if err != nil {
		return nil, errors.Wrap(err, "config: BASE_RATE_PER_HOUR")
	}

	s := &Settings{
		AppEnv:                v.GetString("APP_ENV"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		Port:                  v.GetString("PORT"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		DefaultTimezone:       v.GetString("DEFAULT_TIMEZONE"),
		BillingCronSecret:     v.GetString("BILLING_CRON_SECRET"),
		BillingCronSpec:       v.GetString("BILLING_CRON_SPEC"),
		BillingWorkers:        v.GetInt("BILLING_WORKERS"),
		BillingBatchSize:      v.GetInt("BILLING_BATCH_SIZE"),
		BillingMaxRetries:     v.GetInt("BILLING_MAX_RETRIES"),
		BillingTimezone:       v.GetString("BILLING_TIMEZONE"),
		ChargeTimeout:         v.GetDuration("CHARGE_TIMEOUT"),
		AttendanceGraceBefore: v.GetDuration("ATTENDANCE_GRACE_BEFORE"),
		AttendanceGraceAfter:  v.GetDuration("ATTENDANCE_GRACE_AFTER"),
		BaseRatePerHour:       rate,
		SettlementCurrency:    v.GetString("SETTLEMENT_CURRENCY"),
		PaymentProvider:       strings.ToLower(v.GetString("PAYMENT_PROVIDER")),
		PayPalAPIBaseURL:      v.GetString("PAYPAL_API_BASE_URL"),
		PayPalClientID:        v.GetString("PAYPAL_CLIENT_ID"),
		PayPalClientSecret:    v.GetString("PAYPAL_CLIENT_SECRET"),
		MidtransServerKey:     v.GetString("MIDTRANS_SERVER_KEY"),
		MidtransProduction:    v.GetBool("MIDTRANS_PRODUCTION"),
		SessionAPIBaseURL:     v.GetString("SESSION_API_BASE_URL"),
		SessionAPIKey:         v.GetString("SESSION_API_KEY"),
		SessionLinkBaseURL:    v.GetString("SESSION_LINK_BASE_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		BrevoAPIKey:           v.GetString("BREVO_API_KEY"),
		EmailSender:           v.GetString("EMAIL_SENDER"),
		EmailSenderName:       v.GetString("EMAIL_SENDER_NAME"),
		AdminEmail:            v.GetString("ADMIN_EMAIL"),
		AdminPassword:         v.GetString("ADMIN_PASSWORD"),
		AdminFullName:         v.GetString("ADMIN_FULL_NAME"),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	switch {
	case s.DatabaseURL == "":
		return errors.New("config: DATABASE_URL is required")
	case s.JWTSecret == "":
		return errors.New("config: JWT_SECRET is required")
	case s.BillingWorkers < 1:
		return errors.New("config: BILLING_WORKERS must be at least 1")
	case s.BillingBatchSize < 1:
		return errors.New("config: BILLING_BATCH_SIZE must be at least 1")
	case s.BillingMaxRetries < 0:
		return errors.New("config: BILLING_MAX_RETRIES must not be negative")
	case s.ChargeTimeout <= 0:
		return errors.New("config: CHARGE_TIMEOUT must be positive")
	case s.BaseRatePerHour.IsNegative():
		return errors.New("config: BASE_RATE_PER_HOUR must not be negative")
	}
	return nil
}

func (s *Settings) IsProduction() bool {
	return s.AppEnv == "production"
}
