package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ImageProviderKIE    = "kie"
	ImageProviderGemini = "gemini"

	CheckoutProviderStripe = "stripe"
	CheckoutProviderDemo   = "demo"
)

// Config aggregates runtime configuration for the studio API and its collaborators.
type Config struct {
	LogLevel        string
	ListenAddr      string
	PublicBaseURL   string
	MySQLDSN        string
	SessionIdleTTL  time.Duration
	FreeCredits     int
	MaxUploadBytes  int64
	ImageProvider   string
	RequestTimeout  time.Duration
	KIEAPIKey       string
	KIEBaseURL      string
	KIEModel        string
	KIEPollInterval time.Duration
	KIEMaxAttempts  int
	GeminiAPIKey    string
	GeminiModel     string

	CheckoutProvider    string
	CheckoutCurrency    string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBaseURL    string
	StripeSuccessURL    string
	StripeCancelURL     string
	StripePriceStarter  string
	StripePricePro      string
	StripePriceBusiness string

	BotToken                     string
	TelegramPaymentProviderToken string

	AdminUsername string
	AdminPassword string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// StorageEnabled reports whether S3 object storage is configured.
func (c Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}

// PersistenceEnabled reports whether MySQL backs profiles, tiers and payments.
// Without it everything lives in process memory.
func (c Config) PersistenceEnabled() bool {
	return c.MySQLDSN != ""
}

// TelegramEnabled reports whether the Telegram front end should start.
func (c Config) TelegramEnabled() bool {
	return c.BotToken != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		SessionIdleTTL:      time.Minute * time.Duration(getInt("SESSION_IDLE_MINUTES", 60)),
		FreeCredits:         getInt("FREE_CREDITS", 1),
		MaxUploadBytes:      int64(getInt("MAX_UPLOAD_MB", 20)) << 20,
		ImageProvider:       strings.ToLower(getEnv("IMAGE_PROVIDER", ImageProviderGemini)),
		RequestTimeout:      time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		KIEBaseURL:          normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:            getEnv("KIE_MODEL", "nano-banana-pro"),
		KIEPollInterval:     time.Second * time.Duration(getInt("KIE_POLL_INTERVAL_SECONDS", 2)),
		KIEMaxAttempts:      getInt("KIE_MAX_POLL_ATTEMPTS", 60),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		CheckoutProvider:    strings.ToLower(getEnv("CHECKOUT_PROVIDER", CheckoutProviderStripe)),
		CheckoutCurrency:    strings.ToLower(getEnv("CHECKOUT_CURRENCY", "usd")),
		StripeAPIBaseURL:    strings.TrimRight(getEnv("STRIPE_API_BASE_URL", "https://api.stripe.com"), "/"),
		StripeSuccessURL:    os.Getenv("STRIPE_SUCCESS_URL"),
		StripeCancelURL:     os.Getenv("STRIPE_CANCEL_URL"),
		StripePriceStarter:  os.Getenv("STRIPE_PRICE_STARTER"),
		StripePricePro:      os.Getenv("STRIPE_PRICE_PRO"),
		StripePriceBusiness: os.Getenv("STRIPE_PRICE_BUSINESS"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "studio"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramPaymentProviderToken = os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN")

	if cfg.StripeSuccessURL == "" {
		cfg.StripeSuccessURL = cfg.PublicBaseURL + "/?checkout=success"
	}
	if cfg.StripeCancelURL == "" {
		cfg.StripeCancelURL = cfg.PublicBaseURL + "/?checkout=cancel"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string

	switch c.ImageProvider {
	case ImageProviderKIE:
		if c.KIEAPIKey == "" {
			missing = append(missing, "KIE_API_KEY")
		}
		// KIE only accepts reference images by URL, so uploads need a bucket.
		if !c.StorageEnabled() {
			missing = append(missing, "S3_BUCKET")
		}
	case ImageProviderGemini:
		if c.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported image provider: %s", c.ImageProvider)
	}

	switch c.CheckoutProvider {
	case CheckoutProviderStripe:
		if c.StripeSecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
		if c.StripeWebhookSecret == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
	case CheckoutProviderDemo:
	default:
		return fmt.Errorf("unsupported checkout provider: %s", c.CheckoutProvider)
	}

	if c.StorageEnabled() {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if c.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	if c.FreeCredits < 0 {
		return fmt.Errorf("FREE_CREDITS must not be negative")
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. The root kie.ai
// domain serves the marketing site and answers API paths with HTML.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first env file found. A missing file is fine, the process
// environment alone is a valid source.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
