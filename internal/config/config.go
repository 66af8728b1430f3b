package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the gateway and supporting services.
type Config struct {
	BotToken      string
	MySQLDSN      string
	PublicBaseURL string
	Port          int
	StaticDir     string

	// Payments
	StripeSecretKey          string
	StripeWebhookSecret      string
	CryptoCloudAPIKey        string
	CryptoCloudShopID        string
	CryptoCloudWebhookSecret string

	// Provider credentials, one pair per adapter family.
	KieAPIKey        string
	KieBaseURL       string
	KlingAccessKey   string
	KlingSecretKey   string
	KlingBaseURL     string
	PixverseAPIKey   string
	PixverseBaseURL  string
	HailuoAPIKey     string
	HailuoBaseURL    string
	VeoAPIKey        string
	VeoBaseURL       string
	RunwayAPIKey     string
	RunwayBaseURL    string
	SpeechifyAPIKey  string
	SpeechifyBaseURL string
	SunoAPIKey       string
	SunoBaseURL      string

	// Outbound HTTP timeouts.
	CreateTimeout   time.Duration
	PollTimeout     time.Duration
	DownloadTimeout time.Duration

	// Optional S3 artifact backend. When Bucket is empty artifacts are
	// written to StaticDir on the local disk.
	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	ShutdownGrace time.Duration
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:      getInt("PORT", 8080),
		StaticDir: getEnv("STATIC_DIR", "static"),

		StripeSecretKey:          os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CryptoCloudAPIKey:        os.Getenv("CRYPTOCLOUD_API_KEY"),
		CryptoCloudShopID:        os.Getenv("CRYPTOCLOUD_SHOP_ID"),
		CryptoCloudWebhookSecret: os.Getenv("CRYPTOCLOUD_WEBHOOK_SECRET"),

		KieAPIKey:        os.Getenv("KIE_API_KEY"),
		KieBaseURL:       getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		KlingAccessKey:   os.Getenv("KLING_ACCESS_KEY"),
		KlingSecretKey:   os.Getenv("KLING_SECRET_KEY"),
		KlingBaseURL:     getEnv("KLING_BASE_URL", "https://api.klingai.com"),
		PixverseAPIKey:   os.Getenv("PIXVERSE_API_KEY"),
		PixverseBaseURL:  getEnv("PIXVERSE_BASE_URL", "https://app-api.pixverse.ai"),
		HailuoAPIKey:     os.Getenv("HAILUO_API_KEY"),
		HailuoBaseURL:    getEnv("HAILUO_BASE_URL", "https://api.minimax.io"),
		VeoAPIKey:        os.Getenv("VEO_API_KEY"),
		VeoBaseURL:       getEnv("VEO_BASE_URL", "https://api.kie.ai"),
		RunwayAPIKey:     os.Getenv("RUNWAY_API_KEY"),
		RunwayBaseURL:    getEnv("RUNWAY_BASE_URL", "https://api.dev.runwayml.com"),
		SpeechifyAPIKey:  os.Getenv("SPEECHIFY_API_KEY"),
		SpeechifyBaseURL: getEnv("SPEECHIFY_BASE_URL", "https://api.sws.speechify.com"),
		SunoAPIKey:       os.Getenv("SUNO_API_KEY"),
		SunoBaseURL:      getEnv("SUNO_BASE_URL", "https://api.sunoapi.org"),

		CreateTimeout:   time.Second * time.Duration(getInt("CREATE_TIMEOUT_SECONDS", 60)),
		PollTimeout:     time.Second * time.Duration(getInt("POLL_TIMEOUT_SECONDS", 30)),
		DownloadTimeout: time.Second * time.Duration(getInt("DOWNLOAD_TIMEOUT_SECONDS", 300)),

		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "artifacts"),

		ShutdownGrace: time.Second * time.Duration(getInt("SHUTDOWN_GRACE_SECONDS", 30)),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", os.Getenv("WEBAPP_URL")), "/")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if cfg.S3Bucket != "" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
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
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// No env file is fine when everything is set in the process environment.
	return nil
}
