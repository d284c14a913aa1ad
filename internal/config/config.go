package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string `mapstructure:"PORT"`   // サーバーポート（8080）
	GoEnv string `mapstructure:"GO_ENV"` // dev/prod

	DatabaseURL      string `mapstructure:"DATABASE_URL"` // あればPOSTGRES_*より優先
	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     int    `mapstructure:"POSTGRES_PORT"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresSSLMode  string `mapstructure:"POSTGRES_SSLMODE"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"` // JWT署名シークレット
	JWTIssuer  string        `mapstructure:"JWT_ISSUER"`
	JWTTTL     time.Duration `mapstructure:"JWT_TTL"`
	BcryptCost int           `mapstructure:"BCRYPT_COST"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"` // 空ならstdoutのみ

	RedisAddr      string        `mapstructure:"REDIS_ADDR"` // 空なら冪等キーは無効
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	KafkaBrokers     []string      `mapstructure:"KAFKA_BROKERS"` // 空ならoutboxリレーは動かさない
	KafkaTopicOrders string        `mapstructure:"KAFKA_TOPIC_ORDERS"`
	OutboxInterval   time.Duration `mapstructure:"OUTBOX_INTERVAL"`

	SeedAdminEmail    string `mapstructure:"SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `mapstructure:"SEED_ADMIN_PASSWORD"`
}

var defaults = map[string]interface{}{
	"PORT":                "8080",
	"GO_ENV":              "dev",
	"DATABASE_URL":        "",
	"POSTGRES_HOST":       "localhost",
	"POSTGRES_PORT":       5432,
	"POSTGRES_USER":       "postgres",
	"POSTGRES_PASSWORD":   "postgres",
	"POSTGRES_DB":         "shop",
	"POSTGRES_SSLMODE":    "disable",
	"JWT_SECRET":          "",
	"JWT_ISSUER":          "shopapi",
	"JWT_TTL":             "1h",
	"BCRYPT_COST":         12,
	"LOG_LEVEL":           "info",
	"LOG_FILE":            "",
	"REDIS_ADDR":          "",
	"REDIS_PASSWORD":      "",
	"IDEMPOTENCY_TTL":     "24h",
	"KAFKA_BROKERS":       "",
	"KAFKA_TOPIC_ORDERS":  "orders",
	"OUTBOX_INTERVAL":     "2s",
	"SEED_ADMIN_EMAIL":    "admin@local",
	"SEED_ADMIN_PASSWORD": "Admin123",
}

// Loadは.env（任意）と環境変数から設定を読む
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	// defaultを置いたキーだけUnmarshalで環境変数が拾われる
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

//必須チェック
func (c Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.DatabaseURL == "" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProd() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in prod")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopicOrders == "" {
		return fmt.Errorf("KAFKA_TOPIC_ORDERS is required when KAFKA_BROKERS is set")
	}
	return nil
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod" || c.GoEnv == "production"
}

// DSN はDATABASE_URLを優先し、無ければPOSTGRES_*から組み立てる
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

// Addr は":8080"の形で返す
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
