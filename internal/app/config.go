package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	CORS         CORSConfig
	Graceful     GracefulConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	SendGrid     SendGridConfig
	MercadoPago  MercadoPagoConfig
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// RedisConfig configures the cart cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address (host:port); empty disables the cart cache"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	CartTTL  time.Duration `default:"15m" usage:"Cart cache entry lifetime" flag:"redis-cart-ttl"`
}

// KafkaConfig configures order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses"`
	Topic   string   `default:"kart.orders" usage:"Topic for order events"`
}

// SendGridConfig configures customer emails. An empty APIKey disables them.
type SendGridConfig struct {
	APIKey    string `default:"" usage:"SendGrid API key" flag:"sendgrid-api-key"`
	FromEmail string `default:"pedidos@kart.shop" usage:"Sender address" flag:"sendgrid-from-email"`
	FromName  string `default:"Kart Shop" usage:"Sender display name" flag:"sendgrid-from-name"`
}

// MercadoPagoConfig configures the payment provider.
type MercadoPagoConfig struct {
	AccessToken         string        `default:"" usage:"Mercado Pago access token" flag:"mp-access-token"`
	BaseURL             string        `default:"https://api.mercadopago.com" usage:"Mercado Pago API base URL" flag:"mp-base-url"`
	Timeout             time.Duration `default:"10s" usage:"Per-call provider timeout" flag:"mp-timeout"`
	StatementDescriptor string        `default:"KART SHOP" usage:"Text on the buyer's card statement" flag:"mp-statement-descriptor"`
	FrontendURL         string        `default:"http://localhost:3000" usage:"Storefront URL for payment return pages" flag:"mp-frontend-url"`
	BackendURL          string        `default:"http://localhost:8080" usage:"Public API URL for payment notifications" flag:"mp-backend-url"`
	Currency            string        `default:"BRL" usage:"Currency of preference items" flag:"mp-currency"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, PORT and MERCADOPAGO_ACCESS_TOKEN
// to the application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if c.MercadoPago.AccessToken == "" {
		c.MercadoPago.AccessToken = os.Getenv("MERCADOPAGO_ACCESS_TOKEN")
	}
}
