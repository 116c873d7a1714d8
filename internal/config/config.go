// Package config loads the Seismic server configuration using Viper from
// a YAML file, SEISMIC_ environment variables and command-line flags.
//
// Every key has a default, so a bare `seismic serve` publishes contact
// messages for the built-in recipient to the default relays.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/nostr"
	"github.com/seismic-bv/seismic/internal/relay"
)

// EnvPrefix prefixes every environment override, e.g. SEISMIC_SERVER_PORT.
const EnvPrefix = "SEISMIC"

// DefaultRecipient receives contact messages unless contact.recipient is set.
const DefaultRecipient = "npub1zyjrxwmus2zm0x8nw7vn7f3dagvghz54g6yzyww465zqa89az3rqe73xqr"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Contact ContactConfig `mapstructure:"contact"`
	Site    SiteConfig    `mapstructure:"site"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy      bool            `mapstructure:"trust_proxy"`
}

// RateLimitConfig bounds contact submissions per client IP.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type ContactConfig struct {
	// Recipient is the npub or hex public key messages are encrypted to.
	Recipient        string        `mapstructure:"recipient"`
	Relays           []string      `mapstructure:"relays"`
	PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
	StatusClearDelay time.Duration `mapstructure:"status_clear_delay"`
	Cipher           string        `mapstructure:"cipher"`
	MaxMessageSize   int           `mapstructure:"max_message_size"`
}

type SiteConfig struct {
	// ContentFile overrides the embedded page content when set.
	ContentFile string `mapstructure:"content_file"`
	Watch       bool   `mapstructure:"watch"`
	AssetsDir   string `mapstructure:"assets_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default on v. Registering all
// keys also lets AutomaticEnv find them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests_per_minute", 10)
	v.SetDefault("server.rate_limit.burst", 3)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("contact.recipient", DefaultRecipient)
	v.SetDefault("contact.relays", relay.DefaultRelays)
	v.SetDefault("contact.publish_timeout", relay.DefaultTimeout)
	v.SetDefault("contact.status_clear_delay", contact.DefaultClearAfter)
	v.SetDefault("contact.cipher", nostr.CipherNIP04)
	v.SetDefault("contact.max_message_size", contact.DefaultMaxMessageSize)

	v.SetDefault("site.content_file", "")
	v.SetDefault("site.watch", false)
	v.SetDefault("site.assets_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// BindEnv enables SEISMIC_<SECTION>_<KEY> overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom applies defaults to v, decodes it and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Address is the listen address of the HTTP server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RecipientKey parses the configured recipient.
func (c ContactConfig) RecipientKey() (nostr.PublicKey, error) {
	return nostr.ParsePublicKey(c.Recipient)
}

// CipherImpl resolves the configured cipher.
func (c ContactConfig) CipherImpl() (nostr.Cipher, error) {
	return nostr.CipherByName(c.Cipher)
}
