package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// OAuthClientConfig holds the application credentials for one OAuth
// provider. The token endpoint is overridable so tests can point it at
// a local server.
type OAuthClientConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url"`
	RedirectURI  string `mapstructure:"redirect_uri" yaml:"redirect_uri"`
}

// CredentialsConfig controls secret encryption at rest.
type CredentialsConfig struct {
	// Secret is the provisioned master secret the 256-bit cipher key
	// is derived from. Ignored when KeyringKey is set.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// KeyringKey names an entry in the system keyring to load the
	// master secret from instead of the config file.
	KeyringKey string `mapstructure:"keyring_key" yaml:"keyring_key"`

	// Strict disables the legacy plaintext fallback: decryption
	// failures become hard errors instead of being treated as
	// pre-encryption values.
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// ChatConfig holds the settings for the webhook-driven chat channel.
type ChatConfig struct {
	// VerifyToken is compared against hub.verify_token on the
	// webhook verification handshake.
	VerifyToken string `mapstructure:"verify_token" yaml:"verify_token"`

	// APIBaseURL is the root of the channel's REST send API.
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`

	// PhoneID is the sender channel identifier used in send calls.
	PhoneID string `mapstructure:"phone_id" yaml:"phone_id"`
}

// LogConfig holds structured-logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	LokiURL    string `mapstructure:"loki_url" yaml:"loki_url"`
	EnableLoki bool   `mapstructure:"enable_loki" yaml:"enable_loki"`
}

// AppConfig is the top-level configuration for the mailhub service.
type AppConfig struct {
	// DBPath is the SQLite database file path.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// ListenAddr is the address the webhook listener binds to.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`

	Gmail   OAuthClientConfig `mapstructure:"gmail" yaml:"gmail"`
	Outlook OAuthClientConfig `mapstructure:"outlook" yaml:"outlook"`
	Chat    ChatConfig        `mapstructure:"chat" yaml:"chat"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/mailhub/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailhub", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DBPath:     filepath.Join(".", "mailhub.db"),
		ListenAddr: ":8087",
		Gmail: OAuthClientConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Outlook: OAuthClientConfig{
			TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		},
		Chat: ChatConfig{
			APIBaseURL: "https://graph.facebook.com/v19.0",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. Environment variables prefixed with MAILHUB_ override file
// values. If the file does not exist, defaults are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailhub")
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", "mailhub.db")
	v.SetDefault("listen_addr", ":8087")
	v.SetDefault("gmail.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("outlook.token_url",
		"https://login.microsoftonline.com/common/oauth2/v2.0/token")
	v.SetDefault("chat.api_base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
