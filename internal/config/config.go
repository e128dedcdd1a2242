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

// Account is one set of credentials to validate with.
type Account struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CognitoConfig identifies the user pool app client.
type CognitoConfig struct {
	Region     string `mapstructure:"region"`
	ClientID   string `mapstructure:"client_id"`
	UserPoolID string `mapstructure:"user_pool_id"`
	// BaseURL overrides the regional endpoint when set.
	BaseURL string `mapstructure:"base_url"`
}

// OracleConfig configures the oracle API client and cycle pacing.
type OracleConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Origin         string        `mapstructure:"origin"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ThreadsConfig bounds the validation fan-out.
type ThreadsConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers"`
	ProxyFile     string        `mapstructure:"proxy_file"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

// TokenConfig configures token persistence and background refresh.
type TokenConfig struct {
	Path            string        `mapstructure:"path"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// Config holds all configuration for the validator.
type Config struct {
	Accounts    []Account     `mapstructure:"accounts"`
	Cognito     CognitoConfig `mapstructure:"cognito"`
	Oracle      OracleConfig  `mapstructure:"oracle"`
	Threads     ThreadsConfig `mapstructure:"threads"`
	Token       TokenConfig   `mapstructure:"token"`
	IPCheckURL  string        `mapstructure:"ip_check_url"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	LogLevel    string        `mapstructure:"log_level"`

	// Single-account credentials from STORK_USERNAME / STORK_PASSWORD.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ConfigError reports configuration that prevents the process from starting.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// Options controls where Load looks for input.
type Options struct {
	// ConfigPaths are searched in order for config.yaml.
	ConfigPaths []string
	// EnvFile is loaded into the environment if it exists. Variables already
	// set are not overridden.
	EnvFile string
}

// DefaultOptions searches the working directory and $HOME/.storkvalidator.
func DefaultOptions() Options {
	return Options{
		ConfigPaths: []string{".", "$HOME/.storkvalidator"},
		EnvFile:     ".env",
	}
}

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over config file values.
//
// Every key can be overridden with STORK_ and the upper-cased key path, e.g.
// STORK_THREADS_MAX_WORKERS. STORK_USERNAME and STORK_PASSWORD, when set,
// replace the accounts list with a single account.
func Load() (*Config, error) {
	return LoadWith(DefaultOptions())
}

// LoadWith is Load with explicit search locations.
func LoadWith(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()

	v.SetEnvPrefix("STORK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Optionally read from config file if it exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range opts.ConfigPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Username != "" || config.Password != "" {
		config.Accounts = []Account{{Username: config.Username, Password: config.Password}}
	}
	config.Username, config.Password = "", ""

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cognito.region", "ap-northeast-1")
	v.SetDefault("cognito.client_id", "5msns4n49hmg3dftp2tp1t2iuh")
	v.SetDefault("cognito.user_pool_id", "ap-northeast-1_M22I44OpC")
	v.SetDefault("cognito.base_url", "")

	v.SetDefault("oracle.base_url", "https://app-api.jp.stork-oracle.network/v1")
	v.SetDefault("oracle.user_agent", defaultUserAgent)
	v.SetDefault("oracle.origin", "chrome-extension://knnliglhgkmlblppdejchidfihjnockl")
	v.SetDefault("oracle.interval", 10*time.Second)
	v.SetDefault("oracle.request_timeout", 30*time.Second)

	v.SetDefault("threads.max_workers", 10)
	v.SetDefault("threads.proxy_file", "proxies.txt")
	v.SetDefault("threads.submit_timeout", 30*time.Second)

	v.SetDefault("token.path", "tokens.json")
	v.SetDefault("token.refresh_interval", 50*time.Minute)

	v.SetDefault("ip_check_url", "https://api.ipify.org?format=json")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")

	// Known to AutomaticEnv so Unmarshal picks them up.
	v.SetDefault("username", "")
	v.SetDefault("password", "")
}

// Validate checks the loaded configuration. All problems are reported at once.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Accounts) == 0 {
		problems = append(problems, "no accounts configured (set accounts in config.yaml or STORK_USERNAME/STORK_PASSWORD)")
	}
	for i, a := range c.Accounts {
		if a.Username == "" {
			problems = append(problems, fmt.Sprintf("account %d: missing username", i))
		}
		if a.Password == "" {
			problems = append(problems, fmt.Sprintf("account %d: missing password", i))
		}
	}
	if c.Cognito.ClientID == "" {
		problems = append(problems, "cognito.client_id is required")
	}
	if c.Oracle.BaseURL == "" {
		problems = append(problems, "oracle.base_url is required")
	}
	if c.Oracle.Interval <= 0 {
		problems = append(problems, "oracle.interval must be positive")
	}
	if c.Oracle.RequestTimeout <= 0 {
		problems = append(problems, "oracle.request_timeout must be positive")
	}
	if c.Threads.MaxWorkers < 1 {
		problems = append(problems, "threads.max_workers must be at least 1")
	}
	if c.Threads.SubmitTimeout <= 0 {
		problems = append(problems, "threads.submit_timeout must be positive")
	}
	if c.Token.RefreshInterval <= 0 {
		problems = append(problems, "token.refresh_interval must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}
