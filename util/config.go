package util

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const Name = "murmur"
const ConfigFileName = "config.yaml"

const envPrefix = "MURMUR"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	HTTP struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"http"`
	Federation struct {
		Domain           string `yaml:"domain"`
		Scheme           string `yaml:"scheme"`
		VerifySignatures bool   `yaml:"verify_signatures"`
	} `yaml:"federation"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Delivery struct {
		Interval    time.Duration `yaml:"interval"`
		BatchSize   int           `yaml:"batch_size"`
		Concurrency int           `yaml:"concurrency"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"delivery"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		GlobalRPS   float64 `yaml:"global_rps"`
		GlobalBurst int     `yaml:"global_burst"`
		InboxRPS    float64 `yaml:"inbox_rps"`
		InboxBurst  int     `yaml:"inbox_burst"`
	} `yaml:"rate_limit"`
}

// Origin is the scheme and authority every local URI is built from.
func (c *AppConfig) Origin() string {
	return c.Federation.Scheme + "://" + c.Federation.Domain
}

// ListenAddress is the address the HTTP server binds to.
func (c *AppConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults registers the embedded defaults and MURMUR_* env bindings.
// MURMUR_FEDERATION_DOMAIN overrides federation.domain and so on.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	var defaults map[string]any
	if err := yaml.Unmarshal(embeddedConfig, &defaults); err != nil {
		panic(fmt.Sprintf("embedded config: %v", err))
	}
	setDefaults(v, "", defaults)
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, value)
	}
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// ReadConfigFile merges a config file over the defaults. An empty path
// looks for config.yaml locally and in the user config directory, and
// silently keeps the defaults when there is none.
func ReadConfigFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		path = ResolveFilePath(ConfigFileName)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := v.MergeConfig(bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("in config file %s: %w", path, err)
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (*AppConfig, error) {
	c := &AppConfig{}
	c.HTTP.Host = v.GetString("http.host")
	c.HTTP.Port = v.GetInt("http.port")
	c.Federation.Domain = strings.TrimSpace(v.GetString("federation.domain"))
	c.Federation.Scheme = strings.ToLower(strings.TrimSpace(v.GetString("federation.scheme")))
	c.Federation.VerifySignatures = v.GetBool("federation.verify_signatures")
	c.Database.Path = v.GetString("database.path")
	c.Log.Level = v.GetString("log.level")
	c.Delivery.Interval = v.GetDuration("delivery.interval")
	c.Delivery.BatchSize = v.GetInt("delivery.batch_size")
	c.Delivery.Concurrency = v.GetInt("delivery.concurrency")
	c.Delivery.Timeout = v.GetDuration("delivery.timeout")
	c.CORS.AllowedOrigins = v.GetStringSlice("cors.allowed_origins")
	c.RateLimit.GlobalRPS = v.GetFloat64("rate_limit.global_rps")
	c.RateLimit.GlobalBurst = v.GetInt("rate_limit.global_burst")
	c.RateLimit.InboxRPS = v.GetFloat64("rate_limit.inbox_rps")
	c.RateLimit.InboxBurst = v.GetInt("rate_limit.inbox_burst")

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) validate() error {
	if c.Federation.Domain == "" {
		return fmt.Errorf("federation.domain is required")
	}
	if strings.ContainsAny(c.Federation.Domain, "/ ") {
		return fmt.Errorf("federation.domain must be a bare host, got %q", c.Federation.Domain)
	}
	if c.Federation.Scheme != "http" && c.Federation.Scheme != "https" {
		return fmt.Errorf("federation.scheme must be http or https, got %q", c.Federation.Scheme)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Delivery.Interval <= 0 {
		return fmt.Errorf("delivery.interval must be positive")
	}
	if c.Delivery.BatchSize < 1 || c.Delivery.Concurrency < 1 {
		return fmt.Errorf("delivery.batch_size and delivery.concurrency must be at least 1")
	}
	return nil
}

// YAML renders the effective configuration.
func (c *AppConfig) YAML() (string, error) {
	buf, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
