// Package config resolves run settings from defaults, an optional YAML file, a .env file and
// the environment. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/gemini-record-pipeline/internal/enrich"
	"github.com/shpitdev/gemini-record-pipeline/internal/pipeline"
	"github.com/shpitdev/gemini-record-pipeline/internal/session"
	"github.com/shpitdev/gemini-record-pipeline/internal/session/gemini"
	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
)

// DefaultModel is used when neither the config file nor GEMINI_MODEL names one.
const DefaultModel = "gemini-1.5-flash"

// DefaultEnvFile is loaded when present. A missing default file is not an error.
const DefaultEnvFile = ".env"

// Pipeline names with built-in defaults.
const (
	Emails  = "emails"
	Reviews = "reviews"
)

// Generation holds sampling options. Nil fields leave the service default in place.
type Generation struct {
	Temperature     *float32 `yaml:"temperature"`
	TopP            *float32 `yaml:"top_p"`
	TopK            *float32 `yaml:"top_k"`
	MaxOutputTokens int32    `yaml:"max_output_tokens"`
}

type Config struct {
	// APIKey is read from GEMINI_API_KEY only and never from the config file.
	APIKey  string `yaml:"-"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	Generation Generation `yaml:"generation"`

	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	FailFast       bool          `yaml:"fail_fast"`

	Isolation  string `yaml:"session_isolation"`
	Language   string `yaml:"language"`
	WithStatus bool   `yaml:"with_status"`
}

// Defaults returns the built-in settings for a pipeline. Retries, timeouts and rate limits
// are off.
func Defaults(pipelineName string) Config {
	c := Config{
		Model:     DefaultModel,
		Isolation: string(session.IsolationShared),
		Language:  enrich.DefaultLanguage,
	}
	switch pipelineName {
	case Emails:
		c.Generation = Generation{Temperature: f32(0.9), TopP: f32(0.95), TopK: f32(64), MaxOutputTokens: 8192}
	case Reviews:
		c.Generation = Generation{Temperature: f32(0.7), TopP: f32(0.9), TopK: f32(40), MaxOutputTokens: 200}
	}
	return c
}

func f32(v float32) *float32 {
	return &v
}

// Sources names the optional inputs layered over the defaults.
type Sources struct {
	// ConfigPath is a YAML file. Empty skips it.
	ConfigPath string
	// EnvFile is a dotenv file. Empty means DefaultEnvFile, which may be absent.
	EnvFile string
}

// Load resolves the config for pipelineName: defaults, then the YAML file, then the dotenv
// file, then environment variables. Variables already set in the environment win over the
// dotenv file.
func Load(pipelineName string, src Sources) (Config, error) {
	c := Defaults(pipelineName)

	if src.ConfigPath != "" {
		b, err := os.ReadFile(src.ConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", src.ConfigPath, err)
		}
	}

	if err := loadEnvFile(src.EnvFile); err != nil {
		return Config{}, err
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func (c *Config) applyEnv() error {
	c.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	c.Model = envString("GEMINI_MODEL", c.Model)
	c.BaseURL = envString("GEMINI_BASE_URL", c.BaseURL)
	c.Isolation = envString("SESSION_ISOLATION", c.Isolation)
	c.Language = envString("TRANSLATE_LANGUAGE", c.Language)

	var err error
	if c.MaxRetries, err = envInt("MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	if c.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", c.RateLimitRPS); err != nil {
		return err
	}
	if c.FailFast, err = envBool("FAIL_FAST", c.FailFast); err != nil {
		return err
	}
	if c.WithStatus, err = envBool("WITH_STATUS", c.WithStatus); err != nil {
		return err
	}
	return nil
}

// Validate checks settings that would otherwise fail later in the run. A missing API key is
// not checked here: the run proceeds and every request reports a config error.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be >= 0, got %s", c.RequestTimeout)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %g", c.RateLimitRPS)
	}
	if _, err := session.ParseIsolation(c.Isolation); err != nil {
		return err
	}
	return nil
}

// Gemini returns the client settings.
func (c Config) Gemini() gemini.Config {
	return gemini.Config{
		APIKey:  c.APIKey,
		Model:   c.Model,
		BaseURL: c.BaseURL,
		Generation: gemini.Generation{
			Temperature:     c.Generation.Temperature,
			TopP:            c.Generation.TopP,
			TopK:            c.Generation.TopK,
			MaxOutputTokens: c.Generation.MaxOutputTokens,
		},
	}
}

// CheckCredentials reports the config error every request would fail with, or nil.
func (c Config) CheckCredentials() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &core.KindError{Kind: core.KindConfig, Err: errors.New("GEMINI_API_KEY is not set")}
	}
	return nil
}

// PipelineOptions maps the config to run options. It assumes Validate passed.
func (c Config) PipelineOptions() pipeline.Options {
	iso, _ := session.ParseIsolation(c.Isolation)
	return pipeline.Options{
		MaxRetries:     c.MaxRetries,
		RequestTimeout: c.RequestTimeout,
		RateLimitRPS:   c.RateLimitRPS,
		FailFast:       c.FailFast,
		Isolation:      iso,
		WithStatus:     c.WithStatus,
	}
}

func envString(varName string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
