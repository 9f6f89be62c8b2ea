package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultBackendURL        = "http://127.0.0.1:11434"
	defaultTimeoutSeconds    = 30
	defaultStreamTimeout     = 120
	defaultStreamChunkSize   = 5
	defaultBreakerFailures   = 5
	defaultBreakerTimeoutSec = 30
	defaultPort              = 8000
	defaultMetricsPort       = 9090
)

var (
	ErrInvalidBackendURL = errors.New("invalid backend url")
	ErrInvalidValue      = errors.New("invalid configuration value")
)

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Guardrail GuardrailConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port             int
	CORSAllowOrigins string
	// LegacyStreamErrors keeps the historical wire behaviour for failed
	// streaming backend calls: status 400 and no [DONE] terminator.
	LegacyStreamErrors bool
}

type BackendConfig struct {
	// BaseURL is the backend url without its query string.
	BaseURL string
	// Host is the authority of BaseURL, sent as the Host header.
	Host string
	// QueryParams are fixed parameters taken from the configured url. They
	// win over client supplied parameters with the same key.
	QueryParams     url.Values
	APIKey          string
	Model           string
	SystemPrompt    string
	Timeout         time.Duration
	StreamTimeout   time.Duration
	StreamChunkSize int
}

type GuardrailConfig struct {
	APIURL          string
	APIToken        string
	ProjectID       string
	ScanPrompt      bool
	ScanResponse    bool
	RedactPrompt    bool
	RedactResponse  bool
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Enabled reports whether the guardrail service is fully configured.
func (g GuardrailConfig) Enabled() bool {
	return g.APIURL != "" && g.APIToken != "" && g.ProjectID != ""
}

type MetricsConfig struct {
	Enabled bool
	Port    int
}

type LogConfig struct {
	Debug bool
	Level string
	File  string
}

// Load reads config.yaml (optional) and the environment into a new Config.
// The returned value is never mutated afterwards.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaultValues(v)

	if err := loadConfigFile(v, configPath, "config"); err != nil {
		return nil, err
	}

	return build(v)
}

func loadConfigFile(v *viper.Viper, configPath, fileName string) error {
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// environment only
			return nil
		}
		return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
	}
	return nil
}

func setDefaultValues(v *viper.Viper) {
	v.SetDefault("openai_api_url", defaultBackendURL)
	v.SetDefault("openai_api_key", "")
	v.SetDefault("model", "")
	v.SetDefault("system_prompt", "")
	v.SetDefault("proxy_timeout", defaultTimeoutSeconds)
	v.SetDefault("stream_timeout", defaultStreamTimeout)
	v.SetDefault("stream_chunk_size", defaultStreamChunkSize)
	v.SetDefault("debug", "false")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("f5_ai_guardrails_api_url", "")
	v.SetDefault("f5_ai_guardrails_api_token", "")
	v.SetDefault("f5_ai_guardrails_project_id", "")
	v.SetDefault("f5_ai_guardrails_scan_prompt", "")
	v.SetDefault("f5_ai_guardrails_scan_response", "")
	v.SetDefault("f5_ai_guardrails_redact_prompt", "")
	v.SetDefault("f5_ai_guardrails_redact_response", "")
	v.SetDefault("guardrail_breaker_failures", defaultBreakerFailures)
	v.SetDefault("guardrail_breaker_timeout", defaultBreakerTimeoutSec)
	v.SetDefault("legacy_stream_errors", "true")
	v.SetDefault("port", defaultPort)
	v.SetDefault("metrics_enabled", "false")
	v.SetDefault("metrics_port", defaultMetricsPort)
	v.SetDefault("cors_allow_origins", "*")
}

func build(v *viper.Viper) (*Config, error) {
	baseURL, host, params, err := ParseBackendURL(v.GetString("openai_api_url"))
	if err != nil {
		return nil, err
	}

	timeout := v.GetFloat64("proxy_timeout")
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: proxy_timeout must be positive", ErrInvalidValue)
	}
	streamTimeout := v.GetFloat64("stream_timeout")
	if streamTimeout <= 0 {
		return nil, fmt.Errorf("%w: stream_timeout must be positive", ErrInvalidValue)
	}
	chunkSize := v.GetInt("stream_chunk_size")
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: stream_chunk_size must be positive", ErrInvalidValue)
	}
	breakerFailures := v.GetInt("guardrail_breaker_failures")
	if breakerFailures <= 0 {
		return nil, fmt.Errorf("%w: guardrail_breaker_failures must be positive", ErrInvalidValue)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               v.GetInt("port"),
			CORSAllowOrigins:   v.GetString("cors_allow_origins"),
			LegacyStreamErrors: ParseFlag(v.GetString("legacy_stream_errors")),
		},
		Backend: BackendConfig{
			BaseURL:         baseURL,
			Host:            host,
			QueryParams:     params,
			APIKey:          v.GetString("openai_api_key"),
			Model:           v.GetString("model"),
			SystemPrompt:    v.GetString("system_prompt"),
			Timeout:         seconds(timeout),
			StreamTimeout:   seconds(streamTimeout),
			StreamChunkSize: chunkSize,
		},
		Guardrail: GuardrailConfig{
			APIURL:          v.GetString("f5_ai_guardrails_api_url"),
			APIToken:        v.GetString("f5_ai_guardrails_api_token"),
			ProjectID:       v.GetString("f5_ai_guardrails_project_id"),
			ScanPrompt:      ParseFlag(v.GetString("f5_ai_guardrails_scan_prompt")),
			ScanResponse:    ParseFlag(v.GetString("f5_ai_guardrails_scan_response")),
			RedactPrompt:    ParseFlag(v.GetString("f5_ai_guardrails_redact_prompt")),
			RedactResponse:  ParseFlag(v.GetString("f5_ai_guardrails_redact_response")),
			Timeout:         seconds(timeout),
			BreakerFailures: uint32(breakerFailures),
			BreakerTimeout:  seconds(v.GetFloat64("guardrail_breaker_timeout")),
		},
		Metrics: MetricsConfig{
			Enabled: ParseFlag(v.GetString("metrics_enabled")),
			Port:    v.GetInt("metrics_port"),
		},
		Log: LogConfig{
			Debug: ParseFlag(v.GetString("debug")),
			Level: strings.ToLower(v.GetString("log_level")),
			File:  v.GetString("log_file"),
		},
	}
	return cfg, nil
}

// ParseBackendURL splits the configured backend url into its base (scheme,
// host and path), the host used for the Host header and the fixed query
// parameters.
func ParseBackendURL(raw string) (string, string, url.Values, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrInvalidBackendURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", nil, fmt.Errorf("%w: %q needs a scheme and a host", ErrInvalidBackendURL, raw)
	}
	params := u.Query()
	base := fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)
	return base, u.Host, params, nil
}

// ParseFlag accepts true, 1 and yes in any case.
func ParseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Fields returns the configuration as log fields with secrets masked.
func (c *Config) Fields() map[string]interface{} {
	return map[string]interface{}{
		"openai_api_url":                   c.Backend.BaseURL,
		"openai_api_query_params":          c.Backend.QueryParams.Encode(),
		"openai_api_key":                   mask(c.Backend.APIKey),
		"model":                            c.Backend.Model,
		"system_prompt":                    c.Backend.SystemPrompt,
		"timeout":                          c.Backend.Timeout.String(),
		"stream_timeout":                   c.Backend.StreamTimeout.String(),
		"f5_ai_guardrails_api_url":         c.Guardrail.APIURL,
		"f5_ai_guardrails_api_token":       mask(c.Guardrail.APIToken),
		"f5_ai_guardrails_project_id":      c.Guardrail.ProjectID,
		"f5_ai_guardrails_scan_prompt":     c.Guardrail.ScanPrompt,
		"f5_ai_guardrails_scan_response":   c.Guardrail.ScanResponse,
		"f5_ai_guardrails_redact_prompt":   c.Guardrail.RedactPrompt,
		"f5_ai_guardrails_redact_response": c.Guardrail.RedactResponse,
		"legacy_stream_errors":             c.Server.LegacyStreamErrors,
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
