package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type UploadConfig struct {
	MaxBytes          int64 `yaml:"max_bytes"`
	DefaultSampleRate int   `yaml:"default_sample_rate"`
	Preprocess        bool  `yaml:"preprocess"`
}

// EngineConfig describes one recognition worker. Mode selects the
// implementation: exec shells out and pipes audio over stdin, openai calls
// the hosted transcription API, mock returns canned results.
type EngineConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ID        string `yaml:"id"`
	Mode      string `yaml:"mode"`
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type EnginesConfig struct {
	Primary  EngineConfig `yaml:"primary"`
	Fallback EngineConfig `yaml:"fallback"`
	WarmUp   bool         `yaml:"warm_up"`
}

type RequestLogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	QueueSize int    `yaml:"queue_size"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Upload      UploadConfig     `yaml:"upload"`
	Engines     EnginesConfig    `yaml:"engines"`
	RequestLog  RequestLogConfig `yaml:"request_log"`
	History     HistoryConfig    `yaml:"history"`
	Bus         BusConfig        `yaml:"bus"`
}

// Production reports whether the service runs in a production deployment.
// Logging consent is never implied in production.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func Default() Config {
	return Config{
		ServiceName: "speechgate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Upload: UploadConfig{
			MaxBytes:          10 * 1024 * 1024,
			DefaultSampleRate: 16000,
			Preprocess:        true,
		},
		Engines: EnginesConfig{
			Primary: EngineConfig{
				Enabled:   true,
				ID:        "google",
				Mode:      "mock",
				Model:     "whisper-1",
				Language:  "en",
				TimeoutMS: 10000,
			},
			Fallback: EngineConfig{
				Enabled:   true,
				ID:        "vosk",
				Mode:      "mock",
				Language:  "en",
				TimeoutMS: 15000,
			},
		},
		RequestLog: RequestLogConfig{
			Enabled:   true,
			Directory: "./logs",
			QueueSize: 64,
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "./data/speechgate-history.db",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "SPEECHGATE_SERVICE_NAME")
	overrideString(&cfg.Environment, "SPEECHGATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPEECHGATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEECHGATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SPEECHGATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEECHGATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEECHGATE_TELEMETRY_OTLP_INSECURE")
	overrideInt64(&cfg.Upload.MaxBytes, "SPEECHGATE_UPLOAD_MAX_BYTES")
	overrideInt(&cfg.Upload.DefaultSampleRate, "SPEECHGATE_UPLOAD_DEFAULT_SAMPLE_RATE")
	overrideBool(&cfg.Upload.Preprocess, "SPEECHGATE_UPLOAD_PREPROCESS")
	overrideEngine(&cfg.Engines.Primary, "SPEECHGATE_ENGINE_PRIMARY")
	overrideEngine(&cfg.Engines.Fallback, "SPEECHGATE_ENGINE_FALLBACK")
	overrideBool(&cfg.Engines.WarmUp, "SPEECHGATE_ENGINE_WARM_UP")
	overrideBool(&cfg.RequestLog.Enabled, "SPEECHGATE_REQUEST_LOG_ENABLED")
	overrideString(&cfg.RequestLog.Directory, "SPEECHGATE_REQUEST_LOG_DIRECTORY")
	overrideInt(&cfg.RequestLog.QueueSize, "SPEECHGATE_REQUEST_LOG_QUEUE_SIZE")
	overrideBool(&cfg.History.Enabled, "SPEECHGATE_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "SPEECHGATE_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "SPEECHGATE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRecords, "SPEECHGATE_HISTORY_MAX_RECORDS")
	overrideBool(&cfg.History.VacuumOnStart, "SPEECHGATE_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "SPEECHGATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SPEECHGATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEECHGATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SPEECHGATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEECHGATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEECHGATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEECHGATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEECHGATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEECHGATE_BUS_CONNECT_TIMEOUT_MS")
}

func overrideEngine(engine *EngineConfig, prefix string) {
	overrideBool(&engine.Enabled, prefix+"_ENABLED")
	overrideString(&engine.ID, prefix+"_ID")
	overrideString(&engine.Mode, prefix+"_MODE")
	overrideString(&engine.Command, prefix+"_COMMAND")
	overrideString(&engine.ModelPath, prefix+"_MODEL_PATH")
	overrideString(&engine.Language, prefix+"_LANGUAGE")
	overrideString(&engine.APIKey, prefix+"_API_KEY")
	overrideString(&engine.Model, prefix+"_MODEL")
	overrideInt(&engine.TimeoutMS, prefix+"_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if cfg.Upload.DefaultSampleRate <= 0 {
		return errors.New("upload.default_sample_rate must be positive")
	}
	if !cfg.Engines.Primary.Enabled && !cfg.Engines.Fallback.Enabled {
		return errors.New("at least one recognition engine must be enabled")
	}
	if err := validateEngine("engines.primary", cfg.Engines.Primary); err != nil {
		return err
	}
	if err := validateEngine("engines.fallback", cfg.Engines.Fallback); err != nil {
		return err
	}
	if cfg.RequestLog.Enabled {
		if cfg.RequestLog.Directory == "" {
			return errors.New("request_log.directory must not be empty when enabled")
		}
		if cfg.RequestLog.QueueSize <= 0 {
			return errors.New("request_log.queue_size must be >= 1")
		}
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}

func validateEngine(name string, engine EngineConfig) error {
	if !engine.Enabled {
		return nil
	}
	if engine.ID == "" {
		return fmt.Errorf("%s.id must not be empty", name)
	}
	switch engine.Mode {
	case "mock", "exec", "openai":
	default:
		return fmt.Errorf("%s.mode must be one of mock|exec|openai", name)
	}
	if engine.Mode == "exec" && engine.Command == "" {
		return fmt.Errorf("%s.command must be set when mode=exec", name)
	}
	if engine.Mode == "openai" && engine.APIKey == "" {
		return fmt.Errorf("%s.api_key must be set when mode=openai", name)
	}
	if engine.TimeoutMS <= 0 {
		return fmt.Errorf("%s.timeout_ms must be positive", name)
	}
	return nil
}
