package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Capture     CaptureConfig     `yaml:"capture"`
	STT         STTConfig         `yaml:"stt"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EventStoreConfig controls transcript history. RetentionMode is one of:
//
//   - ephemeral: nothing is stored
//   - session: history lives in Path but is cleared every time the store opens
//   - persistent: history survives restarts
//
// RetentionDays and MaxTranscripts prune session and persistent history
// alike; zero disables either bound.
type EventStoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxTranscripts int    `yaml:"max_transcripts"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

// CaptureConfig selects the input device and bounds accepted durations.
// MinSeconds and MaxSeconds apply to hosts only; the pipeline itself
// accepts any positive duration.
type CaptureConfig struct {
	Device         string  `yaml:"device"` // exec, synthetic
	Command        string  `yaml:"command"`
	SampleRate     int     `yaml:"sample_rate"`
	DefaultSeconds int     `yaml:"default_seconds"`
	MinSeconds     int     `yaml:"min_seconds"`
	MaxSeconds     int     `yaml:"max_seconds"`
	WorkDir        string  `yaml:"work_dir"`
	ToneHz         float64 `yaml:"tone_hz"`
}

type STTConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, openai, whisper
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TranscriptsConfig struct {
	Dir         string `yaml:"dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			LogMaxSizeMB:   50,
			LogMaxBackups:  3,
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:           "./data/scribe.db",
			RetentionMode:  "session",
			RetentionDays:  30,
			MaxTranscripts: 10000,
		},
		Capture: CaptureConfig{
			Device:         "exec",
			Command:        "arecord -q -t raw -f S16_LE -c {channels} -r {sample_rate}",
			SampleRate:     44100,
			DefaultSeconds: 5,
			MinSeconds:     3,
			MaxSeconds:     60,
			WorkDir:        "./data/audio",
			ToneHz:         440,
		},
		STT: STTConfig{
			Mode:           "mock",
			Model:          "whisper-1",
			TimeoutSeconds: 120,
		},
		Transcripts: TranscriptsConfig{
			Dir:         "./data/transcripts",
			MaxUploadMB: 25,
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

// LoadDotEnv exports the variables of a .env file that are not already
// set, so they feed the SCRIBE_* overrides. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "SCRIBE_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.LogFile, "SCRIBE_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "SCRIBE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SCRIBE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SCRIBE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxTranscripts, "SCRIBE_EVENT_STORE_MAX_TRANSCRIPTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SCRIBE_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Capture.Device, "SCRIBE_CAPTURE_DEVICE")
	overrideString(&cfg.Capture.Command, "SCRIBE_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "SCRIBE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.DefaultSeconds, "SCRIBE_CAPTURE_DEFAULT_SECONDS")
	overrideInt(&cfg.Capture.MinSeconds, "SCRIBE_CAPTURE_MIN_SECONDS")
	overrideInt(&cfg.Capture.MaxSeconds, "SCRIBE_CAPTURE_MAX_SECONDS")
	overrideString(&cfg.Capture.WorkDir, "SCRIBE_CAPTURE_WORK_DIR")
	overrideFloat(&cfg.Capture.ToneHz, "SCRIBE_CAPTURE_TONE_HZ")
	overrideString(&cfg.STT.Mode, "SCRIBE_STT_MODE")
	overrideString(&cfg.STT.Command, "SCRIBE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "SCRIBE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Model, "SCRIBE_STT_MODEL")
	overrideString(&cfg.STT.Language, "SCRIBE_STT_LANGUAGE")
	overrideString(&cfg.STT.Endpoint, "SCRIBE_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "SCRIBE_STT_API_KEY")
	overrideInt(&cfg.STT.TimeoutSeconds, "SCRIBE_STT_TIMEOUT_SECONDS")
	overrideString(&cfg.Transcripts.Dir, "SCRIBE_TRANSCRIPTS_DIR")
	overrideInt(&cfg.Transcripts.MaxUploadMB, "SCRIBE_TRANSCRIPTS_MAX_UPLOAD_MB")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
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
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Device {
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when device=exec")
		}
	case "synthetic":
	default:
		return errors.New("capture.device must be one of exec|synthetic")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.MinSeconds <= 0 {
		return errors.New("capture.min_seconds must be positive")
	}
	if cfg.Capture.MaxSeconds < cfg.Capture.MinSeconds {
		return errors.New("capture.max_seconds must be >= capture.min_seconds")
	}
	if cfg.Capture.DefaultSeconds < cfg.Capture.MinSeconds || cfg.Capture.DefaultSeconds > cfg.Capture.MaxSeconds {
		return errors.New("capture.default_seconds must be within [min_seconds, max_seconds]")
	}
	if cfg.Capture.WorkDir == "" {
		return errors.New("capture.work_dir must not be empty")
	}
	switch cfg.STT.Mode {
	case "mock", "whisper":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "openai":
		if cfg.STT.APIKey == "" {
			return errors.New("stt.api_key must be set when mode=openai")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|openai|whisper")
	}
	if cfg.STT.Mode == "whisper" && cfg.STT.ModelPath == "" {
		return errors.New("stt.model_path must be set when mode=whisper")
	}
	if cfg.STT.TimeoutSeconds <= 0 {
		return errors.New("stt.timeout_seconds must be positive")
	}
	if cfg.Transcripts.Dir == "" {
		return errors.New("transcripts.dir must not be empty")
	}
	if cfg.Transcripts.MaxUploadMB <= 0 {
		return errors.New("transcripts.max_upload_mb must be positive")
	}
	return nil
}
