package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type ChannelConfig struct {
	Credential      string `yaml:"credential"`
	AuthTimeoutMS   int    `yaml:"auth_timeout_ms"`
	PingIntervalMS  int    `yaml:"ping_interval_ms"`
	ReadTimeoutMS   int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS  int    `yaml:"write_timeout_ms"`
	CloseGraceMS    int    `yaml:"close_grace_ms"`
	PacePlayback    bool   `yaml:"pace_playback"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
}

type SessionConfig struct {
	MaxConcurrent       int     `yaml:"max_concurrent"`
	DefaultPauseSeconds int     `yaml:"default_pause_seconds"`
	TimeUnitMS          int     `yaml:"time_unit_ms"`
	MaxUtteranceMS      int     `yaml:"max_utterance_ms"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SurveyFile          string  `yaml:"survey_file"`
	DefaultSurvey       string  `yaml:"default_survey"`
}

type AudioConfig struct {
	CanonicalSampleRate int     `yaml:"canonical_sample_rate"`
	VADThreshold        float64 `yaml:"vad_threshold"`
	MinSpeechMS         int     `yaml:"min_speech_ms"`
	EndSilenceMS        int     `yaml:"end_silence_ms"`
}

type SpeechConfig struct {
	Mode                 string `yaml:"mode"` // google, mock
	Language             string `yaml:"language"`
	Voice                string `yaml:"voice"`
	CredentialsFile      string `yaml:"credentials_file"`
	RecognitionTimeoutMS int    `yaml:"recognition_timeout_ms"`
	SynthesisTimeoutMS   int    `yaml:"synthesis_timeout_ms"`
	PromptCacheSize      int    `yaml:"prompt_cache_size"`
	PromptCacheTTLMin    int    `yaml:"prompt_cache_ttl_min"`
}

type RecordsConfig struct {
	BaseURL            string `yaml:"base_url"`
	ServiceSecret      string `yaml:"service_secret"`
	RequestTimeoutMS   int    `yaml:"request_timeout_ms"`
	MaxAttempts        int    `yaml:"max_attempts"`
	InitialBackoffMS   int    `yaml:"initial_backoff_ms"`
	MaxBackoffMS       int    `yaml:"max_backoff_ms"`
	DedupTTLHours      int    `yaml:"dedup_ttl_h"`
	ReconcileIntervalS int    `yaml:"reconcile_interval_s"`
}

type OutboxConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	Path   string `yaml:"path"`
}

type ArchiveConfig struct {
	Bucket  string `yaml:"bucket"`
	Dir     string `yaml:"dir"` // local fallback when no bucket is set
	Prefix  string `yaml:"prefix"`
	Workers int    `yaml:"workers"`
}

type AdminConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
	JWTAudience string `yaml:"jwt_audience"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Channel     ChannelConfig   `yaml:"channel"`
	Session     SessionConfig   `yaml:"session"`
	Audio       AudioConfig     `yaml:"audio"`
	Speech      SpeechConfig    `yaml:"speech"`
	Records     RecordsConfig   `yaml:"records"`
	Outbox      OutboxConfig    `yaml:"outbox"`
	Archive     ArchiveConfig   `yaml:"archive"`
	Admin       AdminConfig     `yaml:"admin"`
}

func Default() Config {
	return Config{
		ServiceName: "yoocall",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
		Channel: ChannelConfig{
			AuthTimeoutMS:   5000,
			PingIntervalMS:  20000,
			ReadTimeoutMS:   60000,
			WriteTimeoutMS:  5000,
			CloseGraceMS:    500,
			PacePlayback:    true,
			MaxMessageBytes: 64 << 10,
		},
		Session: SessionConfig{
			MaxConcurrent:       10,
			DefaultPauseSeconds: 5,
			TimeUnitMS:          1000,
			MaxUtteranceMS:      8000,
			ConfidenceThreshold: 0.6,
			SurveyFile:          "./config/surveys.yaml",
			DefaultSurvey:       "default",
		},
		Audio: AudioConfig{
			CanonicalSampleRate: 16000,
			VADThreshold:        600,
			MinSpeechMS:         200,
			EndSilenceMS:        700,
		},
		Speech: SpeechConfig{
			Mode:                 "mock",
			Language:             "ar-SA",
			Voice:                "ar-XA-Wavenet-A",
			RecognitionTimeoutMS: 8000,
			SynthesisTimeoutMS:   8000,
			PromptCacheSize:      256,
			PromptCacheTTLMin:    24 * 60,
		},
		Records: RecordsConfig{
			BaseURL:            "http://localhost:3000/api",
			RequestTimeoutMS:   10000,
			MaxAttempts:        5,
			InitialBackoffMS:   500,
			MaxBackoffMS:       10000,
			DedupTTLHours:      7 * 24,
			ReconcileIntervalS: 60,
		},
		Outbox: OutboxConfig{
			Driver: "sqlite",
			Path:   "./data/outbox.db",
		},
		Archive: ArchiveConfig{
			Prefix:  "utterances",
			Workers: 2,
		},
	}
}

// Load reads defaults, then the optional YAML file, then environment overrides.
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
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "YOOCALL_SERVICE_NAME")
	overrideString(&cfg.Environment, "YOOCALL_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "YOOCALL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.Port, "YOOCALL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOG_LEVEL")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "YOOCALL_METRICS_ENABLED")

	overrideString(&cfg.Channel.Credential, "TELEPHONY_TOKEN")
	overrideString(&cfg.Channel.Credential, "YOOCALL_CHANNEL_CREDENTIAL")
	overrideInt(&cfg.Channel.AuthTimeoutMS, "YOOCALL_CHANNEL_AUTH_TIMEOUT_MS")
	overrideInt(&cfg.Channel.PingIntervalMS, "YOOCALL_CHANNEL_PING_INTERVAL_MS")
	overrideInt(&cfg.Channel.ReadTimeoutMS, "YOOCALL_CHANNEL_READ_TIMEOUT_MS")
	overrideInt(&cfg.Channel.WriteTimeoutMS, "YOOCALL_CHANNEL_WRITE_TIMEOUT_MS")
	overrideInt(&cfg.Channel.CloseGraceMS, "YOOCALL_CHANNEL_CLOSE_GRACE_MS")
	overrideBool(&cfg.Channel.PacePlayback, "YOOCALL_CHANNEL_PACE_PLAYBACK")

	overrideInt(&cfg.Session.MaxConcurrent, "MAX_CONCURRENT_SESSIONS")
	overrideInt(&cfg.Session.MaxConcurrent, "YOOCALL_SESSION_MAX_CONCURRENT")
	overrideInt(&cfg.Session.DefaultPauseSeconds, "YOOCALL_SESSION_DEFAULT_PAUSE_SECONDS")
	overrideInt(&cfg.Session.TimeUnitMS, "YOOCALL_SESSION_TIME_UNIT_MS")
	overrideInt(&cfg.Session.MaxUtteranceMS, "YOOCALL_SESSION_MAX_UTTERANCE_MS")
	overrideFloat(&cfg.Session.ConfidenceThreshold, "YOOCALL_SESSION_CONFIDENCE_THRESHOLD")
	overrideString(&cfg.Session.SurveyFile, "YOOCALL_SESSION_SURVEY_FILE")
	overrideString(&cfg.Session.DefaultSurvey, "YOOCALL_SESSION_DEFAULT_SURVEY")

	overrideInt(&cfg.Audio.CanonicalSampleRate, "YOOCALL_AUDIO_CANONICAL_SAMPLE_RATE")
	overrideFloat(&cfg.Audio.VADThreshold, "YOOCALL_AUDIO_VAD_THRESHOLD")
	overrideInt(&cfg.Audio.MinSpeechMS, "YOOCALL_AUDIO_MIN_SPEECH_MS")
	overrideInt(&cfg.Audio.EndSilenceMS, "YOOCALL_AUDIO_END_SILENCE_MS")

	overrideString(&cfg.Speech.Mode, "YOOCALL_SPEECH_MODE")
	overrideString(&cfg.Speech.Language, "YOOCALL_SPEECH_LANGUAGE")
	overrideString(&cfg.Speech.Voice, "YOOCALL_SPEECH_VOICE")
	overrideString(&cfg.Speech.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	overrideInt(&cfg.Speech.RecognitionTimeoutMS, "YOOCALL_SPEECH_RECOGNITION_TIMEOUT_MS")
	overrideInt(&cfg.Speech.SynthesisTimeoutMS, "YOOCALL_SPEECH_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Speech.PromptCacheSize, "YOOCALL_SPEECH_PROMPT_CACHE_SIZE")

	overrideString(&cfg.Records.BaseURL, "NEXTJS_API_URL")
	overrideString(&cfg.Records.BaseURL, "YOOCALL_RECORDS_BASE_URL")
	overrideString(&cfg.Records.ServiceSecret, "VOICE_SERVICE_SECRET")
	overrideInt(&cfg.Records.MaxAttempts, "YOOCALL_RECORDS_MAX_ATTEMPTS")
	overrideInt(&cfg.Records.RequestTimeoutMS, "YOOCALL_RECORDS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Records.ReconcileIntervalS, "YOOCALL_RECORDS_RECONCILE_INTERVAL_S")

	overrideString(&cfg.Outbox.Driver, "YOOCALL_OUTBOX_DRIVER")
	overrideString(&cfg.Outbox.Path, "YOOCALL_OUTBOX_PATH")

	overrideString(&cfg.Archive.Bucket, "YOOCALL_ARCHIVE_BUCKET")
	overrideString(&cfg.Archive.Dir, "YOOCALL_ARCHIVE_DIR")
	overrideString(&cfg.Archive.Prefix, "YOOCALL_ARCHIVE_PREFIX")

	overrideString(&cfg.Admin.JWTSecret, "ADMIN_JWT_SECRET")
	overrideString(&cfg.Admin.JWTIssuer, "ADMIN_JWT_ISSUER")
	overrideString(&cfg.Admin.JWTAudience, "ADMIN_JWT_AUDIENCE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			*target = parsed
		}
	}
}

// ChannelSampleRate is the telephony side G.711 rate.
const ChannelSampleRate = 8000

func Validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if strings.TrimSpace(cfg.Channel.Credential) == "" {
		return errors.New("channel.credential must be set (TELEPHONY_TOKEN)")
	}
	if cfg.Channel.AuthTimeoutMS <= 0 {
		return errors.New("channel.auth_timeout_ms must be positive")
	}
	if cfg.Channel.WriteTimeoutMS <= 0 {
		return errors.New("channel.write_timeout_ms must be positive")
	}
	if cfg.Session.MaxConcurrent < 1 {
		return errors.New("session.max_concurrent must be >= 1")
	}
	if cfg.Session.DefaultPauseSeconds < 1 || cfg.Session.DefaultPauseSeconds > 20 {
		return errors.New("session.default_pause_seconds must be between 1 and 20")
	}
	if cfg.Session.TimeUnitMS <= 0 {
		return errors.New("session.time_unit_ms must be positive")
	}
	if cfg.Session.MaxUtteranceMS <= 0 {
		return errors.New("session.max_utterance_ms must be positive")
	}
	if cfg.Session.ConfidenceThreshold < 0 || cfg.Session.ConfidenceThreshold > 1 {
		return errors.New("session.confidence_threshold must be within [0,1]")
	}
	rate := cfg.Audio.CanonicalSampleRate
	if rate <= 0 || rate%ChannelSampleRate != 0 {
		return fmt.Errorf("audio.canonical_sample_rate must be a positive multiple of %d, got %d", ChannelSampleRate, rate)
	}
	if cfg.Audio.MinSpeechMS <= 0 || cfg.Audio.EndSilenceMS <= 0 {
		return errors.New("audio.min_speech_ms and audio.end_silence_ms must be positive")
	}
	switch cfg.Speech.Mode {
	case "google", "mock":
	default:
		return errors.New("speech.mode must be one of google|mock")
	}
	if cfg.Speech.RecognitionTimeoutMS <= 0 || cfg.Speech.SynthesisTimeoutMS <= 0 {
		return errors.New("speech recognition/synthesis timeouts must be positive")
	}
	if strings.TrimSpace(cfg.Records.BaseURL) == "" {
		return errors.New("records.base_url must not be empty")
	}
	if cfg.Records.MaxAttempts < 1 {
		return errors.New("records.max_attempts must be >= 1")
	}
	switch cfg.Outbox.Driver {
	case "sqlite":
		if cfg.Outbox.Path == "" {
			return errors.New("outbox.path must be set when driver=sqlite")
		}
	case "postgres":
	default:
		return errors.New("outbox.driver must be one of sqlite|postgres")
	}
	return nil
}
