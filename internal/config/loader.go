package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. VOXCOACH_API_KEY.
const EnvPrefix = "voxcoach"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":   {"gemini-live", "gemini-genai", "openai-realtime"},
	"audio": {"portaudio"},
}

// Env holds the environment overrides applied by [ApplyEnv]. Set values win
// over the YAML file.
type Env struct {
	APIKey      string `envconfig:"API_KEY"`
	Provider    string `envconfig:"PROVIDER"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	ListenAddr  string `envconfig:"LISTEN_ADDR"`
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if file := cfg.Session.InstructionsFile; file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("config: read instructions: %w", err)
		}
		cfg.Session.Instructions = string(data)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the VOXCOACH_* environment variables.
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	if env.APIKey != "" {
		cfg.Provider.APIKey = env.APIKey
	}
	if env.Provider != "" {
		cfg.Provider.Name = env.Provider
	}
	if env.PostgresDSN != "" {
		cfg.Storage.PostgresDSN = env.PostgresDSN
		if cfg.Storage.Backend == "" {
			cfg.Storage.Backend = StoragePostgres
		}
	}
	if env.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(env.LogLevel)
	}
	if env.ListenAddr != "" {
		cfg.Server.ListenAddr = env.ListenAddr
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	}
	validateProviderName("s2s", cfg.Provider.Name)
	if cfg.Provider.APIKey == "" && cfg.Provider.Options["project"] == nil {
		slog.Warn("provider.api_key is empty; set it or VOXCOACH_API_KEY", "provider", cfg.Provider.Name)
	}
	seen := map[string]string{cfg.Provider.Name + "/" + cfg.Provider.Model: "provider"}
	for i, fb := range cfg.Fallbacks {
		prefix := fmt.Sprintf("fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("s2s", fb.Name)
		key := fb.Name + "/" + fb.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates %s (%s)", prefix, prev, key))
		}
		seen[key] = prefix
	}

	// Session
	s := cfg.Session
	if s.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout %s must not be negative", s.ConnectTimeout))
	}
	if s.CloseTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.close_timeout %s must not be negative", s.CloseTimeout))
	}
	if s.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.capture.sample_rate %d must be positive", s.Capture.SampleRate))
	}
	if s.Capture.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("session.capture.frames_per_buffer %d must be positive", s.Capture.FramesPerBuffer))
	}
	if s.Capture.StallTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.capture.stall_timeout %s must not be negative", s.Capture.StallTimeout))
	}
	if s.Breaker.MaxFailures < 0 || s.Breaker.HalfOpenMax < 0 || s.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("session.breaker values must not be negative"))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Audio.OutputBufferFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.output_buffer_frames %d must not be negative", cfg.Audio.OutputBufferFrames))
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}
	if cfg.Storage.Backend == StorageMemory && cfg.Storage.PostgresDSN != "" {
		slog.Warn("storage.postgres_dsn is set but storage.backend is memory; history will not be persisted")
	}

	// Glossary
	for name, v := range map[string]float64{
		"glossary.phonetic_threshold": cfg.Glossary.PhoneticThreshold,
		"glossary.fuzzy_threshold":    cfg.Glossary.FuzzyThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", name, v))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
