package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is read once at startup. User changes made while running are
// never written back.
type Config struct {
	LogLevel string        `json:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	Audio    AudioConfig   `json:"audio"`
	Monitor  MonitorConfig `json:"monitor"`
	Meter    MeterConfig   `json:"meter"`
	Server   ServerConfig  `json:"server"`
}

type AudioConfig struct {
	DeviceID        string `json:"device_id"`
	FramesPerBuffer int    `json:"frames_per_buffer" validate:"gte=0,lte=8192"` // 0 lets the backend choose
	DevicePollMs    int    `json:"device_poll_ms" validate:"gte=250,lte=60000"`
}

// MonitorConfig holds the initial echo path parameters.
type MonitorConfig struct {
	EchoEnabled bool `json:"echo_enabled"`
	DelayMs     int  `json:"delay_ms" validate:"gte=0,lte=2000"`
}

type MeterConfig struct {
	FrameRate int `json:"frame_rate" validate:"gte=1,lte=240"`
}

type ServerConfig struct {
	Listen string `json:"listen" validate:"omitempty,hostname_port"` // empty disables the control server
}

// Validator is shared by config loading and the control server so both
// report JSON field names.
var Validator *validator.Validate

func init() {
	Validator = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	Validator.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			DeviceID:        "",
			FramesPerBuffer: 0,
			DevicePollMs:    defaultDevicePollMs,
		},
		Monitor: MonitorConfig{
			EchoEnabled: false,
			DelayMs:     300,
		},
		Meter: MeterConfig{
			FrameRate: defaultFrameRate,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config at path, layering it over the defaults.
// A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and reports every offending field.
func (c *Config) Validate() error {
	err := Validator.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		errs = append(errs, fmt.Errorf("%s: %s", fieldPath(e), FormatValidationMessage(e)))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

const (
	defaultDevicePollMs = 2000
	defaultFrameRate    = 60
)

// PollInterval returns how often the device inventory is rescanned.
// Unset values fall back to the default.
func (a AudioConfig) PollInterval() time.Duration {
	ms := a.DevicePollMs
	if ms <= 0 {
		ms = defaultDevicePollMs
	}
	return time.Duration(ms) * time.Millisecond
}

// FrameInterval returns the level meter cadence. Unset values fall back
// to the default.
func (m MeterConfig) FrameInterval() time.Duration {
	rate := m.FrameRate
	if rate <= 0 {
		rate = defaultFrameRate
	}
	return time.Second / time.Duration(rate)
}

// FormatValidationMessage creates a human-readable message from a validator error.
func FormatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be a host:port address"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// fieldPath strips the root struct name from the namespace ("Config.monitor.delay_ms").
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "signal-monitor", "config.json")
}
