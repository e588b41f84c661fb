// Package config loads posvision settings from defaults, a .env file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultInferURL is used when INFER_URL is unset
const DefaultInferURL = "http://localhost:8000"

// Config holds every runtime setting
type Config struct {
	InferURL       string        `validate:"required,url"`
	InferTimeout   time.Duration `validate:"gte=0"`
	HTTPAddr       string        `validate:"required,hostname_port"`
	StreamInterval time.Duration `validate:"gt=0"`

	Camera  CameraConfig
	Display DisplayConfig
	Auth    AuthConfig
	Log     LogConfig

	// RateLimit caps manual inference requests per second; 0 disables it
	RateLimit float64 `validate:"gte=0"`
	RateBurst int     `validate:"gte=0"`
}

// CameraConfig selects capture devices per facing mode
type CameraConfig struct {
	DeviceEnvironment string `validate:"required_without=DeviceUser"`
	DeviceUser        string
	FPS               int           `validate:"gte=1,lte=60"`
	Width             int           `validate:"gte=0"`
	Height            int           `validate:"gte=0"`
	StartTimeout      time.Duration `validate:"gt=0"`
}

// DisplayConfig is the initial on-screen size of the live video
type DisplayConfig struct {
	Width  int `validate:"gt=0"`
	Height int `validate:"gt=0"`
}

// AuthConfig configures optional operator login
type AuthConfig struct {
	Enabled   bool
	Username  string `validate:"required_if=Enabled true"`
	Password  string `validate:"required_if=Enabled true"`
	JWTSecret string
	JWTExpiry time.Duration `validate:"gte=0"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	File  string
	JSON  bool
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		InferURL:       DefaultInferURL,
		InferTimeout:   0,
		HTTPAddr:       "0.0.0.0:8080",
		StreamInterval: 600 * time.Millisecond,
		Camera: CameraConfig{
			DeviceEnvironment: "/dev/video0",
			FPS:               15,
			StartTimeout:      5 * time.Second,
		},
		Display: DisplayConfig{Width: 640, Height: 480},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
		Log:       LogConfig{Level: "info"},
		RateLimit: 5,
		RateBurst: 5,
	}
}

// LookupFunc resolves an environment key
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from env (os.LookupEnv when nil) and args
func Load(args []string, env LookupFunc) (*Config, error) {
	if env == nil {
		env = os.LookupEnv
	}

	cfg := Defaults()
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("posvision", flag.ContinueOnError)
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv merges a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// DotEnvLookup reads a .env file into a LookupFunc that falls back to next
func DotEnvLookup(path string, next LookupFunc) (LookupFunc, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if next != nil {
			if v, ok := next(key); ok {
				return v, true
			}
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

var validate = validator.New()

// Validate checks every field constraint
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(env LookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := env(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := env(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := env(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := env(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("INFER_URL", &c.InferURL)
	duration("INFER_TIMEOUT", &c.InferTimeout)
	str("HTTP_ADDR", &c.HTTPAddr)
	duration("STREAM_INTERVAL", &c.StreamInterval)

	str("CAMERA_DEVICE_ENV", &c.Camera.DeviceEnvironment)
	str("CAMERA_DEVICE_USER", &c.Camera.DeviceUser)
	integer("CAMERA_FPS", &c.Camera.FPS)
	integer("CAMERA_WIDTH", &c.Camera.Width)
	integer("CAMERA_HEIGHT", &c.Camera.Height)
	duration("CAMERA_START_TIMEOUT", &c.Camera.StartTimeout)

	integer("DISPLAY_WIDTH", &c.Display.Width)
	integer("DISPLAY_HEIGHT", &c.Display.Height)

	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("AUTH_USERNAME", &c.Auth.Username)
	str("AUTH_PASSWORD", &c.Auth.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	duration("JWT_EXPIRY", &c.Auth.JWTExpiry)

	float("RATE_LIMIT", &c.RateLimit)
	integer("RATE_BURST", &c.RateBurst)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	boolean("LOG_JSON", &c.Log.JSON)

	return errors.Join(errs...)
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.InferURL, "infer-url", c.InferURL, "Detection service base URL")
	fs.DurationVar(&c.InferTimeout, "infer-timeout", c.InferTimeout, "Per-request timeout for the detection service (0 = transport default)")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.DurationVar(&c.StreamInterval, "stream-interval", c.StreamInterval, "Streaming capture period")

	fs.StringVar(&c.Camera.DeviceEnvironment, "camera-env", c.Camera.DeviceEnvironment, "Rear-facing camera device or URL")
	fs.StringVar(&c.Camera.DeviceUser, "camera-user", c.Camera.DeviceUser, "Front-facing camera device or URL")
	fs.IntVar(&c.Camera.FPS, "camera-fps", c.Camera.FPS, "Camera capture frame rate")
	fs.IntVar(&c.Camera.Width, "camera-width", c.Camera.Width, "Camera capture width (0 = device default)")
	fs.IntVar(&c.Camera.Height, "camera-height", c.Camera.Height, "Camera capture height (0 = device default)")

	fs.IntVar(&c.Display.Width, "display-width", c.Display.Width, "Initial live overlay width")
	fs.IntVar(&c.Display.Height, "display-height", c.Display.Height, "Initial live overlay height")

	fs.BoolVar(&c.Auth.Enabled, "auth", c.Auth.Enabled, "Require operator login")
	fs.Float64Var(&c.RateLimit, "rate-limit", c.RateLimit, "Manual inference requests per second (0 = unlimited)")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "Also write logs to this rotated file")
	fs.BoolVar(&c.Log.JSON, "log-json", c.Log.JSON, "Log as JSON")
}
