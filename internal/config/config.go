package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Matching   MatchingConfig   `yaml:"matching"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Gallery    GalleryConfig    `yaml:"gallery"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type DatabaseConfig struct {
	URL          string `yaml:"-"`              // postgres://... or mysql://...
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type MatchingConfig struct {
	Tolerance  float64 `yaml:"tolerance"`
	Candidates int     `yaml:"candidates"`
}

type AttendanceConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

type GalleryConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type ExtractorConfig struct {
	URL          string  `yaml:"url"`
	MaxImageSize int     `yaml:"max_image_size"`
	RateLimit    float64 `yaml:"rate_limit"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS whitelist, localhost is always allowed
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envString returns the environment variable or defaultVal when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float; invalid values fall back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envDuration accepts Go durations ("90s", "2m") or a plain number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

// Defaults returns the embedded policy defaults without environment overrides.
func Defaults() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
		},
		Matching: MatchingConfig{
			Tolerance:  envFloat("MATCH_TOLERANCE", d.Matching.Tolerance),
			Candidates: envInt("MATCH_CANDIDATES", d.Matching.Candidates),
		},
		Attendance: AttendanceConfig{
			Cooldown: envDuration("ATTENDANCE_COOLDOWN", d.Attendance.Cooldown),
		},
		Gallery: GalleryConfig{
			RefreshInterval: envDuration("GALLERY_REFRESH_INTERVAL", d.Gallery.RefreshInterval),
		},
		Extractor: ExtractorConfig{
			URL:          envString("EXTRACTOR_URL", d.Extractor.URL),
			MaxImageSize: envInt("EXTRACTOR_MAX_IMAGE_SIZE", d.Extractor.MaxImageSize),
			RateLimit:    envFloat("EXTRACTOR_RATE_LIMIT", d.Extractor.RateLimit),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", d.Web.Host),
			Port: envInt("WEB_PORT", d.Web.Port),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", d.Log.Level),
			Format: envString("LOG_FORMAT", d.Log.Format),
		},
	}
}
