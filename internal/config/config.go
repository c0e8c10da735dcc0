// Package config handles service configuration
package config

import (
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

// DefaultMaskFile is the reference file name inside the config directory.
const DefaultMaskFile = "Mask.png"

type Config struct {
	HTTPAddr                string
	GRPCAddr                string
	MaskPath                string
	CheckRate               float64 // Hz
	AutoLocate              bool
	LocateRegion            string // "x,y,w,h", empty when unset
	OverlayColor            string // "#RRGGBB"
	OverlayOpacity          float64
	CaptureFailureThreshold int
	HistorySize             int
	AllowedOrigins          []string
	LogLevel                slog.Level
}

func Load() *Config {
	return &Config{
		HTTPAddr:                getEnv("HTTP_ADDR", ":8000"),
		GRPCAddr:                getEnv("GRPC_ADDR", ":50052"),
		MaskPath:                getEnv("MASK_PATH", defaultMaskPath()),
		CheckRate:               getEnvFloat("CHECK_RATE", 1.0),
		AutoLocate:              getEnvBool("AUTO_LOCATE", false),
		LocateRegion:            getEnv("LOCATE_REGION", ""),
		OverlayColor:            getEnv("OVERLAY_COLOR", "#008000"),
		OverlayOpacity:          getEnvFloat("OVERLAY_OPACITY", 0.1),
		CaptureFailureThreshold: getEnvInt("CAPTURE_FAILURE_THRESHOLD", 5),
		HistorySize:             getEnvInt("HISTORY_SIZE", 100),
		AllowedOrigins:          getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:                getEnvLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.CheckRate <= 0:
		return apperrors.Newf(apperrors.Configuration, "CHECK_RATE must be positive, got %v", c.CheckRate)
	case c.OverlayOpacity < 0 || c.OverlayOpacity > 1:
		return apperrors.Newf(apperrors.Configuration, "OVERLAY_OPACITY must be within [0,1], got %v", c.OverlayOpacity)
	case c.CaptureFailureThreshold <= 0:
		return apperrors.Newf(apperrors.Configuration, "CAPTURE_FAILURE_THRESHOLD must be positive, got %d", c.CaptureFailureThreshold)
	case c.HistorySize <= 0:
		return apperrors.Newf(apperrors.Configuration, "HISTORY_SIZE must be positive, got %d", c.HistorySize)
	case !strings.EqualFold(filepath.Ext(c.MaskPath), ".png"):
		return apperrors.Newf(apperrors.Configuration, "MASK_PATH must name a .png file, got %q", c.MaskPath)
	}
	if _, err := ParseColor(c.OverlayColor); err != nil {
		return err
	}
	return nil
}

// ParseColor parses "#RRGGBB" or "RRGGBB" into an opaque color.
func ParseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, apperrors.Newf(apperrors.Configuration, "color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, apperrors.Wrapf(err, apperrors.Configuration, "color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func defaultMaskPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultMaskFile
	}
	return filepath.Join(dir, "indicator-watch", DefaultMaskFile)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err == nil {
			return l
		}
	}
	return def
}
