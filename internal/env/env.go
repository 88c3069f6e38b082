// Package env loads the service settings from the YAML config file, a .env
// file and the process environment, in that order of precedence (last wins).
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Value is the configuration loaded by LoadEnv.
var Value = DefaultConfig()

// LoadEnv reads path, applies .env and STIMKY_* overrides, validates the
// result and stores it in Value.
func LoadEnv(path string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to read .env", zap.Error(err))
	}

	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if err := ApplyOverrides(cfg, os.LookupEnv); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	Value = cfg
	logger.Debug("Config loaded",
		zap.String("path", path),
		zap.String("printer", cfg.Printer.Kind),
		zap.String("label", cfg.Printer.Label),
		zap.Bool("password_set", cfg.Password != ""))
	return nil
}

// ApplyOverrides copies STIMKY_* variables found through lookup onto cfg.
func ApplyOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	str("STIMKY_PASSWORD", &cfg.Password)
	str("STIMKY_ADMIN_ID", &cfg.AdminID)
	str("STIMKY_FURSONA_NAME", &cfg.FursonaName)
	flag("STIMKY_DEBUG", &cfg.Debug)
	num("STIMKY_STICKER_COST", &cfg.Sticker.CostSeconds)
	num("STIMKY_STICKER_MAX", &cfg.Sticker.Max)
	str("STIMKY_PRINTER", &cfg.Printer.Kind)
	str("STIMKY_LABEL", &cfg.Printer.Label)
	str("STIMKY_BROTHER_QL_MODEL", &cfg.Printer.BrotherQLModel)
	str("STIMKY_USB_DEVICE", &cfg.Printer.USBDevice)
	str("STIMKY_SERIAL_DEVICE", &cfg.Printer.SerialDevice)
	num("STIMKY_SERIAL_BAUD", &cfg.Printer.SerialBaud)
	str("STIMKY_BLUETOOTH_ADDRESS", &cfg.Printer.BluetoothAddress)
	flag("STIMKY_SKIP_PREFLIGHT", &cfg.Printer.SkipPreflight)
	str("STIMKY_BACKGROUND", &cfg.Image.Background)
	flag("STIMKY_DITHER", &cfg.Image.Dither)
	if v, ok := lookup("STIMKY_GAMMA"); ok {
		g, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("STIMKY_GAMMA=%q is not a number", v))
		} else {
			cfg.Image.Gamma = g
		}
	}
	str("STIMKY_CACHE_DIR", &cfg.Cache.Dir)
	num("STIMKY_PORT", &cfg.Server.Port)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
