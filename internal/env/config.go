package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/output"
	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the config file used when no path is given.
const DefaultConfigName = "stimky_config.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config describes every setting of the printer service
type Config struct {
	// Password unlocks the printer for a requester. Empty leaves it open.
	Password    string `yaml:"password"`
	AdminID     string `yaml:"admin_id"`
	FursonaName string `yaml:"fursona_name"`
	Debug       bool   `yaml:"debug"`

	Sticker struct {
		CostSeconds int `yaml:"cost_seconds"`
		Max         int `yaml:"max"`
	} `yaml:"sticker"`

	Printer struct {
		Kind  string `yaml:"kind"`
		Label string `yaml:"label"`

		BrotherQLModel  string `yaml:"brother_ql_model"`
		BrotherQLBinary string `yaml:"brother_ql_binary"`
		USBDevice       string `yaml:"usb_device"`

		SerialDevice string `yaml:"serial_device"`
		SerialBaud   int    `yaml:"serial_baud"`

		BluetoothAddress string  `yaml:"bluetooth_address"`
		BestQuality      bool    `yaml:"best_quality"`
		BlackPoint       float32 `yaml:"black_point"`

		// SkipPreflight starts the server even when the device checks fail.
		SkipPreflight bool `yaml:"skip_preflight"`
	} `yaml:"printer"`

	Image struct {
		Gamma      float64 `yaml:"gamma"`
		Background string  `yaml:"background"`
		Dither     bool    `yaml:"dither"`
	} `yaml:"image"`

	Cache struct {
		Dir       string `yaml:"dir"`
		MaxSizeMB int    `yaml:"max_size_mb"`
	} `yaml:"cache"`

	Server struct {
		BindAddress string `yaml:"bind_address"`
		Port        int    `yaml:"port"`
	} `yaml:"server"`
}

// DefaultConfig returns the default settings
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.FursonaName = "Stimky"
	cfg.Sticker.CostSeconds = 300
	cfg.Sticker.Max = 5
	cfg.Printer.Kind = string(output.KindBrotherQL)
	cfg.Printer.Label = label.DK2205.Name
	cfg.Printer.BrotherQLModel = "QL-500"
	cfg.Printer.BrotherQLBinary = "brother_ql"
	cfg.Printer.USBDevice = "/dev/usb/lp0"
	cfg.Printer.SerialDevice = "/dev/ttyUSB0"
	cfg.Printer.SerialBaud = 19200
	cfg.Printer.BestQuality = true
	cfg.Printer.BlackPoint = 0.5
	cfg.Image.Gamma = 1.8
	cfg.Image.Background = "white"
	cfg.Cache.MaxSizeMB = 100
	cfg.Server.BindAddress = "0.0.0.0"
	cfg.Server.Port = 8080
	return cfg
}

// Load reads the config file at path. A missing file is created with the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigName
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Save(path)
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the settings to path
func (cfg *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigName
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	// パスワードを含むので本人のみ読み書き可能にする
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the printer, label and numeric settings.
func (cfg *Config) Validate() error {
	kind, err := output.ParseKind(cfg.Printer.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	l, err := label.Lookup(cfg.Printer.Label)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !label.Contains(output.SupportedLabels(kind), l) {
		return fmt.Errorf("%w: label %s is not supported by printer %s (supported: %v)",
			ErrInvalidConfig, l.Name, kind, labelNames(output.SupportedLabels(kind)))
	}
	if kind == output.KindCatPrinter && cfg.Printer.BluetoothAddress == "" {
		return fmt.Errorf("%w: printer %s needs bluetooth_address", ErrInvalidConfig, kind)
	}
	if cfg.Sticker.Max <= 0 {
		return fmt.Errorf("%w: sticker.max must be positive, got %d", ErrInvalidConfig, cfg.Sticker.Max)
	}
	if cfg.Sticker.CostSeconds <= 0 {
		return fmt.Errorf("%w: sticker.cost_seconds must be positive, got %d", ErrInvalidConfig, cfg.Sticker.CostSeconds)
	}
	if cfg.Image.Gamma <= 0 {
		return fmt.Errorf("%w: image.gamma must be positive, got %v", ErrInvalidConfig, cfg.Image.Gamma)
	}
	if _, err := imageformat.ParseColor(cfg.Image.Background); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", ErrInvalidConfig, cfg.Server.Port)
	}
	return nil
}

// StickerCost returns the recharge time of one sticker.
func (cfg *Config) StickerCost() time.Duration {
	return time.Duration(cfg.Sticker.CostSeconds) * time.Second
}

// Label resolves the configured label.
func (cfg *Config) Label() (label.Label, error) {
	return label.Lookup(cfg.Printer.Label)
}

// ImageOptions builds the formatting options.
func (cfg *Config) ImageOptions() (imageformat.Options, error) {
	opts := imageformat.DefaultOptions()
	bg, err := imageformat.ParseColor(cfg.Image.Background)
	if err != nil {
		return opts, err
	}
	opts.Background = bg
	opts.Gamma = cfg.Image.Gamma
	opts.Dither = cfg.Image.Dither
	return opts, nil
}

// PrinterConfig builds the printer settings.
func (cfg *Config) PrinterConfig() (output.PrinterConfig, error) {
	kind, err := output.ParseKind(cfg.Printer.Kind)
	if err != nil {
		return output.PrinterConfig{}, err
	}
	l, err := cfg.Label()
	if err != nil {
		return output.PrinterConfig{}, err
	}
	opts, err := cfg.ImageOptions()
	if err != nil {
		return output.PrinterConfig{}, err
	}

	return output.PrinterConfig{
		Kind:             kind,
		Label:            l,
		Format:           opts,
		BrotherQLModel:   cfg.Printer.BrotherQLModel,
		BrotherQLDevice:  cfg.Printer.USBDevice,
		BrotherQLBinary:  cfg.Printer.BrotherQLBinary,
		SerialDevice:     cfg.Printer.SerialDevice,
		SerialBaud:       cfg.Printer.SerialBaud,
		BluetoothAddress: cfg.Printer.BluetoothAddress,
		BestQuality:      cfg.Printer.BestQuality,
		BlackPoint:       cfg.Printer.BlackPoint,
	}, nil
}

func labelNames(ls []label.Label) []string {
	names := make([]string, len(ls))
	for i, l := range ls {
		names[i] = l.Name
	}
	return names
}
