package env

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/output"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.StickerCost() != 5*time.Minute {
		t.Fatalf("StickerCost = %v, want 5m", cfg.StickerCost())
	}
}

func TestLoadCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", DefaultConfigName)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sticker.Max != 5 {
		t.Fatalf("unexpected default sticker max: %d", cfg.Sticker.Max)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config was not written: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected permissions: %v", fi.Mode().Perm())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigName)

	cfg := DefaultConfig()
	cfg.Password = "12345"
	cfg.Printer.Kind = string(output.KindCSNA2T)
	cfg.Printer.Label = label.GenericCSNA2Roll.Name
	cfg.Image.Dither = true
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Password != "12345" || loaded.Printer.Kind != "csn-a2-t" || !loaded.Image.Dither {
		t.Fatalf("unexpected loaded config: %+v", loaded)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigName)
	if err := os.WriteFile(path, []byte("password: hunter2\nsticker:\n  max: 3\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sticker.Max != 3 || cfg.Sticker.CostSeconds != 300 || cfg.Image.Gamma != 1.8 {
		t.Fatalf("unexpected merge: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown printer", mutate: func(c *Config) { c.Printer.Kind = "ql-1100" }},
		{name: "unknown label", mutate: func(c *Config) { c.Printer.Label = "DK9999" }},
		{name: "unsupported label", mutate: func(c *Config) { c.Printer.Label = label.GenericCSNA2Roll.Name }},
		{name: "cat printer without address", mutate: func(c *Config) {
			c.Printer.Kind = string(output.KindCatPrinter)
			c.Printer.Label = label.CatPrinterRoll.Name
		}},
		{name: "zero stickers", mutate: func(c *Config) { c.Sticker.Max = 0 }},
		{name: "zero cost", mutate: func(c *Config) { c.Sticker.CostSeconds = 0 }},
		{name: "bad gamma", mutate: func(c *Config) { c.Image.Gamma = 0 }},
		{name: "bad color", mutate: func(c *Config) { c.Image.Background = "mauve" }},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	vars := map[string]string{
		"STIMKY_PASSWORD": "s3cret",
		"STIMKY_PRINTER":  "preview",
		"STIMKY_LABEL":    "dk2012",
		"STIMKY_PORT":     "9090",
		"STIMKY_DEBUG":    "true",
		"STIMKY_GAMMA":    "2.2",
	}
	lookup := func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := ApplyOverrides(cfg, lookup); err != nil {
		t.Fatalf("ApplyOverrides failed: %v", err)
	}
	if cfg.Password != "s3cret" || cfg.Printer.Kind != "preview" || cfg.Server.Port != 9090 || !cfg.Debug || cfg.Image.Gamma != 2.2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overridden config should be valid: %v", err)
	}

	pc, err := cfg.PrinterConfig()
	if err != nil {
		t.Fatalf("PrinterConfig failed: %v", err)
	}
	if pc.Kind != output.KindPreview || !pc.Label.Is(label.DK2012) || pc.Format.Gamma != 2.2 {
		t.Fatalf("unexpected printer config: %+v", pc)
	}
}

func TestApplyOverridesRejectsGarbage(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "STIMKY_PORT" {
			return "eighty", true
		}
		return "", false
	}
	if err := ApplyOverrides(DefaultConfig(), lookup); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadEnvSetsValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigName)
	t.Setenv("STIMKY_STICKER_MAX", "9")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	t.Cleanup(func() { Value = DefaultConfig() })

	if Value.Sticker.Max != 9 {
		t.Fatalf("Value.Sticker.Max = %d, want 9", Value.Sticker.Max)
	}
}
