package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ichi0g0y/stimky-sticker/internal/env"
)

func TestLabelsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newLabelsCmd()
	cmd.SetOut(&out)
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("labels failed: %v", err)
	}

	for _, want := range []string{"DK2012", "DK2205", "GENERIC-CSNA2-ROLL", "csn-a2-t"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("labels output is missing %q:\n%s", want, out.String())
		}
	}
}

func TestConfigInitRefusesToOverwrite(t *testing.T) {
	old := configPath
	t.Cleanup(func() { configPath = old })
	configPath = filepath.Join(t.TempDir(), "stimky.yaml")

	cmd := newConfigCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"init"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := env.Load(configPath); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}

	cmd = newConfigCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"init"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("second config init should refuse to overwrite")
	}
}
