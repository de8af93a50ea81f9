package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	wd, _ := os.Getwd()
	tmp := t.TempDir()
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Engine.Symbols) != 3 {
		t.Errorf("symbols = %v, want the three defaults", cfg.Engine.Symbols)
	}
	if cfg.Sizing.KellyScale != 0.25 {
		t.Errorf("kelly scale = %.2f, want 0.25", cfg.Sizing.KellyScale)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yaml := `
engine:
  symbols: ["BTC-USD"]
  windowBars: 200
sizing:
  kellyScale: 0.5
sectors:
  BTC-USD: layer1
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Engine.Symbols) != 1 || cfg.Engine.Symbols[0] != "BTC-USD" {
		t.Errorf("symbols = %v", cfg.Engine.Symbols)
	}
	if cfg.Engine.WindowBars != 200 {
		t.Errorf("windowBars = %d, want 200", cfg.Engine.WindowBars)
	}
	if cfg.Sizing.KellyScale != 0.5 {
		t.Errorf("kellyScale = %.2f, want 0.5", cfg.Sizing.KellyScale)
	}
	if cfg.Sectors["btc-usd"] != "layer1" && cfg.Sectors["BTC-USD"] != "layer1" {
		t.Errorf("sectors = %v, want the BTC mapping", cfg.Sectors)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yaml := `
signal:
  weights:
    momentum: 0.9
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "weights") {
		t.Fatalf("err = %v, want weight sum rejection", err)
	}
}

func TestValidateRejectsShortWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yaml := `
engine:
  windowBars: 30
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "windowBars") {
		t.Fatalf("err = %v, want window rejection", err)
	}
}

func TestValidateRejectsBadKellyScale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yaml := `
sizing:
  kellyScale: 1.5
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "kellyScale") {
		t.Fatalf("err = %v, want kelly scale rejection", err)
	}
}

func TestMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit path that does not exist must fail")
	}
}
