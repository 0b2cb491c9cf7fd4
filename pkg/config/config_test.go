package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfigIsValid verifies the defaults pass their own validation.
func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
}

// TestLoadMissingFileReturnsDefaults verifies the missing-file fallback.
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := DefaultConfig()
	if cfg.Processing.Threshold != want.Processing.Threshold {
		t.Errorf("Expected default threshold %g, got %g",
			want.Processing.Threshold, cfg.Processing.Threshold)
	}
	if cfg.Ramp.CornerFraction != want.Ramp.CornerFraction {
		t.Errorf("Expected default corner fraction %g, got %g",
			want.Ramp.CornerFraction, cfg.Ramp.CornerFraction)
	}
}

// TestSaveLoadRoundTrip verifies YAML persistence.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Workers = 3
	cfg.Processing.Threshold = 0.75
	cfg.Processing.AutoCenter = false
	cfg.Processing.MaskRadius = 12.5
	cfg.Ramp.CornerFraction = 0.1
	cfg.Output.ImageFormat = "jpg"
	cfg.Fetch.URL = "https://example.com/sample.s4d"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Processing.Workers != 3 ||
		loaded.Processing.Threshold != 0.75 ||
		loaded.Processing.AutoCenter ||
		loaded.Processing.MaskRadius != 12.5 ||
		loaded.Ramp.CornerFraction != 0.1 ||
		loaded.Output.ImageFormat != "jpg" ||
		loaded.Fetch.URL != "https://example.com/sample.s4d" {
		t.Errorf("Round trip lost values: %+v", loaded)
	}
}

// TestLoadRejectsInvalidValues verifies validation on load.
func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad fraction": "ramp:\n  enabled: true\n  cornerFraction: 0.7\n",
		"bad workers":  "processing:\n  workers: 0\n",
		"bad format":   "output:\n  imageFormat: bmp\n",
		"bad bins":     "output:\n  histogramBins: 0\n",
	}

	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// TestLoadRejectsMalformedYAML verifies parse errors surface.
func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("processing: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

// TestCreateDefaultConfigFile verifies the convenience writer.
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Error("Expected non-empty config file")
	}
}
