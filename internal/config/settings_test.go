package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return home
}

func TestLoadSettingsDefaults(t *testing.T) {
	setTestHome(t)

	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.General.LogRetentionCount != 5 {
		t.Errorf("LogRetentionCount = %d, want 5", s.General.LogRetentionCount)
	}
	if s.General.KeepJobMinutes != 30 {
		t.Errorf("KeepJobMinutes = %d, want 30", s.General.KeepJobMinutes)
	}
	if len(s.Tool.ExtraArgs) == 0 {
		t.Error("default ExtraArgs is empty")
	}
}

func TestSaveAndLoadSettings(t *testing.T) {
	setTestHome(t)

	s := DefaultSettings()
	s.Tool.Path = "/opt/tools/ddm"
	s.Sources.GithubToken = "ghp_test"
	s.General.KeepJobMinutes = 90

	if err := SaveSettings(s); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if _, err := os.Stat(GetSettingsPath()); err != nil {
		t.Fatalf("settings file missing: %v", err)
	}
	if _, err := os.Stat(GetSettingsPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}

	loaded, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if loaded.Tool.Path != "/opt/tools/ddm" {
		t.Errorf("Tool.Path = %q", loaded.Tool.Path)
	}
	if loaded.Sources.GithubToken != "ghp_test" {
		t.Errorf("GithubToken = %q", loaded.Sources.GithubToken)
	}
	if loaded.General.KeepJobMinutes != 90 {
		t.Errorf("KeepJobMinutes = %d", loaded.General.KeepJobMinutes)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	setTestHome(t)

	s := DefaultSettings()
	s.Tool.Path = "/from/file"
	if err := SaveSettings(s); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	t.Setenv("DEPOTGRAB_TOOL_PATH", "/from/env")
	t.Setenv("DEPOTGRAB_TOOL_ARGS", "-max-downloads 16")

	loaded, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if loaded.Tool.Path != "/from/env" {
		t.Errorf("Tool.Path = %q, want env override", loaded.Tool.Path)
	}
	if len(loaded.Tool.ExtraArgs) != 2 || loaded.Tool.ExtraArgs[0] != "-max-downloads" || loaded.Tool.ExtraArgs[1] != "16" {
		t.Errorf("ExtraArgs = %v", loaded.Tool.ExtraArgs)
	}
}

func TestLoadSettingsPartialFile(t *testing.T) {
	home := setTestHome(t)

	dir := filepath.Join(home, ".depotgrab")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	partial := []byte(`{"tool": {"path": "/opt/ddm"}}`)
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), partial, 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if loaded.Tool.Path != "/opt/ddm" {
		t.Errorf("Tool.Path = %q", loaded.Tool.Path)
	}
	// Fields absent from the file keep their defaults.
	if loaded.General.LogRetentionCount != 5 {
		t.Errorf("LogRetentionCount = %d, want default 5", loaded.General.LogRetentionCount)
	}
}
