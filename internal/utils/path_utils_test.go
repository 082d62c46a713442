package utils

import (
	"path/filepath"
	"testing"
)

func TestGetConfigDirOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("SIYUAN_COPILOT_CONFIG_HOME", tmp)

	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir failed: %v", err)
	}
	if dir != tmp {
		t.Errorf("GetConfigDir = %q, want %q", dir, tmp)
	}
}

func TestGetConfigDirXDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("SIYUAN_COPILOT_CONFIG_HOME", "")
	t.Setenv("APPDATA", "")
	t.Setenv("XDG_CONFIG_HOME", tmp)

	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir failed: %v", err)
	}
	if want := filepath.Join(tmp, AppName); dir != want {
		t.Errorf("GetConfigDir = %q, want %q", dir, want)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "***"},
		{"short", "***"},
		{"sk-1234567890abcd", "sk-1***abcd"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
