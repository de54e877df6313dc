package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/desk/internal/config"
)

func TestDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".desk", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestHomeOverride(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)
	if got := SocketPath("work"); got != filepath.Join(base, "profiles", "work", "daemon.sock") {
		t.Errorf("SocketPath(work) = %q", got)
	}
}

func TestPaths(t *testing.T) {
	t.Setenv(HomeEnv, "")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", SocketPath("test"), filepath.Join("profiles", "test", "daemon.sock")},
		{"lock", LockPath("test"), filepath.Join("profiles", "test", "LOCK")},
		{"profile", ProfilePath("test"), filepath.Join("profiles", "test", "profile.toml")},
		{"log", LogPath("test"), filepath.Join("profiles", "test", "logs", "deskd.log")},
		{"skin", SkinPath(), filepath.Join(".desk", "skin.toml")},
	}
	for _, tt := range tests {
		if !strings.HasSuffix(tt.got, tt.want) {
			t.Errorf("%s path = %q, want suffix %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("log dir is not a directory")
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(ProfileEnv, "")
	if got := Resolve(""); got != DefaultProfileName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultProfileName)
	}
	if err := config.Save(ConfigPath(), &config.Config{DefaultProfile: "night"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "night" {
		t.Errorf("Resolve() = %q, want night", got)
	}
	t.Setenv(ProfileEnv, "shell")
	if got := Resolve(""); got != "shell" {
		t.Errorf("Resolve() with %s = %q, want shell", ProfileEnv, got)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q, want flag", got)
	}
}
