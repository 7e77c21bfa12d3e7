package sockproxy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := ParseArgs(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BindAddr != "*" || cfg.Port != 2504 || cfg.ControllerBase != "http://127.0.0.1:3480" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseArgsFlags(t *testing.T) {
	cfg, err := ParseArgs([]string{"-a", "127.0.0.1", "-p", "9000", "-D", "-N", "http://example.invalid"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BindAddr != "127.0.0.1" || cfg.Port != 9000 || !cfg.Debug || cfg.ControllerBase != "http://example.invalid" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseArgsLaterFlagsOverrideEarlier(t *testing.T) {
	cfg, err := ParseArgs([]string{"-p", "1", "-p", "2"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 2 {
		t.Fatalf("expected last -p to win, got %d", cfg.Port)
	}
}

func TestParseArgsINIFileMergeAndOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sockproxyd.ini")
	contents := "[host]\nip = 10.0.0.5\nport = 3000\nvera = http://10.0.0.1:3480\ndebug = true\n\n[direct]\n8001 = CONN 10.0.0.9:23 RTIM=1000\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseArgs([]string{"-c", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BindAddr != "10.0.0.5" || cfg.Port != 3000 || !cfg.Debug {
		t.Fatalf("unexpected config after ini merge: %+v", cfg)
	}
	if len(cfg.Direct) != 1 || cfg.Direct[0].Port != 8001 || cfg.Direct[0].ConnLine != "CONN 10.0.0.9:23 RTIM=1000" {
		t.Fatalf("unexpected direct listeners: %+v", cfg.Direct)
	}

	// A flag appearing after -c overrides the file's value.
	cfg, err = ParseArgs([]string{"-c", path, "-p", "4000"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 4000 {
		t.Fatalf("expected flag after -c to override file, got %d", cfg.Port)
	}
}

func TestParseArgsBadFileIsFatal(t *testing.T) {
	_, err := ParseArgs([]string{"-c", "/nonexistent/path.ini"})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}
