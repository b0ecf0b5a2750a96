package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/greybus/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gbnode.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, "name = \"bench\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg.Name != "bench" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Mode != want.Mode || cfg.Link != want.Link || cfg.MaxMessages != want.MaxMessages {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if len(cfg.CPorts) != 2 || cfg.CPortCount() != 2 {
		t.Fatalf("unexpected cports: %+v", cfg.CPorts)
	}
}

func TestLoadTemplates(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"standalone", "bridge"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write template %s: %v", kind, err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load template %s: %v", kind, err)
		}
		if string(cfg.Mode) != kind {
			t.Fatalf("unexpected mode for %s: %q", kind, cfg.Mode)
		}
	}

	cfg, err := Load(writeConfig(t, standaloneTemplate))
	if err != nil {
		t.Fatalf("load standalone: %v", err)
	}
	if cfg.CPortCount() != 4 {
		t.Fatalf("unexpected cport count: %d", cfg.CPortCount())
	}
	if cfg.CPorts[2].Protocol != "pwm" || cfg.CPorts[2].Args["channels"] != "4" {
		t.Fatalf("unexpected pwm cport: %+v", cfg.CPorts[2])
	}
	if cfg.MetricsAddr != "127.0.0.1:9464" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "")
	if err := WriteTemplate(path, "standalone", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "standalone", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadValidationFailures(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"mode":       "mode = \"mesh\"\n",
		"link":       "[link]\nkind = \"usb\"\n",
		"serial":     "[link]\nkind = \"serial\"\n",
		"baud":       "[link]\nkind = \"serial\"\ndevice = \"/dev/ttyUSB0\"\nbaud = 0\n",
		"payload":    "[link]\nmax_payload = 0\n",
		"messages":   "max_messages = 0\n",
		"no control": "[[cports]]\nid = 1\nprotocol = \"loopback\"\n",
		"duplicate":  "[[cports]]\nid = 0\nprotocol = \"control\"\n[[cports]]\nid = 0\nprotocol = \"loopback\"\n",
		"unknown":    "colour = \"blue\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadSerialLink(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, "[link]\nkind = \"serial\"\ndevice = \"/dev/ttyUSB0\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Link.Kind != LinkSerial || cfg.Link.Baud != DefaultBaud {
		t.Fatalf("unexpected link: %+v", cfg.Link)
	}
	cfg, err = Load(writeConfig(t, "[link]\nkind = \"serial\"\ndevice = \"/dev/ttyUSB0\"\nbaud = 921600\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Link.Baud != 921600 {
		t.Fatalf("unexpected baud: %d", cfg.Link.Baud)
	}
}

func TestLoadSortsCPorts(t *testing.T) {
	testlog.Start(t)
	body := strings.Join([]string{
		"[[cports]]", "id = 3", "protocol = \" LOG \"", "bundle = 1",
		"[[cports]]", "id = 0", "protocol = \"control\"",
	}, "\n")
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CPorts[0].ID != 0 || cfg.CPorts[1].Protocol != "log" {
		t.Fatalf("unexpected cports: %+v", cfg.CPorts)
	}
	if cfg.CPortCount() != 4 {
		t.Fatalf("unexpected count: %d", cfg.CPortCount())
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}
