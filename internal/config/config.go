package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode selects how the node reaches the host.
type Mode string

const (
	// ModeStandalone puts the node directly on the link; the host
	// addresses its cports by number.
	ModeStandalone Mode = "standalone"
	// ModeBridge runs an AP bridge with an SVC on the link and attaches
	// the node as a bridge interface.
	ModeBridge Mode = "bridge"
)

// LinkKind selects the physical backend.
type LinkKind string

const (
	LinkTCP    LinkKind = "tcp"
	LinkSerial LinkKind = "serial"
	LinkStdio  LinkKind = "stdio"
)

// DefaultBaud is the serial line rate used when [link] sets none.
const DefaultBaud = 115200

type NodeConfig struct {
	Name        string
	Mode        Mode
	MaxMessages int
	MetricsAddr string
	Log         LogConfig
	Link        LinkConfig
	Bridge      BridgeConfig
	Manifest    ManifestConfig
	CPorts      []CPortConfig
}

type LogConfig struct {
	Level   string
	NoColor bool
}

type LinkConfig struct {
	Kind       LinkKind
	Addr       string
	Device     string
	Baud       int // serial only
	MaxPayload int
}

type BridgeConfig struct {
	MaxInterfaces  int
	MaxConnections int
}

type ManifestConfig struct {
	Vendor  string
	Product string
}

// CPortConfig binds one cport to a registered protocol driver.
type CPortConfig struct {
	ID       uint16            `toml:"id"`
	Protocol string            `toml:"protocol"`
	Bundle   uint8             `toml:"bundle"`
	Args     map[string]string `toml:"args"`
}

type fileConfig struct {
	Name        string `toml:"name"`
	Mode        string `toml:"mode"`
	MaxMessages int    `toml:"max_messages"`
	MetricsAddr string `toml:"metrics_addr"`
	Log         struct {
		Level   string `toml:"level"`
		NoColor bool   `toml:"no_color"`
	} `toml:"log"`
	Link struct {
		Kind       string `toml:"kind"`
		Addr       string `toml:"addr"`
		Device     string `toml:"device"`
		Baud       int    `toml:"baud"`
		MaxPayload int    `toml:"max_payload"`
	} `toml:"link"`
	Bridge struct {
		MaxInterfaces  int `toml:"max_interfaces"`
		MaxConnections int `toml:"max_connections"`
	} `toml:"bridge"`
	Manifest struct {
		Vendor  string `toml:"vendor"`
		Product string `toml:"product"`
	} `toml:"manifest"`
	CPorts []CPortConfig `toml:"cports"`
}

// Default is a standalone loopback node on a local TCP port.
func Default() NodeConfig {
	return NodeConfig{
		Name:        "gbnode",
		Mode:        ModeStandalone,
		MaxMessages: 64,
		Log:         LogConfig{Level: "info"},
		Link:        LinkConfig{Kind: LinkTCP, Addr: "127.0.0.1:4242", Baud: DefaultBaud, MaxPayload: 2048},
		Bridge:      BridgeConfig{MaxInterfaces: 8, MaxConnections: 32},
		Manifest:    ManifestConfig{Vendor: "danmuck", Product: "gbnode"},
		CPorts: []CPortConfig{
			{ID: 0, Protocol: "control", Bundle: 0},
			{ID: 1, Protocol: "loopback", Bundle: 1},
		},
	}
}

// Load reads path over Default. Keys absent from the file keep their
// default value.
func Load(path string) (NodeConfig, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return NodeConfig{}, fmt.Errorf("load node config: unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(raw.Mode)))
	}
	if meta.IsDefined("max_messages") {
		cfg.MaxMessages = raw.MaxMessages
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	if meta.IsDefined("link", "kind") {
		cfg.Link.Kind = LinkKind(strings.ToLower(strings.TrimSpace(raw.Link.Kind)))
	}
	if meta.IsDefined("link", "addr") {
		cfg.Link.Addr = strings.TrimSpace(raw.Link.Addr)
	}
	if meta.IsDefined("link", "device") {
		cfg.Link.Device = strings.TrimSpace(raw.Link.Device)
	}
	if meta.IsDefined("link", "baud") {
		cfg.Link.Baud = raw.Link.Baud
	}
	if meta.IsDefined("link", "max_payload") {
		cfg.Link.MaxPayload = raw.Link.MaxPayload
	}
	if meta.IsDefined("bridge", "max_interfaces") {
		cfg.Bridge.MaxInterfaces = raw.Bridge.MaxInterfaces
	}
	if meta.IsDefined("bridge", "max_connections") {
		cfg.Bridge.MaxConnections = raw.Bridge.MaxConnections
	}
	if meta.IsDefined("manifest", "vendor") {
		cfg.Manifest.Vendor = raw.Manifest.Vendor
	}
	if meta.IsDefined("manifest", "product") {
		cfg.Manifest.Product = raw.Manifest.Product
	}
	if meta.IsDefined("cports") {
		cfg.CPorts = normalizeCPorts(raw.CPorts)
	}

	if err := Validate(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func Validate(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("node config missing name")
	}
	switch cfg.Mode {
	case ModeStandalone, ModeBridge:
	default:
		return fmt.Errorf("node config: unknown mode %q", cfg.Mode)
	}
	if cfg.MaxMessages <= 0 {
		return fmt.Errorf("node config: max_messages must be positive")
	}
	switch cfg.Link.Kind {
	case LinkTCP:
		if cfg.Link.Addr == "" {
			return fmt.Errorf("link: tcp requires addr")
		}
	case LinkSerial:
		if cfg.Link.Device == "" {
			return fmt.Errorf("link: serial requires device")
		}
		if cfg.Link.Baud <= 0 {
			return fmt.Errorf("link: serial baud %d must be positive", cfg.Link.Baud)
		}
	case LinkStdio:
	default:
		return fmt.Errorf("link: unknown kind %q", cfg.Link.Kind)
	}
	if cfg.Link.MaxPayload <= 0 || cfg.Link.MaxPayload > 0xFFFF-8 {
		return fmt.Errorf("link: max_payload %d out of range", cfg.Link.MaxPayload)
	}
	if cfg.Mode == ModeBridge && cfg.Bridge.MaxInterfaces < 3 {
		return fmt.Errorf("bridge: max_interfaces must leave room for a node")
	}
	if len(cfg.CPorts) == 0 {
		return fmt.Errorf("node config: no cports")
	}
	seen := make(map[uint16]bool, len(cfg.CPorts))
	for i, c := range cfg.CPorts {
		if strings.TrimSpace(c.Protocol) == "" {
			return fmt.Errorf("cport[%d] invalid: protocol is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("cport[%d] invalid: duplicate id %d", i, c.ID)
		}
		seen[c.ID] = true
	}
	if cfg.CPorts[0].ID != 0 || cfg.CPorts[0].Protocol != "control" {
		return fmt.Errorf("node config: cport 0 must run the control protocol")
	}
	return nil
}

// CPortCount is the registry size needed to hold every configured cport.
func (c NodeConfig) CPortCount() int {
	max := 0
	for _, cp := range c.CPorts {
		if int(cp.ID)+1 > max {
			max = int(cp.ID) + 1
		}
	}
	return max
}

func normalizeCPorts(in []CPortConfig) []CPortConfig {
	out := make([]CPortConfig, 0, len(in))
	for _, c := range in {
		c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
