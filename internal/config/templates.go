package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "standalone", "":
		return standaloneTemplate, nil
	case "bridge":
		return bridgeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const standaloneTemplate = `name = "gbnode"
mode = "standalone"
max_messages = 64
metrics_addr = "127.0.0.1:9464"

[log]
level = "info"

[link]
kind = "tcp"
addr = "127.0.0.1:4242"
max_payload = 2048

[manifest]
vendor = "danmuck"
product = "gbnode"

[[cports]]
id = 0
protocol = "control"
bundle = 0

[[cports]]
id = 1
protocol = "loopback"
bundle = 1

[[cports]]
id = 2
protocol = "pwm"
bundle = 2
[cports.args]
channels = "4"

[[cports]]
id = 3
protocol = "log"
bundle = 3
`

const bridgeTemplate = `name = "gbbridge"
mode = "bridge"
max_messages = 128

[log]
level = "info"

[link]
kind = "serial"
device = "/dev/ttyACM0"
baud = 115200
max_payload = 2048

[bridge]
max_interfaces = 8
max_connections = 32

[manifest]
vendor = "danmuck"
product = "gbnode"

[[cports]]
id = 0
protocol = "control"
bundle = 0

[[cports]]
id = 1
protocol = "loopback"
bundle = 1
`
