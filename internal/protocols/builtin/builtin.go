// Package builtin registers the drivers shipped with gbnode.
package builtin

import (
	"fmt"
	"strconv"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocols"
	"github.com/danmuck/greybus/internal/protocols/control"
	"github.com/danmuck/greybus/internal/protocols/gblog"
	"github.com/danmuck/greybus/internal/protocols/loopback"
	"github.com/danmuck/greybus/internal/protocols/pwm"
)

const (
	Control  = "control"
	Loopback = "loopback"
	PWM      = "pwm"
	Log      = "log"
)

// DefaultPWMChannels sizes the simulated controller when no "channels"
// argument is given.
const DefaultPWMChannels = 4

// Registry returns a registry holding every builtin driver.
func Registry() *protocols.Registry {
	r := protocols.NewRegistry()
	must(r.Register(protocols.Metadata{
		ID:          Control,
		Name:        "Control",
		Description: "interface control: version, manifest and connection events",
		Protocol:    protocol.ProtocolControl,
		Class:       protocol.ClassControl,
	}, func(env protocols.Env) (greybus.Driver, error) {
		return control.New(env.Manifest), nil
	}))
	must(r.Register(protocols.Metadata{
		ID:          Loopback,
		Name:        "Loopback",
		Description: "ping, transfer and sink for link testing",
		Protocol:    protocol.ProtocolLoopback,
		Class:       protocol.ClassLoopback,
	}, func(protocols.Env) (greybus.Driver, error) {
		return loopback.New(), nil
	}))
	must(r.Register(protocols.Metadata{
		ID:          PWM,
		Name:        "PWM",
		Description: "pwm generators backed by a simulated controller",
		Protocol:    protocol.ProtocolPWM,
		Class:       protocol.ClassBridgedPHY,
	}, func(env protocols.Env) (greybus.Driver, error) {
		channels := DefaultPWMChannels
		if raw, ok := env.Args["channels"]; ok {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 || v > pwm.MaxChannels {
				return nil, fmt.Errorf("%w: channels %q", protocol.ErrInvalid, raw)
			}
			channels = v
		}
		return pwm.New(pwm.NewSimController(channels)), nil
	}))
	must(r.Register(protocols.Metadata{
		ID:          Log,
		Name:        "Log",
		Description: "text log lines pushed to the host",
		Protocol:    protocol.ProtocolLog,
		Class:       protocol.ClassLog,
	}, func(protocols.Env) (greybus.Driver, error) {
		return gblog.New(), nil
	}))
	return r
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
