// Package pwm implements the greybus pwm protocol on top of a Controller.
package pwm

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
)

const (
	TypeCount      uint8 = 0x02
	TypeActivate   uint8 = 0x03
	TypeDeactivate uint8 = 0x04
	TypeConfig     uint8 = 0x05
	TypePolarity   uint8 = 0x06
	TypeEnable     uint8 = 0x07
	TypeDisable    uint8 = 0x08
)

// MaxChannels caps the generators exposed by one driver.
const MaxChannels = 16

var ErrNoChannels = errors.New("pwm: controller exposes no channels")

type channel struct {
	period   uint32
	duty     uint32
	polarity Polarity
}

// Driver keeps per-channel settings and applies them on enable.
type Driver struct {
	ctrl Controller

	mu       sync.Mutex
	channels []channel
}

func New(ctrl Controller) *Driver {
	return &Driver{ctrl: ctrl}
}

// Init sizes the channel table from the controller.
func (d *Driver) Init(n *greybus.Node, cport uint16) error {
	count := d.ctrl.Channels()
	if count <= 0 {
		return ErrNoChannels
	}
	if count > MaxChannels {
		log := n.Logger()
		log.Warn().Int("channels", count).Int("max", MaxChannels).Msg("pwm controller clamped")
		count = MaxChannels
	}
	d.mu.Lock()
	d.channels = make([]channel, count)
	d.mu.Unlock()
	log := n.Logger()
	log.Debug().Uint16("cport", cport).Int("channels", count).Msg("pwm ready")
	return nil
}

func (d *Driver) HandleOperation(n *greybus.Node, msg *message.Message, cport uint16) {
	if msg.IsResponse() {
		msg.Release()
		return
	}
	switch msg.Type() {
	case TypeCount:
		d.mu.Lock()
		count := len(d.channels)
		d.mu.Unlock()
		if count == 0 {
			_ = n.RespondError(msg, cport, ErrNoChannels)
			return
		}
		// the count field is one less than the number of generators
		_ = n.RespondSuccess(msg, cport, []byte{uint8(count - 1)})
	case TypeActivate, TypeDeactivate:
		_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
	case TypeConfig:
		d.config(n, msg, cport)
	case TypePolarity:
		d.polarity(n, msg, cport)
	case TypeEnable:
		d.enable(n, msg, cport)
	case TypeDisable:
		d.disable(n, msg, cport)
	default:
		_ = n.RejectUnknown(msg, cport)
	}
}

// config handles {which u8, duty le32, period le32}.
func (d *Driver) config(n *greybus.Node, msg *message.Message, cport uint16) {
	p := msg.Payload()
	if len(p) < 9 {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	d.mu.Lock()
	which := int(p[0])
	if which >= len(d.channels) {
		d.mu.Unlock()
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	d.channels[which].duty = binary.LittleEndian.Uint32(p[1:5])
	d.channels[which].period = binary.LittleEndian.Uint32(p[5:9])
	d.mu.Unlock()
	_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
}

// polarity handles {which u8, polarity u8}.
func (d *Driver) polarity(n *greybus.Node, msg *message.Message, cport uint16) {
	p := msg.Payload()
	if len(p) < 2 {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	d.mu.Lock()
	which := int(p[0])
	if which >= len(d.channels) {
		d.mu.Unlock()
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	d.channels[which].polarity = PolarityNormal
	if p[1] == 1 {
		d.channels[which].polarity = PolarityInverted
	}
	d.mu.Unlock()
	_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
}

func (d *Driver) enable(n *greybus.Node, msg *message.Message, cport uint16) {
	which, ch, ok := d.lookup(msg)
	if !ok {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	err := d.ctrl.Set(which, ch.period, ch.duty, ch.polarity)
	_ = n.RespondEmpty(msg, cport, protocol.ResultFromError(err))
}

func (d *Driver) disable(n *greybus.Node, msg *message.Message, cport uint16) {
	which, ch, ok := d.lookup(msg)
	if !ok {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	err := d.ctrl.Set(which, ch.period, 0, PolarityNormal)
	_ = n.RespondEmpty(msg, cport, protocol.ResultFromError(err))
}

// lookup reads the {which u8} request and snapshots that channel.
func (d *Driver) lookup(msg *message.Message) (int, channel, bool) {
	p := msg.Payload()
	if len(p) < 1 {
		return 0, channel{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	which := int(p[0])
	if which >= len(d.channels) {
		return 0, channel{}, false
	}
	return which, d.channels[which], true
}
