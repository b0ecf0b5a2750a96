// Package control implements the greybus control protocol served on
// cport 0 of every interface.
package control

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
)

const (
	VersionMajor = 0
	VersionMinor = 1
)

const (
	TypeVersion               uint8 = 0x01
	TypeProbeAP               uint8 = 0x02
	TypeGetManifestSize       uint8 = 0x03
	TypeGetManifest           uint8 = 0x04
	TypeConnected             uint8 = 0x05
	TypeDisconnected          uint8 = 0x06
	TypeTimesyncEnable        uint8 = 0x07
	TypeTimesyncDisable       uint8 = 0x08
	TypeTimesyncAuthoritative uint8 = 0x09
	TypeBundleVersion         uint8 = 0x0b
	TypeDisconnecting         uint8 = 0x0c
	TypeTimesyncGetLastEvent  uint8 = 0x0d
	TypeModeSwitch            uint8 = 0x0e
	TypeBundleSuspend         uint8 = 0x0f
	TypeBundleResume          uint8 = 0x10
	TypeBundleDeactivate      uint8 = 0x11
	TypeBundleActivate        uint8 = 0x12
	TypeIntfSuspendPrepare    uint8 = 0x13
	TypeIntfDeactivatePrepare uint8 = 0x14
	TypeIntfHibernateAbort    uint8 = 0x15
)

// PMStatus is the status byte of bundle and interface power responses.
type PMStatus uint8

const (
	PMOk    PMStatus = 0x00
	PMInval PMStatus = 0x01
	PMBusy  PMStatus = 0x02
	PMNA    PMStatus = 0x03
	PMFail  PMStatus = 0x04
)

// Driver answers control requests from the host. The manifest is served
// verbatim; connected and disconnected requests drive the node's cport
// state.
type Driver struct {
	manifest []byte
}

func New(manifest []byte) *Driver {
	blob := make([]byte, len(manifest))
	copy(blob, manifest)
	return &Driver{manifest: blob}
}

// Manifest returns the blob served by get_manifest.
func (d *Driver) Manifest() []byte {
	return d.manifest
}

func (d *Driver) HandleOperation(n *greybus.Node, msg *message.Message, cport uint16) {
	if msg.IsResponse() {
		msg.Release()
		return
	}
	switch msg.Type() {
	case TypeVersion:
		_ = n.RespondSuccess(msg, cport, []byte{VersionMajor, VersionMinor})
	case TypeProbeAP:
		_ = n.RespondSuccess(msg, cport, []byte{0, 0})
	case TypeGetManifestSize:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(len(d.manifest)))
		_ = n.RespondSuccess(msg, cport, buf)
	case TypeGetManifest:
		_ = n.RespondSuccess(msg, cport, d.manifest)
	case TypeConnected:
		d.connection(n, msg, cport, greybus.EventConnected)
	case TypeDisconnected:
		d.connection(n, msg, cport, greybus.EventDisconnected)
	case TypeDisconnecting, TypeModeSwitch,
		TypeTimesyncEnable, TypeTimesyncDisable, TypeTimesyncAuthoritative:
		_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
	case TypeBundleVersion:
		bundle, ok := bundleID(msg)
		if !ok {
			_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
			return
		}
		_ = n.RespondSuccess(msg, cport, []byte{bundle, VersionMajor, VersionMinor})
	case TypeBundleSuspend, TypeBundleResume, TypeBundleDeactivate, TypeBundleActivate:
		if _, ok := bundleID(msg); !ok {
			_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
			return
		}
		_ = n.RespondSuccess(msg, cport, []byte{byte(PMOk)})
	case TypeIntfSuspendPrepare, TypeIntfDeactivatePrepare, TypeIntfHibernateAbort:
		_ = n.RespondSuccess(msg, cport, []byte{byte(PMOk)})
	default:
		_ = n.RejectUnknown(msg, cport)
	}
}

func (d *Driver) connection(n *greybus.Node, msg *message.Message, cport uint16, event greybus.Event) {
	payload := msg.Payload()
	if len(payload) < 2 {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	target := binary.LittleEndian.Uint16(payload)
	if err := n.Notify(target, event); err != nil {
		log := n.Logger()
		log.Warn().Err(err).Uint16("target", target).Stringer("event", event).Msg("control connection event failed")
		_ = n.RespondError(msg, cport, fmt.Errorf("control %s cport %d: %w", event, target, err))
		return
	}
	_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
}

func bundleID(msg *message.Message) (uint8, bool) {
	payload := msg.Payload()
	if len(payload) < 1 {
		return 0, false
	}
	return payload[0], true
}
