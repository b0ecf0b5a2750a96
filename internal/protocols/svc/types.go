package svc

const (
	VersionMajor = 0
	VersionMinor = 1
)

// SVC operation types.
const (
	TypeProtocolVersion   uint8 = 0x01
	TypeHello             uint8 = 0x02
	TypeIntfDeviceID      uint8 = 0x03
	TypeIntfReset         uint8 = 0x06
	TypeConnCreate        uint8 = 0x07
	TypeConnDestroy       uint8 = 0x08
	TypeDMEPeerGet        uint8 = 0x09
	TypeDMEPeerSet        uint8 = 0x0a
	TypeRouteCreate       uint8 = 0x0b
	TypeRouteDestroy      uint8 = 0x0c
	TypeIntfSetPwrm       uint8 = 0x10
	TypeIntfEject         uint8 = 0x11
	TypePing              uint8 = 0x13
	TypeConnQuiescing     uint8 = 0x1e
	TypeModuleInserted    uint8 = 0x1f
	TypeModuleRemoved     uint8 = 0x20
	TypeIntfVsysEnable    uint8 = 0x21
	TypeIntfVsysDisable   uint8 = 0x22
	TypeIntfRefclkEnable  uint8 = 0x23
	TypeIntfRefclkDisable uint8 = 0x24
	TypeIntfUniproEnable  uint8 = 0x25
	TypeIntfUniproDisable uint8 = 0x26
	TypeIntfActivate      uint8 = 0x27
	TypeIntfResume        uint8 = 0x28
)

const (
	connCreateSize  = 8
	connDestroySize = 6

	// setPwrmLocal is the set_pwrm result for a locally applied mode.
	setPwrmLocal = 0x01
	// intfTypeGreybus is the intf_activate type of a greybus interface.
	intfTypeGreybus = 0x03
)

// DefaultEndoID is sent in the hello request.
const DefaultEndoID uint16 = 0x4755
