package protocol

// ResponseFlag marks the operation type of a response.
const ResponseFlag uint8 = 0x80

// TypeInvalid is never handled by any protocol.
const TypeInvalid uint8 = 0x7f

// ResponseType returns the response type paired with a request type.
func ResponseType(t uint8) uint8 {
	return t | ResponseFlag
}

// ProtocolID identifies a cport protocol in the manifest.
type ProtocolID uint8

const (
	ProtocolControl  ProtocolID = 0x00
	ProtocolGPIO     ProtocolID = 0x02
	ProtocolI2C      ProtocolID = 0x03
	ProtocolUART     ProtocolID = 0x04
	ProtocolPWM      ProtocolID = 0x09
	ProtocolSPI      ProtocolID = 0x0b
	ProtocolLoopback ProtocolID = 0x11
	ProtocolSVC      ProtocolID = 0x14
	ProtocolLog      ProtocolID = 0x1a
	ProtocolRaw      ProtocolID = 0xfe
	ProtocolVendor   ProtocolID = 0xff
)

// BundleClass identifies a bundle in the manifest.
type BundleClass uint8

const (
	ClassControl    BundleClass = 0x00
	ClassBridgedPHY BundleClass = 0x0a
	ClassLoopback   BundleClass = 0x11
	ClassLog        BundleClass = 0x17
	ClassRaw        BundleClass = 0xfe
	ClassVendor     BundleClass = 0xff
)
