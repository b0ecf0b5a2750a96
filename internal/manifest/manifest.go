package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/greybus/internal/protocol"
)

const (
	VersionMajor = 0
	VersionMinor = 1

	headerSize     = 4
	descHeaderSize = 4
	maxSize        = 0xFFFF
)

// DescriptorType tags each descriptor in the blob.
type DescriptorType uint8

const (
	DescInvalid   DescriptorType = 0
	DescInterface DescriptorType = 1
	DescString    DescriptorType = 2
	DescBundle    DescriptorType = 3
	DescCPort     DescriptorType = 4
)

var (
	ErrTooLarge        = errors.New("manifest: blob exceeds 64KiB")
	ErrStringTooLong   = errors.New("manifest: string longer than 255 bytes")
	ErrUnknownBundle   = errors.New("manifest: cport references unknown bundle")
	ErrDuplicateCPort  = errors.New("manifest: duplicate cport")
	ErrDuplicateBundle = errors.New("manifest: duplicate bundle")
	ErrMalformed       = errors.New("manifest: malformed blob")
)

// Bundle is one function group of the interface.
type Bundle struct {
	ID    uint8
	Class protocol.BundleClass
}

// CPort binds a cport number to a bundle and the protocol it speaks.
type CPort struct {
	ID       uint16
	Bundle   uint8
	Protocol protocol.ProtocolID
}

// Description is the decoded content of a manifest.
type Description struct {
	Vendor  string
	Product string
	Bundles []Bundle
	CPorts  []CPort
}

// Build encodes d. The vendor and product strings get string ids 1 and 2;
// bundle 0 is the control bundle and is added when absent.
func Build(d Description) ([]byte, error) {
	if err := validate(d); err != nil {
		return nil, err
	}
	bundles := withControlBundle(d.Bundles)

	body := make([]byte, 0, 128)
	vendorID, productID := uint8(0), uint8(0)
	if d.Vendor != "" {
		vendorID = 1
	}
	if d.Product != "" {
		productID = 2
	}
	body = appendDescriptor(body, DescInterface, []byte{vendorID, productID, 0, 0})
	if vendorID != 0 {
		body = appendDescriptor(body, DescString, stringBody(vendorID, d.Vendor))
	}
	if productID != 0 {
		body = appendDescriptor(body, DescString, stringBody(productID, d.Product))
	}
	for _, b := range bundles {
		body = appendDescriptor(body, DescBundle, []byte{b.ID, byte(b.Class), 0, 0})
	}
	for _, c := range d.CPorts {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint16(buf[0:2], c.ID)
		buf[2] = c.Bundle
		buf[3] = byte(c.Protocol)
		body = appendDescriptor(body, DescCPort, buf)
	}

	total := headerSize + len(body)
	if total > maxSize {
		return nil, ErrTooLarge
	}
	out := make([]byte, headerSize, total)
	binary.LittleEndian.PutUint16(out[0:2], uint16(total))
	out[2] = VersionMajor
	out[3] = VersionMinor
	return append(out, body...), nil
}

// Parse decodes a blob produced by Build or by any conforming interface.
// Unknown descriptor types are skipped.
func Parse(blob []byte) (Description, error) {
	var d Description
	if len(blob) < headerSize {
		return d, fmt.Errorf("%w: short header", ErrMalformed)
	}
	size := int(binary.LittleEndian.Uint16(blob[0:2]))
	if size != len(blob) {
		return d, fmt.Errorf("%w: header size %d, blob %d", ErrMalformed, size, len(blob))
	}
	if blob[2] != VersionMajor {
		return d, fmt.Errorf("%w: version %d.%d", ErrMalformed, blob[2], blob[3])
	}

	strs := make(map[uint8]string)
	var vendorID, productID uint8
	rest := blob[headerSize:]
	for len(rest) > 0 {
		if len(rest) < descHeaderSize {
			return d, fmt.Errorf("%w: truncated descriptor", ErrMalformed)
		}
		dsize := int(binary.LittleEndian.Uint16(rest[0:2]))
		if dsize < descHeaderSize || dsize > len(rest) {
			return d, fmt.Errorf("%w: descriptor size %d", ErrMalformed, dsize)
		}
		typ := DescriptorType(rest[2])
		b := rest[descHeaderSize:dsize]
		switch typ {
		case DescInterface:
			if len(b) < 2 {
				return d, fmt.Errorf("%w: interface descriptor", ErrMalformed)
			}
			vendorID, productID = b[0], b[1]
		case DescString:
			if len(b) < 2 || int(b[0]) > len(b)-2 {
				return d, fmt.Errorf("%w: string descriptor", ErrMalformed)
			}
			strs[b[1]] = string(b[2 : 2+int(b[0])])
		case DescBundle:
			if len(b) < 2 {
				return d, fmt.Errorf("%w: bundle descriptor", ErrMalformed)
			}
			d.Bundles = append(d.Bundles, Bundle{ID: b[0], Class: protocol.BundleClass(b[1])})
		case DescCPort:
			if len(b) < 4 {
				return d, fmt.Errorf("%w: cport descriptor", ErrMalformed)
			}
			d.CPorts = append(d.CPorts, CPort{
				ID:       binary.LittleEndian.Uint16(b[0:2]),
				Bundle:   b[2],
				Protocol: protocol.ProtocolID(b[3]),
			})
		}
		rest = rest[dsize:]
	}
	d.Vendor = strs[vendorID]
	d.Product = strs[productID]
	return d, nil
}

func validate(d Description) error {
	if len(d.Vendor) > 0xFF || len(d.Product) > 0xFF {
		return ErrStringTooLong
	}
	bundles := map[uint8]bool{0: true}
	seen := make(map[uint8]bool, len(d.Bundles))
	for _, b := range d.Bundles {
		if seen[b.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateBundle, b.ID)
		}
		seen[b.ID] = true
		bundles[b.ID] = true
	}
	cports := make(map[uint16]bool, len(d.CPorts))
	for _, c := range d.CPorts {
		if cports[c.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateCPort, c.ID)
		}
		cports[c.ID] = true
		if !bundles[c.Bundle] {
			return fmt.Errorf("%w: cport %d bundle %d", ErrUnknownBundle, c.ID, c.Bundle)
		}
	}
	return nil
}

func withControlBundle(in []Bundle) []Bundle {
	out := make([]Bundle, 0, len(in)+1)
	hasControl := false
	for _, b := range in {
		if b.ID == 0 {
			hasControl = true
		}
		out = append(out, b)
	}
	if !hasControl {
		out = append(out, Bundle{ID: 0, Class: protocol.ClassControl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func stringBody(id uint8, s string) []byte {
	b := make([]byte, 2, 2+len(s))
	b[0] = uint8(len(s))
	b[1] = id
	return append(b, s...)
}

// appendDescriptor writes a descriptor header and body, padding the
// descriptor to a multiple of four bytes.
func appendDescriptor(dst []byte, typ DescriptorType, body []byte) []byte {
	size := descHeaderSize + len(body)
	size = (size + 3) &^ 3
	hdr := make([]byte, descHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(size))
	hdr[2] = byte(typ)
	dst = append(dst, hdr...)
	dst = append(dst, body...)
	for pad := size - descHeaderSize - len(body); pad > 0; pad-- {
		dst = append(dst, 0)
	}
	return dst
}
