// Package process implements the group-communication coordinator: building
// and extracting group-service APDUs, multiplexing outstanding group reads
// over a shared network link, and fanning inbound indications out to
// listeners.
package process

import "fmt"

// Service identifies a group-communication service (§4.E).
type Service uint16

// Group services, encoded in the high ten bits of the two-byte APDU header.
const (
	ServiceGroupRead     Service = 0x000
	ServiceGroupResponse Service = 0x040
	ServiceGroupWrite    Service = 0x080
)

const asduMask = 0x3F

// BuildGroupRead returns the fixed two-byte GroupRead APDU.
func BuildGroupRead() []byte {
	return []byte{0x00, 0x00}
}

// BuildGroupAPDU encodes a GroupResponse or GroupWrite APDU. When optimized
// is true (the caller's value is a single item of type size zero),
// optimizedValue, which must be below 64, is packed into the low six bits of
// byte 1 (length-optimized form, §4.E) and data is ignored; otherwise data
// follows the two service bytes verbatim.
func BuildGroupAPDU(service Service, optimized bool, optimizedValue byte, data []byte) ([]byte, error) {
	if service != ServiceGroupResponse && service != ServiceGroupWrite {
		return nil, fmt.Errorf("%w: service must be GroupResponse or GroupWrite", ErrIllegalArgument)
	}
	if optimized {
		if optimizedValue > asduMask {
			return nil, fmt.Errorf("%w: optimized value %d exceeds 6 bits", ErrIllegalArgument, optimizedValue)
		}
		hi := byte(service >> 8)
		lo := byte(service) | optimizedValue
		return []byte{hi, lo}, nil
	}
	hi := byte(service >> 8)
	lo := byte(service)
	apdu := make([]byte, 0, 2+len(data))
	apdu = append(apdu, hi, lo)
	apdu = append(apdu, data...)
	return apdu, nil
}

// ParsedGroupAPDU is the decoded content of an inbound group-service APDU.
type ParsedGroupAPDU struct {
	Service   Service
	Optimized bool
	// ASDU is the application service data unit: for a length-optimized
	// APDU this is the single 6-bit value masked into its own byte; for a
	// normal APDU it is the raw bytes following the two service bytes.
	ASDU []byte
}

// ParseGroupAPDU decodes a raw APDU's service code and extracts its ASDU,
// honoring the length-optimized encoding (§4.E).
func ParseGroupAPDU(apdu []byte) (ParsedGroupAPDU, error) {
	if len(apdu) < 2 {
		return ParsedGroupAPDU{}, fmt.Errorf("%w: APDU shorter than 2 bytes", ErrFormat)
	}
	service := Service(uint16(apdu[0])<<8 | uint16(apdu[1]&^asduMask))
	switch service {
	case ServiceGroupRead, ServiceGroupResponse, ServiceGroupWrite:
	default:
		return ParsedGroupAPDU{}, fmt.Errorf("%w: unknown group service 0x%03X", ErrFormat, service)
	}

	if service == ServiceGroupRead {
		return ParsedGroupAPDU{Service: service}, nil
	}

	if len(apdu) == 2 {
		return ParsedGroupAPDU{
			Service:   service,
			Optimized: true,
			ASDU:      []byte{apdu[1] & asduMask},
		}, nil
	}
	return ParsedGroupAPDU{
		Service: service,
		ASDU:    append([]byte(nil), apdu[2:]...),
	}, nil
}
