package cemi

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxlink/address"
)

func errIllegalTPDULength(got, max int) error {
	return fmt.Errorf("%w: TPDU length %d out of range (max %d)", ErrIllegalArgument, got, max)
}

// ctrl1 bit layout (shared by standard and extended L-Data).
const (
	ctrl1FrameTypeBit  = 0x80 // 1 = standard frame, 0 = extended frame
	ctrl1DoNotRepeat   = 0x20
	ctrl1SysBroadcast  = 0x10
	ctrl1PriorityShift = 2
	ctrl1PriorityMask  = 0x03
	ctrl1AckRequested  = 0x02
	ctrl1Confirm       = 0x01

	// validCtrl1Mask isolates the reserved/system-broadcast/ack/confirm bits
	// that must read as 0x10 for a well-formed TP1/PL110 L-Data frame.
	validCtrl1Mask  = 0x53
	validCtrl1Value = 0x10
)

// ctrl2 bit layout.
const (
	ctrl2AddressType = 0x80 // 1 = group destination, 0 = individual destination
	ctrl2HopShift    = 4
	ctrl2HopMask     = 0x07
	ctrl2LTEMask     = 0x0C
	ctrl2LTEValue    = 0x04
	ctrl2LTETagMask  = 0x03
)

// standardFrameShortLimit is the length below which the decoder first
// attempts the standard layout before falling back to extended (§4.B).
const standardFrameShortLimit = 26

// maxStandardTPDU is the largest TPDU a standard (non-extended) L-Data frame
// may carry.
const maxStandardTPDU = 16

// maxExtendedTPDU is the largest TPDU an extended L-Data frame may carry;
// 255 is reserved as an escape length.
const maxExtendedTPDU = 254

// LData is a standard (non-extended) L-Data frame: no additional
// information, TPDU of at most 16 bytes. It is an immutable value.
type LData struct {
	MC              MessageCode
	Source          address.IndividualAddress
	GroupDest       bool
	Dest            uint16
	Priority        address.Priority
	HopCount        uint8
	DoNotRepeat     bool
	SystemBroadcast bool
	AckRequested    bool
	Confirm         bool
	Tpdu            []byte
}

// NewLData builds a standard L-Data frame, rejecting a TPDU that would not
// fit the 4-bit length field reserved for standard frames.
func NewLData(mc MessageCode, source address.IndividualAddress, groupDest bool, dest uint16,
	priority address.Priority, hop uint8, tpdu []byte) (LData, error) {
	if len(tpdu) == 0 || len(tpdu) > maxStandardTPDU {
		return LData{}, errIllegalTPDULength(len(tpdu), maxStandardTPDU)
	}
	return LData{
		MC:       mc,
		Source:   source,
		GroupDest: groupDest,
		Dest:     dest,
		Priority: priority,
		HopCount: hop,
		Tpdu:     append([]byte(nil), tpdu...),
	}, nil
}

// GroupAddress returns the destination as a group address. Call only when
// GroupDest is true.
func (f LData) GroupAddress() address.GroupAddress { return address.GroupAddressFromRaw(f.Dest) }

// IndividualAddress returns the destination as an individual address. Call
// only when GroupDest is false.
func (f LData) IndividualAddress() address.IndividualAddress {
	return address.IndividualAddress(f.Dest)
}

// MessageCode implements Frame.
func (f LData) MessageCode() MessageCode { return f.MC }

// StructLength implements Frame.
func (f LData) StructLength() int { return 9 + len(f.Tpdu) }

func (f LData) ctrl1() byte {
	// ctrl1SysBroadcast is asserted for a normal (non-system) broadcast and
	// clear for a system broadcast, so it defaults on and is cleared only
	// when SystemBroadcast is requested.
	var c byte = ctrl1FrameTypeBit | ctrl1SysBroadcast
	if f.DoNotRepeat {
		c |= ctrl1DoNotRepeat
	}
	if f.SystemBroadcast {
		c &^= ctrl1SysBroadcast
	}
	c |= byte(f.Priority&ctrl1PriorityMask) << ctrl1PriorityShift
	if f.AckRequested {
		c |= ctrl1AckRequested
	}
	if f.Confirm {
		c |= ctrl1Confirm
	}
	return c
}

// ToBytes implements Frame.
func (f LData) ToBytes() []byte {
	buf := make([]byte, f.StructLength())
	buf[0] = byte(f.MC)
	buf[1] = 0 // no additional info
	buf[2] = f.ctrl1()
	buf[3] = packCtrl2(f.GroupDest, f.HopCount, 0)
	binary.BigEndian.PutUint16(buf[4:6], f.Source.Raw())
	binary.BigEndian.PutUint16(buf[6:8], f.Dest)
	buf[8] = byte(len(f.Tpdu) - 1)
	copy(buf[9:], f.Tpdu)
	return buf
}

// packCtrl2 builds ctrl2 from its three sub-fields.
func packCtrl2(groupDest bool, hop uint8, lteNibble byte) byte {
	var c byte
	if groupDest {
		c |= ctrl2AddressType
	}
	c |= (hop & ctrl2HopMask) << ctrl2HopShift
	c |= lteNibble & 0x0F
	return c
}

func unpackHop(ctrl2 byte) uint8   { return (ctrl2 >> ctrl2HopShift) & ctrl2HopMask }
func unpackIsLTE(ctrl2 byte) bool  { return ctrl2&ctrl2LTEMask == ctrl2LTEValue }
func unpackLTETag(ctrl2 byte) byte { return ctrl2 & ctrl2LTETagMask }
