package cemi

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxlink/address"
)

// LDataExtended is an extended L-Data frame: it may carry an
// additional-information block and a TPDU of up to 254 bytes, and may tag
// an LTE (local/system extended) destination instead of a plain
// group/individual address.
//
// Unlike every other frame variant, LDataExtended wraps a pointer to a
// mutex-guarded additional-info list (§5) rather than a plain slice, so a
// caller can append routing/extended-timestamp info to an already-built
// frame without racing a concurrent encode.
type LDataExtended struct {
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
	IsLTE           bool
	LTETag          byte
	Tpdu            []byte

	addInfo *additionalInfoList
}

// NewLDataExtended builds an extended L-Data frame with an empty
// additional-info list.
func NewLDataExtended(mc MessageCode, source address.IndividualAddress, groupDest bool, dest uint16,
	priority address.Priority, hop uint8, tpdu []byte) (*LDataExtended, error) {
	if len(tpdu) == 0 || len(tpdu) > maxExtendedTPDU {
		return nil, errIllegalTPDULength(len(tpdu), maxExtendedTPDU)
	}
	return &LDataExtended{
		MC:       mc,
		Source:   source,
		GroupDest: groupDest,
		Dest:     dest,
		Priority: priority,
		HopCount: hop,
		Tpdu:     append([]byte(nil), tpdu...),
		addInfo:  newAdditionalInfoList(nil),
	}, nil
}

// AddInfo appends an additional-information entry under the frame's lock.
func (f *LDataExtended) AddInfo(info AdditionalInfo) {
	if f.addInfo == nil {
		f.addInfo = newAdditionalInfoList(nil)
	}
	f.addInfo.Add(info)
}

// AdditionalInfo returns a snapshot of the frame's additional-info entries.
func (f *LDataExtended) AdditionalInfo() []AdditionalInfo {
	if f.addInfo == nil {
		return nil
	}
	return f.addInfo.Entries()
}

func (f *LDataExtended) GroupAddress() address.GroupAddress {
	return address.GroupAddressFromRaw(f.Dest)
}

func (f *LDataExtended) IndividualAddress() address.IndividualAddress {
	return address.IndividualAddress(f.Dest)
}

// MessageCode implements Frame.
func (f *LDataExtended) MessageCode() MessageCode { return f.MC }

// StructLength implements Frame.
func (f *LDataExtended) StructLength() int {
	addInfoLen := 1 // an absent list still encodes as its 1-byte zero length
	if f.addInfo != nil {
		if enc, err := f.addInfo.encode(); err == nil {
			addInfoLen = len(enc) // includes its own 1-byte length prefix
		}
	}
	return addInfoLen + 8 + len(f.Tpdu)
}

func (f *LDataExtended) ctrl1() byte {
	// bit7 stays clear: this is the extended frame marker. ctrl1SysBroadcast
	// defaults on (normal broadcast) and is cleared for a system broadcast.
	var c byte = ctrl1SysBroadcast
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

func (f *LDataExtended) ctrl2() byte {
	if f.IsLTE {
		return packCtrl2(f.GroupDest, f.HopCount, ctrl2LTEValue|(f.LTETag&ctrl2LTETagMask))
	}
	return packCtrl2(f.GroupDest, f.HopCount, 0)
}

// ToBytes implements Frame.
func (f *LDataExtended) ToBytes() []byte {
	addInfo := []byte{0}
	if f.addInfo != nil {
		if enc, err := f.addInfo.encode(); err == nil {
			addInfo = enc
		}
	}
	buf := make([]byte, 0, 1+len(addInfo)+6+1+len(f.Tpdu))
	buf = append(buf, byte(f.MC))
	buf = append(buf, addInfo...)
	buf = append(buf, f.ctrl1(), f.ctrl2())
	var srcDst [4]byte
	binary.BigEndian.PutUint16(srcDst[0:2], f.Source.Raw())
	binary.BigEndian.PutUint16(srcDst[2:4], f.Dest)
	buf = append(buf, srcDst[:]...)
	buf = append(buf, byte(len(f.Tpdu)-1))
	buf = append(buf, f.Tpdu...)
	return buf
}

// parseLData decodes a standard or extended L-Data frame, per §4.B's
// fallback rule: the candidate is parsed as a standard frame first; any
// structural rejection (non-zero additional info, extended frame-type bit,
// or a TPDU over the standard cap) falls back to the extended layout.
func parseLData(data []byte) (Frame, error) {
	if len(data) < 9 {
		return nil, fmt.Errorf("%w: L-Data frame too short (%d bytes)", ErrFormat, len(data))
	}
	mc := MessageCode(data[0])
	addInfoLen := int(data[1])

	if addInfoLen == 0 && len(data) < standardFrameShortLimit {
		if frame, err := tryParseStandard(mc, data); err == nil {
			return frame, nil
		}
	}
	return parseLDataExtended(mc, data, addInfoLen)
}

func tryParseStandard(mc MessageCode, data []byte) (Frame, error) {
	// data[1] == addInfoLen == 0 already checked by caller.
	rest := data[2:]
	if len(rest) < 7 {
		return nil, fmt.Errorf("%w: truncated standard L-Data", ErrFormat)
	}
	ctrl1 := rest[0]
	ctrl2 := rest[1]
	if ctrl1&ctrl1FrameTypeBit == 0 {
		return nil, fmt.Errorf("%w: extended frame-type bit set", ErrFormat)
	}
	if ctrl1&validCtrl1Mask != validCtrl1Value {
		return nil, fmt.Errorf("%w: invalid ctrl1 0x%02X", ErrFormat, ctrl1)
	}
	tpduLen := int(rest[6]) + 1
	if tpduLen > maxStandardTPDU {
		return nil, fmt.Errorf("%w: TPDU too long for standard frame (%d)", ErrFormat, tpduLen)
	}
	if len(rest) < 7+tpduLen {
		return nil, fmt.Errorf("%w: truncated TPDU", ErrFormat)
	}

	f := LData{
		MC:              mc,
		Source:          address.IndividualAddress(binary.BigEndian.Uint16(rest[2:4])),
		GroupDest:       ctrl2&ctrl2AddressType != 0,
		Dest:            binary.BigEndian.Uint16(rest[4:6]),
		Priority:        address.Priority((ctrl1 >> ctrl1PriorityShift) & ctrl1PriorityMask),
		HopCount:        unpackHop(ctrl2),
		DoNotRepeat:     ctrl1&ctrl1DoNotRepeat != 0,
		SystemBroadcast: ctrl1&ctrl1SysBroadcast == 0,
		AckRequested:    ctrl1&ctrl1AckRequested != 0,
		Confirm:         ctrl1&ctrl1Confirm != 0,
		Tpdu:            append([]byte(nil), rest[7:7+tpduLen]...),
	}
	return f, nil
}

func parseLDataExtended(mc MessageCode, data []byte, addInfoLen int) (Frame, error) {
	if len(data) < 2+addInfoLen {
		return nil, fmt.Errorf("%w: truncated additional info", ErrFormat)
	}
	infos, err := parseAdditionalInfo(data[2:], addInfoLen)
	if err != nil {
		return nil, err
	}
	rest := data[2+addInfoLen:]
	if len(rest) < 7 {
		return nil, fmt.Errorf("%w: truncated extended L-Data", ErrFormat)
	}
	ctrl1 := rest[0]
	ctrl2 := rest[1]
	if ctrl1&validCtrl1Mask != validCtrl1Value {
		return nil, fmt.Errorf("%w: invalid ctrl1 0x%02X", ErrFormat, ctrl1)
	}
	tpduLen := int(rest[6]) + 1
	if tpduLen > maxExtendedTPDU {
		return nil, fmt.Errorf("%w: TPDU too long (%d)", ErrFormat, tpduLen)
	}
	if len(rest) < 7+tpduLen {
		return nil, fmt.Errorf("%w: truncated TPDU", ErrFormat)
	}

	f := &LDataExtended{
		MC:              mc,
		Source:          address.IndividualAddress(binary.BigEndian.Uint16(rest[2:4])),
		GroupDest:       ctrl2&ctrl2AddressType != 0,
		Dest:            binary.BigEndian.Uint16(rest[4:6]),
		Priority:        address.Priority((ctrl1 >> ctrl1PriorityShift) & ctrl1PriorityMask),
		HopCount:        unpackHop(ctrl2),
		DoNotRepeat:     ctrl1&ctrl1DoNotRepeat != 0,
		SystemBroadcast: ctrl1&ctrl1SysBroadcast == 0,
		AckRequested:    ctrl1&ctrl1AckRequested != 0,
		Confirm:         ctrl1&ctrl1Confirm != 0,
		IsLTE:           unpackIsLTE(ctrl2),
		LTETag:          unpackLTETag(ctrl2),
		Tpdu:            append([]byte(nil), rest[7:7+tpduLen]...),
		addInfo:         newAdditionalInfoList(infos),
	}
	return f, nil
}
