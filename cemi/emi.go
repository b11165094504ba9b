package cemi

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxlink/address"
)

// EMI1 and EMI2 predate cEMI: their L-Data frames have no additional-info
// length byte (ctrl1 immediately follows the message code) and use a
// separate message-code space that folds the system-broadcast flag into
// the code itself rather than a ctrl1 bit (§4.B).
const (
	emiLDataReq        = 0x11 // shared with cEMI; no translation needed
	emiLDataReqSysBcast = 0x15
	emiLDataCon        = 0x4E
	emiLDataConSysBcast = 0x4C
	emiLDataInd        = 0x49 // preferred reading over EMI1 busmonitor on the same code
	emiLDataIndSysBcast = 0x4D
)

// reservedEmiCtrlBits is the fixed bit pattern ("two reserved control bits",
// plus the already-implied standard-frame bit) a non-conforming USB stick
// expects forced high on every outbound EMI frame (§6,
// cemi.setReservedEmiCtrlBits).
const reservedEmiCtrlBits = 0xB0

// toEMICode maps a cEMI L-Data message code and its system-broadcast flag
// to the corresponding EMI1/EMI2 message code.
func toEMICode(mc MessageCode, systemBroadcast bool) (byte, error) {
	switch mc {
	case LDataReq:
		if systemBroadcast {
			return emiLDataReqSysBcast, nil
		}
		return emiLDataReq, nil
	case LDataCon:
		if systemBroadcast {
			return emiLDataConSysBcast, nil
		}
		return emiLDataCon, nil
	case LDataInd:
		if systemBroadcast {
			return emiLDataIndSysBcast, nil
		}
		return emiLDataInd, nil
	default:
		return 0, fmt.Errorf("%w: message code %v has no EMI1/2 translation", ErrIllegalArgument, mc)
	}
}

// fromEMICode is the inverse of toEMICode.
func fromEMICode(emiCode byte) (mc MessageCode, systemBroadcast bool, err error) {
	switch emiCode {
	case emiLDataReq:
		return LDataReq, false, nil
	case emiLDataReqSysBcast:
		return LDataReq, true, nil
	case emiLDataCon:
		return LDataCon, false, nil
	case emiLDataConSysBcast:
		return LDataCon, true, nil
	case emiLDataInd:
		return LDataInd, false, nil
	case emiLDataIndSysBcast:
		return LDataInd, true, nil
	default:
		return 0, false, fmt.Errorf("%w: unrecognised EMI1/2 message code 0x%02X", ErrFormat, emiCode)
	}
}

// ToEMI translates a standard L-Data frame to its EMI1/EMI2 wire form: the
// message code is remapped per the system-broadcast-carrying code space and
// the additional-info length byte is dropped. EMI carries at most a 16-byte
// TPDU; longer frames are rejected, since EMI has no extended layout.
//
// forceReservedCtrlBits implements the cemi.setReservedEmiCtrlBits
// workaround: it forces the frame-type, do-not-repeat, and
// normal-broadcast bits of ctrl1 high, overriding whatever the frame
// itself requested, to satisfy non-conforming USB sticks.
func ToEMI(f LData, forceReservedCtrlBits bool) ([]byte, error) {
	if len(f.Tpdu) == 0 || len(f.Tpdu) > maxStandardTPDU {
		return nil, errIllegalTPDULength(len(f.Tpdu), maxStandardTPDU)
	}
	code, err := toEMICode(f.MC, f.SystemBroadcast)
	if err != nil {
		return nil, err
	}

	// The system-broadcast flag travels in the message code, so ctrl1 keeps
	// its broadcast bit set.
	ctrl1 := f.ctrl1() | ctrl1SysBroadcast
	if forceReservedCtrlBits {
		ctrl1 |= reservedEmiCtrlBits
	}

	// code, ctrl1, source, destination, then one NPCI byte carrying the
	// address type, hop count and TPDU length minus one.
	buf := make([]byte, 0, 7+len(f.Tpdu))
	buf = append(buf, code, ctrl1)
	var srcDst [4]byte
	binary.BigEndian.PutUint16(srcDst[0:2], f.Source.Raw())
	binary.BigEndian.PutUint16(srcDst[2:4], f.Dest)
	buf = append(buf, srcDst[:]...)
	buf = append(buf, packCtrl2(f.GroupDest, f.HopCount, byte(len(f.Tpdu)-1)))
	buf = append(buf, f.Tpdu...)
	return buf, nil
}

// FromEMI decodes an EMI1/EMI2 L-Data frame into its cEMI-equivalent
// standard LData value.
func FromEMI(data []byte) (LData, error) {
	if len(data) < 7 {
		return LData{}, fmt.Errorf("%w: EMI frame too short", ErrFormat)
	}
	mc, systemBroadcast, err := fromEMICode(data[0])
	if err != nil {
		return LData{}, err
	}
	ctrl1 := data[1]
	npci := data[6]
	if ctrl1&validCtrl1Mask != validCtrl1Value {
		return LData{}, fmt.Errorf("%w: invalid ctrl1 0x%02X", ErrFormat, ctrl1)
	}
	tpduLen := int(npci&0x0F) + 1
	if tpduLen > maxStandardTPDU {
		return LData{}, fmt.Errorf("%w: TPDU too long for EMI frame (%d)", ErrFormat, tpduLen)
	}
	if len(data) < 7+tpduLen {
		return LData{}, fmt.Errorf("%w: truncated EMI TPDU", ErrFormat)
	}

	return LData{
		MC:              mc,
		Source:          address.IndividualAddress(binary.BigEndian.Uint16(data[2:4])),
		GroupDest:       npci&ctrl2AddressType != 0,
		Dest:            binary.BigEndian.Uint16(data[4:6]),
		Priority:        address.Priority((ctrl1 >> ctrl1PriorityShift) & ctrl1PriorityMask),
		HopCount:        unpackHop(npci),
		DoNotRepeat:     ctrl1&ctrl1DoNotRepeat != 0,
		SystemBroadcast: systemBroadcast,
		AckRequested:    ctrl1&ctrl1AckRequested != 0,
		Confirm:         ctrl1&ctrl1Confirm != 0,
		Tpdu:            append([]byte(nil), data[7:7+tpduLen]...),
	}, nil
}
