// Package cemi implements bit-exact encode/decode of the cEMI and EMI1/EMI2
// link-layer and device-management frames that traverse every KNX access
// path (§4.B).
//
// Frames are represented as a tagged sum of concrete variants — standard
// L-Data, extended L-Data, device management, busmonitor, and T-Data —
// rather than a class hierarchy; each variant implements the Frame
// interface and is otherwise a plain value (or, for extended L-Data, a
// value guarded by its own mutex around the mutable additional-info list).
package cemi

import "fmt"

// MessageCode identifies the cEMI/EMI frame variant. It occupies the first
// byte of every frame.
type MessageCode uint8

// Link-layer message codes.
const (
	LDataReq MessageCode = 0x11
	LDataCon MessageCode = 0x2E
	LDataInd MessageCode = 0x29

	BusmonInd MessageCode = 0x2B

	TDataConnectedReq MessageCode = 0x41
	TDataConnectedInd MessageCode = 0x89
)

// Device-management message codes (§4.B). Ten values between 0xF0 and 0xFC.
const (
	MPropReadReq       MessageCode = 0xFC
	MPropReadCon       MessageCode = 0xFB
	MPropWriteReq      MessageCode = 0xF6
	MPropWriteCon      MessageCode = 0xF5
	MPropInfoInd       MessageCode = 0xF7
	MFuncPropCommand   MessageCode = 0xF8
	MFuncPropStateRead MessageCode = 0xF9
	MFuncPropCon       MessageCode = 0xFA
	MResetReq          MessageCode = 0xF1
	MResetInd          MessageCode = 0xF0
)

// Frame is the shared operation surface of every cEMI/EMI frame variant.
// Implementations are dispatched by numeric message code, never by type
// assertion chains.
type Frame interface {
	// MessageCode returns the frame's first byte.
	MessageCode() MessageCode

	// StructLength returns the exact length of ToBytes().
	StructLength() int

	// ToBytes serialises the frame to its normative wire layout.
	ToBytes() []byte
}

func (mc MessageCode) String() string {
	switch mc {
	case LDataReq:
		return "L_Data.req"
	case LDataCon:
		return "L_Data.con"
	case LDataInd:
		return "L_Data.ind"
	case BusmonInd:
		return "L_Busmon.ind"
	case TDataConnectedReq:
		return "T_Data_Connected.req"
	case TDataConnectedInd:
		return "T_Data_Connected.ind"
	case MPropReadReq:
		return "M_PropRead.req"
	case MPropReadCon:
		return "M_PropRead.con"
	case MPropWriteReq:
		return "M_PropWrite.req"
	case MPropWriteCon:
		return "M_PropWrite.con"
	case MPropInfoInd:
		return "M_PropInfo.ind"
	case MFuncPropCommand:
		return "M_FuncPropCommand.req"
	case MFuncPropStateRead:
		return "M_FuncPropStateRead.req"
	case MFuncPropCon:
		return "M_FuncProp.con"
	case MResetReq:
		return "M_Reset.req"
	case MResetInd:
		return "M_Reset.ind"
	default:
		return fmt.Sprintf("MessageCode(0x%02X)", uint8(mc))
	}
}

// isDeviceMgmt reports whether mc is one of the ten device-management codes.
func isDeviceMgmt(mc MessageCode) bool {
	switch mc {
	case MPropReadReq, MPropReadCon, MPropWriteReq, MPropWriteCon, MPropInfoInd,
		MFuncPropCommand, MFuncPropStateRead, MFuncPropCon, MResetReq, MResetInd:
		return true
	default:
		return false
	}
}

// isFuncProp reports whether mc belongs to the function-property subset,
// which omits the start-index/element-count bytes.
func isFuncProp(mc MessageCode) bool {
	switch mc {
	case MFuncPropCommand, MFuncPropStateRead, MFuncPropCon:
		return true
	default:
		return false
	}
}

// Parse inspects the first byte of data and dispatches to the matching
// frame variant decoder. It fails with ErrFormat on an empty buffer or an
// unrecognised message code.
func Parse(data []byte) (Frame, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty frame", ErrFormat)
	}
	mc := MessageCode(data[0])
	switch mc {
	case LDataReq, LDataCon, LDataInd:
		return parseLData(data)
	case BusmonInd:
		return parseBusmon(data)
	case TDataConnectedReq, TDataConnectedInd:
		return parseTData(data)
	default:
		if isDeviceMgmt(mc) {
			return parseDeviceMgmt(data)
		}
		return nil, fmt.Errorf("%w: unknown message code 0x%02X", ErrFormat, data[0])
	}
}
