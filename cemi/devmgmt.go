package cemi

import (
	"encoding/binary"
	"fmt"
)

// PropertyErrorCode is the one-byte error code carried in the Data field of
// a negative M_PropRead.con / M_PropWrite.con (recognised by
// NumberOfElements == 0).
type PropertyErrorCode byte

// Standard property error codes (§7).
const (
	PropErrUnspecified        PropertyErrorCode = 0x00
	PropErrOutOfRange         PropertyErrorCode = 0x01
	PropErrOutOfMaxRange      PropertyErrorCode = 0x02
	PropErrOutOfMinRange      PropertyErrorCode = 0x03
	PropErrMemory             PropertyErrorCode = 0x04
	PropErrReadOnly           PropertyErrorCode = 0x05
	PropErrIllegalCommand     PropertyErrorCode = 0x06
	PropErrNonexistentProperty PropertyErrorCode = 0x07
	PropErrTypeConflict       PropertyErrorCode = 0x08
	PropErrIndexRangeError    PropertyErrorCode = 0x09
	PropErrValueNotWritable   PropertyErrorCode = 0x0A
)

func (c PropertyErrorCode) String() string {
	switch c {
	case PropErrUnspecified:
		return "unspecified"
	case PropErrOutOfRange:
		return "out of range"
	case PropErrOutOfMaxRange:
		return "out of max range"
	case PropErrOutOfMinRange:
		return "out of min range"
	case PropErrMemory:
		return "memory error"
	case PropErrReadOnly:
		return "read-only property"
	case PropErrIllegalCommand:
		return "illegal command"
	case PropErrNonexistentProperty:
		return "nonexistent property"
	case PropErrTypeConflict:
		return "type conflict"
	case PropErrIndexRangeError:
		return "index/range error"
	case PropErrValueNotWritable:
		return "value not writable now"
	default:
		return fmt.Sprintf("PropertyErrorCode(0x%02X)", byte(c))
	}
}

// DeviceMgmt is the shared shape of every M_Prop*/M_FuncProp*/M_Reset*
// frame: a fixed object-addressing header, optionally followed by a data
// payload. FuncProp variants omit StartIndex/NumElements (§4.B).
type DeviceMgmt struct {
	MC           MessageCode
	ObjectType   uint16
	ObjectInst   byte
	PID          byte
	StartIndex   uint16 // 12 bits significant; unused for FuncProp variants and Reset
	NumElements  byte   // 4 bits significant; 0 on a negative .con
	Data         []byte
}

// IsNegativeResponse reports whether this is a negative .con: message code
// PropRead.con or PropWrite.con with NumElements == 0, whose Data then
// holds a single PropertyErrorCode byte. FuncProp confirmations have no
// element-count field and are never reported negative by this predicate.
func (f DeviceMgmt) IsNegativeResponse() bool {
	switch f.MC {
	case MPropReadCon, MPropWriteCon:
		return f.NumElements == 0
	default:
		return false
	}
}

// ErrorCode returns the negative-response error code. Call only when
// IsNegativeResponse reports true.
func (f DeviceMgmt) ErrorCode() PropertyErrorCode {
	if len(f.Data) == 0 {
		return PropErrUnspecified
	}
	return PropertyErrorCode(f.Data[0])
}

// MessageCode implements Frame.
func (f DeviceMgmt) MessageCode() MessageCode { return f.MC }

// StructLength implements Frame.
func (f DeviceMgmt) StructLength() int {
	if isFuncProp(f.MC) {
		return 5 + len(f.Data)
	}
	if f.MC == MResetReq || f.MC == MResetInd {
		return 1
	}
	return 7 + len(f.Data)
}

// ToBytes implements Frame.
func (f DeviceMgmt) ToBytes() []byte {
	if f.MC == MResetReq || f.MC == MResetInd {
		return []byte{byte(f.MC)}
	}
	buf := make([]byte, 0, f.StructLength())
	buf = append(buf, byte(f.MC))
	var objType [2]byte
	binary.BigEndian.PutUint16(objType[:], f.ObjectType)
	buf = append(buf, objType[:]...)
	buf = append(buf, f.ObjectInst, f.PID)
	if !isFuncProp(f.MC) {
		nibble := (f.NumElements & 0x0F) << 4
		hi := byte(f.StartIndex>>8) & 0x0F
		lo := byte(f.StartIndex)
		buf = append(buf, nibble|hi, lo)
	}
	buf = append(buf, f.Data...)
	return buf
}

func parseDeviceMgmt(data []byte) (Frame, error) {
	mc := MessageCode(data[0])
	if mc == MResetReq || mc == MResetInd {
		return DeviceMgmt{MC: mc}, nil
	}
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: device management frame too short", ErrFormat)
	}
	objType := binary.BigEndian.Uint16(data[1:3])
	objInst := data[3]
	pid := data[4]

	if isFuncProp(mc) {
		return DeviceMgmt{
			MC:         mc,
			ObjectType: objType,
			ObjectInst: objInst,
			PID:        pid,
			Data:       append([]byte(nil), data[5:]...),
		}, nil
	}

	if len(data) < 7 {
		return nil, fmt.Errorf("%w: property frame too short", ErrFormat)
	}
	numElements := (data[5] >> 4) & 0x0F
	startIndex := (uint16(data[5]&0x0F) << 8) | uint16(data[6])
	if numElements == 0 && requiresNonZeroElements(mc) {
		return nil, fmt.Errorf("%w: %v requires a non-zero element count", ErrFormat, mc)
	}
	return DeviceMgmt{
		MC:          mc,
		ObjectType:  objType,
		ObjectInst:  objInst,
		PID:         pid,
		StartIndex:  startIndex,
		NumElements: numElements,
		Data:        append([]byte(nil), data[7:]...),
	}, nil
}

// requiresNonZeroElements reports whether mc is one of the three codes
// whose element count must be at least 1 (§3, §8 boundary behavior):
// PropRead.req, PropWrite.req, PropInfo.ind. PropRead.con/PropWrite.con use
// a zero element count to signal a negative response instead.
func requiresNonZeroElements(mc MessageCode) bool {
	switch mc {
	case MPropReadReq, MPropWriteReq, MPropInfoInd:
		return true
	default:
		return false
	}
}

// NewDeviceMgmtRequest builds a PropRead.req, PropWrite.req, or
// PropInfo.ind frame, rejecting a zero element count.
func NewDeviceMgmtRequest(mc MessageCode, objType uint16, objInst, pid byte, start uint16, elements byte, data []byte) (DeviceMgmt, error) {
	if requiresNonZeroElements(mc) && elements == 0 {
		return DeviceMgmt{}, fmt.Errorf("%w: %v requires a non-zero element count", ErrIllegalArgument, mc)
	}
	if start > 0x0FFF {
		return DeviceMgmt{}, fmt.Errorf("%w: start index %d exceeds 12 bits", ErrIllegalArgument, start)
	}
	if elements > 0x0F {
		return DeviceMgmt{}, fmt.Errorf("%w: element count %d exceeds 4 bits", ErrIllegalArgument, elements)
	}
	return DeviceMgmt{
		MC:          mc,
		ObjectType:  objType,
		ObjectInst:  objInst,
		PID:         pid,
		StartIndex:  start,
		NumElements: elements,
		Data:        append([]byte(nil), data...),
	}, nil
}
