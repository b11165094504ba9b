package serial

import "fmt"

// Fixed framing bytes (§3).
const (
	startVariable = 0x68
	startFixed    = 0x10
	frameEnd      = 0x16
	ackByte       = 0xE5
)

// Control-field bits. DIR and INITIATOR are validated on inbound frames;
// FCB/FCV are used on both directions; the low nibble carries the function
// code.
const (
	ctrlDirFromBAU = 0x80
	ctrlInitiator  = 0x40
	ctrlFCB        = 0x20
	ctrlFCV        = 0x10
	ctrlFuncMask   = 0x0F

	ctrlInboundRequired = ctrlDirFromBAU | ctrlInitiator

	funcResetLink  = 0x00
	funcSendUData  = 0x03
)

// resetFrame is the fixed short frame that brings the link up (§4.D).
var resetFrame = []byte{startFixed, 0x40, 0x40, frameEnd}

// maxUserData is the largest user-data payload a variable frame can carry:
// the one-byte length field counts the control byte plus the user data.
const maxUserData = 254

// encodeVariableFrame builds the on-wire variable frame for a control byte
// and user-data payload (§3).
func encodeVariableFrame(ctrl byte, userData []byte) ([]byte, error) {
	if len(userData) > maxUserData {
		return nil, fmt.Errorf("%w: user data length %d exceeds %d", ErrIllegalArgument, len(userData), maxUserData)
	}
	length := byte(1 + len(userData))
	buf := make([]byte, 0, 6+len(userData))
	buf = append(buf, startVariable, length, length, startVariable, ctrl)
	buf = append(buf, userData...)
	buf = append(buf, frameChecksum(ctrl, userData), frameEnd)
	return buf, nil
}

// frameChecksum sums ctrl and every user-data byte modulo 256 (§3).
func frameChecksum(ctrl byte, userData []byte) byte {
	sum := ctrl
	for _, b := range userData {
		sum += b
	}
	return sum
}

// encodeShortFrame builds the on-wire short frame for a control byte (§3).
func encodeShortFrame(ctrl byte) []byte {
	return []byte{startFixed, ctrl, ctrl, frameEnd}
}

// variableFrame is a parsed inbound variable frame.
type variableFrame struct {
	Ctrl     byte
	UserData []byte
}

// parseVariableFrame decodes the body of a variable frame (the bytes after
// the leading START byte that selected this path), validating the length
// echo, the second START byte, checksum, and end byte.
func parseVariableFrame(data []byte) (variableFrame, int, error) {
	if len(data) < 4 {
		return variableFrame{}, 0, fmt.Errorf("%w: variable frame too short", ErrFormat)
	}
	length := data[0]
	if data[1] != length {
		return variableFrame{}, 0, fmt.Errorf("%w: length field echo mismatch", ErrFormat)
	}
	if data[2] != startVariable {
		return variableFrame{}, 0, fmt.Errorf("%w: missing second START byte", ErrFormat)
	}
	if int(length) < 1 {
		return variableFrame{}, 0, fmt.Errorf("%w: length field must cover control byte", ErrFormat)
	}
	userLen := int(length) - 1
	total := 3 + 1 + userLen + 1 + 1 // len,len,START + ctrl + userData + checksum + end
	if len(data) < total {
		return variableFrame{}, 0, fmt.Errorf("%w: truncated variable frame", ErrFormat)
	}
	ctrl := data[3]
	userData := append([]byte(nil), data[4:4+userLen]...)
	checksum := data[4+userLen]
	end := data[4+userLen+1]
	if end != frameEnd {
		return variableFrame{}, 0, fmt.Errorf("%w: missing END byte", ErrFormat)
	}
	if checksum != frameChecksum(ctrl, userData) {
		return variableFrame{}, 0, fmt.Errorf("%w: checksum mismatch", ErrFormat)
	}
	return variableFrame{Ctrl: ctrl, UserData: userData}, total, nil
}

// parseShortFrame decodes the body of a short frame (after the leading
// START_FIXED byte has selected this path): two equal control bytes and an
// END byte.
func parseShortFrame(data []byte) (byte, int, error) {
	if len(data) < 3 {
		return 0, 0, fmt.Errorf("%w: short frame too short", ErrFormat)
	}
	if data[0] != data[1] {
		return 0, 0, fmt.Errorf("%w: short frame control byte mismatch", ErrFormat)
	}
	if data[2] != frameEnd {
		return 0, 0, fmt.Errorf("%w: missing END byte", ErrFormat)
	}
	return data[0], 3, nil
}
