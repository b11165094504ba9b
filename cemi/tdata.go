package cemi

import "fmt"

// TData is a T_Data_Connected frame: a transport-layer APDU exchanged over
// an already-established point-to-point connection, with no L-Data
// addressing envelope (§4.B).
type TData struct {
	MC   MessageCode
	Tpdu []byte
}

// MessageCode implements Frame.
func (f TData) MessageCode() MessageCode { return f.MC }

// StructLength implements Frame.
func (f TData) StructLength() int { return 2 + len(f.Tpdu) }

// ToBytes implements Frame.
func (f TData) ToBytes() []byte {
	buf := make([]byte, 0, f.StructLength())
	buf = append(buf, byte(f.MC), 0)
	buf = append(buf, f.Tpdu...)
	return buf
}

func parseTData(data []byte) (Frame, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: T_Data frame too short", ErrFormat)
	}
	addInfoLen := int(data[1])
	if addInfoLen != 0 {
		return nil, fmt.Errorf("%w: T_Data frame carries additional info", ErrFormat)
	}
	return TData{
		MC:   MessageCode(data[0]),
		Tpdu: append([]byte(nil), data[2:]...),
	}, nil
}
