package cemi

import (
	"encoding/binary"
	"fmt"
)

// Busmonitor is an L_Busmon.ind frame: a raw bus frame captured in
// monitoring mode, timestamped by the interface relative to the previous
// indication. The interface reports either a 16-bit or, when frames are
// more than 6.5535ms apart, a 32-bit extended timestamp (§4.B).
type Busmonitor struct {
	StatusInfo      byte
	Timestamp       uint32
	ExtendedTime    bool
	RawFrame        []byte
}

// MessageCode implements Frame.
func (f Busmonitor) MessageCode() MessageCode { return BusmonInd }

// StructLength implements Frame.
func (f Busmonitor) StructLength() int {
	if f.ExtendedTime {
		return 9 + len(f.RawFrame) // mc + addInfoLen byte + TLV(type,len,4-byte time) + status + raw
	}
	return 5 + len(f.RawFrame) // mc + addInfoLen byte(0) + status + 2-byte time + raw
}

const busmonTimestampInfoType = 0x03

// ToBytes implements Frame.
func (f Busmonitor) ToBytes() []byte {
	if f.ExtendedTime {
		buf := make([]byte, 0, f.StructLength())
		buf = append(buf, byte(f.MessageCode()))
		buf = append(buf, 6, busmonTimestampInfoType, 4)
		var ts [4]byte
		binary.BigEndian.PutUint32(ts[:], f.Timestamp)
		buf = append(buf, ts[:]...)
		buf = append(buf, f.StatusInfo)
		buf = append(buf, f.RawFrame...)
		return buf
	}
	buf := make([]byte, 0, f.StructLength())
	buf = append(buf, byte(f.MessageCode()), 0, f.StatusInfo)
	var ts [2]byte
	binary.BigEndian.PutUint16(ts[:], uint16(f.Timestamp))
	buf = append(buf, ts[:]...)
	buf = append(buf, f.RawFrame...)
	return buf
}

// parseBusmon decodes an L_Busmon.ind frame, handling both the plain
// 16-bit timestamp layout and the extended 32-bit layout carried as an
// additional-info TLV.
func parseBusmon(data []byte) (Frame, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: busmon frame too short", ErrFormat)
	}
	addInfoLen := int(data[1])
	if len(data) < 2+addInfoLen {
		return nil, fmt.Errorf("%w: truncated busmon additional info", ErrFormat)
	}
	rest := data[2+addInfoLen:]

	if addInfoLen > 0 {
		infos, err := parseAdditionalInfo(data[2:], addInfoLen)
		if err != nil {
			return nil, err
		}
		var ts uint32
		found := false
		for _, info := range infos {
			if info.Type == busmonTimestampInfoType && len(info.Data) == 4 {
				ts = binary.BigEndian.Uint32(info.Data)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: busmon additional info missing extended timestamp", ErrFormat)
		}
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: truncated busmon status", ErrFormat)
		}
		return Busmonitor{
			StatusInfo:   rest[0],
			Timestamp:    ts,
			ExtendedTime: true,
			RawFrame:     append([]byte(nil), rest[1:]...),
		}, nil
	}

	if len(rest) < 3 {
		return nil, fmt.Errorf("%w: truncated busmon frame", ErrFormat)
	}
	return Busmonitor{
		StatusInfo: rest[0],
		Timestamp:  uint32(binary.BigEndian.Uint16(rest[1:3])),
		RawFrame:   append([]byte(nil), rest[3:]...),
	}, nil
}
