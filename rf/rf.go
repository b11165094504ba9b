package rf

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxlink/address"
)

// Fixed block-1 marker bytes (§3).
const (
	markerC   = 0x44
	markerEsc = 0xFF
)

// lengthReserved is the reserved escape value of the block-1 length field.
const lengthReserved = 0xFF

// maxTPDU is the largest TPDU an RF L-Data frame may carry (§8 roundtrip
// law: "up to 220 TPDU bytes").
const maxTPDU = 220

// block1Size and block2Size are the fixed pre-CRC sizes of the two
// mandatory blocks; continuation blocks carry up to 16 TPDU bytes.
const (
	block1Size         = 10
	block2Size         = 16
	block2TPDUCapacity = 10
	continuationTPDUCapacity = 16
	crcSize            = 2
)

// RFInfo carries the per-frame radio-quality bits from block 1.
type RFInfo struct {
	RSS             uint8 // 6-bit received signal strength count
	BatteryOK       bool
	Unidirectional  bool
}

func (i RFInfo) encode() byte {
	var b byte
	if i.Unidirectional {
		b |= 0x01
	}
	if i.BatteryOK {
		b |= 0x02
	}
	b |= (i.RSS & 0x3F) << 2
	return b
}

func decodeRFInfo(b byte) RFInfo {
	return RFInfo{
		Unidirectional: b&0x01 != 0,
		BatteryOK:      b&0x02 != 0,
		RSS:            (b >> 2) & 0x3F,
	}
}

// LData is an RF medium L-Data frame (§3, §4.C).
type LData struct {
	Info RFInfo

	// IsDoA discriminates the six-byte block-1 field: true means it is a
	// domain address used for domain-address routing, false means it is a
	// device serial number used for serial-number-based system broadcast.
	IsDoA bool
	DomainOrSerial [6]byte

	FrameFormat uint8 // high nibble of the block-2 control field
	LTE         uint8 // low nibble: LTE/extension marker and tag

	Source         address.IndividualAddress
	GroupDest      bool
	Dest           uint16
	MaxRepetitions uint8 // 0-7
	FrameNumber    uint8 // 0-7

	Tpdu []byte
}

// NewLData builds an RF L-Data frame, validating the TPDU length and the
// sub-byte field ranges.
func NewLData(info RFInfo, isDoA bool, domainOrSerial [6]byte, frameFormat, lte uint8,
	source address.IndividualAddress, groupDest bool, dest uint16, maxRepetitions, frameNumber uint8, tpdu []byte) (LData, error) {
	if len(tpdu) == 0 || len(tpdu) > maxTPDU {
		return LData{}, fmt.Errorf("%w: TPDU length %d out of range (max %d)", ErrIllegalArgument, len(tpdu), maxTPDU)
	}
	if frameFormat > 0x0F || lte > 0x0F {
		return LData{}, fmt.Errorf("%w: frame format and LTE nibbles must fit 4 bits", ErrIllegalArgument)
	}
	if maxRepetitions > 7 || frameNumber > 7 {
		return LData{}, fmt.Errorf("%w: max repetitions and frame number must fit 3 bits", ErrIllegalArgument)
	}
	return LData{
		Info:           info,
		IsDoA:          isDoA,
		DomainOrSerial: domainOrSerial,
		FrameFormat:    frameFormat,
		LTE:            lte,
		Source:         source,
		GroupDest:      groupDest,
		Dest:           dest,
		MaxRepetitions: maxRepetitions,
		FrameNumber:    frameNumber,
		Tpdu:           append([]byte(nil), tpdu...),
	}, nil
}

// transmitOnlySource is the fixed individual address used by the
// transmit-only device shortcut (§4.C).
var transmitOnlySource = address.IndividualAddress(0x05FF)

// NewTransmitOnly builds an RF L-Data frame for a transmit-only device: a
// fixed individual address 0x05FF, group destination whose raw value is
// the datapoint index, max repetitions 6, caller-supplied frame number.
func NewTransmitOnly(info RFInfo, isDoA bool, domainOrSerial [6]byte, datapointIndex uint16, frameNumber uint8, tpdu []byte) (LData, error) {
	return NewLData(info, isDoA, domainOrSerial, 0, 0, transmitOnlySource, true, datapointIndex, 6, frameNumber, tpdu)
}

func (f LData) pci() byte {
	var b byte
	if f.GroupDest {
		b |= 0x80
	}
	b |= (f.MaxRepetitions & 0x07) << 4
	b |= (f.FrameNumber & 0x07) << 1
	if f.IsDoA {
		b |= 0x01
	}
	return b
}

// Payload returns the frame's TPDU.
func (f LData) Payload() []byte { return f.Tpdu }

// StructLength returns the exact length of ToBytes(): two mandatory
// blocks, each with a 2-byte CRC, plus one continuation block (up to 16
// TPDU bytes + 2-byte CRC) for each further 16 bytes of TPDU.
func (f LData) StructLength() int {
	total := (block1Size + crcSize) + (block2Size + crcSize)
	remaining := len(f.Tpdu) - block2TPDUCapacity
	for remaining > 0 {
		n := remaining
		if n > continuationTPDUCapacity {
			n = continuationTPDUCapacity
		}
		total += n + crcSize
		remaining -= n
	}
	return total
}

// ToBytes serializes the frame to its normative multi-block wire layout,
// appending a CRC-16-DNP checksum after every block.
func (f LData) ToBytes() []byte {
	buf := make([]byte, 0, f.StructLength())

	block1 := make([]byte, block1Size)
	block1[0] = lengthByte(len(f.Tpdu))
	block1[1] = markerC
	block1[2] = markerEsc
	block1[3] = f.Info.encode()
	copy(block1[4:10], f.DomainOrSerial[:])
	buf = appendBlock(buf, block1)

	block2 := make([]byte, block2Size)
	block2[0] = (f.FrameFormat << 4) | (f.LTE & 0x0F)
	binary.BigEndian.PutUint16(block2[1:3], f.Source.Raw())
	binary.BigEndian.PutUint16(block2[3:5], f.Dest)
	block2[5] = f.pci()
	n := copy(block2[6:16], f.Tpdu)
	buf = appendBlock(buf, block2)

	remaining := f.Tpdu[n:]
	for len(remaining) > 0 {
		chunkLen := len(remaining)
		if chunkLen > continuationTPDUCapacity {
			chunkLen = continuationTPDUCapacity
		}
		buf = appendBlock(buf, remaining[:chunkLen])
		remaining = remaining[chunkLen:]
	}
	return buf
}

func appendBlock(buf, block []byte) []byte {
	buf = append(buf, block...)
	var crc [2]byte
	binary.BigEndian.PutUint16(crc[:], blockCRC(block))
	return append(buf, crc[:]...)
}

// lengthByte returns the block-1 length field for a given TPDU length. It
// does not check for the reserved escape value 0xFF; NewLData's maxTPDU
// limit keeps frames built through it below that value.
func lengthByte(tpduLen int) byte {
	return byte(tpduLen)
}

// Parse decodes an RF L-Data frame, verifying every block's CRC.
func Parse(data []byte) (LData, error) {
	if len(data) < block1Size+crcSize {
		return LData{}, fmt.Errorf("%w: frame shorter than block 1", ErrFormat)
	}
	block1 := data[:block1Size]
	if err := verifyBlockCRC(block1, data[block1Size:block1Size+crcSize]); err != nil {
		return LData{}, err
	}
	if block1[0] == lengthReserved {
		return LData{}, fmt.Errorf("%w: reserved length value 0xFF", ErrFormat)
	}
	if block1[1] != markerC || block1[2] != markerEsc {
		return LData{}, fmt.Errorf("%w: missing block-1 marker bytes", ErrFormat)
	}
	tpduLen := int(block1[0])
	if tpduLen == 0 || tpduLen > maxTPDU {
		return LData{}, fmt.Errorf("%w: TPDU length %d out of range", ErrFormat, tpduLen)
	}
	info := decodeRFInfo(block1[3])
	var domainOrSerial [6]byte
	copy(domainOrSerial[:], block1[4:10])

	pos := block1Size + crcSize
	if len(data) < pos+block2Size+crcSize {
		return LData{}, fmt.Errorf("%w: frame shorter than block 2", ErrFormat)
	}
	block2 := data[pos : pos+block2Size]
	if err := verifyBlockCRC(block2, data[pos+block2Size:pos+block2Size+crcSize]); err != nil {
		return LData{}, err
	}
	pos += block2Size + crcSize

	ctrl := block2[0]
	pci := block2[5]
	f := LData{
		Info:           info,
		IsDoA:          pci&0x01 != 0,
		DomainOrSerial: domainOrSerial,
		FrameFormat:    (ctrl >> 4) & 0x0F,
		LTE:            ctrl & 0x0F,
		Source:         address.IndividualAddress(binary.BigEndian.Uint16(block2[1:3])),
		GroupDest:      pci&0x80 != 0,
		Dest:           binary.BigEndian.Uint16(block2[3:5]),
		MaxRepetitions: (pci >> 4) & 0x07,
		FrameNumber:    (pci >> 1) & 0x07,
	}

	block2TPDU := block2[6:16]
	firstChunk := block2TPDUCapacity
	if tpduLen < block2TPDUCapacity {
		firstChunk = tpduLen
	}
	for _, b := range block2TPDU[firstChunk:] {
		if b != 0 {
			return LData{}, fmt.Errorf("%w: non-zero padding in block 2 TPDU shortfall", ErrFormat)
		}
	}
	tpdu := append([]byte(nil), block2TPDU[:firstChunk]...)

	remaining := tpduLen - firstChunk
	for remaining > 0 {
		chunkLen := remaining
		if chunkLen > continuationTPDUCapacity {
			chunkLen = continuationTPDUCapacity
		}
		if len(data) < pos+chunkLen+crcSize {
			return LData{}, fmt.Errorf("%w: truncated continuation block", ErrFormat)
		}
		block := data[pos : pos+chunkLen]
		if err := verifyBlockCRC(block, data[pos+chunkLen:pos+chunkLen+crcSize]); err != nil {
			return LData{}, err
		}
		tpdu = append(tpdu, block...)
		pos += chunkLen + crcSize
		remaining -= chunkLen
	}

	f.Tpdu = tpdu
	return f, nil
}

func verifyBlockCRC(block, emitted []byte) error {
	want := binary.BigEndian.Uint16(emitted)
	got := blockCRC(block)
	if got != want {
		return fmt.Errorf("%w: CRC mismatch (got 0x%04X, want 0x%04X)", ErrFormat, got, want)
	}
	return nil
}
