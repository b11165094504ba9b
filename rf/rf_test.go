package rf

import (
	"bytes"
	"testing"

	"github.com/nerrad567/knxlink/address"
)

func buildTestFrame(t *testing.T, tpdu []byte) LData {
	t.Helper()
	src, err := address.NewIndividualAddress(1, 1, 1)
	if err != nil {
		t.Fatalf("NewIndividualAddress: %v", err)
	}
	f, err := NewLData(RFInfo{RSS: 12, BatteryOK: true}, true, [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, 0, 0, src, true, 0x0901, 2, 3, tpdu)
	if err != nil {
		t.Fatalf("NewLData: %v", err)
	}
	return f
}

func TestRFLDataRoundTripShortTPDU(t *testing.T) {
	f := buildTestFrame(t, []byte{0x00, 0x80, 0x01})
	raw := f.ToBytes()
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(got.Tpdu, f.Tpdu) {
		t.Fatalf("Tpdu = % X, want % X", got.Tpdu, f.Tpdu)
	}
	if !bytes.Equal(got.ToBytes(), raw) {
		t.Fatalf("re-encode mismatch")
	}
}

func TestRFLDataRoundTripLongTPDU(t *testing.T) {
	tpdu := make([]byte, 37) // crosses into two continuation blocks
	for i := range tpdu {
		tpdu[i] = byte(i)
	}
	f := buildTestFrame(t, tpdu)
	raw := f.ToBytes()
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(got.Tpdu, tpdu) {
		t.Fatalf("Tpdu = % X, want % X", got.Tpdu, tpdu)
	}
}

func TestRFLDataMaxTPDU(t *testing.T) {
	tpdu := make([]byte, maxTPDU)
	f := buildTestFrame(t, tpdu)
	raw := f.ToBytes()
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got.Tpdu) != maxTPDU {
		t.Fatalf("len(Tpdu) = %d, want %d", len(got.Tpdu), maxTPDU)
	}
}

func TestNewLDataRejectsOversizeTPDU(t *testing.T) {
	src, _ := address.NewIndividualAddress(1, 1, 1)
	tpdu := make([]byte, maxTPDU+1)
	if _, err := NewLData(RFInfo{}, false, [6]byte{}, 0, 0, src, false, 0, 0, 0, tpdu); err == nil {
		t.Fatalf("expected error for oversize TPDU")
	}
}

// Concrete scenario (§8.6): encode an RF L-Data with TPDU [0x00, 0x80,
// 0x01], corrupt the 11th byte (block-1 CRC high byte); parse rejects with
// a CRC mismatch; restoring the byte makes parse succeed again.
func TestRFLDataCorruptedBlock1CRC(t *testing.T) {
	f := buildTestFrame(t, []byte{0x00, 0x80, 0x01})
	raw := f.ToBytes()

	original := raw[10]
	raw[10] ^= 0xFF
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected CRC mismatch error")
	}

	raw[10] = original
	if _, err := Parse(raw); err != nil {
		t.Fatalf("expected success after restoring byte: %v", err)
	}
}

func TestRFLDataRejectsReservedLength(t *testing.T) {
	f := buildTestFrame(t, []byte{0x00, 0x80, 0x01})
	raw := f.ToBytes()
	// corrupt the length field to the reserved escape value and recompute
	// block-1's CRC so only the length check fires.
	raw[0] = 0xFF
	crc := blockCRC(raw[:block1Size])
	raw[block1Size] = byte(crc >> 8)
	raw[block1Size+1] = byte(crc)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error for reserved length value")
	}
}

func TestNewTransmitOnly(t *testing.T) {
	f, err := NewTransmitOnly(RFInfo{}, true, [6]byte{}, 7, 1, []byte{0x00, 0x80})
	if err != nil {
		t.Fatalf("NewTransmitOnly: %v", err)
	}
	if f.Source != transmitOnlySource {
		t.Fatalf("Source = %v, want %v", f.Source, transmitOnlySource)
	}
	if !f.GroupDest || f.Dest != 7 {
		t.Fatalf("Dest = %v (group=%v), want 7 (group=true)", f.Dest, f.GroupDest)
	}
	if f.MaxRepetitions != 6 {
		t.Fatalf("MaxRepetitions = %d, want 6", f.MaxRepetitions)
	}
}
