package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/knxlink/address"
)

// Translator is the per-value codec a DPTRegistry produces (§6). Only the
// subset the typed wrappers need is exposed here.
type Translator interface {
	SetValue(v any) error
	SetData(data []byte) error
	Value() (any, error)
	NumericValue() (float64, error)
	// TypeSize reports the DPT's item size in bytes; 0 means the value is
	// length-optimized (packed into the low 6 bits of a 2-byte APDU).
	TypeSize() int
}

// DPTRegistry resolves a datapoint-type identifier (e.g. "1.001") to a
// Translator (§6).
type DPTRegistry interface {
	CreateTranslator(dptID string) (Translator, error)
}

// length windows for the typed wrappers, expressed as bytes of ASDU beyond
// the 2-byte APDU header (§4.E).
const (
	windowBool     = 0
	windowControl  = 0
	windowUnsigned = 1
	windowFloatMin = 2
	windowFloatMax = 4
	windowStringMax = 14
	windowGenericMax = 8
)

// ReadBool reads a 1-bit datapoint (§4.E).
func (c *Communicator) ReadBool(ctx context.Context, dst address.GroupAddress, priority address.Priority) (bool, error) {
	raw, err := c.ReadFromGroup(ctx, dst, priority, windowBool, windowBool)
	if err != nil {
		return false, err
	}
	return raw[1]&0x01 != 0, nil
}

// Control is a 4-bit controlled-value datapoint (DPT 3.xxx): a direction
// bit plus a 3-bit step code.
type Control struct {
	Increase bool
	StepCode uint8
}

// ReadControl reads a 3-bit-controlled datapoint (§4.E).
func (c *Communicator) ReadControl(ctx context.Context, dst address.GroupAddress, priority address.Priority) (Control, error) {
	raw, err := c.ReadFromGroup(ctx, dst, priority, windowControl, windowControl)
	if err != nil {
		return Control{}, err
	}
	v := raw[1] & 0x0F
	return Control{Increase: v&0x08 != 0, StepCode: v & 0x07}, nil
}

// ReadUnsigned reads an 8-bit unsigned datapoint, scaling the raw byte by
// scale (§4.E).
func (c *Communicator) ReadUnsigned(ctx context.Context, dst address.GroupAddress, priority address.Priority, scale float64) (float64, error) {
	raw, err := c.ReadFromGroup(ctx, dst, priority, windowUnsigned, windowUnsigned)
	if err != nil {
		return 0, err
	}
	return float64(raw[2]) * scale, nil
}

// ReadFloat reads a 2-to-4-byte float datapoint, decoding through dp's
// translator (§4.E).
func (c *Communicator) ReadFloat(ctx context.Context, dst address.GroupAddress, priority address.Priority, dp DPTRegistry, dptID string) (float64, error) {
	raw, err := c.ReadFromGroup(ctx, dst, priority, windowFloatMin, windowFloatMax)
	if err != nil {
		return 0, err
	}
	t, err := dp.CreateTranslator(dptID)
	if err != nil {
		return 0, err
	}
	if err := t.SetData(raw[2:]); err != nil {
		return 0, err
	}
	return t.NumericValue()
}

// ReadString reads a character-string datapoint, decoding through dp's
// translator (§4.E).
func (c *Communicator) ReadString(ctx context.Context, dst address.GroupAddress, priority address.Priority, dp DPTRegistry, dptID string) (string, error) {
	raw, err := c.ReadFromGroup(ctx, dst, priority, 0, windowStringMax)
	if err != nil {
		return "", err
	}
	t, err := dp.CreateTranslator(dptID)
	if err != nil {
		return "", err
	}
	if err := t.SetData(raw[2:]); err != nil {
		return "", err
	}
	v, err := t.Value()
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Read performs a generic datapoint read through dp's translator. If dptID
// is empty (no DPT configured for this datapoint) the raw ASDU is rendered
// as space-delimited hex (§4.E).
func (c *Communicator) Read(ctx context.Context, dst address.GroupAddress, priority address.Priority, dp DPTRegistry, dptID string) (string, error) {
	raw, err := c.ReadFromGroup(ctx, dst, priority, 0, windowGenericMax)
	if err != nil {
		return "", err
	}
	asdu := groupASDU(raw)
	if dptID == "" {
		return hexRender(asdu), nil
	}
	t, err := dp.CreateTranslator(dptID)
	if err != nil {
		return "", err
	}
	if err := t.SetData(raw[2:]); err != nil {
		return "", err
	}
	v, err := t.Value()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", v), nil
}

// ReadNumeric performs a generic numeric datapoint read. With a DPT
// configured, the value is decoded through its translator; otherwise the
// ASDU is parsed as a big-endian signed long, masking the top two bits of
// byte 1 for length-optimized APDUs of length 2 (§4.E, §9 open question).
func (c *Communicator) ReadNumeric(ctx context.Context, dst address.GroupAddress, priority address.Priority, dp DPTRegistry, dptID string) (float64, error) {
	raw, err := c.ReadFromGroup(ctx, dst, priority, 0, windowGenericMax)
	if err != nil {
		return 0, err
	}
	if dptID != "" {
		t, err := dp.CreateTranslator(dptID)
		if err != nil {
			return 0, err
		}
		if err := t.SetData(raw[2:]); err != nil {
			return 0, err
		}
		return t.NumericValue()
	}
	return decodeSignedLong(raw), nil
}

// groupASDU extracts the ASDU bytes from a raw group APDU for rendering
// purposes: the masked single byte for a length-optimized APDU, or the raw
// bytes past the 2-byte header otherwise.
func groupASDU(raw []byte) []byte {
	if len(raw) == 2 {
		return []byte{raw[1] & asduMask}
	}
	return raw[2:]
}

func hexRender(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// decodeSignedLong parses raw's ASDU as a big-endian signed integer,
// masking the top two bits of byte 1 when raw is a length-optimized
// 2-byte APDU (§9 open question: confirmed only for that case).
func decodeSignedLong(raw []byte) float64 {
	data := groupASDU(raw)
	var v int64
	negative := len(data) > 0 && data[0]&0x80 != 0
	for _, b := range data {
		v = v<<8 | int64(b)
	}
	if negative {
		v -= int64(1) << (8 * uint(len(data)))
	}
	return float64(v)
}
