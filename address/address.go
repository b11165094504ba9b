// Package address implements the immutable address and priority primitives
// shared by every KNX frame codec and link in this module.
//
// An IndividualAddress identifies a physical device (area.line.device); a
// GroupAddress identifies a logical communication group (main/middle/sub or
// main/sub). Both wrap a plain 16-bit value and differ only in validation
// range and string rendering.
package address

import (
	"fmt"
	"strconv"
	"strings"
)

// IndividualAddress identifies a single KNX device in "area.line.device" form.
type IndividualAddress uint16

// Unmatched is the reserved sentinel value used by the FT1.2 link (§4.D) to
// mean "no pending L_Data.con is outstanding".
const Unmatched IndividualAddress = 0xFFFF

// NewIndividualAddress builds an address from its three KNX levels.
//
// area and line are 4-bit fields (0-15); device is 8-bit (0-255).
func NewIndividualAddress(area, line, device uint8) (IndividualAddress, error) {
	if area > 0x0F {
		return 0, fmt.Errorf("%w: area must be 0-15, got %d", ErrInvalidAddress, area)
	}
	if line > 0x0F {
		return 0, fmt.Errorf("%w: line must be 0-15, got %d", ErrInvalidAddress, line)
	}
	return IndividualAddress(uint16(area)<<12 | uint16(line)<<8 | uint16(device)), nil
}

// ParseIndividualAddress parses the "area.line.device" string form.
func ParseIndividualAddress(s string) (IndividualAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: expected area.line.device, got %q", ErrInvalidAddress, s)
	}
	area, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || area > 0x0F {
		return 0, fmt.Errorf("%w: area must be 0-15, got %q", ErrInvalidAddress, parts[0])
	}
	line, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || line > 0x0F {
		return 0, fmt.Errorf("%w: line must be 0-15, got %q", ErrInvalidAddress, parts[1])
	}
	device, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil || device > 0xFF {
		return 0, fmt.Errorf("%w: device must be 0-255, got %q", ErrInvalidAddress, parts[2])
	}
	return IndividualAddress(uint16(area)<<12 | uint16(line)<<8 | uint16(device)), nil
}

// Area returns the 4-bit area level.
func (a IndividualAddress) Area() uint8 { return uint8(a>>12) & 0x0F }

// Line returns the 4-bit line level.
func (a IndividualAddress) Line() uint8 { return uint8(a>>8) & 0x0F }

// Device returns the 8-bit device level.
func (a IndividualAddress) Device() uint8 { return uint8(a) }

// String renders the address as "area.line.device".
func (a IndividualAddress) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Area(), a.Line(), a.Device())
}

// Raw returns the 16-bit wire value.
func (a IndividualAddress) Raw() uint16 { return uint16(a) }

// GroupAddress identifies a KNX group in 3-level ("main/middle/sub") or
// 2-level ("main/sub") form. Both forms address the same 16-bit space; only
// the string rendering differs.
type GroupAddress uint16

// GroupAddressFromRaw wraps a raw 16-bit value with no validation beyond
// range (all 16-bit values are valid group addresses).
func GroupAddressFromRaw(v uint16) GroupAddress { return GroupAddress(v) }

// NewGroupAddress3 builds a 3-level group address: main (0-31), middle
// (0-7), sub (0-255).
func NewGroupAddress3(main, middle, sub uint8) (GroupAddress, error) {
	if main > 31 {
		return 0, fmt.Errorf("%w: main group must be 0-31, got %d", ErrInvalidAddress, main)
	}
	if middle > 7 {
		return 0, fmt.Errorf("%w: middle group must be 0-7, got %d", ErrInvalidAddress, middle)
	}
	return GroupAddress(uint16(main)<<11 | uint16(middle)<<8 | uint16(sub)), nil
}

// NewGroupAddress2 builds a 2-level group address: main (0-31), sub (0-2047).
func NewGroupAddress2(main uint8, sub uint16) (GroupAddress, error) {
	if main > 31 {
		return 0, fmt.Errorf("%w: main group must be 0-31, got %d", ErrInvalidAddress, main)
	}
	if sub > 2047 {
		return 0, fmt.Errorf("%w: sub group must be 0-2047, got %d", ErrInvalidAddress, sub)
	}
	return GroupAddress(uint16(main)<<11 | sub), nil
}

// ParseGroupAddress parses either the 3-level ("1/2/3") or 2-level ("1/2")
// string form.
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 3:
		main, err := strconv.ParseUint(parts[0], 10, 8)
		if err != nil || main > 31 {
			return 0, fmt.Errorf("%w: main group must be 0-31, got %q", ErrInvalidAddress, parts[0])
		}
		middle, err := strconv.ParseUint(parts[1], 10, 8)
		if err != nil || middle > 7 {
			return 0, fmt.Errorf("%w: middle group must be 0-7, got %q", ErrInvalidAddress, parts[1])
		}
		sub, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil || sub > 255 {
			return 0, fmt.Errorf("%w: sub group must be 0-255, got %q", ErrInvalidAddress, parts[2])
		}
		return GroupAddress(uint16(main)<<11 | uint16(middle)<<8 | uint16(sub)), nil
	case 2:
		main, err := strconv.ParseUint(parts[0], 10, 8)
		if err != nil || main > 31 {
			return 0, fmt.Errorf("%w: main group must be 0-31, got %q", ErrInvalidAddress, parts[0])
		}
		sub, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil || sub > 2047 {
			return 0, fmt.Errorf("%w: sub group must be 0-2047, got %q", ErrInvalidAddress, parts[1])
		}
		return GroupAddress(uint16(main)<<11 | uint16(sub)), nil
	default:
		return 0, fmt.Errorf("%w: expected main/middle/sub or main/sub, got %q", ErrInvalidAddress, s)
	}
}

// Main returns the 5-bit main group level, common to both forms.
func (g GroupAddress) Main() uint8 { return uint8(g>>11) & 0x1F }

// Middle returns the 3-bit middle group level (3-level form only).
func (g GroupAddress) Middle() uint8 { return uint8(g>>8) & 0x07 }

// Sub3 returns the 8-bit sub group level (3-level form only).
func (g GroupAddress) Sub3() uint8 { return uint8(g) }

// Sub2 returns the 11-bit sub group level (2-level form only).
func (g GroupAddress) Sub2() uint16 { return uint16(g) & 0x07FF }

// String renders the address in 3-level form ("main/middle/sub").
func (g GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", g.Main(), g.Middle(), g.Sub3())
}

// String2Level renders the address in 2-level form ("main/sub").
func (g GroupAddress) String2Level() string {
	return fmt.Sprintf("%d/%d", g.Main(), g.Sub2())
}

// Raw returns the 16-bit wire value.
func (g GroupAddress) Raw() uint16 { return uint16(g) }

// Priority is the 2-bit KNX frame priority.
type Priority uint8

// Fixed wire encoding of the four priority levels.
const (
	PrioritySystem Priority = 0
	PriorityNormal Priority = 1
	PriorityUrgent Priority = 2
	PriorityLow    Priority = 3
)

// String renders the priority name.
func (p Priority) String() string {
	switch p {
	case PrioritySystem:
		return "System"
	case PriorityNormal:
		return "Normal"
	case PriorityUrgent:
		return "Urgent"
	case PriorityLow:
		return "Low"
	default:
		return fmt.Sprintf("Priority(%d)", uint8(p))
	}
}

// ReturnCode is the small result-code enumeration shared by the device
// management codec (§4.B) and the secure application layer collaborator
// contract (§6).
type ReturnCode uint8

// Common KNX return codes.
const (
	ReturnCodeSuccess          ReturnCode = 0x00
	ReturnCodeError            ReturnCode = 0x01
	ReturnCodeAddressVoid      ReturnCode = 0x03
	ReturnCodeTimeout          ReturnCode = 0x04
	ReturnCodeInvalidDatapoint ReturnCode = 0x12
)

func (r ReturnCode) String() string {
	switch r {
	case ReturnCodeSuccess:
		return "Success"
	case ReturnCodeError:
		return "Error"
	case ReturnCodeAddressVoid:
		return "AddressVoid"
	case ReturnCodeTimeout:
		return "Timeout"
	case ReturnCodeInvalidDatapoint:
		return "InvalidDatapoint"
	default:
		return fmt.Sprintf("ReturnCode(0x%02X)", uint8(r))
	}
}
