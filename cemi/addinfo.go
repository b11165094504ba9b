package cemi

import (
	"fmt"
	"sort"
	"sync"
)

// AdditionalInfo is a single (type, payload) entry of the extended L-Data
// additional-information block.
type AdditionalInfo struct {
	Type byte
	Data []byte
}

// additionalInfoList is the mutable, concurrency-guarded additional-info
// collection carried by extended L-Data frames (§5, Mutable vs immutable
// frames). Every other frame variant is an immutable value; this is the one
// deliberate exception, so higher layers can stamp additional info onto an
// already-built frame without reconstructing it.
type additionalInfoList struct {
	mu      sync.Mutex
	entries []AdditionalInfo
}

func newAdditionalInfoList(entries []AdditionalInfo) *additionalInfoList {
	l := &additionalInfoList{}
	if len(entries) > 0 {
		l.entries = append([]AdditionalInfo(nil), entries...)
	}
	return l
}

// Add appends an entry under the list's lock.
func (l *additionalInfoList) Add(info AdditionalInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, info)
}

// Entries returns a snapshot copy of the current entries.
func (l *additionalInfoList) Entries() []AdditionalInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AdditionalInfo, len(l.entries))
	copy(out, l.entries)
	return out
}

// encode renders the total-length byte followed by each TLV entry, sorted
// ascending by info type as required on the wire.
func (l *additionalInfoList) encode() ([]byte, error) {
	entries := l.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Type < entries[j].Type })

	total := 0
	for _, e := range entries {
		if len(e.Data) > 255 {
			return nil, fmt.Errorf("%w: additional info payload too long (%d bytes)", ErrIllegalArgument, len(e.Data))
		}
		total += 2 + len(e.Data)
	}
	if total > 255 {
		return nil, fmt.Errorf("%w: additional info block too long (%d bytes)", ErrIllegalArgument, total)
	}

	buf := make([]byte, 1+total)
	buf[0] = byte(total)
	pos := 1
	for _, e := range entries {
		buf[pos] = e.Type
		buf[pos+1] = byte(len(e.Data))
		copy(buf[pos+2:], e.Data)
		pos += 2 + len(e.Data)
	}
	return buf, nil
}

// parseAdditionalInfo parses a TLV block of exactly totalLen bytes.
func parseAdditionalInfo(data []byte, totalLen int) ([]AdditionalInfo, error) {
	if len(data) < totalLen {
		return nil, fmt.Errorf("%w: additional info truncated", ErrFormat)
	}
	var out []AdditionalInfo
	pos := 0
	for pos < totalLen {
		if pos+2 > totalLen {
			return nil, fmt.Errorf("%w: additional info entry header truncated", ErrFormat)
		}
		infoType := data[pos]
		infoLen := int(data[pos+1])
		if pos+2+infoLen > totalLen {
			return nil, fmt.Errorf("%w: additional info entry payload truncated", ErrFormat)
		}
		payload := make([]byte, infoLen)
		copy(payload, data[pos+2:pos+2+infoLen])
		out = append(out, AdditionalInfo{Type: infoType, Data: payload})
		pos += 2 + infoLen
	}
	return out, nil
}
