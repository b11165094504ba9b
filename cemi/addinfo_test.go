package cemi

import (
	"bytes"
	"testing"
)

func TestAdditionalInfoEncodeSortsByType(t *testing.T) {
	l := newAdditionalInfoList([]AdditionalInfo{
		{Type: 0x03, Data: []byte{0xAA}},
		{Type: 0x01, Data: []byte{0xBB, 0xCC}},
	})
	enc, err := l.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{7, 0x01, 2, 0xBB, 0xCC, 0x03, 1, 0xAA}
	if !bytes.Equal(enc, want) {
		t.Fatalf("encode() = % X, want % X", enc, want)
	}
}

func TestAdditionalInfoRoundTrip(t *testing.T) {
	l := newAdditionalInfoList([]AdditionalInfo{
		{Type: 0x0C, Data: []byte{0x01, 0x02, 0x03, 0x04}},
		{Type: 0x03, Data: []byte{0x10, 0x20, 0x30, 0x40}},
	})
	enc, err := l.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := parseAdditionalInfo(enc[1:], int(enc[0]))
	if err != nil {
		t.Fatalf("parseAdditionalInfo: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d entries, want 2", len(parsed))
	}
	if parsed[0].Type != 0x03 || parsed[1].Type != 0x0C {
		t.Fatalf("parsed entries out of order: %+v", parsed)
	}
}

func TestAdditionalInfoRejectsOversizeEntry(t *testing.T) {
	l := newAdditionalInfoList([]AdditionalInfo{{Type: 1, Data: make([]byte, 256)}})
	if _, err := l.encode(); err == nil {
		t.Fatalf("expected error for oversize entry")
	}
}

func TestAdditionalInfoConcurrentAdd(t *testing.T) {
	l := newAdditionalInfoList(nil)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			l.Add(AdditionalInfo{Type: byte(i), Data: []byte{byte(i)}})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if len(l.Entries()) != 8 {
		t.Fatalf("Entries() len = %d, want 8", len(l.Entries()))
	}
}
