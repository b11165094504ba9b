package address

import "testing"

func TestParseIndividualAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    IndividualAddress
		wantErr bool
	}{
		{name: "basic", in: "1.1.1", want: 0x1101},
		{name: "zero", in: "0.0.0", want: 0},
		{name: "max", in: "15.15.255", want: 0xFFFF},
		{name: "area out of range", in: "16.0.0", wantErr: true},
		{name: "line out of range", in: "0.16.0", wantErr: true},
		{name: "device out of range", in: "0.0.256", wantErr: true},
		{name: "malformed", in: "1.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIndividualAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if got.String() != tt.in {
				t.Fatalf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestParseGroupAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    GroupAddress
		wantErr bool
	}{
		{name: "3-level", in: "1/2/3", want: 0x0A03},
		{name: "3-level max", in: "31/7/255", want: 0xFFFF},
		{name: "2-level", in: "1/2047", want: 0x0FFF},
		{name: "3-level main out of range", in: "32/0/0", wantErr: true},
		{name: "3-level middle out of range", in: "0/8/0", wantErr: true},
		{name: "2-level sub out of range", in: "0/2048", wantErr: true},
		{name: "malformed", in: "1/2/3/4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroupAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got 0x%04X, want 0x%04X", uint16(got), uint16(tt.want))
			}
		})
	}
}

func TestGroupAddressStringForms(t *testing.T) {
	ga, err := NewGroupAddress3(1, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ga.String(); got != "1/2/3" {
		t.Fatalf("String() = %q, want 1/2/3", got)
	}
	if got := ga.String2Level(); got != "1/515" {
		t.Fatalf("String2Level() = %q, want 1/515", got)
	}
}

func TestPriorityString(t *testing.T) {
	tests := map[Priority]string{
		PrioritySystem: "System",
		PriorityNormal: "Normal",
		PriorityUrgent: "Urgent",
		PriorityLow:    "Low",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Fatalf("Priority(%d).String() = %q, want %q", p, got, want)
		}
	}
}

func TestUnmatchedSentinel(t *testing.T) {
	if Unmatched != 0xFFFF {
		t.Fatalf("Unmatched = 0x%04X, want 0xFFFF", uint16(Unmatched))
	}
}
