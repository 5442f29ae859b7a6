package knxtunnel

import (
	"errors"
	"testing"
)

// ─── GroupAddress ──────────────────────────────────────────────────

func TestParseGroupAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    GroupAddress
		wantErr error
	}{
		{"3-level zero", "0/0/0", 0, nil},
		{"3-level typical", "1/2/3", GroupAddress(1<<11 | 2<<8 | 3), nil},
		{"3-level max", "31/7/255", GroupAddress(31<<11 | 7<<8 | 255), nil},
		{"3-level main overflow", "32/0/0", 0, ErrInvalidGroupAddress},
		{"3-level middle overflow", "0/8/0", 0, ErrInvalidGroupAddress},
		{"3-level sub overflow", "0/0/256", 0, ErrInvalidGroupAddress},
		{"2-level typical", "1/515", GroupAddress(1<<11 | 515), nil},
		{"2-level sub overflow", "1/2048", 0, ErrInvalidGroupAddress},
		{"flat zero", "0", 0, nil},
		{"flat max", "65535", 65535, nil},
		{"flat overflow", "65536", 0, ErrInvalidGroupAddress},
		{"too many segments", "1/2/3/4", 0, ErrInvalidGroupAddress},
		{"non-numeric", "a/b/c", 0, ErrInvalidGroupAddress},
		{"empty", "", 0, ErrInvalidGroupAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroupAddress(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseGroupAddress(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGroupAddress(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseGroupAddress(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestGroupAddressStringRoundTrip(t *testing.T) {
	tests := []struct {
		form3 string
		form2 string
		flat  string
	}{
		{"1/2/3", "1/515", "2563"},
		{"0/0/0", "0/0", "0"},
		{"31/7/255", "31/2047", "65535"},
	}

	for _, tt := range tests {
		t.Run(tt.form3, func(t *testing.T) {
			ga, err := ParseGroupAddress(tt.form3)
			if err != nil {
				t.Fatalf("ParseGroupAddress(%q): %v", tt.form3, err)
			}
			if got := ga.String(); got != tt.form3 {
				t.Errorf("String() = %q, want %q", got, tt.form3)
			}
			if got := ga.String2Level(); got != tt.form2 {
				t.Errorf("String2Level() = %q, want %q", got, tt.form2)
			}
			if got := ga.StringFlat(); got != tt.flat {
				t.Errorf("StringFlat() = %q, want %q", got, tt.flat)
			}

			ga2, err := ParseGroupAddress(tt.form2)
			if err != nil {
				t.Fatalf("ParseGroupAddress(%q): %v", tt.form2, err)
			}
			if ga2 != ga {
				t.Errorf("2-level parse = %d, want %d", ga2, ga)
			}

			flat, err := ParseGroupAddress(tt.flat)
			if err != nil {
				t.Fatalf("ParseGroupAddress(%q): %v", tt.flat, err)
			}
			if flat != ga {
				t.Errorf("flat parse = %d, want %d", flat, ga)
			}
		})
	}
}

func TestGroupAddressUint16RoundTrip(t *testing.T) {
	ga, err := ParseGroupAddress("4/5/6")
	if err != nil {
		t.Fatalf("ParseGroupAddress: %v", err)
	}
	if GroupAddressFromUint16(ga.ToUint16()) != ga {
		t.Errorf("uint16 round trip did not preserve value")
	}
}

// ─── IndividualAddress ─────────────────────────────────────────────

func TestParseIndividualAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    IndividualAddress
		wantErr error
	}{
		{"typical", "1.1.200", IndividualAddress(1<<12 | 1<<8 | 200), nil},
		{"zero", "0.0.0", 0, nil},
		{"max", "15.15.255", IndividualAddress(15<<12 | 15<<8 | 255), nil},
		{"area overflow", "16.0.0", 0, ErrInvalidIndividualAddress},
		{"line overflow", "0.16.0", 0, ErrInvalidIndividualAddress},
		{"device overflow", "0.0.256", 0, ErrInvalidIndividualAddress},
		{"wrong shape", "1.1", 0, ErrInvalidIndividualAddress},
		{"non-numeric", "a.b.c", 0, ErrInvalidIndividualAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIndividualAddress(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseIndividualAddress(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseIndividualAddress(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseIndividualAddress(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestIndividualAddressStringRoundTrip(t *testing.T) {
	ia, err := ParseIndividualAddress("1.1.200")
	if err != nil {
		t.Fatalf("ParseIndividualAddress: %v", err)
	}
	if got := ia.String(); got != "1.1.200" {
		t.Errorf("String() = %q, want %q", got, "1.1.200")
	}
	if IndividualAddressFromUint16(ia.ToUint16()) != ia {
		t.Errorf("uint16 round trip did not preserve value")
	}
}
