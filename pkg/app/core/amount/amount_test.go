package amount

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestParseOneToken(t *testing.T) {
	got, err := Parse("1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want, _ := uint256.FromDecimal("1000000000000000000")
	if !got.Eq(want) {
		t.Errorf("Parse(1) = %s, want %s", got.Dec(), want.Dec())
	}
	if !Units(1).Eq(want) {
		t.Errorf("Units(1) = %s, want %s", Units(1).Dec(), want.Dec())
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0", want: "0"},
		{in: "98.9", want: "98900000000000000000"},
		{in: "0.1", want: "100000000000000000"},
		{in: "100000", want: "100000000000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %s", tt.in, got.Dec())
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got.Dec() != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, got.Dec(), tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   *uint256.Int
		want string
	}{
		{in: Units(1), want: "1.0"},
		{in: MustParse("98.9"), want: "98.9"},
		{in: MustParse("0.1"), want: "0.1"},
		{in: Zero(), want: "0.0"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%s) = %q, want %q", tt.in.Dec(), got, tt.want)
		}
	}
}

func TestPercentTruncates(t *testing.T) {
	if got := Percent(Units(1), 10); !got.Eq(MustParse("0.1")) {
		t.Errorf("10%% of 1.0 = %s, want 0.1", Format(got))
	}
	if got := Percent(uint256.NewInt(19), 10); !got.Eq(uint256.NewInt(1)) {
		t.Errorf("10%% of 19 = %s, want 1", got.Dec())
	}
	if got := Percent(uint256.NewInt(9), 10); !got.IsZero() {
		t.Errorf("10%% of 9 = %s, want 0", got.Dec())
	}
}

func TestParseBase(t *testing.T) {
	v, err := ParseBase("0x10")
	if err != nil || v.Uint64() != 16 {
		t.Errorf("ParseBase(0x10) = %v, %v", v, err)
	}
	v, err = ParseBase("250")
	if err != nil || v.Uint64() != 250 {
		t.Errorf("ParseBase(250) = %v, %v", v, err)
	}
	if _, err := ParseBase("1.5"); err == nil {
		t.Error("expected error for fractional base amount")
	}
}
