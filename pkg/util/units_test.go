package util

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"1", 18, "1000000000000000000", false},
		{"12.5", 18, "12500000000000000000", false},
		{"0.000000001", 9, "1", false},
		{"10", 9, "10000000000", false},
		{"0", 18, "0", false},
		{"0.0000000001", 9, "", true},
		{"-1", 18, "", true},
		{"abc", 18, "", true},
		{"1e80", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseUnits(%q) = %s, want error", tt.in, got.Dec())
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Dec() != tt.want {
				t.Errorf("ParseUnits(%q) = %s, want %s", tt.in, got.Dec(), tt.want)
			}
		})
	}
}

func TestFormatUnits(t *testing.T) {
	v := uint256.MustFromDecimal("12500000000000000000")
	if got := FormatUnits(v, 18); got != "12.5" {
		t.Errorf("FormatUnits = %s, want 12.5", got)
	}
	if got := FormatUnits(uint256.NewInt(1), 9); got != "0.000000001" {
		t.Errorf("FormatUnits = %s", got)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("debug"); err != nil || lvl.String() != "debug" {
		t.Errorf("ParseLevel(debug) = %v, %v", lvl, err)
	}
	if lvl, err := ParseLevel(""); err != nil || lvl.String() != "info" {
		t.Errorf("ParseLevel(\"\") = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) succeeded")
	}
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := FixedClock{At: at}
	if !c.Now().Equal(at) {
		t.Errorf("Now = %v", c.Now())
	}
	select {
	case got := <-c.After(time.Hour):
		if !got.Equal(at) {
			t.Errorf("After fired with %v", got)
		}
	default:
		t.Error("After did not fire")
	}
}
