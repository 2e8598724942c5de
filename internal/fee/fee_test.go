package fee

import (
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/custodex/internal/domain"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name         string
		mode         Mode
		price        uint64
		rate         uint16
		wantProceeds uint64
		wantFee      uint64
		wantErr      error
	}{
		{name: "absolute", mode: ModeAbsolute, price: 10_000, rate: 500, wantProceeds: 9_500, wantFee: 500},
		{name: "absolute zero fee", mode: ModeAbsolute, price: 7, rate: 0, wantProceeds: 7},
		{name: "absolute fee equals price", mode: ModeAbsolute, price: 500, rate: 500, wantProceeds: 0, wantFee: 500},
		{name: "absolute fee exceeds price", mode: ModeAbsolute, price: 499, rate: 500, wantErr: domain.ErrArithmetic},
		{name: "empty mode is absolute", mode: "", price: 10_000, rate: 250, wantProceeds: 9_750, wantFee: 250},
		{name: "bps", mode: ModeBasisPoints, price: 10_000, rate: 250, wantProceeds: 9_750, wantFee: 250},
		{name: "bps rounds down", mode: ModeBasisPoints, price: 999, rate: 250, wantProceeds: 975, wantFee: 24},
		{name: "bps full", mode: ModeBasisPoints, price: 42, rate: 10_000, wantProceeds: 0, wantFee: 42},
		{name: "bps max price", mode: ModeBasisPoints, price: math.MaxUint64, rate: 10_000, wantProceeds: 0, wantFee: math.MaxUint64},
		{name: "unknown mode", mode: "percent", price: 1, rate: 1, wantErr: domain.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proceeds, fee, err := Policy{Mode: tt.mode}.Split(tt.price, tt.rate)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Split error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if proceeds != tt.wantProceeds || fee != tt.wantFee {
				t.Fatalf("Split = (%d, %d), want (%d, %d)", proceeds, fee, tt.wantProceeds, tt.wantFee)
			}
			if proceeds+fee != tt.price {
				t.Fatalf("proceeds+fee = %d, want price %d", proceeds+fee, tt.price)
			}
		})
	}
}

func TestFeeExceedingPriceAlwaysFails(t *testing.T) {
	p := Policy{Mode: ModeAbsolute}
	for rate := uint16(1); rate <= 2_000; rate += 7 {
		for price := uint64(0); price < uint64(rate); price += 13 {
			if _, _, err := p.Split(price, rate); !errors.Is(err, domain.ErrArithmetic) {
				t.Fatalf("Split(%d, %d) = %v, want arithmetic error", price, rate, err)
			}
		}
	}
}

func TestValidateRate(t *testing.T) {
	if err := ValidateRate(10_000); err != nil {
		t.Fatalf("ValidateRate(10000) = %v", err)
	}
	if err := ValidateRate(10_001); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("ValidateRate(10001) = %v, want configuration error", err)
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := Add(math.MaxUint64, 1); !errors.Is(err, domain.ErrArithmetic) {
		t.Fatalf("Add overflow = %v", err)
	}
	if _, err := Sub(1, 2); !errors.Is(err, domain.ErrArithmetic) {
		t.Fatalf("Sub underflow = %v", err)
	}
	if _, err := MulDiv(math.MaxUint64, 2, 1); !errors.Is(err, domain.ErrArithmetic) {
		t.Fatalf("MulDiv overflow = %v", err)
	}
	if got, err := MulDiv(math.MaxUint64, 3, 3); err != nil || got != math.MaxUint64 {
		t.Fatalf("MulDiv wide intermediate = %d, %v", got, err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"absolute": ModeAbsolute, "BPS": ModeBasisPoints, " basis_points ": ModeBasisPoints} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("percent"); err == nil {
		t.Fatal("ParseMode(percent) should fail")
	}
}
