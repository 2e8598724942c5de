// Package fee computes settlement splits and provides the checked integer
// arithmetic every transfer leg relies on.
package fee

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// Mode selects how the root's fee field is applied to a price.
type Mode string

const (
	// ModeAbsolute deducts the fee field itself from the price, in the
	// smallest currency unit.
	ModeAbsolute Mode = "absolute"
	// ModeBasisPoints deducts price*fee/10000, rounded down.
	ModeBasisPoints Mode = "bps"
)

// ParseMode accepts "absolute" or "bps" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAbsolute:
		return ModeAbsolute, nil
	case ModeBasisPoints, "basis_points":
		return ModeBasisPoints, nil
	default:
		return "", fmt.Errorf("fee: unknown mode %q (valid: absolute, bps)", s)
	}
}

// Policy turns a root fee field into a concrete deduction.
type Policy struct {
	Mode Mode
}

// ValidateRate enforces the configuration bound on the fee field.
func ValidateRate(rate uint16) error {
	if rate > domain.MaxFeeBps {
		return domain.Errorf(domain.KindConfiguration, "fee %d exceeds %d", rate, domain.MaxFeeBps)
	}
	return nil
}

// Split returns the maker's proceeds and the treasury's fee for a price.
// proceeds+fee always equals price. A fee larger than the price is an
// arithmetic failure.
func (p Policy) Split(price uint64, rate uint16) (proceeds, fee uint64, err error) {
	switch p.Mode {
	case ModeAbsolute, "":
		fee = uint64(rate)
	case ModeBasisPoints:
		fee, err = MulDiv(price, uint64(rate), domain.MaxFeeBps)
		if err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, domain.Errorf(domain.KindConfiguration, "unknown fee mode %q", p.Mode)
	}
	proceeds, err = Sub(price, fee)
	if err != nil {
		return 0, 0, domain.Errorf(domain.KindArithmetic, "fee %d exceeds price %d", fee, price)
	}
	return proceeds, fee, nil
}

// Add returns a+b or an arithmetic error on overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.Errorf(domain.KindArithmetic, "%d + %d overflows", a, b)
	}
	return sum, nil
}

// Sub returns a-b or an arithmetic error on underflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, domain.Errorf(domain.KindArithmetic, "%d - %d underflows", a, b)
	}
	return diff, nil
}

// MulDiv returns a*b/d rounded down, computed in 256 bits so the product
// cannot wrap.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.Errorf(domain.KindArithmetic, "division by zero")
	}
	x := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	x.Div(x, uint256.NewInt(d))
	if !x.IsUint64() {
		return 0, domain.Errorf(domain.KindArithmetic, "%d * %d / %d overflows", a, b, d)
	}
	return x.Uint64(), nil
}
