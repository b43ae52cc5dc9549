package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var (
	// ErrInvalidAmount is returned when an ether amount cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNegativeAmount is returned for amounts below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	weiPerEther   = big.NewInt(params.Ether)
	decimalAmount = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
)

// EtherToWei converts a decimal ether amount into wei. Fractions below one wei
// are floored. Exponent and fraction notations are rejected so the conversion
// stays a plain decimal shift.
func EtherToWei(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: amount required", ErrInvalidAmount)
	}
	if !decimalAmount.MatchString(trimmed) {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}
	value, ok := new(big.Rat).SetString(normaliseDecimal(trimmed))
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, trimmed)
	}
	value.Mul(value, new(big.Rat).SetInt(weiPerEther))
	// Non-negative, so truncating division is the floor.
	return new(big.Int).Quo(value.Num(), value.Denom()), nil
}

// WeiToEther renders a wei amount as an exact decimal ether string without
// trailing zeros.
func WeiToEther(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	out := new(big.Rat).SetFrac(wei, weiPerEther).FloatString(18)
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	return out
}

// normaliseDecimal pads bare leading or trailing decimal points ("5.", ".5")
// so big.Rat always sees a full mantissa.
func normaliseDecimal(s string) string {
	sign := ""
	if s[0] == '+' || s[0] == '-' {
		sign, s = s[:1], s[1:]
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return sign + s
}
