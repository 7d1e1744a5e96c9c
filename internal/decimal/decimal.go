// Package decimal implements the exact decimal arithmetic used for quota
// fractions. Values keep the scale they were written with, so subtracting
// "0.29993330" from "0.30000000" yields "0.00006670" rather than a rounded
// binary float.
package decimal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	sd "github.com/shopspring/decimal"
)

// ErrInvalid is returned for strings that are not decimal numbers.
var ErrInvalid = errors.New("invalid decimal")

var (
	plainRe    = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)$`)
	exponentRe = regexp.MustCompile(`^[+-]?\d+(?:\.\d+)?[eE][+-]?\d+$`)
)

// Value is an exact decimal number together with its display scale.
type Value struct {
	d     sd.Decimal
	scale int32
}

// Zero is the decimal 0.
var Zero = Value{}

// One is the decimal 1.
var One = Value{d: sd.NewFromInt(1)}

// Parse parses plain or scientific notation into a Value.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, fmt.Errorf("%w: empty string", ErrInvalid)
	}

	switch {
	case exponentRe.MatchString(s):
	case plainRe.MatchString(s):
		s = strings.TrimSuffix(s, ".")
		neg := strings.HasPrefix(s, "-")
		s = strings.TrimLeft(s, "+-")
		if strings.HasPrefix(s, ".") {
			s = "0" + s
		}
		if neg {
			s = "-" + s
		}
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	d, err := sd.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return Value{d: d, scale: max(0, -d.Exponent())}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromFloat converts a float using its shortest exact representation.
func FromFloat(f float64) Value {
	d := sd.NewFromFloat(f)
	return Value{d: d, scale: max(0, -d.Exponent())}
}

// String renders the value at its scale, without a leading '+' and with
// leading integer zeros removed.
func (v Value) String() string {
	return v.d.StringFixed(v.scale)
}

// Scale returns the number of fractional digits the value is rendered with.
func (v Value) Scale() int32 {
	return v.scale
}

// Sub returns v - o at the larger of the two scales.
func (v Value) Sub(o Value) Value {
	return Value{d: v.d.Sub(o.d), scale: max(v.scale, o.scale)}
}

// Neg returns -v.
func (v Value) Neg() Value {
	return Value{d: v.d.Neg(), scale: v.scale}
}

// Shift moves the decimal point places positions to the right (left when
// negative). No digits are lost. The result keeps scale-places fractional
// digits, floored at zero, so a round trip pads: Shift(Shift("0.5", 2), -2)
// is "0.50". Only inputs with at least places fractional digits round-trip
// byte for byte.
func (v Value) Shift(places int32) Value {
	return Value{d: v.d.Shift(places), scale: max(0, v.scale-places)}
}

// Cmp compares v and o: -1 if v < o, 0 if equal, +1 if v > o.
func (v Value) Cmp(o Value) int {
	return v.d.Cmp(o.d)
}

// Sign returns -1, 0 or +1.
func (v Value) Sign() int {
	return v.d.Sign()
}

// IsZero reports whether v == 0.
func (v Value) IsZero() bool {
	return v.d.IsZero()
}

// Clamp01 limits v to the closed interval [0, 1].
func (v Value) Clamp01() Value {
	if v.d.Sign() < 0 {
		return Value{scale: v.scale}
	}
	if v.d.Cmp(One.d) > 0 {
		return Value{d: One.d, scale: v.scale}
	}
	return v
}

// Float64 returns the nearest float64. For display and charts only.
func (v Value) Float64() float64 {
	f, _ := v.d.Float64()
	return f
}

// FloorDiv returns floor(v / o) for positive operands. ok is false when o <= 0.
func (v Value) FloorDiv(o Value) (int64, bool) {
	if o.d.Sign() <= 0 {
		return 0, false
	}
	q := v.d.Div(o.d)
	// Div rounds at DivisionPrecision; recheck the boundary exactly.
	f := q.Floor()
	if f.Add(sd.NewFromInt(1)).Mul(o.d).Cmp(v.d) <= 0 {
		f = f.Add(sd.NewFromInt(1))
	} else if f.Mul(o.d).Cmp(v.d) > 0 {
		f = f.Sub(sd.NewFromInt(1))
	}
	return f.IntPart(), true
}

// Normalize returns the canonical rendering of s.
func Normalize(s string) (string, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// Subtract returns a - b exactly.
func Subtract(a, b string) (string, error) {
	va, err := Parse(a)
	if err != nil {
		return "", err
	}
	vb, err := Parse(b)
	if err != nil {
		return "", err
	}
	return va.Sub(vb).String(), nil
}

// ShiftPow10 multiplies s by 10^places without precision loss.
func ShiftPow10(s string, places int32) (string, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return v.Shift(places).String(), nil
}

// IsZero reports whether s parses to zero. Invalid input is not zero.
func IsZero(s string) bool {
	v, err := Parse(s)
	return err == nil && v.IsZero()
}
