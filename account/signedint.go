package account

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// SignedInt is a minimal signed 256-bit integer built on top of
// github.com/holiman/uint256's unsigned Int: a sign bit plus an unsigned
// magnitude. The ledger fields in spec.md §3 (offdelta, credit limits,
// allowances, holds, collateral, ondelta) are all int256; uint256.Int alone
// cannot represent negative offdelta (a channel can owe either side), so
// the magnitude+sign pair is the narrowest extension that keeps
// github.com/holiman/uint256 as the arithmetic engine instead of reaching
// for math/big (see DESIGN.md).
type SignedInt struct {
	neg bool
	mag uint256.Int
}

// ZeroInt is the additive identity.
var ZeroInt = SignedInt{}

// NewSignedInt builds a SignedInt from a native int64.
func NewSignedInt(v int64) SignedInt {
	if v == 0 {
		return SignedInt{}
	}
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}
	var m uint256.Int
	m.SetUint64(u)
	return SignedInt{neg: neg, mag: m}
}

// IsZero reports whether the value is exactly zero.
func (s SignedInt) IsZero() bool { return s.mag.IsZero() }

// Sign returns -1, 0, or 1.
func (s SignedInt) Sign() int {
	if s.mag.IsZero() {
		return 0
	}
	if s.neg {
		return -1
	}
	return 1
}

// Neg returns the additive inverse.
func (s SignedInt) Neg() SignedInt {
	if s.mag.IsZero() {
		return s
	}
	return SignedInt{neg: !s.neg, mag: s.mag}
}

// Add returns s + other, canonicalizing -0 to +0.
func (s SignedInt) Add(other SignedInt) SignedInt {
	switch {
	case s.neg == other.neg:
		var sum uint256.Int
		sum.Add(&s.mag, &other.mag)
		return SignedInt{neg: s.neg && !sum.IsZero(), mag: sum}
	case s.mag.Cmp(&other.mag) >= 0:
		var diff uint256.Int
		diff.Sub(&s.mag, &other.mag)
		return SignedInt{neg: s.neg && !diff.IsZero(), mag: diff}
	default:
		var diff uint256.Int
		diff.Sub(&other.mag, &s.mag)
		return SignedInt{neg: other.neg && !diff.IsZero(), mag: diff}
	}
}

// Sub returns s - other.
func (s SignedInt) Sub(other SignedInt) SignedInt {
	return s.Add(other.Neg())
}

// Cmp returns -1, 0, or 1 comparing s to other.
func (s SignedInt) Cmp(other SignedInt) int {
	d := s.Sub(other)
	return d.Sign()
}

// Equal reports bitwise equality (I4 bilateral-field comparisons use this).
func (s SignedInt) Equal(other SignedInt) bool {
	return s.neg == other.neg && s.mag.Eq(&other.mag)
}

// DecString renders the canonical base-10 representation used by the frame
// encoder (§4.1): no leading zeros, a single leading '-' for negatives, "0"
// for zero.
func (s SignedInt) DecString() string {
	d := s.mag.Dec()
	if s.neg && d != "0" {
		return "-" + d
	}
	return d
}

// ParseSignedInt parses the canonical decimal form produced by DecString.
func ParseSignedInt(s string) (SignedInt, error) {
	neg := strings.HasPrefix(s, "-")
	digits := s
	if neg {
		digits = s[1:]
	}
	if digits == "" {
		return SignedInt{}, fmt.Errorf("signedint: empty value")
	}
	var m uint256.Int
	if err := m.SetFromDecimal(digits); err != nil {
		return SignedInt{}, fmt.Errorf("signedint: %w", err)
	}
	if m.IsZero() {
		neg = false
	}
	return SignedInt{neg: neg, mag: m}, nil
}

func (s SignedInt) String() string { return s.DecString() }

// MarshalJSON renders the same decimal string DecString produces, quoted,
// so a SignedInt round-trips through the disk snapshot (account/store)
// without losing precision the way a JSON number would beyond 2^53.
func (s SignedInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.DecString() + `"`), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *SignedInt) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	v, err := ParseSignedInt(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
