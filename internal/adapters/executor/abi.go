package executor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// Splitter contract methods.
const (
	MethodPayout   = "payout(address,address,address,uint256,uint256)"
	MethodPayoutV2 = "payoutV2(address,address,address,address,uint256,uint256,uint256)"
)

var (
	errBadAddress   = errors.New("invalid address")
	errFractional   = errors.New("amount is not representable in token base units")
	errNegativeCent = errors.New("amount must not be negative")
)

// Address is a 20-byte account address.
type Address [20]byte

// ParseAddress decodes a 0x-prefixed, 40 hex digit address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 40 {
		return a, fmt.Errorf("%w: %q", errBadAddress, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", errBadAddress, err)
	}
	copy(a[:], b)
	return a, nil
}

// Hex returns the 0x-prefixed lowercase form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Keccak256 hashes the concatenation of parts.
func Keccak256(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Selector returns the 4-byte function selector of a method signature.
func Selector(method string) []byte {
	sum := Keccak256([]byte(method))
	return sum[:4]
}

// ToBaseUnits converts cents into token base units for a token with the given
// decimals. 150 cents with 6 decimals is 1_500_000.
func ToBaseUnits(cents int64, decimals int32) (*big.Int, error) {
	if cents < 0 {
		return nil, errNegativeCent
	}
	units := decimal.New(cents, -2).Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return nil, fmt.Errorf("%w: %d cents at %d decimals", errFractional, cents, decimals)
	}
	return units.BigInt(), nil
}

func word(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func encodeAddress(a Address) []byte { return word(a[:]) }

func encodeUint(v *big.Int) []byte { return word(v.Bytes()) }

// Call is an encoded splitter invocation.
type Call struct {
	Method string
	Args   map[string]string
	Data   []byte
}

// encodeCall packs method arguments in the static ABI layout: selector followed by one
// 32-byte word per argument.
func encodeCall(method string, words ...[]byte) []byte {
	out := make([]byte, 0, 4+32*len(words))
	out = append(out, Selector(method)...)
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}
