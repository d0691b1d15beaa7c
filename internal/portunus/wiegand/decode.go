package wiegand

import (
	"fmt"
	"strconv"
)

const minCardIDDigits = 8

// Credential is what a reader hands the access service after decoding.
type Credential struct {
	CardID   string
	Facility string
	UserID   string
	Format   string
}

// Decode validates bits against the format for its length and extracts the
// credential. CardID is the whole bit string in lower-case hex, zero padded
// to one digit per started nibble and never shorter than eight digits, which
// keeps 26-bit ids identical to the ones already enrolled by older readers.
func (r *Registry) Decode(bits string) (Credential, error) {
	f, ok := r.formats[len(bits)]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %d", ErrUnsupportedLength, len(bits))
	}
	for i := 0; i < len(bits); i++ {
		if bits[i] != '0' && bits[i] != '1' {
			return Credential{}, ErrInvalidBits
		}
	}
	if f.HasParity && len(f.EvenParityBits) > 0 && len(f.OddParityBits) > 0 && !f.parityOK(bits) {
		return Credential{}, ErrParity
	}

	whole, err := strconv.ParseUint(bits, 2, 64)
	if err != nil {
		return Credential{}, fmt.Errorf("wiegand: %w", err)
	}
	width := (len(bits) + 3) / 4
	if width < minCardIDDigits {
		width = minCardIDDigits
	}

	return Credential{
		CardID:   fmt.Sprintf("%0*x", width, whole),
		Facility: strconv.FormatUint(field(bits, f.FacilityStart, f.FacilityEnd), 10),
		UserID:   strconv.FormatUint(field(bits, f.UserIDStart, f.UserIDEnd), 10),
		Format:   f.Name,
	}, nil
}

// Register has checked every index against the bit length.
// Even parity: the parity bit equals the XOR of its covered bits.
// Odd parity: the parity bit equals the inverted XOR of its covered bits.
func (f Format) parityOK(bits string) bool {
	even := byte(0)
	for _, i := range f.EvenParityBits {
		even ^= bits[i] - '0'
	}
	odd := byte(1)
	for _, i := range f.OddParityBits {
		odd ^= bits[i] - '0'
	}
	return bits[f.EvenParityPos]-'0' == even && bits[f.OddParityPos]-'0' == odd
}

func field(bits string, from, to int) uint64 {
	var v uint64
	for i := from; i <= to; i++ {
		v = v<<1 | uint64(bits[i]-'0')
	}
	return v
}

var defaultRegistry = NewRegistry()

// Decode decodes bits with the standard formats.
func Decode(bits string) (Credential, error) { return defaultRegistry.Decode(bits) }
