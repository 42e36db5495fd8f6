package pin

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
)

const (
	// Length6 is the default PIN length.
	Length6 = 6
	// Length8 is the long PIN length.
	Length8 = 8
)

// ValidLength reports whether n is a supported PIN length.
func ValidLength(n int) bool {
	return n == Length6 || n == Length8
}

// Generate returns a uniformly random numeric string of exactly length digits drawn from
// crypto/rand. Leading zeros are kept.
func Generate(length int) (string, error) {
	return generateFrom(rand.Reader, length)
}

func generateFrom(r io.Reader, length int) (string, error) {
	if !ValidLength(length) {
		return "", ErrInvalidLength
	}

	var b strings.Builder
	b.Grow(length)

	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(r, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// IsNumeric reports whether v is a non-empty string of ASCII digits.
func IsNumeric(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
