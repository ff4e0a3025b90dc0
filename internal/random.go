package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Supported NumericCode lengths.
const (
	MinCodeDigits = 4
	MaxCodeDigits = 10
)

// NumericCode returns a cryptographically random code of the given number of
// decimal digits. math/rand is never acceptable here.
func NumericCode(digits int) (string, error) {
	if digits < MinCodeDigits || digits > MaxCodeDigits {
		return "", errors.New("invalid code length")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// CharsetCode returns a cryptographically random string of length characters
// drawn from charset.
func CharsetCode(charset string, length int) (string, error) {
	if len(charset) == 0 || length <= 0 {
		return "", errors.New("invalid charset code request")
	}

	var b strings.Builder
	b.Grow(length)

	size := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(charset[n.Int64()])
	}

	return b.String(), nil
}
