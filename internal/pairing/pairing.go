// Package pairing issues the short codes a device enters to claim its
// record on first boot.
package pairing

import (
	"crypto/rand"
	"math/big"
)

// Charset leaves out characters that are easy to misread on a small screen.
const Charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 6

// NewCode returns a random pairing code.
func NewCode() (string, error) {
	b := make([]byte, CodeLength)
	max := big.NewInt(int64(len(Charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = Charset[n.Int64()]
	}
	return string(b), nil
}
