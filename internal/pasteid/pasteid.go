package pasteid

import (
	"errors"
	"math/rand/v2"
	"strings"
)

// Alphabet is the set of characters identifiers are drawn from. It contains
// no path separators or dots, so a validated identifier can never leave the
// storage root.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DefaultLength is the identifier length used when none is configured.
const DefaultLength = 4

var ErrInvalid = errors.New("invalid paste id")

// ID is the public handle and storage key of a paste.
type ID string

func (id ID) String() string {
	return string(id)
}

// Generate returns length characters sampled independently and uniformly
// from Alphabet.
//
// There is no uniqueness check. Two calls may return the same ID, and an
// upload under a colliding ID replaces the earlier paste. With 4 characters
// there are 62^4 (about 1.5e7) IDs, which is the accepted trade-off for short
// URLs.
func Generate(length int) ID {
	var sb strings.Builder
	sb.Grow(length)
	for range length {
		sb.WriteByte(Alphabet[rand.IntN(len(Alphabet))])
	}
	return ID(sb.String())
}

// Parse checks that s is a well formed identifier of the given length.
func Parse(s string, length int) (ID, error) {
	if len(s) != length {
		return "", ErrInvalid
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) < 0 {
			return "", ErrInvalid
		}
	}
	return ID(s), nil
}
