package opendht

import (
	"github.com/opd-ai/opendht/crypto"
)

// InfoHashSize is the length of an InfoHash in bytes.
const InfoHashSize = crypto.IDSize

// InfoHash is the fixed-length identifier a key is stored under. It is the
// SHA-1 digest of the caller's key bytes.
type InfoHash [InfoHashSize]byte

// NewInfoHash canonicalizes an arbitrary byte key. The same input always
// yields the same InfoHash.
func NewInfoHash(key []byte) InfoHash {
	return InfoHash(crypto.Sum(key))
}

// HashString canonicalizes a string key.
func HashString(key string) InfoHash {
	return NewInfoHash([]byte(key))
}

// ParseInfoHash parses the hexadecimal form produced by String. It does not
// hash its input.
func ParseInfoHash(s string) (InfoHash, error) {
	id, err := crypto.ParseID(s)
	if err != nil {
		return InfoHash{}, err
	}
	return InfoHash(id), nil
}

// Bytes returns the identifier as a slice backed by its own copy, so the
// slice stays valid for as long as the caller holds it.
func (h InfoHash) Bytes() []byte {
	b := make([]byte, InfoHashSize)
	copy(b, h[:])
	return b
}

// Len returns the identifier length in bytes.
func (h InfoHash) Len() int {
	return InfoHashSize
}

// String returns the hexadecimal representation of the identifier.
func (h InfoHash) String() string {
	return crypto.ID(h).String()
}
