package crypto

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

// IDSize is the length of an ID in bytes.
const IDSize = sha1.Size

// ErrInvalidID is returned when a textual identifier cannot be parsed.
var ErrInvalidID = errors.New("invalid identifier")

// ID is a 160-bit DHT identifier.
type ID [IDSize]byte

// Sum returns the identifier of an arbitrary byte key.
func Sum(data []byte) ID {
	return ID(sha1.Sum(data))
}

// IDFromPublicKey derives a node identifier from a node public key.
func IDFromPublicKey(publicKey [32]byte) ID {
	return Sum(publicKey[:])
}

// IDFromBytes interprets b as an identifier. Slices that are not exactly
// IDSize bytes long are hashed instead.
func IDFromBytes(b []byte) ID {
	if len(b) == IDSize {
		var id ID
		copy(id[:], b)
		return id
	}
	return Sum(b)
}

// ParseID parses the hexadecimal form produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != 2*IDSize {
		return id, fmt.Errorf("%w: length %d", ErrInvalidID, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return id, nil
}

// RandomID returns a uniformly random identifier.
func RandomID() ID {
	var id ID
	_, _ = rand.Read(id[:])
	return id
}

// String returns the hexadecimal representation of the identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether every byte of the identifier is zero.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Distance calculates the XOR distance between two identifiers.
func (id ID) Distance(other ID) ID {
	var result ID
	for i := 0; i < IDSize; i++ {
		result[i] = id[i] ^ other[i]
	}
	return result
}

// Less compares two identifiers as big-endian integers.
func (id ID) Less(other ID) bool {
	for i := 0; i < IDSize; i++ {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// CommonPrefixLen returns the number of leading bits shared by both
// identifiers. Equal identifiers share all IDSize*8 bits.
func (id ID) CommonPrefixLen(other ID) int {
	for i := 0; i < IDSize; i++ {
		if x := id[i] ^ other[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return IDSize * 8
}
