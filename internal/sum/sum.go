package sum

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the byte-size of a checksum
const Size = 32

// Sum stores a checksum
type Sum [Size]byte

// FromBytes converts a byte slice to a Sum. Its length must be sum.Size bytes.
func FromBytes(b []byte) (Sum, error) {
	if len(b) != Size {
		return Sum{}, fmt.Errorf("length must be %d not %d", Size, len(b))
	}
	var s Sum
	copy(s[:], b)
	return s, nil
}

// Compute returns the checksum of a byte slice.
func Compute(data []byte) Sum {
	h := blake3.New()
	h.Write(data)
	var s Sum
	copy(s[:], h.Sum(nil))
	return s
}

// OfString returns the checksum of a payload string.
func OfString(s string) Sum {
	return Compute([]byte(s))
}

// AsHex returns the hex-encoded representation of s.
func (s Sum) AsHex() string {
	return hex.EncodeToString(s[:])
}

// Short returns the first 8 hex digits of s, enough to tell payloads apart in logs.
func (s Sum) Short() string {
	return hex.EncodeToString(s[:4])
}
