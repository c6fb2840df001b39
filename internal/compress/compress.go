package compress

import (
	"fmt"

	"github.com/DataDog/zstd"
)

// Mode is the compression mode
type Mode uint8

// Data compression modes
const (
	None Mode = 1
	Zstd Mode = 2
)

// Extension returns the file name suffix for data compressed with m.
func (m Mode) Extension() string {
	switch m {
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// Compress compresses src, appends it to dst, and returns the updated dst slice.
func (m Mode) Compress(dst []byte, src []byte) ([]byte, error) {
	switch m {
	case None:
		return append(dst, src...), nil
	case Zstd:
		b, err := zstd.Compress(nil, src)
		if err != nil {
			return nil, err
		}
		return append(dst, b...), nil
	default:
		return nil, fmt.Errorf("invalid compression mode %d", m)
	}
}

// Decompress decompresses src and returns the result.
func (m Mode) Decompress(src []byte) ([]byte, error) {
	switch m {
	case None:
		return append([]byte(nil), src...), nil
	case Zstd:
		return zstd.Decompress(nil, src)
	default:
		return nil, fmt.Errorf("invalid compression mode %d", m)
	}
}
