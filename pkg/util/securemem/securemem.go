package securemem

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// ChaChaKeySize is the key length of the ChaCha20 family of ciphers.
const ChaChaKeySize = 32

var (
	ErrInvalidKeyLength = errors.New("securemem: invalid key length")
	ErrBufferExhausted  = errors.New("securemem: buffer capacity exhausted")
	ErrInvalidLength    = errors.New("securemem: invalid length")
	ErrDestroyed        = errors.New("securemem: container destroyed")
)

// Size fixes the length of a container at compile time. Implementations
// are empty marker types whose Len is a constant.
type Size interface {
	Len() int
}

type (
	Size16 struct{}
	Size24 struct{}
	Size32 struct{}
	Size64 struct{}
)

func (Size16) Len() int { return 16 }
func (Size24) Len() int { return 24 }
func (Size32) Len() int { return 32 }
func (Size64) Len() int { return 64 }

// SizeOf returns the byte length carried by S.
func SizeOf[S Size]() int {
	var s S
	return s.Len()
}

// Wipe zeroes a caller-owned slice, typically a copy returned by Expose.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// keyView checks that b is exactly expected bytes long and returns it
// without copying.
func keyView(b []byte, expected int) ([]byte, error) {
	if len(b) != expected {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrInvalidKeyLength, len(b), expected)
	}
	return b, nil
}

func exposeCopy(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
