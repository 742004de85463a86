package xchacha

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"example.com/memseal/pkg/util/random"
	"example.com/memseal/pkg/util/securemem"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
	TagSize   = chacha20poly1305.Overhead
)

// NewAEAD returns an XChaCha20-Poly1305 AEAD for a 32-byte key. The key
// slice is only read during the call; the returned AEAD keeps its own
// copy of the expanded key.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d want %d", securemem.ErrInvalidKeyLength, len(key), KeySize)
	}
	return chacha20poly1305.NewX(key)
}

// NewNonce draws a fresh 24-byte nonce from the CSPRNG.
func NewNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if err := random.Fill(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}
