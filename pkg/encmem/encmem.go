package encmem

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"runtime"

	"github.com/awnumar/memguard"

	"example.com/memseal/pkg/crypto/xchacha"
	"example.com/memseal/pkg/util/securemem"
)

const (
	NonceSize = xchacha.NonceSize
	TagSize   = xchacha.TagSize
)

var (
	ErrAuthenticationFailure = errors.New("encmem: authentication failed")
	ErrNotSealed             = errors.New("encmem: no ciphertext sealed")
)

// KeyHandle yields a borrowed 32-byte ChaCha20 key. *securemem.Secret,
// *securemem.SizedBuffer and *securemem.Buffer all satisfy it.
type KeyHandle interface {
	ChaChaKey() ([]byte, error)
}

// EncryptedSecret holds a secret of SizeOf[S]() bytes encrypted at rest.
type EncryptedSecret[S securemem.Size] struct {
	ciphertext *securemem.SizedBuffer[S]
	nonce      [NonceSize]byte
	used       bool // nonce has sealed a plaintext
	sealed     bool
}

// New reserves room for SizeOf[S]() bytes plus the tag and draws the
// instance nonce.
func New[S securemem.Size]() (*EncryptedSecret[S], error) {
	return NewWithAddedCapacity[S](0)
}

// NewWithAddedCapacity is New with extra bytes of ciphertext headroom.
// extra must not be negative.
func NewWithAddedCapacity[S securemem.Size](extra int) (*EncryptedSecret[S], error) {
	if extra < 0 {
		return nil, fmt.Errorf("encmem: %w: negative added capacity %d", securemem.ErrInvalidLength, extra)
	}
	ct, err := securemem.NewSizedBuffer[S](TagSize + extra)
	if err != nil {
		return nil, err
	}
	nonce, err := xchacha.NewNonce()
	if err != nil {
		ct.Destroy()
		return nil, fmt.Errorf("encmem: nonce: %w", err)
	}
	return &EncryptedSecret[S]{ciphertext: ct, nonce: nonce}, nil
}

// Encrypt seals plaintext under key, replacing and zeroing any previous
// ciphertext. plaintext stays owned by the caller and is not wiped.
func (e *EncryptedSecret[S]) Encrypt(plaintext *securemem.Secret[S], key KeyHandle) (*EncryptedSecret[S], error) {
	if e.ciphertext.Destroyed() {
		return nil, securemem.ErrDestroyed
	}
	pt := plaintext.ExposeBorrowed()
	if pt == nil {
		return nil, fmt.Errorf("encmem: plaintext: %w", securemem.ErrDestroyed)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := e.nonce
	if e.used {
		if nonce, err = xchacha.NewNonce(); err != nil {
			return nil, fmt.Errorf("encmem: nonce: %w", err)
		}
	}

	// Seal into locked scratch memory; Set wipes it after the copy.
	scratch := memguard.NewBuffer(len(pt) + TagSize)
	defer scratch.Destroy()
	out := aead.Seal(scratch.Bytes()[:0], nonce[:], pt, nil)
	// pt and the key view point into memory the finalizers would unmap.
	runtime.KeepAlive(plaintext)
	runtime.KeepAlive(key)
	if err := e.ciphertext.Set(out); err != nil {
		return nil, fmt.Errorf("encmem: store ciphertext: %w", err)
	}

	e.nonce = nonce
	e.used = true
	e.sealed = true
	return e, nil
}

// Decrypt opens the stored ciphertext under key into a fresh Secret the
// caller must Destroy.
func (e *EncryptedSecret[S]) Decrypt(key KeyHandle) (*securemem.Secret[S], error) {
	if e.ciphertext.Destroyed() {
		return nil, securemem.ErrDestroyed
	}
	if !e.sealed {
		return nil, ErrNotSealed
	}
	ct := e.ciphertext.ExposeBorrowed()
	if len(ct) != securemem.SizeOf[S]()+TagSize {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, want %d", ErrAuthenticationFailure, len(ct), securemem.SizeOf[S]()+TagSize)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	out, err := securemem.ZeroedSecret[S]()
	if err != nil {
		return nil, err
	}
	dst := out.ExposeBorrowed()
	// Open writes into dst's locked memory; its capacity always fits N.
	pt, err := aead.Open(dst[:0], e.nonce[:], ct, nil)
	runtime.KeepAlive(e)
	runtime.KeepAlive(key)
	if err != nil {
		out.Destroy()
		return nil, ErrAuthenticationFailure
	}
	if len(pt) != len(dst) || (len(pt) > 0 && &pt[0] != &dst[0]) {
		securemem.Wipe(pt)
		out.Destroy()
		return nil, errors.New("encmem: plaintext left locked memory")
	}
	return out, nil
}

func newAEAD(key KeyHandle) (cipher.AEAD, error) {
	k, err := key.ChaChaKey()
	if err != nil {
		return nil, fmt.Errorf("encmem: key: %w", err)
	}
	return xchacha.NewAEAD(k)
}

// Ciphertext returns the stored ciphertext||tag. Callers read it for
// export; writing to it invalidates the seal.
func (e *EncryptedSecret[S]) Ciphertext() *securemem.SizedBuffer[S] {
	return e.ciphertext
}

// Nonce returns the nonce the current ciphertext was sealed under.
func (e *EncryptedSecret[S]) Nonce() [NonceSize]byte {
	return e.nonce
}

// Sealed reports whether a ciphertext is present.
func (e *EncryptedSecret[S]) Sealed() bool {
	return e.sealed && !e.ciphertext.Destroyed()
}

// Destroy zeroes and releases the ciphertext and forgets the nonce.
func (e *EncryptedSecret[S]) Destroy() {
	e.ciphertext.Destroy()
	e.nonce = [NonceSize]byte{}
	e.sealed = false
}
