package securemem

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/awnumar/memguard"

	"example.com/memseal/pkg/util/random"
)

// Secret holds exactly SizeOf[S]() bytes. It never reallocates; the
// length is fixed for the life of the value.
type Secret[S Size] struct {
	buf       *memguard.LockedBuffer
	once      sync.Once
	destroyed bool
}

func allocSecret[S Size]() (*Secret[S], error) {
	n := SizeOf[S]()
	if n <= 0 {
		return nil, fmt.Errorf("%w: secret size must be positive, got %d", ErrInvalidLength, n)
	}
	s := &Secret[S]{buf: memguard.NewBuffer(n)}
	runtime.SetFinalizer(s, (*Secret[S]).Destroy)
	return s, nil
}

// NewSecret moves src into a new Secret and wipes src. src must be
// exactly SizeOf[S]() bytes; on a length mismatch src is left untouched.
func NewSecret[S Size](src []byte) (*Secret[S], error) {
	if n := SizeOf[S](); len(src) != n {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrInvalidLength, len(src), n)
	}
	s, err := allocSecret[S]()
	if err != nil {
		return nil, err
	}
	s.buf.Move(src)
	return s, nil
}

// ZeroedSecret returns an all-zero Secret.
func ZeroedSecret[S Size]() (*Secret[S], error) {
	return allocSecret[S]()
}

// RandomSecret returns a Secret filled from the CSPRNG. The random bytes
// are written directly into locked memory.
func RandomSecret[S Size]() (*Secret[S], error) {
	s, err := allocSecret[S]()
	if err != nil {
		return nil, err
	}
	if err := random.Fill(s.buf.Bytes()); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

// Len is always SizeOf[S]().
func (s *Secret[S]) Len() int {
	return SizeOf[S]()
}

// Set replaces the contents with src and wipes src. The old contents are
// zeroed first.
func (s *Secret[S]) Set(src []byte) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if len(src) != s.Len() {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrInvalidLength, len(src), s.Len())
	}
	memguard.WipeBytes(s.buf.Bytes())
	s.buf.Move(src)
	runtime.KeepAlive(s)
	return nil
}

// SetAt overwrites a single byte.
func (s *Secret[S]) SetAt(index int, value byte) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if index < 0 || index >= s.Len() {
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidLength, index, s.Len())
	}
	s.buf.Bytes()[index] = value
	runtime.KeepAlive(s)
	return nil
}

// Expose returns a heap copy of the secret. The copy is a new secret the
// caller must Wipe. Returns nil after Destroy.
func (s *Secret[S]) Expose() []byte {
	out := exposeCopy(s.ExposeBorrowed())
	runtime.KeepAlive(s)
	return out
}

// ExposeBorrowed returns the locked memory itself. Do not keep the slice
// past Destroy. The view is valid only while s is reachable: the finalizer
// unmaps it, so callers reading it after their last use of s must call
// runtime.KeepAlive(s). Returns nil after Destroy.
func (s *Secret[S]) ExposeBorrowed() []byte {
	if s.destroyed {
		return nil
	}
	return s.buf.Bytes()
}

// Equal reports whether the secret equals b, in constant time.
func (s *Secret[S]) Equal(b []byte) bool {
	if s.destroyed {
		return false
	}
	eq := s.buf.EqualTo(b)
	runtime.KeepAlive(s)
	return eq
}

// Clone copies the secret into a new, independently destroyed Secret.
func (s *Secret[S]) Clone() (*Secret[S], error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	c, err := allocSecret[S]()
	if err != nil {
		return nil, err
	}
	c.buf.Copy(s.buf.Bytes())
	runtime.KeepAlive(s)
	return c, nil
}

// KeyView returns the secret as key material of expectedLen bytes. Like
// ExposeBorrowed, the view lives only as long as s stays reachable.
func (s *Secret[S]) KeyView(expectedLen int) ([]byte, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	return keyView(s.buf.Bytes(), expectedLen)
}

// ChaChaKey returns a borrowed 32-byte ChaCha20 key view.
func (s *Secret[S]) ChaChaKey() ([]byte, error) {
	return s.KeyView(ChaChaKeySize)
}

// Zeroize overwrites every byte with zero. The Secret stays usable.
func (s *Secret[S]) Zeroize() {
	if s.destroyed {
		return
	}
	memguard.WipeBytes(s.buf.Bytes())
	runtime.KeepAlive(s)
}

// Destroy wipes and releases the locked memory. Safe to call more than
// once; only the first call does anything.
func (s *Secret[S]) Destroy() {
	s.once.Do(func() {
		s.destroyed = true
		s.buf.Destroy()
		runtime.SetFinalizer(s, nil)
	})
}

// Destroyed reports whether Destroy has run.
func (s *Secret[S]) Destroyed() bool {
	return s.destroyed
}
