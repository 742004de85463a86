package securemem

import (
	"fmt"
	"runtime"
	"sync"
)

// SizedBuffer is locked storage whose capacity is anchored to SizeOf[S]()
// plus headroom requested at construction, e.g. room for an
// authentication tag. It never grows past that capacity, but any length
// up to it may be stored.
type SizedBuffer[S Size] struct {
	r    *region
	once sync.Once
}

// NewSizedBuffer returns an empty buffer with capacity SizeOf[S]()+extra.
func NewSizedBuffer[S Size](extra int) (*SizedBuffer[S], error) {
	if extra < 0 {
		return nil, fmt.Errorf("%w: negative headroom %d", ErrInvalidLength, extra)
	}
	b := &SizedBuffer[S]{r: newRegion(SizeOf[S]() + extra)}
	runtime.SetFinalizer(b, (*SizedBuffer[S]).Destroy)
	return b, nil
}

// Set replaces the contents with src and wipes src. The previous contents
// are zeroed before src is copied in. src must not alias the buffer.
func (b *SizedBuffer[S]) Set(src []byte) error {
	err := b.r.replace(src, false)
	runtime.KeepAlive(b)
	return err
}

// Len is the number of bytes currently stored.
func (b *SizedBuffer[S]) Len() int { return b.r.length }

// Cap is the reserved capacity.
func (b *SizedBuffer[S]) Cap() int { return b.r.capacity() }

// Expose returns a heap copy of the contents; the caller must Wipe it.
func (b *SizedBuffer[S]) Expose() []byte {
	out := exposeCopy(b.r.bytes())
	runtime.KeepAlive(b)
	return out
}

// ExposeBorrowed returns a view of the contents, valid until the next Set,
// Clear or Destroy, and only while b is reachable.
func (b *SizedBuffer[S]) ExposeBorrowed() []byte {
	return b.r.bytes()
}

// Clone copies the buffer, capacity included.
func (b *SizedBuffer[S]) Clone() (*SizedBuffer[S], error) {
	r, err := b.r.clone()
	runtime.KeepAlive(b)
	if err != nil {
		return nil, err
	}
	c := &SizedBuffer[S]{r: r}
	runtime.SetFinalizer(c, (*SizedBuffer[S]).Destroy)
	return c, nil
}

func (b *SizedBuffer[S]) KeyView(expectedLen int) ([]byte, error) {
	if b.r.destroyed {
		return nil, ErrDestroyed
	}
	return keyView(b.r.bytes(), expectedLen)
}

func (b *SizedBuffer[S]) ChaChaKey() ([]byte, error) {
	return b.KeyView(ChaChaKeySize)
}

// Clear zeroes the whole capacity and empties the buffer. Idempotent.
func (b *SizedBuffer[S]) Clear() {
	b.r.clear()
	runtime.KeepAlive(b)
}

// Destroy wipes and releases the memory exactly once.
func (b *SizedBuffer[S]) Destroy() {
	b.once.Do(func() {
		b.r.destroy()
		runtime.SetFinalizer(b, nil)
	})
}

func (b *SizedBuffer[S]) Destroyed() bool { return b.r.destroyed }
