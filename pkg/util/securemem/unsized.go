package securemem

import (
	"fmt"
	"runtime"
	"sync"

	"example.com/memseal/pkg/util/random"
)

// Buffer is locked storage with no compile-time size, for secrets whose
// length is only known at run time. Set grows it as needed.
type Buffer struct {
	r    *region
	once sync.Once
}

func newBuffer(capacity int) *Buffer {
	b := &Buffer{r: newRegion(capacity)}
	runtime.SetFinalizer(b, (*Buffer).Destroy)
	return b
}

// New moves src into a new Buffer and wipes src.
func New(src []byte) (*Buffer, error) {
	b := newBuffer(len(src))
	if err := b.Set(src); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// NewWithCapacity returns an empty Buffer with room for capacity bytes.
func NewWithCapacity(capacity int) (*Buffer, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: negative capacity %d", ErrInvalidLength, capacity)
	}
	return newBuffer(capacity), nil
}

// NewRandom returns a Buffer holding n bytes from the CSPRNG, written
// directly into locked memory.
func NewRandom(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: random buffer size must be positive, got %d", ErrInvalidLength, n)
	}
	b := newBuffer(n)
	if err := random.Fill(b.r.lb.Bytes()); err != nil {
		b.Destroy()
		return nil, err
	}
	b.r.length = n
	return b, nil
}

// Set replaces the contents with src and wipes src. The old contents are
// zeroed first; if src does not fit, the old region is destroyed and a
// larger one allocated. src must not alias the buffer.
func (b *Buffer) Set(src []byte) error {
	err := b.r.replace(src, true)
	runtime.KeepAlive(b)
	return err
}

func (b *Buffer) Len() int { return b.r.length }
func (b *Buffer) Cap() int { return b.r.capacity() }

// Expose returns a heap copy of the contents; the caller must Wipe it.
func (b *Buffer) Expose() []byte {
	out := exposeCopy(b.r.bytes())
	runtime.KeepAlive(b)
	return out
}

// ExposeBorrowed returns a view of the contents, valid until the next Set,
// Clear or Destroy, and only while b is reachable.
func (b *Buffer) ExposeBorrowed() []byte {
	return b.r.bytes()
}

func (b *Buffer) Clone() (*Buffer, error) {
	r, err := b.r.clone()
	runtime.KeepAlive(b)
	if err != nil {
		return nil, err
	}
	c := &Buffer{r: r}
	runtime.SetFinalizer(c, (*Buffer).Destroy)
	return c, nil
}

func (b *Buffer) KeyView(expectedLen int) ([]byte, error) {
	if b.r.destroyed {
		return nil, ErrDestroyed
	}
	return keyView(b.r.bytes(), expectedLen)
}

func (b *Buffer) ChaChaKey() ([]byte, error) {
	return b.KeyView(ChaChaKeySize)
}

// Clear zeroes the contents and empties the buffer. Idempotent.
func (b *Buffer) Clear() {
	b.r.clear()
	runtime.KeepAlive(b)
}

// Destroy wipes and releases the memory exactly once.
func (b *Buffer) Destroy() {
	b.once.Do(func() {
		b.r.destroy()
		runtime.SetFinalizer(b, nil)
	})
}

func (b *Buffer) Destroyed() bool { return b.r.destroyed }
