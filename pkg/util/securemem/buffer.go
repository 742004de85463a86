package securemem

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// region is locked memory with a logical length no larger than its
// capacity. It backs both growable buffer kinds.
type region struct {
	lb        *memguard.LockedBuffer
	length    int
	destroyed bool
}

func newRegion(capacity int) *region {
	return &region{lb: memguard.NewBuffer(capacity)}
}

func (r *region) capacity() int {
	if r.destroyed {
		return 0
	}
	return r.lb.Size()
}

func (r *region) bytes() []byte {
	if r.destroyed {
		return nil
	}
	return r.lb.Bytes()[:r.length]
}

// replace zeroes the current contents, then copies src in and wipes src.
// When grow is false, src longer than the capacity is rejected; otherwise
// a larger locked region takes the place of the old one.
func (r *region) replace(src []byte, grow bool) error {
	if r.destroyed {
		return ErrDestroyed
	}
	if len(src) > r.capacity() {
		if !grow {
			return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferExhausted, len(src), r.capacity())
		}
		next := memguard.NewBuffer(len(src))
		next.Move(src)
		r.lb.Destroy()
		r.lb = next
		r.length = len(src)
		return nil
	}
	memguard.WipeBytes(r.lb.Bytes())
	copy(r.lb.Bytes(), src)
	memguard.WipeBytes(src)
	r.length = len(src)
	return nil
}

func (r *region) clear() {
	if r.destroyed {
		return
	}
	memguard.WipeBytes(r.lb.Bytes())
	r.length = 0
}

func (r *region) destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.length = 0
	r.lb.Destroy()
}

func (r *region) clone() (*region, error) {
	if r.destroyed {
		return nil, ErrDestroyed
	}
	c := newRegion(r.capacity())
	c.lb.Copy(r.lb.Bytes())
	c.length = r.length
	return c, nil
}
