package encmem

import (
	"fmt"
	"strconv"

	"example.com/memseal/pkg/armor"
	"example.com/memseal/pkg/container"
	"example.com/memseal/pkg/util/securemem"
)

// Record returns the nonce and a copy of the ciphertext in interchange
// form. Neither is readable without the sealing key.
func (e *EncryptedSecret[S]) Record() (*container.Record, error) {
	if !e.Sealed() {
		return nil, ErrNotSealed
	}
	return &container.Record{Nonce: e.nonce, Ciphertext: e.ciphertext.Expose()}, nil
}

// MarshalBinary encodes the sealed secret as a container record.
func (e *EncryptedSecret[S]) MarshalBinary() ([]byte, error) {
	r, err := e.Record()
	if err != nil {
		return nil, err
	}
	return container.Marshal(r)
}

// MarshalArmor encodes the sealed secret as an ASCII-armored record with
// a Size header naming the plaintext length.
func (e *EncryptedSecret[S]) MarshalArmor() ([]byte, error) {
	raw, err := e.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return armor.Encode(raw, map[string]string{"Size": strconv.Itoa(securemem.SizeOf[S]())})
}

// Restore rebuilds an EncryptedSecret from a record. The nonce counts as
// used, so a later Encrypt on the result draws a fresh one.
func Restore[S securemem.Size](r *container.Record) (*EncryptedSecret[S], error) {
	want := securemem.SizeOf[S]() + TagSize
	if len(r.Ciphertext) != want {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, want %d", container.ErrBadRecord, len(r.Ciphertext), want)
	}
	ct, err := securemem.NewSizedBuffer[S](TagSize)
	if err != nil {
		return nil, err
	}
	// Set wipes its source; hand it a copy so the caller's record survives.
	if err := ct.Set(append([]byte(nil), r.Ciphertext...)); err != nil {
		ct.Destroy()
		return nil, err
	}
	return &EncryptedSecret[S]{ciphertext: ct, nonce: r.Nonce, used: true, sealed: true}, nil
}

func UnmarshalBinary[S securemem.Size](b []byte) (*EncryptedSecret[S], error) {
	r, err := container.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	return Restore[S](r)
}

// UnmarshalArmor reverses MarshalArmor. A Size header that disagrees with
// S is rejected.
func UnmarshalArmor[S securemem.Size](data []byte) (*EncryptedSecret[S], error) {
	raw, headers, err := armor.Decode(data)
	if err != nil {
		return nil, err
	}
	if size, ok := headers["Size"]; ok && size != strconv.Itoa(securemem.SizeOf[S]()) {
		return nil, fmt.Errorf("%w: record holds %s bytes, want %d", container.ErrBadRecord, size, securemem.SizeOf[S]())
	}
	return UnmarshalBinary[S](raw)
}
