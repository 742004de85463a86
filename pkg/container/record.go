package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const magic = "MSL1"

const (
	NonceSize = 24

	// MaxCiphertext bounds what Read will allocate for a record body.
	MaxCiphertext = 1 << 20
)

var ErrBadRecord = errors.New("container: bad record")

// Record is the interchange form of a sealed secret: the nonce stored
// alongside ciphertext||tag. Neither field is secret without the key.
type Record struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

// Write emits magic || nonce || u32be(len(ct)) || ct.
func Write(w io.Writer, r *Record) error {
	if len(r.Ciphertext) > MaxCiphertext {
		return fmt.Errorf("%w: ciphertext of %d bytes exceeds %d", ErrBadRecord, len(r.Ciphertext), MaxCiphertext)
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if _, err := w.Write(r.Nonce[:]); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.Ciphertext)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(r.Ciphertext)
	return err
}

func Read(rd io.Reader) (*Record, error) {
	var m [4]byte
	if _, err := io.ReadFull(rd, m[:]); err != nil {
		return nil, fmt.Errorf("%w: magic: %v", ErrBadRecord, err)
	}
	if string(m[:]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadRecord, m[:])
	}
	var r Record
	if _, err := io.ReadFull(rd, r.Nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrBadRecord, err)
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(rd, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: length: %v", ErrBadRecord, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxCiphertext {
		return nil, fmt.Errorf("%w: ciphertext length %d exceeds %d", ErrBadRecord, n, MaxCiphertext)
	}
	r.Ciphertext = make([]byte, n)
	if _, err := io.ReadFull(rd, r.Ciphertext); err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrBadRecord, err)
	}
	return &r, nil
}

func Marshal(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses exactly one record and rejects trailing bytes.
func Unmarshal(b []byte) (*Record, error) {
	rd := bytes.NewReader(b)
	r, err := Read(rd)
	if err != nil {
		return nil, err
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadRecord, rd.Len())
	}
	return r, nil
}
