package random

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Reader is the entropy source every fill draws from. It is the OS-backed
// crypto/rand reader; tests may swap it to exercise failure paths.
var Reader io.Reader = rand.Reader

// Fill overwrites dst with fresh random bytes read straight into the
// caller's memory, so no staging copy is left behind.
func Fill(dst []byte) error {
	if _, err := io.ReadFull(Reader, dst); err != nil {
		return fmt.Errorf("random: read %d bytes: %w", len(dst), err)
	}
	return nil
}

// Bytes returns n fresh random bytes.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := Fill(b); err != nil {
		return nil, err
	}
	return b, nil
}
