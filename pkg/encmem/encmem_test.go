package encmem

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"

	"example.com/memseal/pkg/util/random"
	"example.com/memseal/pkg/util/securemem"
	"example.com/memseal/pkg/vault"
)

func newKey(t *testing.T) *securemem.Secret[securemem.Size32] {
	t.Helper()
	key, err := securemem.RandomSecret[securemem.Size32]()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	t.Cleanup(key.Destroy)
	return key
}

func newPlaintext(t *testing.T, fill byte) *securemem.Secret[securemem.Size32] {
	t.Helper()
	pt, err := securemem.NewSecret[securemem.Size32](bytes.Repeat([]byte{fill}, 32))
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	t.Cleanup(pt.Destroy)
	return pt
}

func sealed(t *testing.T, pt *securemem.Secret[securemem.Size32], key KeyHandle) *EncryptedSecret[securemem.Size32] {
	t.Helper()
	e, err := New[securemem.Size32]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Destroy)
	if _, err := e.Encrypt(pt, key); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return e
}

func TestRoundTripFours(t *testing.T) {
	key := newKey(t)
	pt := newPlaintext(t, 4)
	e := sealed(t, pt, key)

	if got := e.Ciphertext().Len(); got != 48 {
		t.Fatalf("ciphertext length %d, want 48", got)
	}
	out, err := e.Decrypt(key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer out.Destroy()
	if !bytes.Equal(out.ExposeBorrowed(), bytes.Repeat([]byte{4}, 32)) {
		t.Fatalf("decrypted %x", out.ExposeBorrowed())
	}
	// Encrypt must leave the caller's plaintext alone.
	if !pt.Equal(bytes.Repeat([]byte{4}, 32)) {
		t.Fatalf("plaintext was modified by Encrypt")
	}
}

func TestRoundTripWithVault(t *testing.T) {
	v, err := vault.New[securemem.Size32](vault.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	defer v.Close()

	sealKey, err := v.SealingKey()
	if err != nil {
		t.Fatalf("SealingKey: %v", err)
	}
	pt := newPlaintext(t, 4)
	e := sealed(t, pt, sealKey)
	sealKey.Destroy()

	openKey, err := v.SealingKey()
	if err != nil {
		t.Fatalf("SealingKey: %v", err)
	}
	defer openKey.Destroy()
	out, err := e.Decrypt(openKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer out.Destroy()
	if !out.Equal(pt.ExposeBorrowed()) {
		t.Fatalf("round trip through the vault key failed")
	}
}

func TestRoundTripRandom(t *testing.T) {
	key := newKey(t)
	for i := 0; i < 16; i++ {
		pt, err := securemem.RandomSecret[securemem.Size64]()
		if err != nil {
			t.Fatalf("RandomSecret: %v", err)
		}
		e, err := New[securemem.Size64]()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := e.Encrypt(pt, key); err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if e.Ciphertext().Len() != 64+TagSize {
			t.Fatalf("ciphertext length %d", e.Ciphertext().Len())
		}
		out, err := e.Decrypt(key)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !out.Equal(pt.ExposeBorrowed()) {
			t.Fatalf("round %d: plaintext mismatch", i)
		}
		out.Destroy()
		e.Destroy()
		pt.Destroy()
	}
}

func TestTamperEveryBit(t *testing.T) {
	key := newKey(t)
	e := sealed(t, newPlaintext(t, 4), key)

	ct := e.Ciphertext().ExposeBorrowed()
	for i := range ct {
		for bit := 0; bit < 8; bit++ {
			ct[i] ^= 1 << bit
			out, err := e.Decrypt(key)
			ct[i] ^= 1 << bit
			if !errors.Is(err, ErrAuthenticationFailure) {
				t.Fatalf("byte %d bit %d: expected ErrAuthenticationFailure, got %v", i, bit, err)
			}
			if out != nil {
				t.Fatalf("byte %d bit %d: plaintext returned despite failure", i, bit)
			}
		}
	}

	// Restored bits must decrypt again.
	out, err := e.Decrypt(key)
	if err != nil {
		t.Fatalf("Decrypt after restore: %v", err)
	}
	out.Destroy()
}

func TestMutatedByteRejected(t *testing.T) {
	key := newKey(t)
	e := sealed(t, newPlaintext(t, 4), key)

	e.Ciphertext().ExposeBorrowed()[5]++
	if _, err := e.Decrypt(key); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("expected ErrAuthenticationFailure, got %v", err)
	}
}

func TestWrongKeyRejected(t *testing.T) {
	e := sealed(t, newPlaintext(t, 4), newKey(t))
	if _, err := e.Decrypt(newKey(t)); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("expected ErrAuthenticationFailure, got %v", err)
	}
}

func TestBadKeyLength(t *testing.T) {
	short, err := securemem.RandomSecret[securemem.Size16]()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	defer short.Destroy()

	e, err := New[securemem.Size32]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Destroy()
	if _, err := e.Encrypt(newPlaintext(t, 1), short); !errors.Is(err, securemem.ErrInvalidKeyLength) {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
	if e.Sealed() {
		t.Fatalf("failed Encrypt left the cell sealed")
	}
}

func TestNoncesDifferAcrossInstances(t *testing.T) {
	a, err := New[securemem.Size32]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()
	b, err := New[securemem.Size32]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Destroy()

	if a.Nonce() == b.Nonce() {
		t.Fatalf("two instances share a nonce")
	}
}

func TestReencryptRotatesNonce(t *testing.T) {
	key := newKey(t)
	e, err := New[securemem.Size32]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Destroy()

	initial := e.Nonce()
	if _, err := e.Encrypt(newPlaintext(t, 1), key); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if e.Nonce() != initial {
		t.Fatalf("first Encrypt must use the construction nonce")
	}
	first := e.Ciphertext().Expose()

	if _, err := e.Encrypt(newPlaintext(t, 2), key); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if e.Nonce() == initial {
		t.Fatalf("second Encrypt reused the nonce")
	}
	if bytes.Equal(first, e.Ciphertext().ExposeBorrowed()) {
		t.Fatalf("ciphertext not replaced")
	}

	out, err := e.Decrypt(key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer out.Destroy()
	if !out.Equal(bytes.Repeat([]byte{2}, 32)) {
		t.Fatalf("decrypted stale plaintext")
	}
}

func TestChainedEncrypt(t *testing.T) {
	key := newKey(t)
	e, err := New[securemem.Size32]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Destroy()

	chained, err := e.Encrypt(newPlaintext(t, 4), key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if chained != e {
		t.Fatalf("Encrypt did not return its receiver")
	}
}

func TestDecryptBeforeEncrypt(t *testing.T) {
	e, err := New[securemem.Size32]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Destroy()
	if _, err := e.Decrypt(newKey(t)); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("expected ErrNotSealed, got %v", err)
	}
}

func TestAddedCapacity(t *testing.T) {
	e, err := NewWithAddedCapacity[securemem.Size32](8)
	if err != nil {
		t.Fatalf("NewWithAddedCapacity: %v", err)
	}
	defer e.Destroy()
	if e.Ciphertext().Cap() != 32+TagSize+8 {
		t.Fatalf("capacity %d", e.Ciphertext().Cap())
	}
}

func TestNegativeAddedCapacityRejected(t *testing.T) {
	for _, extra := range []int{-1, -10, -TagSize} {
		if _, err := NewWithAddedCapacity[securemem.Size32](extra); !errors.Is(err, securemem.ErrInvalidLength) {
			t.Fatalf("extra %d: expected ErrInvalidLength, got %v", extra, err)
		}
	}
}

type size4M struct{}

func (size4M) Len() int { return 4 << 20 }

// unrootedPlaintext returns a secret the test keeps no reference to, so the
// collector may finalize it as soon as the callee stops using it.
func unrootedPlaintext(t *testing.T) *securemem.Secret[size4M] {
	t.Helper()
	pt, err := securemem.RandomSecret[size4M]()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	return pt
}

func unrootedKey(t *testing.T) *securemem.Secret[securemem.Size32] {
	t.Helper()
	key, err := securemem.RandomSecret[securemem.Size32]()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	return key
}

func TestBorrowedViewsSurviveCollection(t *testing.T) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				runtime.GC()
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	key := newKey(t)
	for i := 0; i < 4; i++ {
		e, err := New[size4M]()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := e.Encrypt(unrootedPlaintext(t), key); err != nil {
			t.Fatalf("round %d: Encrypt: %v", i, err)
		}
		if _, err := e.Encrypt(unrootedPlaintext(t), unrootedKey(t)); err != nil {
			t.Fatalf("round %d: Encrypt with unrooted key: %v", i, err)
		}
		if _, err := e.Encrypt(unrootedPlaintext(t), key); err != nil {
			t.Fatalf("round %d: re-Encrypt: %v", i, err)
		}
		// e is unreachable once Decrypt starts reading its ciphertext.
		out, err := e.Decrypt(key)
		if err != nil {
			t.Fatalf("round %d: Decrypt: %v", i, err)
		}
		if out.Len() != securemem.SizeOf[size4M]() {
			t.Fatalf("round %d: plaintext length %d", i, out.Len())
		}
		out.Destroy()
	}
}

func TestDestroy(t *testing.T) {
	key := newKey(t)
	e := sealed(t, newPlaintext(t, 4), key)
	e.Destroy()
	e.Destroy()

	if e.Sealed() || e.Nonce() != [NonceSize]byte{} {
		t.Fatalf("state survives Destroy")
	}
	if _, err := e.Decrypt(key); !errors.Is(err, securemem.ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
	if _, err := e.Encrypt(newPlaintext(t, 4), key); !errors.Is(err, securemem.ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestNonceFailure(t *testing.T) {
	saved := random.Reader
	random.Reader = failingReader{}
	defer func() { random.Reader = saved }()

	if _, err := New[securemem.Size32](); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected entropy error, got %v", err)
	}
}
