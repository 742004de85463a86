package main

import (
	"errors"
	"fmt"

	"example.com/memseal/pkg/encmem"
	"example.com/memseal/pkg/util/securemem"
	"example.com/memseal/pkg/vault"
)

// sealSized seals raw under a fresh vault, checks that it opens again,
// and returns the interchange record. raw is wiped.
func sealSized[S securemem.Size](raw []byte, armored bool) ([]byte, error) {
	plaintext, err := securemem.NewSecret[S](raw)
	if err != nil {
		return nil, err
	}
	defer plaintext.Destroy()

	v, err := vault.New[securemem.Size32](vault.Config{Logger: logger})
	if err != nil {
		return nil, err
	}
	defer v.Close()

	cell, err := encmem.New[S]()
	if err != nil {
		return nil, err
	}
	defer cell.Destroy()

	if err := withKey(v, func(key *securemem.Secret[securemem.Size32]) error {
		_, err := cell.Encrypt(plaintext, key)
		return err
	}); err != nil {
		return nil, err
	}
	if err := withKey(v, func(key *securemem.Secret[securemem.Size32]) error {
		opened, err := cell.Decrypt(key)
		if err != nil {
			return err
		}
		defer opened.Destroy()
		if !opened.Equal(plaintext.ExposeBorrowed()) {
			return errors.New("sealed secret does not open to its plaintext")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	fingerprint, err := v.Fingerprint()
	if err != nil {
		return nil, err
	}
	logger.Info("secret sealed",
		"size", securemem.SizeOf[S](),
		"ciphertext_len", cell.Ciphertext().Len(),
		"key_fingerprint", fingerprint,
	)

	if armored {
		return cell.MarshalArmor()
	}
	return cell.MarshalBinary()
}

// selftestSized exercises round trips, tamper detection and nonce
// uniqueness against one vault key.
func selftestSized[S securemem.Size](rounds int) error {
	v, err := vault.New[securemem.Size32](vault.Config{Logger: logger})
	if err != nil {
		return err
	}
	defer v.Close()

	key, err := v.SealingKey()
	if err != nil {
		return err
	}
	defer key.Destroy()

	seen := nonceSet{}
	for i := 0; i < rounds; i++ {
		if err := selftestRound[S](key, i, seen); err != nil {
			logger.Error("selftest failed", "round", i, "err", err)
			return err
		}
		logger.Debug("selftest round passed", "round", i)
	}
	logger.Info("selftest passed", "size", securemem.SizeOf[S](), "rounds", rounds)
	return nil
}

// nonceSet records every nonce a selftest run has sealed under.
type nonceSet map[[encmem.NonceSize]byte]struct{}

func (s nonceSet) add(n [encmem.NonceSize]byte) error {
	if _, ok := s[n]; ok {
		return fmt.Errorf("nonce %x repeated", n[:4])
	}
	s[n] = struct{}{}
	return nil
}

func selftestRound[S securemem.Size](key *securemem.Secret[securemem.Size32], round int, seen nonceSet) error {
	plaintext, err := securemem.RandomSecret[S]()
	if err != nil {
		return err
	}
	defer plaintext.Destroy()

	cell, err := encmem.New[S]()
	if err != nil {
		return err
	}
	defer cell.Destroy()

	if _, err := cell.Encrypt(plaintext, key); err != nil {
		return err
	}
	if err := seen.add(cell.Nonce()); err != nil {
		return err
	}
	if got, want := cell.Ciphertext().Len(), securemem.SizeOf[S]()+encmem.TagSize; got != want {
		return fmt.Errorf("ciphertext length %d, want %d", got, want)
	}

	opened, err := cell.Decrypt(key)
	if err != nil {
		return err
	}
	match := opened.Equal(plaintext.ExposeBorrowed())
	opened.Destroy()
	if !match {
		return errors.New("round trip mismatch")
	}

	ct := cell.Ciphertext().ExposeBorrowed()
	flip := round % len(ct)
	ct[flip] ^= 0x01
	tampered, err := cell.Decrypt(key)
	ct[flip] ^= 0x01
	if !errors.Is(err, encmem.ErrAuthenticationFailure) {
		if tampered != nil {
			tampered.Destroy()
		}
		return fmt.Errorf("tampered ciphertext accepted at byte %d: %v", flip, err)
	}

	// Sealing again on the same cell must move to a fresh nonce.
	if _, err := cell.Encrypt(plaintext, key); err != nil {
		return err
	}
	return seen.add(cell.Nonce())
}

// withKey borrows the vault's sealing key for one call and destroys it
// on every path.
func withKey(v *vault.Vault[securemem.Size32], fn func(*securemem.Secret[securemem.Size32]) error) error {
	key, err := v.SealingKey()
	if err != nil {
		return err
	}
	defer key.Destroy()
	return fn(key)
}
