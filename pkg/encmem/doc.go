// Package encmem keeps a fixed-size secret encrypted while it sits in
// memory. An [EncryptedSecret] stores XChaCha20-Poly1305 ciphertext and
// the 24-byte nonce it was sealed under; the sealing key is borrowed from
// a [KeyHandle] only for the duration of one Encrypt or Decrypt call.
//
// The first Encrypt on an instance uses the nonce drawn at construction.
// Every later Encrypt draws a fresh nonce, so no (key, nonce) pair ever
// seals two plaintexts. No associated data is bound into the tag; callers
// that need context binding add it themselves.
//
// Decrypt returns the plaintext in a [securemem.Secret] of the same size
// and fails with [ErrAuthenticationFailure] when the ciphertext, nonce or
// key does not match. Nothing here panics on cipher errors.
//
// An EncryptedSecret is not safe for concurrent use.
package encmem
