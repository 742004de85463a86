// Package vault supplies sealing keys to encmem. Key material lives in a
// fixed number of random pages, each held in a memguard Enclave (encrypted
// under memguard's session key while idle). The sealing key is squeezed
// from SHAKE256 over every page, so it exists in plaintext only inside the
// locked Secret returned to the caller.
package vault

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/cloudflare/circl/xof"
	"github.com/zeebo/blake3"

	"example.com/memseal/pkg/util/random"
	"example.com/memseal/pkg/util/securemem"
)

const (
	DefaultPages    = 4
	DefaultPageSize = 1024

	deriveLabel      = "memseal/vault/sealing-key/v1"
	fingerprintLabel = "memseal/vault/fingerprint/v1"
)

var ErrClosed = errors.New("vault: closed")

type Config struct {
	// Pages is the number of random pages; zero means DefaultPages.
	Pages int

	// PageSize is the size of each page in bytes; zero means DefaultPageSize.
	PageSize int

	// Logger receives lifecycle events. Key material is never logged.
	Logger *slog.Logger
}

// Vault derives a SizeOf[S]()-byte sealing key from its pages. It is safe
// for concurrent use.
type Vault[S securemem.Size] struct {
	mu       sync.RWMutex
	pages    []*memguard.Enclave
	pageSize int
	logger   *slog.Logger
}

func New[S securemem.Size](cfg Config) (*Vault[S], error) {
	if cfg.Pages == 0 {
		cfg.Pages = DefaultPages
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pages < 0 || cfg.PageSize < 0 {
		return nil, fmt.Errorf("vault: invalid geometry %d pages of %d bytes", cfg.Pages, cfg.PageSize)
	}
	if keyLen := securemem.SizeOf[S](); keyLen <= 0 {
		return nil, fmt.Errorf("vault: invalid key length %d", keyLen)
	}

	v := &Vault[S]{
		pages:    make([]*memguard.Enclave, 0, cfg.Pages),
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
	}
	for i := 0; i < cfg.Pages; i++ {
		page := memguard.NewBuffer(cfg.PageSize)
		if err := random.Fill(page.Bytes()); err != nil {
			page.Destroy()
			v.Close()
			return nil, fmt.Errorf("vault: fill page %d: %w", i, err)
		}
		// Seal encrypts the page into an Enclave and destroys the buffer.
		v.pages = append(v.pages, page.Seal())
	}

	v.logger.Debug("vault created",
		"pages", cfg.Pages,
		"page_size", cfg.PageSize,
		"key_len", securemem.SizeOf[S](),
	)
	return v, nil
}

// SealingKey returns the vault's sealing key in a fresh Secret. The key
// is the same for every call during the vault's lifetime. The caller must
// Destroy the result once the encrypt or decrypt it serves is done.
func (v *Vault[S]) SealingKey() (*securemem.Secret[S], error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.pages == nil {
		return nil, ErrClosed
	}

	h := xof.SHAKE256.New()
	defer h.Reset()

	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(v.pages)))
	binary.BigEndian.PutUint32(header[4:], uint32(securemem.SizeOf[S]()))
	h.Write([]byte(deriveLabel))
	h.Write(header[:])

	for i, page := range v.pages {
		lb, err := page.Open()
		if err != nil {
			return nil, fmt.Errorf("vault: open page %d: %w", i, err)
		}
		h.Write(lb.Bytes())
		lb.Destroy()
	}

	key, err := securemem.ZeroedSecret[S]()
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(h, key.ExposeBorrowed()); err != nil {
		key.Destroy()
		return nil, fmt.Errorf("vault: squeeze key: %w", err)
	}
	return key, nil
}

// Fingerprint is a short, non-reversible identifier of the sealing key,
// suitable for logs.
func (v *Vault[S]) Fingerprint() (string, error) {
	key, err := v.SealingKey()
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	// Keyed BLAKE3 needs exactly 32 key bytes; other sizes go through
	// SHAKE first so any key length gets a fingerprint.
	var macKey [32]byte
	defer securemem.Wipe(macKey[:])
	kh := xof.SHAKE256.New()
	kh.Write(key.ExposeBorrowed())
	_, err = io.ReadFull(kh, macKey[:])
	kh.Reset()
	if err != nil {
		return "", fmt.Errorf("vault: fingerprint key: %w", err)
	}

	hasher, err := blake3.NewKeyed(macKey[:])
	if err != nil {
		return "", fmt.Errorf("vault: fingerprint: %w", err)
	}
	hasher.Write([]byte(fingerprintLabel))
	return hex.EncodeToString(hasher.Sum(nil)[:8]), nil
}

// Close drops every page. Keys already handed out stay valid until their
// owners destroy them; later SealingKey calls fail with ErrClosed.
func (v *Vault[S]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pages == nil {
		return
	}
	v.pages = nil
	v.logger.Debug("vault closed")
}
