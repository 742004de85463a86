package armor

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	pgparmor "github.com/ProtonMail/go-crypto/openpgp/armor"
)

// BlockType names the armor block carrying a sealed-secret record.
const BlockType = "MEMSEAL SECRET"

var ErrBadArmor = errors.New("armor: bad armored block")

// Encode wraps raw in an ASCII armor block of type BlockType.
func Encode(raw []byte, headers map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := pgparmor.Encode(&buf, BlockType, headers)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode unwraps a BlockType armor block and returns its body and headers.
func Decode(data []byte) ([]byte, map[string]string, error) {
	block, err := pgparmor.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadArmor, err)
	}
	if block.Type != BlockType {
		return nil, nil, fmt.Errorf("%w: unexpected block type %q", ErrBadArmor, block.Type)
	}
	raw, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadArmor, err)
	}
	return raw, block.Header, nil
}
