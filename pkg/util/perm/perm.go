package perm

import (
	"fmt"
	"os"
)

// CheckPrivate verifies that path grants no access to group or other,
// as a file holding a secret should (e.g. -rw------- or -r--------).
func CheckPrivate(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := st.Mode().Perm()
	if mode&0o077 != 0 {
		return fmt.Errorf("file %s permissions %o grant group/other access (want 0600)", path, mode)
	}
	return nil
}
