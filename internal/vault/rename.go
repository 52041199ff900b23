package vault

import (
	"errors"
	"io/fs"
	"os"
)

// renameChecked is the fallback for filesystems without an exclusive
// rename: a stat of dst followed by a plain rename. Another writer can slip
// in between the two, which the single-writer-per-partition deployment
// accepts.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: err}
	}
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: err}
	}
	return os.Rename(src, dst)
}
