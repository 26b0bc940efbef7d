// Package safeio implements atomic file writes, so that an interrupted run
// never leaves a half-written output file behind.
package safeio

import (
	"os"
	"path/filepath"
)

// FileOp represents an operation on a file, applied to the temporary file
// before it is renamed into place.
type FileOp func(string) error

// WriteFile writes data to a file named by filename, atomically.
//
// The data is written to a temporary file in the same directory, the given
// operations are applied to it in order, and then it is renamed to its
// final name. If anything fails, the temporary file is removed and the
// destination is left untouched.
//
// Note this relies on same-directory Rename being atomic, which holds in most
// reasonably modern filesystems.
func WriteFile(filename string, data []byte, perm os.FileMode, ops ...FileOp) error {
	// Note we create the temporary file in the same directory, otherwise we
	// would have no expectation of Rename being atomic.
	// The leading dot keeps partial files out of directory listings.
	tmpf, err := os.CreateTemp(filepath.Dir(filename),
		"."+filepath.Base(filename)+".tmp")
	if err != nil {
		return err
	}

	if err = os.Chmod(tmpf.Name(), perm); err != nil {
		tmpf.Close()
		os.Remove(tmpf.Name())
		return err
	}

	if _, err = tmpf.Write(data); err != nil {
		tmpf.Close()
		os.Remove(tmpf.Name())
		return err
	}

	if err = tmpf.Close(); err != nil {
		os.Remove(tmpf.Name())
		return err
	}

	for _, op := range ops {
		if err = op(tmpf.Name()); err != nil {
			os.Remove(tmpf.Name())
			return err
		}
	}

	return os.Rename(tmpf.Name(), filename)
}

// Sync is a FileOp that flushes the file contents to stable storage.
func Sync(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
