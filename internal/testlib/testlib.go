// Package testlib provides common test utilities.
package testlib

import (
	"io"
	"os"
	"strings"
	"testing"

	"blitiri.com.ar/go/log"
)

// MustTempDir creates a temporary directory, or dies trying.
func MustTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "testlib_")
	if err != nil {
		t.Fatal(err)
	}

	err = os.Chdir(dir)
	if err != nil {
		t.Fatal(err)
	}

	t.Logf("test directory: %q", dir)
	return dir
}

// RemoveIfOk removes the given directory, but only if we have not failed. We
// want to keep the failed directories for debugging.
func RemoveIfOk(t *testing.T, dir string) {
	// Safeguard, to make sure we only remove test directories.
	// This should help prevent accidental deletions.
	if !strings.Contains(dir, "testlib_") {
		panic("invalid/dangerous directory")
	}

	if !t.Failed() {
		os.RemoveAll(dir)
	}
}

// Rewrite a file with the given contents.
func Rewrite(t *testing.T, path, contents string) error {
	// Safeguard, to make sure we only mess with test files.
	if !strings.Contains(path, "testlib_") {
		panic("invalid/dangerous path")
	}

	err := os.WriteFile(path, []byte(contents), 0600)
	if err != nil {
		t.Errorf("failed to rewrite file: %v", err)
	}

	return err
}

// Mbox builds the contents of an mbox file out of the given messages, which
// use "\n" line endings. Body lines starting with "From " are escaped.
func Mbox(msgs ...string) string {
	sb := &strings.Builder{}
	for _, m := range msgs {
		sb.WriteString("From sender@example.com Thu Jan  1 00:00:00 1970\n")
		for _, line := range strings.SplitAfter(m, "\n") {
			if strings.HasPrefix(line, "From ") {
				sb.WriteString(">")
			}
			sb.WriteString(line)
		}
		if !strings.HasSuffix(m, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// DiscardLogs sets the default logger to one that throws everything away.
func DiscardLogs() {
	log.Default = log.New(nopWCloser{io.Discard})
}

type nopWCloser struct {
	io.Writer
}

func (nopWCloser) Close() error { return nil }
