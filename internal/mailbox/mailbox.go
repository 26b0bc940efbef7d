// Package mailbox reads raw messages out of an mbox file, one at a time.
package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/emersion/go-mbox"
)

// Errors returned by the reader.
var (
	// The mailbox cannot be used at all.
	ErrUnreadable = errors.New("mailbox unreadable")

	// The mailbox structure is broken past this point; no more messages
	// can be read from it.
	ErrCorrupt = errors.New("mailbox corrupt")

	// A single message could not be read; the following ones may still be
	// fine.
	ErrMessage = errors.New("error reading message")
)

// Every mbox starts with a "From " line.
var separator = []byte("From ")

// Reader of an mbox file.
type Reader struct {
	path string
	f    *os.File
	r    *mbox.Reader

	// Number of messages returned so far.
	count int

	// Set once the underlying reader can no longer be used.
	done bool
}

// Open the mbox file at the given path. The file must exist, be a regular
// file, and either be empty or begin with a "From " line; otherwise the
// returned error wraps ErrUnreadable.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %q is not a regular file",
			ErrUnreadable, path)
	}

	// Check the first bytes, so we can tell apart a file that is not a
	// mailbox from one that is just empty.
	head := make([]byte, len(separator))
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if n > 0 && !bytes.Equal(head[:n], separator) {
		f.Close()
		return nil, fmt.Errorf("%w: %q does not begin with a \"From \" line",
			ErrUnreadable, path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	return &Reader{
		path: path,
		f:    f,
		r:    mbox.NewReader(f),
		done: n == 0,
	}, nil
}

// Next returns the raw bytes of the next message, exactly as they appear in
// the mailbox (minus the "From " separator line). At the end of the
// mailbox it returns io.EOF.
//
// An error wrapping ErrMessage affects only that message, and Next can be
// called again. An error wrapping ErrCorrupt is final.
func (r *Reader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}

	mr, err := r.r.NextMessage()
	if err == io.EOF {
		r.done = true
		return nil, io.EOF
	}
	if err != nil {
		r.done = true
		return nil, fmt.Errorf("%w: after %d messages: %v",
			ErrCorrupt, r.count, err)
	}

	r.count++
	raw, err := io.ReadAll(mr)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrMessage, r.count-1, err)
	}
	return raw, nil
}

// Count returns the number of messages returned so far, including the ones
// that failed with ErrMessage.
func (r *Reader) Count() int {
	return r.count
}

// Path of the mailbox file.
func (r *Reader) Path() string {
	return r.path
}

// Close the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
