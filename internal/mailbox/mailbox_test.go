package mailbox

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blitiri.com.ar/go/dkimextract/internal/testlib"
)

func mustWrite(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.mbox")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []string {
	t.Helper()
	msgs := []string{}
	for {
		raw, err := r.Next()
		if err == io.EOF {
			return msgs
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		msgs = append(msgs, string(raw))
	}
}

func TestRead(t *testing.T) {
	path := mustWrite(t, testlib.Mbox(
		"Subject: first\n\nbody 1\n",
		"Subject: second\n\nbody 2\n",
		"Subject: third\n\nbody 3\n"))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Path() != path {
		t.Errorf("Path: got %q, want %q", r.Path(), path)
	}

	msgs := readAll(t, r)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %q", len(msgs), msgs)
	}
	for i, subj := range []string{"first", "second", "third"} {
		if !strings.HasPrefix(msgs[i], "Subject: "+subj+"\n") {
			t.Errorf("message %d: unexpected contents %q", i, msgs[i])
		}
		if strings.Contains(msgs[i], "From sender@") {
			t.Errorf("message %d includes the separator: %q", i, msgs[i])
		}
	}
	if r.Count() != 3 {
		t.Errorf("Count: got %d, want 3", r.Count())
	}

	// EOF is sticky.
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after the end: got %v, want EOF", err)
	}
}

func TestEmpty(t *testing.T) {
	r, err := Open(mustWrite(t, ""))
	if err != nil {
		t.Fatalf("Open of an empty mailbox: %v", err)
	}
	defer r.Close()

	if msgs := readAll(t, r); len(msgs) != 0 {
		t.Errorf("got messages from an empty mailbox: %q", msgs)
	}
	if r.Count() != 0 {
		t.Errorf("Count: got %d, want 0", r.Count())
	}
}

func TestUnreadable(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		desc string
		path string
	}{
		{"does not exist", filepath.Join(dir, "nope")},
		{"directory", dir},
		{"not a mailbox", mustWrite(t, "Subject: hi\n\nbody\n")},
		{"short garbage", mustWrite(t, "Fr")},
		{"leading blank line", mustWrite(t, "\n"+testlib.Mbox("A: b\n"))},
	}
	for _, c := range cases {
		r, err := Open(c.path)
		if !errors.Is(err, ErrUnreadable) {
			t.Errorf("%s: got %v, want %v", c.desc, err, ErrUnreadable)
		}
		if r != nil {
			t.Errorf("%s: got a reader", c.desc)
			r.Close()
		}
	}
}
