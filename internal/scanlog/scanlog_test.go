package scanlog

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"blitiri.com.ar/go/log"
)

func expect(t *testing.T, buf *bytes.Buffer, s string) {
	t.Helper()
	if strings.Contains(buf.String(), s) {
		return
	}
	t.Errorf("buffer mismatch:")
	t.Errorf("  expected to contain: %q", s)
	t.Errorf("  got: %q", buf.String())
}

func TestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(buf)

	l.Started("archive.mbox", 100)
	expect(t, buf, "scan of archive.mbox started, max_messages=100")
	buf.Reset()

	l.Extracted(3, 0, "example.net", "brisbane", "abcd")
	expect(t, buf, "msg=3 sig=0 d=example.net s=brisbane extracted hash=abcd")
	buf.Reset()

	l.Duplicate(4, 1, "example.net", "brisbane")
	expect(t, buf, "msg=4 sig=1 d=example.net s=brisbane duplicate, dropped")
	buf.Reset()

	l.Skipped(5, 2, "body-length", fmt.Errorf("l= present"))
	expect(t, buf, "msg=5 sig=2 skipped (body-length): l= present")
	buf.Reset()

	l.Skipped(6, -1, "invalid-message", fmt.Errorf("bad header"))
	expect(t, buf, "msg=6 skipped (invalid-message): bad header")
	buf.Reset()

	l.GroupWritten("example.net_brisbane", 2)
	expect(t, buf, "group example.net_brisbane written, 2 members")
	buf.Reset()

	l.WriteFailed("example.net_brisbane", fmt.Errorf("disk full"))
	expect(t, buf, "group example.net_brisbane write failed: disk full")
	buf.Reset()

	l.Finished(10, 4, 1)
	expect(t, buf, "scan finished: 10 messages, 4 records, 1 groups")
	buf.Reset()
}

// Test that the default actions go reasonably to the default logger.
func TestDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	Default = New(buf)
	defer func() { Default = New(io.Discard) }()

	Started("m", 1)
	expect(t, buf, "scan of m started, max_messages=1")
	buf.Reset()

	Extracted(0, 0, "d", "s", "h")
	expect(t, buf, "msg=0 sig=0 d=d s=s extracted hash=h")
	buf.Reset()

	Duplicate(0, 1, "d", "s")
	expect(t, buf, "msg=0 sig=1 d=d s=s duplicate, dropped")
	buf.Reset()

	Skipped(1, 0, "malformed", fmt.Errorf("x"))
	expect(t, buf, "msg=1 sig=0 skipped (malformed): x")
	buf.Reset()

	GroupWritten("d_s", 3)
	expect(t, buf, "group d_s written, 3 members")
	buf.Reset()

	WriteFailed("d_s", fmt.Errorf("y"))
	expect(t, buf, "group d_s write failed: y")
	buf.Reset()

	Finished(2, 2, 0)
	expect(t, buf, "scan finished: 2 messages, 2 records, 0 groups")
	buf.Reset()
}

// io.Writer that fails all write operations, for testing.
type failedWriter struct{}

func (w *failedWriter) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("test error")
}

// nopCloser adds a Close method to an io.Writer, to turn it into a
// io.WriteCloser.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Test that we complain (only once) when we can't log.
func TestFailedLogger(t *testing.T) {
	// Set up a test logger, that will write to a buffer for us to check.
	buf := &bytes.Buffer{}
	log.Default = log.New(nopCloser{io.Writer(buf)})

	// Set up a scanlog that will use a writer which always fail, to trigger
	// the condition.
	failedw := &failedWriter{}
	l := New(failedw)

	// Log something, which should fail. Then verify that the error message
	// appears in the log.
	l.printf("123 testing")
	s := buf.String()
	if !strings.Contains(s, "failed to write to scanlog: test error") {
		t.Errorf("log did not contain expected message. Log: %#v", s)
	}

	// Further attempts should not generate any other errors.
	buf.Reset()
	l.printf("123 testing")
	s = buf.String()
	if s != "" {
		t.Errorf("expected second attempt to not log, but log had: %#v", s)
	}
}
