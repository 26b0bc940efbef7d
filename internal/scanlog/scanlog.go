// Package scanlog implements a log of per-signature outcomes of a scan.
//
// Each DKIM-Signature occurrence found in the mailbox ends up as exactly one
// line: either extracted (and filed under its identity) or skipped, with the
// reason.
package scanlog

import (
	"fmt"
	"io"
	"log/syslog"
	"sync"
	"time"

	"blitiri.com.ar/go/dkimextract/internal/trace"
	"blitiri.com.ar/go/log"
)

// Global event logs.
var (
	skipLog = trace.NewEventLog(trace.FamilySkips, "dkimextract")
)

// A writer that prepends timing information.
type timedWriter struct {
	w io.Writer
}

// Write the given buffer, prepending timing information.
func (t timedWriter) Write(b []byte) (int, error) {
	fmt.Fprintf(t.w, "%s  ", time.Now().Format("2006-01-02 15:04:05.000000"))
	return t.w.Write(b)
}

// Logger contains a backend used to log data to, such as a file or syslog.
// It implements various user-friendly methods for logging scan outcomes to
// it.
type Logger struct {
	w    io.Writer
	once sync.Once
}

// New creates a new Logger which will write messages to the given writer.
func New(w io.Writer) *Logger {
	return &Logger{w: timedWriter{w}}
}

// NewSyslog creates a new Logger which will write messages to syslog.
func NewSyslog() (*Logger, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, "dkimextract")
	if err != nil {
		return nil, err
	}

	l := &Logger{w: w}
	return l, nil
}

func (l *Logger) printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(l.w, format, args...)
	if err != nil {
		l.once.Do(func() {
			log.Errorf("failed to write to scanlog: %v", err)
			log.Errorf("(will not report this again)")
		})
	}
}

// Started logs the beginning of a scan.
func (l *Logger) Started(mbox string, maxMessages int) {
	l.printf("scan of %s started, max_messages=%d\n", mbox, maxMessages)
}

// Extracted logs that a signature occurrence was reconstructed and filed
// under the given identity. hash is a digest of the signed data.
func (l *Logger) Extracted(msg, sig int, domain, selector, hash string) {
	l.printf("msg=%d sig=%d d=%s s=%s extracted hash=%s\n",
		msg, sig, domain, selector, hash)
}

// Duplicate logs that an extracted occurrence was dropped because its
// identity already had the same signed data and signature.
func (l *Logger) Duplicate(msg, sig int, domain, selector string) {
	l.printf("msg=%d sig=%d d=%s s=%s duplicate, dropped\n",
		msg, sig, domain, selector)
}

// Skipped logs that a signature occurrence (or a whole message, if sig is
// negative) could not be processed.
func (l *Logger) Skipped(msg, sig int, reason string, err error) {
	var s string
	if sig < 0 {
		s = fmt.Sprintf("msg=%d skipped (%s): %v\n", msg, reason, err)
	} else {
		s = fmt.Sprintf("msg=%d sig=%d skipped (%s): %v\n",
			msg, sig, reason, err)
	}
	l.printf("%s", s)
	skipLog.Debugf("%s", s)
}

// GroupWritten logs that a group was written to the given directory.
func (l *Logger) GroupWritten(dir string, members int) {
	l.printf("group %s written, %d members\n", dir, members)
}

// WriteFailed logs that a group could not be written.
func (l *Logger) WriteFailed(dir string, err error) {
	l.printf("group %s write failed: %v\n", dir, err)
}

// Finished logs the end of a scan.
func (l *Logger) Finished(messages, records, groups int) {
	l.printf("scan finished: %d messages, %d records, %d groups\n",
		messages, records, groups)
}

// Default logger, used in the following top-level functions.
var Default = New(io.Discard)

// Started logs the beginning of a scan.
func Started(mbox string, maxMessages int) {
	Default.Started(mbox, maxMessages)
}

// Extracted logs that a signature occurrence was reconstructed.
func Extracted(msg, sig int, domain, selector, hash string) {
	Default.Extracted(msg, sig, domain, selector, hash)
}

// Duplicate logs that an extracted occurrence was dropped as a duplicate.
func Duplicate(msg, sig int, domain, selector string) {
	Default.Duplicate(msg, sig, domain, selector)
}

// Skipped logs that a signature occurrence could not be processed.
func Skipped(msg, sig int, reason string, err error) {
	Default.Skipped(msg, sig, reason, err)
}

// GroupWritten logs that a group was written.
func GroupWritten(dir string, members int) {
	Default.GroupWritten(dir, members)
}

// WriteFailed logs that a group could not be written.
func WriteFailed(dir string, err error) {
	Default.WriteFailed(dir, err)
}

// Finished logs the end of a scan.
func Finished(messages, records, groups int) {
	Default.Finished(messages, records, groups)
}
