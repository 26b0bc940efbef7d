// Package trace extends golang.org/x/net/trace with the families used by a
// scan, and mirrors every event to the log.
package trace

import (
	"fmt"
	"net/http"
	"strconv"

	"blitiri.com.ar/go/log"

	nettrace "golang.org/x/net/trace"
)

// Families, as shown in /debug/requests and /debug/events.
const (
	// One trace per message read from the mailbox.
	FamilyMessage = "dkimextract.Message"

	// One event log per scan.
	FamilyScan = "dkimextract.Scan"

	// Skipped occurrences, across all scans.
	FamilySkips = "dkimextract.Skips"
)

// Event budget for message traces. Extracting a signature logs the field,
// one event per signed header, and the outcome; most signatures sign fewer
// than a dozen headers.
const (
	baseEvents         = 10
	eventsPerSignature = 15
	maxEvents          = 200
)

func init() {
	// golang.org/x/net/trace has its own authorization which by default only
	// allows localhost. This can be confusing and limiting in environments
	// which access the monitoring server remotely.
	nettrace.AuthRequest = func(req *http.Request) (any, sensitive bool) {
		return true, true
	}
}

// A Trace follows the processing of a single message.
type Trace struct {
	family string
	title  string
	t      nettrace.Trace
}

// NewMessage returns a trace for message idx of the given mailbox, sized for
// the given number of DKIM-Signature fields.
func NewMessage(mbox string, idx, signatures int) *Trace {
	title := fmt.Sprintf("%s #%d", mbox, idx)
	t := &Trace{FamilyMessage, title, nettrace.New(FamilyMessage, title)}

	// The default of 10 events would lose most of a multi-signature message.
	t.t.SetMaxEvents(eventBudget(signatures))
	return t
}

func eventBudget(signatures int) int {
	return min(baseEvents+eventsPerSignature*signatures, maxEvents)
}

// Printf adds this message to the trace's log.
func (t *Trace) Printf(format string, a ...interface{}) {
	t.t.LazyPrintf(format, a...)

	log.Log(log.Info, 1, "%s %s: %s", t.family, t.title,
		quote(fmt.Sprintf(format, a...)))
}

// Debugf adds this message to the trace's log, with a debugging level.
func (t *Trace) Debugf(format string, a ...interface{}) {
	t.t.LazyPrintf(format, a...)

	log.Log(log.Debug, 1, "%s %s: %s",
		t.family, t.title, quote(fmt.Sprintf(format, a...)))
}

// Skipf records a skipped signature or message. Skips are an expected
// outcome and do not mark the trace as failed.
func (t *Trace) Skipf(format string, a ...interface{}) {
	t.t.LazyPrintf("skipped: "+format, a...)

	log.Log(log.Info, 1, "%s %s: skipped: %s", t.family, t.title,
		quote(fmt.Sprintf(format, a...)))
}

// Finish the trace. It should not be changed after this is called.
func (t *Trace) Finish() {
	t.t.Finish()
}

// EventLog is used for tracing long-lived objects: a whole scan, or the
// stream of skips.
type EventLog struct {
	family string
	title  string
	e      nettrace.EventLog
}

// NewScan returns the event log for a scan of the given mailbox.
func NewScan(mbox string) *EventLog {
	return NewEventLog(FamilyScan, mbox)
}

// NewEventLog returns a new EventLog.
func NewEventLog(family, title string) *EventLog {
	return &EventLog{family, title, nettrace.NewEventLog(family, title)}
}

// Printf adds the message to the EventLog.
func (e *EventLog) Printf(format string, a ...interface{}) {
	e.e.Printf(format, a...)

	log.Log(log.Info, 1, "%s %s: %s", e.family, e.title,
		quote(fmt.Sprintf(format, a...)))
}

// Debugf adds the message to the EventLog, with a debugging level.
func (e *EventLog) Debugf(format string, a ...interface{}) {
	e.e.Printf(format, a...)

	log.Log(log.Debug, 1, "%s %s: %s", e.family, e.title,
		quote(fmt.Sprintf(format, a...)))
}

// Errorf adds the message to the EventLog, with an error level, and returns
// it as an error.
func (e *EventLog) Errorf(format string, a ...interface{}) error {
	err := fmt.Errorf(format, a...)
	e.e.Errorf("error: %v", err)

	log.Log(log.Info, 1, "%s %s: error: %s",
		e.family, e.title, quote(err.Error()))

	return err
}

// Finish the EventLog. It should not be changed after this is called.
func (e *EventLog) Finish() {
	e.e.Finish()
}

func quote(s string) string {
	qs := strconv.Quote(s)
	return qs[1 : len(qs)-1]
}
