// Package scan implements the extraction pipeline: it reads messages from a
// mailbox, reconstructs the signed data of every DKIM signature, groups them
// by signing identity, and writes the groups out.
package scan

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"sort"
	"strings"

	"blitiri.com.ar/go/dkimextract/internal/config"
	"blitiri.com.ar/go/dkimextract/internal/dkim"
	"blitiri.com.ar/go/dkimextract/internal/grouper"
	"blitiri.com.ar/go/dkimextract/internal/mailbox"
	"blitiri.com.ar/go/dkimextract/internal/output"
	"blitiri.com.ar/go/dkimextract/internal/scanlog"
	"blitiri.com.ar/go/dkimextract/internal/trace"
	"blitiri.com.ar/go/log"
)

// Exported variables.
var (
	messageCount = expvar.NewInt("dkimextract/scan/messageCount")
	sigCount     = expvar.NewInt("dkimextract/scan/signatureCount")
	recordCount  = expvar.NewInt("dkimextract/scan/recordCount")
	skipCount    = expvar.NewMap("dkimextract/scan/skipCount")
	dupCount     = expvar.NewInt("dkimextract/scan/duplicateCount")
	groupCount   = expvar.NewInt("dkimextract/scan/groupCount")
	writeErrors  = expvar.NewInt("dkimextract/scan/writeErrorCount")
)

// ErrWrite is returned (wrapped) when some groups could not be written.
var ErrWrite = errors.New("error writing output")

// Summary of a run.
type Summary struct {
	// Messages read from the mailbox, and how many of them had at least one
	// DKIM-Signature.
	Messages               int
	MessagesWithSignatures int

	// DKIM-Signature occurrences found, and how many of them were
	// reconstructed and filed.
	Signatures int
	Records    int

	// Skipped occurrences (or messages), by reason.
	Skipped map[string]int

	// Records dropped as duplicates (only when deduplicating).
	Duplicates int

	// Groups written, and groups that failed to be written.
	Groups      int
	WriteErrors int
}

func (s *Summary) skip(reason string) {
	s.Skipped[reason]++
	skipCount.Add(reason, 1)
}

// TotalSkipped returns the number of skips, for all reasons.
func (s *Summary) TotalSkipped() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

func (s *Summary) String() string {
	reasons := []string{}
	for r, c := range s.Skipped {
		reasons = append(reasons, fmt.Sprintf("%s=%d", r, c))
	}
	sort.Strings(reasons)

	return fmt.Sprintf(
		"%d messages (%d signed), %d signatures, %d records, "+
			"%d duplicates, %d groups, %d write errors, skipped: [%s]",
		s.Messages, s.MessagesWithSignatures, s.Signatures, s.Records,
		s.Duplicates, s.Groups, s.WriteErrors, strings.Join(reasons, " "))
}

// Reasons for skipping.
const (
	ReasonBodyLength    = "body-length"
	ReasonUnsupported   = "unsupported-parameter"
	ReasonMalformedTags = "malformed-tags"
	ReasonMissingTag    = "missing-tag"
	ReasonBadSignature  = "bad-signature-encoding"
	ReasonBadMessage    = "invalid-message"
	ReasonReadError     = "read-error"
	ReasonCorrupt       = "corrupt-mailbox"
	ReasonOther         = "other"
)

// SkipReason classifies an error into one of the reasons above.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, dkim.ErrBodyLengthUnsupported):
		return ReasonBodyLength
	case errors.Is(err, dkim.ErrUnsupportedParameter):
		return ReasonUnsupported
	case errors.Is(err, dkim.ErrMalformedTagValue):
		return ReasonMalformedTags
	case errors.Is(err, dkim.ErrMissingRequiredTag):
		return ReasonMissingTag
	case errors.Is(err, dkim.ErrSignatureDecode):
		return ReasonBadSignature
	case errors.Is(err, dkim.ErrInvalidHeader):
		return ReasonBadMessage
	case errors.Is(err, mailbox.ErrMessage):
		return ReasonReadError
	case errors.Is(err, mailbox.ErrCorrupt):
		return ReasonCorrupt
	default:
		return ReasonOther
	}
}

type scanner struct {
	conf    *config.Config
	mbox    *mailbox.Reader
	grouper *grouper.Grouper
	summary *Summary
}

// Run a scan of the mailbox at mboxPath, writing groups to outDir.
//
// Errors wrapping mailbox.ErrUnreadable mean the mailbox could not be used
// at all. Errors wrapping ErrWrite mean that the scan completed but some
// groups could not be written; the summary is valid in that case.
func Run(ctx context.Context, conf *config.Config, mboxPath, outDir string) (*Summary, error) {
	ev := trace.NewScan(mboxPath)
	defer ev.Finish()

	mb, err := mailbox.Open(mboxPath)
	if err != nil {
		return nil, ev.Errorf("opening mailbox: %w", err)
	}
	defer mb.Close()

	out, err := output.Create(outDir)
	if err != nil {
		return nil, ev.Errorf("creating output: %w", err)
	}
	out.WriteCanonicalBody = conf.WriteCanonicalBody

	s := &scanner{
		conf:    conf,
		mbox:    mb,
		grouper: grouper.New(conf.MinGroupSize, conf.Dedupe),
		summary: &Summary{Skipped: map[string]int{}},
	}

	ev.Printf("scan started, max_messages=%d", conf.MaxMessages)
	scanlog.Started(mboxPath, conf.MaxMessages)

	if err := s.readAll(ctx, ev); err != nil {
		return s.summary, err
	}

	ev.Printf("read %d messages, %d records, %d identities",
		s.summary.Messages, s.summary.Records, s.grouper.Identities())

	err = s.write(out, ev)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = ev.Errorf("writing summary: %w", cerr)
	}

	scanlog.Finished(s.summary.Messages, s.summary.Records, s.summary.Groups)
	ev.Printf("scan finished: %s", s.summary)
	return s.summary, err
}

func (s *scanner) readAll(ctx context.Context, ev *trace.EventLog) error {
	for s.summary.Messages < s.conf.MaxMessages {
		if err := ctx.Err(); err != nil {
			return ev.Errorf("scan interrupted: %w", err)
		}

		idx := s.mbox.Count()
		raw, err := s.mbox.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, mailbox.ErrCorrupt) {
			// We can't go on reading, but what we have is still valid.
			ev.Errorf("%v", err)
			s.summary.skip(ReasonCorrupt)
			scanlog.Skipped(idx, -1, ReasonCorrupt, err)
			return nil
		}

		s.summary.Messages++
		messageCount.Add(1)
		if err != nil {
			s.summary.skip(ReasonReadError)
			scanlog.Skipped(idx, -1, ReasonReadError, err)
			continue
		}

		s.processMessage(ctx, idx, raw)
	}

	ev.Printf("reached max_messages (%d), stopping", s.conf.MaxMessages)
	return nil
}

func (s *scanner) processMessage(ctx context.Context, idx int, raw []byte) {
	msg, err := dkim.ParseMessage(raw)

	signatures := 0
	if msg != nil {
		signatures = len(msg.Headers.Indexes("DKIM-Signature"))
	}
	tr := trace.NewMessage(s.mbox.Path(), idx, signatures)
	defer tr.Finish()

	if err != nil {
		tr.Skipf("%v", err)
		s.summary.skip(ReasonBadMessage)
		scanlog.Skipped(idx, -1, ReasonBadMessage, err)
		return
	}

	ctx = dkim.WithTraceFunc(ctx, tr.Debugf)
	ctx = dkim.WithStrictTags(ctx, s.conf.RejectDuplicateTags)
	results := dkim.Extract(ctx, msg)
	if len(results) == 0 {
		tr.Debugf("no DKIM signatures")
		return
	}
	s.summary.MessagesWithSignatures++

	for i, res := range results {
		s.summary.Signatures++
		sigCount.Add(1)

		if res.Err != nil {
			reason := SkipReason(res.Err)
			tr.Skipf("signature %d (%s): %v", i, reason, res.Err)
			s.summary.skip(reason)
			scanlog.Skipped(idx, i, reason, res.Err)
			continue
		}

		id := grouper.NewIdentity(res.Signature.Domain, res.Signature.Selector)
		rec := &grouper.Record{
			MessageIndex:   idx,
			SignatureIndex: i,
			SignedData:     res.SignedData,
			Signature:      res.Signature.Signature,
			CanonicalBody:  res.CanonicalBody,
			Message:        raw,
		}
		if !s.grouper.Add(id, rec) {
			tr.Printf("signature %d: %v duplicate, dropped", i, id)
			s.summary.Duplicates++
			dupCount.Add(1)
			scanlog.Duplicate(idx, i, id.Domain, id.Selector)
			continue
		}

		tr.Printf("signature %d: %v, %d bytes of signed data",
			i, id, len(rec.SignedData))
		s.summary.Records++
		recordCount.Add(1)
		scanlog.Extracted(idx, i, id.Domain, id.Selector, rec.Hash())
	}
}

func (s *scanner) write(out *output.Writer, ev *trace.EventLog) error {
	for _, g := range s.grouper.Groups() {
		name, err := out.WriteGroup(g)
		if err != nil {
			s.summary.WriteErrors++
			writeErrors.Add(1)
			scanlog.WriteFailed(name, err)
			ev.Errorf("%v", err)
			log.Errorf("Error writing group %v: %v", g.Identity, err)

			if !s.conf.ContinueOnWriteErrors() {
				return fmt.Errorf("%w: %v", ErrWrite, err)
			}
			continue
		}

		s.summary.Groups++
		groupCount.Add(1)
		scanlog.GroupWritten(name, len(g.Records))
		ev.Debugf("group %s: %d records", name, len(g.Records))
	}

	if s.summary.WriteErrors > 0 {
		return fmt.Errorf("%w: %d groups failed", ErrWrite, s.summary.WriteErrors)
	}
	return nil
}
