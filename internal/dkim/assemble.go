package dkim

import (
	"context"
	"regexp"
	"strings"
)

// Reconstruction of what a signature was computed over.
type Reconstruction struct {
	// SignedData is the exact input to the signing primitive: the
	// canonicalized headers selected by h=, each terminated by CRLF, followed
	// by the canonicalized DKIM-Signature field with an empty b= and no
	// trailing CRLF.
	// https://datatracker.ietf.org/doc/html/rfc6376#section-3.7
	SignedData []byte

	// CanonicalBody is the canonicalized body. Only its hash is signed (via
	// bh=), so it is not part of SignedData.
	CanonicalBody []byte
}

// Assemble the signed data for the given signature. sigIdx is the position
// in msg.Headers of the field the signature was parsed from.
//
// No key material is involved: the result only depends on the message and
// the signature.
func Assemble(ctx context.Context, sig *Signature, sigIdx int, msg *Message) (*Reconstruction, error) {
	sigH := msg.Headers[sigIdx]

	b := &strings.Builder{}
	for _, h := range headersToInclude(sigIdx, sig.Headers, msg.Headers) {
		hsrc := sig.HeaderCanon.Header(h) + "\r\n"
		trace(ctx, "Signed header: %q", hsrc)
		b.WriteString(hsrc)
	}

	sigC := sig.HeaderCanon.Header(withEmptyB(sigH))
	trace(ctx, "Signed header: %q", sigC)
	b.WriteString(sigC)

	return &Reconstruction{
		SignedData:    []byte(b.String()),
		CanonicalBody: []byte(sig.BodyCanon.Body(msg.Body)),
	}, nil
}

// Regular expression that matches the b= tag within a tag list. The first
// capture group is everything before the value (including the
// separator, and whitespace up to the '=').
var bTag = regexp.MustCompile(`((?:^|;)[ \t\r\n]*b[ \t\r\n]*=)[^;]*`)

// withEmptyB returns the given DKIM-Signature header, with the value of the
// b= tag deleted. Everything else, including whitespace, is kept.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.5
func withEmptyB(h Header) Header {
	value := bTag.ReplaceAllString(h.Value, "$1")
	return Header{
		Name:   h.Name,
		Value:  value,
		Source: strings.TrimSuffix(h.Source, h.Value) + value,
	}
}

// Return the actual headers to include, based on the list given in the h=
// tag. This is complicated because:
//   - Headers can be included multiple times. In that case, we must pick
//     the last instance which hasn't been already included.
//     https://datatracker.ietf.org/doc/html/rfc6376#section-5.4.2
//   - Headers may appear fewer times than they are requested, or not at
//     all. The missing instances are treated as the null string.
//     https://datatracker.ietf.org/doc/html/rfc6376#section-5.4
//   - DKIM-Signature may be included, but never the one being processed
//     (the one at sigIdx). Identical copies of it elsewhere are fair game.
//     https://datatracker.ietf.org/doc/html/rfc6376#section-3.7
func headersToInclude(sigIdx int, hTag []string, headers Headers) Headers {
	// For each (lowercase) name, the position from which to continue looking
	// upwards.
	next := map[string]int{}

	include := Headers{}
	for _, name := range hTag {
		lname := strings.ToLower(name)
		i, ok := next[lname]
		if !ok {
			i = len(headers)
		}

		for i--; i >= 0; i-- {
			if i != sigIdx && headers[i].is(name) {
				include = append(include, headers[i])
				break
			}
		}

		next[lname] = max(i, 0)
	}

	return include
}
