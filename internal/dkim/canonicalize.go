package dkim

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownCanonicalization is returned for c= values other than "simple"
// and "relaxed". It is an unsupported parameter.
var ErrUnknownCanonicalization = fmt.Errorf(
	"%w: unknown canonicalization", ErrUnsupportedParameter)

// Canonicalization algorithm, as per RFC 6376 section 3.4.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.4
type Canonicalization string

const (
	Simple  Canonicalization = "simple"
	Relaxed Canonicalization = "relaxed"
)

var errBadCanonicalization = errors.New("bad canonicalization")

// ParseCanonicalization parses the name of a single canonicalization
// algorithm. No surrounding whitespace is allowed.
func ParseCanonicalization(s string) (Canonicalization, error) {
	switch s {
	case "simple":
		return Simple, nil
	case "relaxed":
		return Relaxed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCanonicalization, s)
	}
}

// Body returns the canonical form of the given body, which is expected to
// use CRLF line endings.
func (c Canonicalization) Body(b string) string {
	switch c {
	case Simple:
		return simpleBody(b)
	case Relaxed:
		return relaxBody(b)
	default:
		panic(fmt.Sprintf("%v: %q", errBadCanonicalization, string(c)))
	}
}

// Header returns the canonical form of the given header field, without a
// trailing CRLF.
func (c Canonicalization) Header(h Header) string {
	switch c {
	case Simple:
		return h.Source
	case Relaxed:
		return relaxHeader(h).Source
	default:
		panic(fmt.Sprintf("%v: %q", errBadCanonicalization, string(c)))
	}
}

// Notes on whitespace reduction:
// https://datatracker.ietf.org/doc/html/rfc6376#section-2.8
// There are only 3 forms of whitespace:
//  - WSP  =  SP / HTAB
//    Simple whitespace: space or tab.
//  - LWSP =  *(WSP / CRLF WSP)
//    Linear whitespace: any number of { simple whitespace OR CRLF followed by
//    simple whitespace }.
//  - FWS  =  [*WSP CRLF] 1*WSP
//    Folding whitespace: optional { simple whitespace OR CRLF } followed by
//    one or more simple whitespace.

var (
	// Continued header: WSP after CRLF.
	continuedHeader = regexp.MustCompile(`\r\n[ \t]+`)

	// WSP before CRLF.
	wspBeforeCRLF = regexp.MustCompile(`[ \t]+\r\n`)

	// WSP at the end of a body whose last line has no CRLF.
	wspAtEnd = regexp.MustCompile(`[ \t]+$`)

	// Repeated WSP.
	repeatedWSP = regexp.MustCompile(`[ \t]+`)

	// Empty lines at the end of the body.
	repeatedCRLFAtTheEnd = regexp.MustCompile(`(\r\n)+$`)
)

func simpleBody(body string) string {
	// https://datatracker.ietf.org/doc/html/rfc6376#section-3.4.3
	// Replace repeated CRLF at the end of the body with a single CRLF.
	body = repeatedCRLFAtTheEnd.ReplaceAllLiteralString(body, "\r\n")

	// All bodies (including an empty one) must end with a CRLF.
	if !strings.HasSuffix(body, "\r\n") {
		body += "\r\n"
	}

	return body
}

func relaxBody(body string) string {
	// https://datatracker.ietf.org/doc/html/rfc6376#section-3.4.4
	body = wspBeforeCRLF.ReplaceAllLiteralString(body, "\r\n")
	body = wspAtEnd.ReplaceAllLiteralString(body, "")
	body = repeatedWSP.ReplaceAllLiteralString(body, " ")

	// Ignore all empty lines at the end. A body made only of empty lines
	// becomes the empty string.
	// https://www.rfc-editor.org/errata/eid3192
	body = repeatedCRLFAtTheEnd.ReplaceAllLiteralString(body, "")
	if body != "" {
		body += "\r\n"
	}

	return body
}

func relaxHeader(h Header) Header {
	// https://datatracker.ietf.org/doc/html/rfc6376#section-3.4.2
	// Convert all header field names to lowercase, and remove WSP before the
	// ":" separating the name and value.
	name := strings.TrimRight(strings.ToLower(h.Name), " \t")

	// Unfold continuation lines in values.
	value := continuedHeader.ReplaceAllLiteralString(h.Value, " ")

	// Reduce all sequences of WSP to a single SP.
	value = repeatedWSP.ReplaceAllLiteralString(value, " ")

	// Delete all WSP at the end of each unfolded header field value, and
	// after the ":" separating the name and value.
	value = strings.Trim(value, " \t")

	return Header{
		Name:   name,
		Value:  value,
		Source: name + ":" + value,
	}
}
