package dkim

import (
	"errors"
	"fmt"
	"strings"

	"blitiri.com.ar/go/dkimextract/internal/normalize"
)

// Header is a single header field, as it appeared on the wire.
type Header struct {
	// Field name, with the original case (and any whitespace before the
	// colon).
	Name string

	// Value is everything after the colon, including folding.
	Value string

	// Source is the full field: name, colon and value, with no trailing
	// CRLF.
	Source string
}

// Headers in the order they appear in the message.
type Headers []Header

// Indexes of the headers with the given name, in order of appearance.
func (hs Headers) Indexes(name string) []int {
	found := []int{}
	for i, h := range hs {
		if h.is(name) {
			found = append(found, i)
		}
	}
	return found
}

func (h Header) is(name string) bool {
	return strings.EqualFold(strings.TrimRight(h.Name, " \t"), name)
}

// Message is a single message from a mailbox.
type Message struct {
	// Raw message, exactly as given to ParseMessage.
	Raw []byte

	Headers Headers

	// Body, with CRLF line endings.
	Body string
}

// ErrInvalidHeader is returned when the message header block cannot be
// parsed.
var ErrInvalidHeader = errors.New("invalid header")

// ParseMessage parses a RFC 5322 message. Line endings are converted to CRLF
// first; other whitespace is left untouched, as it is significant for
// simple canonicalization.
func ParseMessage(raw []byte) (*Message, error) {
	headers, body, err := parseMessage(string(normalize.ToCRLF(raw)))
	if err != nil {
		return nil, err
	}
	return &Message{Raw: raw, Headers: headers, Body: body}, nil
}

// parseMessage splits a CRLF message into headers and body.
func parseMessage(message string) (Headers, string, error) {
	headers := Headers{}
	lines := strings.Split(message, "\r\n")

	// A message without an empty line has no body.
	eoh := len(lines)
	for i, line := range lines {
		if line == "" {
			eoh = i
			break
		}

		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			// Continuation of the previous header.
			if len(headers) == 0 {
				return nil, "", fmt.Errorf(
					"%w: bad continuation", ErrInvalidHeader)
			}
			headers[len(headers)-1].Value += "\r\n" + line
			headers[len(headers)-1].Source += "\r\n" + line
			continue
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, "", fmt.Errorf(
				"%w: no colon in %.40q", ErrInvalidHeader, line)
		}
		headers = append(headers, Header{
			Name:   name,
			Value:  value,
			Source: line,
		})
	}

	if eoh >= len(lines)-1 {
		return headers, "", nil
	}
	return headers, strings.Join(lines[eoh+1:], "\r\n"), nil
}
