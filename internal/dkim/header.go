package dkim

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Errors for a DKIM-Signature occurrence that cannot be processed. All of
// them only affect the occurrence they come from.
var (
	ErrMalformedTagValue    = errors.New("malformed tag-value list")
	ErrMissingRequiredTag   = errors.New("missing required tag")
	ErrUnsupportedParameter = errors.New("unsupported parameter")
	ErrSignatureDecode      = errors.New("invalid signature encoding")

	ErrBodyLengthUnsupported = fmt.Errorf(
		"%w: body length (l=)", ErrUnsupportedParameter)
)

// Signature is the parsed and validated content of one DKIM-Signature
// header field.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.5
type Signature struct {
	// Signing domain (d=) and selector (s=).
	Domain   string
	Selector string

	// Signed header fields (h=), in order, possibly repeated.
	Headers []string

	// Canonicalization (c=).
	HeaderCanon Canonicalization
	BodyCanon   Canonicalization

	// Algorithm (a=), like "rsa-sha256". Not interpreted.
	Algorithm string

	// Body hash (bh=), base64-encoded, as found in the header. Not
	// interpreted.
	BodyHash string

	// Signature data (b=), with whitespace removed, and decoded.
	SignatureBase64 string
	Signature       []byte

	// All the tags, in order.
	Tags Tags
}

// String replacer that removes whitespace.
var eatWhitespace = strings.NewReplacer(" ", "", "\t", "", "\r", "", "\n", "")

// Required tags, in the order in which they are checked.
var requiredTags = []string{"d", "s", "h", "c", "a", "bh", "b"}

// ParseSignature parses the value of a DKIM-Signature header field. If
// strict is set, duplicate tags make the field invalid; otherwise the last
// value wins.
func ParseSignature(field string, strict bool) (*Signature, error) {
	tags, err := ParseTags(field, strict)
	if err != nil {
		return nil, err
	}

	for _, t := range requiredTags {
		if tags.Get(t) == "" {
			return nil, fmt.Errorf("%w: %s=", ErrMissingRequiredTag, t)
		}
	}

	// Checked before anything is decoded, so that an l= signature is always
	// reported as such.
	if tags.Has("l") {
		return nil, ErrBodyLengthUnsupported
	}

	sig := &Signature{
		Domain:     tags.Get("d"),
		Selector:   tags.Get("s"),
		Algorithm:  tags.Get("a"),
		BodyHash:   tags.Get("bh"),
		Tags:       tags,
	}

	// h is a colon-separated list of header fields, and whitespace within
	// it is not significant.
	sig.Headers = strings.Split(eatWhitespace.Replace(tags.Get("h")), ":")

	sig.HeaderCanon, sig.BodyCanon, err = parseCanonicalizations(tags.Get("c"))
	if err != nil {
		return nil, err
	}

	sig.SignatureBase64, sig.Signature, err = DecodeSignature(tags.Get("b"))
	if err != nil {
		return nil, err
	}

	return sig, nil
}

// Either "header/body" or "header". In the latter case, "simple" is used for
// the body canonicalization. No whitespace around the '/' is allowed.
func parseCanonicalizations(s string) (Canonicalization, Canonicalization, error) {
	hs, bs, _ := strings.Cut(s, "/")
	if bs == "" {
		bs = "simple"
	}

	h, err := ParseCanonicalization(hs)
	if err != nil {
		return "", "", fmt.Errorf("header: %w", err)
	}
	b, err := ParseCanonicalization(bs)
	if err != nil {
		return "", "", fmt.Errorf("body: %w", err)
	}
	return h, b, nil
}

// DecodeSignature decodes the value of a b= tag. Whitespace (including line
// folding) is ignored. Returns the base64 text without whitespace, and the
// decoded bytes.
func DecodeSignature(b string) (string, []byte, error) {
	b64 := eatWhitespace.Replace(b)
	sig, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return b64, nil, fmt.Errorf("%w: %w", ErrSignatureDecode, err)
	}
	return b64, sig, nil
}

// Tag is a single tag=value pair.
type Tag struct {
	Name  string
	Value string
}

// Tags is a DKIM Tag=Value list, as defined in RFC 6376, Section 3.2.
// Each name appears only once; the list keeps the order in which names were
// first seen.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.2
type Tags []Tag

// Get the value of the given tag, or "" if it is not present.
func (ts Tags) Get(name string) string {
	for _, t := range ts {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// Has returns true if the tag is present, even with an empty value.
func (ts Tags) Has(name string) bool {
	for _, t := range ts {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (ts *Tags) set(name, value string) {
	for i := range *ts {
		if (*ts)[i].Name == name {
			(*ts)[i].Value = value
			return
		}
	}
	*ts = append(*ts, Tag{Name: name, Value: value})
}

// TagError describes a malformed segment within a tag-value list.
type TagError struct {
	// The offending segment, and the full list it came from.
	Segment string
	Field   string

	Reason string
}

func (e *TagError) Error() string {
	return fmt.Sprintf("%v: %s in %q (field %.60q)",
		ErrMalformedTagValue, e.Reason, e.Segment, e.Field)
}

func (e *TagError) Unwrap() error {
	return ErrMalformedTagValue
}

// ParseTags parses a tag-value list. Empty segments are skipped, and only
// the first '=' of each segment separates the name from the value.
func ParseTags(s string, strict bool) (Tags, error) {
	tags := Tags{}
	for _, seg := range strings.Split(s, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		t, v, found := strings.Cut(seg, "=")
		if !found {
			return nil, &TagError{seg, s, "missing '='"}
		}

		// Trim leading and trailing whitespace from tag and value, as per
		// RFC.
		t = strings.TrimSpace(t)
		v = strings.TrimSpace(v)

		if t == "" {
			return nil, &TagError{seg, s, "missing tag name"}
		}

		// RFC 6376, Section 3.2: Tags with duplicate names MUST NOT occur
		// within a single tag-list. We only enforce it in strict mode.
		if strict && tags.Has(t) {
			return nil, &TagError{seg, s, "duplicate tag"}
		}

		tags.set(t, v)
	}

	return tags, nil
}
