// Package grouper files reconstructed signatures by signing identity, and
// decides which groups are worth writing out.
package grouper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"blitiri.com.ar/go/dkimextract/internal/normalize"
	"blitiri.com.ar/go/dkimextract/internal/set"
)

// Identity of a signer: the (d=, s=) pair of a DKIM-Signature. Both parts
// are normalized, so that equivalent spellings end up in the same group.
type Identity struct {
	Domain   string
	Selector string
}

// NewIdentity returns the normalized identity for the given domain and
// selector. Domains that are not valid IDNA are kept as-is (but still
// lowercased by the normalization), since they can still be grouped.
func NewIdentity(domain, selector string) Identity {
	d, _ := normalize.Domain(domain)
	return Identity{
		Domain:   d,
		Selector: normalize.Selector(selector),
	}
}

func (id Identity) String() string {
	return fmt.Sprintf("d=%s s=%s", id.Domain, id.Selector)
}

// Record is one reconstructed signature occurrence.
type Record struct {
	// Encounter index of the message in the mailbox, and of the signature
	// within the message.
	MessageIndex   int
	SignatureIndex int

	SignedData    []byte
	Signature     []byte
	CanonicalBody []byte

	// The full message, as read from the mailbox.
	Message []byte
}

// Hash returns the hex-encoded SHA-256 digest of the signed data.
func (r *Record) Hash() string {
	h := sha256.Sum256(r.SignedData)
	return hex.EncodeToString(h[:])
}

func (r *Record) dedupeKey() string {
	return r.Hash() + " " + hex.EncodeToString(r.Signature)
}

// Group of records that share the same identity, in encounter order.
type Group struct {
	Identity
	Records []*Record
}

// Grouper accumulates records by identity. Not safe for concurrent use.
type Grouper struct {
	// Groups with fewer records than this are not returned by Groups.
	MinSize int

	// If set, records with the same signed data and signature as one
	// already filed under the same identity are dropped.
	Dedupe bool

	// Identities in order of first sighting.
	order  []Identity
	groups map[Identity]*Group
	seen   map[Identity]*set.String

	records    int
	duplicates int
}

// New returns a new Grouper.
func New(minSize int, dedupe bool) *Grouper {
	return &Grouper{
		MinSize: minSize,
		Dedupe:  dedupe,
		groups:  map[Identity]*Group{},
		seen:    map[Identity]*set.String{},
	}
}

// Add a record under the given identity. Returns false if the record was
// dropped as a duplicate.
func (g *Grouper) Add(id Identity, rec *Record) bool {
	if g.Dedupe {
		s := g.seen[id]
		if s == nil {
			s = &set.String{}
			g.seen[id] = s
		}
		if !s.AddNew(rec.dedupeKey()) {
			g.duplicates++
			return false
		}
	}

	grp, ok := g.groups[id]
	if !ok {
		grp = &Group{Identity: id}
		g.groups[id] = grp
		g.order = append(g.order, id)
	}
	grp.Records = append(grp.Records, rec)
	g.records++
	return true
}

// Groups returns the groups with at least MinSize records, in order of
// first sighting.
func (g *Grouper) Groups() []*Group {
	gs := []*Group{}
	for _, id := range g.order {
		grp := g.groups[id]
		if len(grp.Records) >= g.MinSize {
			gs = append(gs, grp)
		}
	}
	return gs
}

// Identities returns the number of distinct identities seen.
func (g *Grouper) Identities() int {
	return len(g.order)
}

// Records returns the number of records filed (excluding duplicates).
func (g *Grouper) Records() int {
	return g.records
}

// Duplicates returns the number of records dropped as duplicates.
func (g *Grouper) Duplicates() int {
	return g.duplicates
}
