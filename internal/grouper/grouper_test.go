package grouper

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func rec(msg int, data, sig string) *Record {
	return &Record{
		MessageIndex: msg,
		SignedData:   []byte(data),
		Signature:    []byte(sig),
	}
}

func TestNewIdentity(t *testing.T) {
	cases := []struct {
		domain, selector string
		want             Identity
	}{
		{"example.net", "brisbane", Identity{"example.net", "brisbane"}},
		{"Example.NET", "Brisbane", Identity{"example.net", "brisbane"}},
		{"xn--lca.example", "s1", Identity{"ñ.example", "s1"}},
		{"Ñ.example", "s1", Identity{"ñ.example", "s1"}},
	}
	for _, c := range cases {
		got := NewIdentity(c.domain, c.selector)
		if got != c.want {
			t.Errorf("NewIdentity(%q, %q) = %v, want %v",
				c.domain, c.selector, got, c.want)
		}
	}

	if s := NewIdentity("a.b", "c").String(); s != "d=a.b s=c" {
		t.Errorf("String: got %q", s)
	}
}

func TestGrouping(t *testing.T) {
	g := New(2, false)

	a := NewIdentity("a.example", "s")
	b := NewIdentity("b.example", "s")
	c := NewIdentity("c.example", "s")

	r0, r1, r2, r3, r4 := rec(0, "0", "x"), rec(1, "1", "x"),
		rec(2, "2", "x"), rec(3, "3", "x"), rec(4, "4", "x")

	// b is seen first, so it goes first.
	g.Add(b, r0)
	g.Add(a, r1)
	g.Add(c, r2)
	g.Add(a, r3)
	g.Add(b, r4)

	want := []*Group{
		{Identity: b, Records: []*Record{r0, r4}},
		{Identity: a, Records: []*Record{r1, r3}},
	}
	if diff := cmp.Diff(want, g.Groups()); diff != "" {
		t.Errorf("Groups() diff (-want +got):\n%s", diff)
	}

	if g.Identities() != 3 || g.Records() != 5 || g.Duplicates() != 0 {
		t.Errorf("counters: %d identities, %d records, %d duplicates",
			g.Identities(), g.Records(), g.Duplicates())
	}
}

func TestThreshold(t *testing.T) {
	g := New(2, false)
	id := NewIdentity("example.net", "brisbane")

	if gs := g.Groups(); len(gs) != 0 {
		t.Errorf("empty grouper returned groups: %v", gs)
	}

	g.Add(id, rec(0, "a", "x"))
	if gs := g.Groups(); len(gs) != 0 {
		t.Errorf("singleton group was returned: %v", gs)
	}

	g.Add(id, rec(1, "b", "y"))
	if gs := g.Groups(); len(gs) != 1 || len(gs[0].Records) != 2 {
		t.Errorf("expected one group of 2, got %v", gs)
	}

	// A lower threshold includes singletons too.
	g = New(1, false)
	g.Add(id, rec(0, "a", "x"))
	if gs := g.Groups(); len(gs) != 1 {
		t.Errorf("min size 1: expected one group, got %v", gs)
	}
}

func TestEquivalentIdentities(t *testing.T) {
	g := New(2, false)
	g.Add(NewIdentity("Example.NET", "Brisbane"), rec(0, "a", "x"))
	g.Add(NewIdentity("example.net", "brisbane"), rec(1, "b", "y"))

	gs := g.Groups()
	if len(gs) != 1 || len(gs[0].Records) != 2 {
		t.Fatalf("expected a single group of 2, got %v", gs)
	}
	if gs[0].Identity != (Identity{"example.net", "brisbane"}) {
		t.Errorf("unexpected identity %v", gs[0].Identity)
	}
}

func TestDedupe(t *testing.T) {
	id := NewIdentity("example.net", "brisbane")
	other := NewIdentity("example.org", "brisbane")

	// Without dedupe, identical records are all kept.
	g := New(2, false)
	for i := 0; i < 2; i++ {
		if !g.Add(id, rec(i, "same", "sig")) {
			t.Errorf("record %d dropped without dedupe", i)
		}
	}
	if gs := g.Groups(); len(gs) != 1 || len(gs[0].Records) != 2 {
		t.Errorf("expected one group of 2, got %v", gs)
	}

	g = New(2, true)
	if !g.Add(id, rec(0, "same", "sig")) {
		t.Errorf("first record dropped")
	}
	if g.Add(id, rec(1, "same", "sig")) {
		t.Errorf("duplicate record was kept")
	}

	// Same signed data but different signature is not a duplicate.
	if !g.Add(id, rec(2, "same", "other sig")) {
		t.Errorf("record with a different signature was dropped")
	}

	// Neither is the same pair under a different identity.
	if !g.Add(other, rec(3, "same", "sig")) {
		t.Errorf("record under a different identity was dropped")
	}

	if g.Duplicates() != 1 || g.Records() != 3 {
		t.Errorf("counters: %d records, %d duplicates",
			g.Records(), g.Duplicates())
	}
}

func TestHash(t *testing.T) {
	r := rec(0, "", "")
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := r.Hash(); got != want {
		t.Errorf("Hash: got %q, want %q", got, want)
	}
}
