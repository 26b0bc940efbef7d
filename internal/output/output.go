// Package output writes groups of reconstructed signatures to a directory
// tree.
//
// The layout is:
//
//	<dir>/
//	  .gitignore
//	  summary.tsv
//	  <domain>_<selector>/
//	    0/ fullMsg.txt signedData signedData.sig [canonicalBody]
//	    1/ ...
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"blitiri.com.ar/go/dkimextract/internal/grouper"
	"blitiri.com.ar/go/dkimextract/internal/safeio"
)

// File names within each record directory.
const (
	FullMessageFile   = "fullMsg.txt"
	SignedDataFile    = "signedData"
	SignatureFile     = "signedData.sig"
	CanonicalBodyFile = "canonicalBody"
	SummaryFile       = "summary.tsv"
)

// Writer of the output tree.
type Writer struct {
	dir string

	// Also write the canonical body of each record.
	WriteCanonicalBody bool

	// Directory names, assigned on first use.
	names map[grouper.Identity]string
	used  map[string]bool

	summary strings.Builder
}

// Create the output directory (if needed), and return a Writer for it.
func Create(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Output is generated data, and usually lives within a checkout.
	err := safeio.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*\n"),
		0644)
	if err != nil {
		return nil, err
	}

	return &Writer{
		dir:   dir,
		names: map[grouper.Identity]string{},
		used:  map[string]bool{},
	}, nil
}

var escaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"\\", "%5C",
	"\x00", "%00",
)

// escape a string so it can be used as part of a file name.
func escape(s string) string {
	return escaper.Replace(s)
}

// DirName returns the name of the directory for the given identity, which
// is "<domain>_<selector>". Different identities can map to the same name
// (e.g. "a_b"+"c" and "a"+"b_c"); the second and later ones get a "~N"
// suffix. The same identity always gets the same name.
func (w *Writer) DirName(id grouper.Identity) string {
	if name, ok := w.names[id]; ok {
		return name
	}

	base := escape(id.Domain) + "_" + escape(id.Selector)
	if strings.HasPrefix(base, ".") {
		base = "%2E" + base[1:]
	}
	name := base
	for n := 1; w.used[name]; n++ {
		name = base + "~" + strconv.Itoa(n)
	}

	w.names[id] = name
	w.used[name] = true
	return name
}

// WriteGroup writes all the records of the group, and returns the directory
// name used. On error, the group may have been partially written.
func (w *Writer) WriteGroup(g *grouper.Group) (string, error) {
	name := w.DirName(g.Identity)
	gdir := filepath.Join(w.dir, name)

	hashes := make([]string, 0, len(g.Records))
	for i, rec := range g.Records {
		if err := w.writeRecord(filepath.Join(gdir, strconv.Itoa(i)), rec); err != nil {
			return name, fmt.Errorf("writing %s/%d: %w", name, i, err)
		}
		hashes = append(hashes, rec.Hash())
	}

	fmt.Fprintf(&w.summary, "%s\t%s\t%s\t%d\t%s\n",
		name, g.Domain, g.Selector, len(g.Records),
		strings.Join(hashes, "\t"))
	return name, nil
}

type file struct {
	name string
	data []byte
}

func (w *Writer) writeRecord(dir string, rec *grouper.Record) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	files := []file{
		{FullMessageFile, rec.Message},
		{SignedDataFile, rec.SignedData},
		{SignatureFile, rec.Signature},
	}
	if w.WriteCanonicalBody {
		files = append(files, file{CanonicalBodyFile, rec.CanonicalBody})
	}

	for _, f := range files {
		err := safeio.WriteFile(filepath.Join(dir, f.name), f.data, 0644,
			safeio.Sync)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close writes the summary of the groups written so far.
func (w *Writer) Close() error {
	return safeio.WriteFile(filepath.Join(w.dir, SummaryFile),
		[]byte(w.summary.String()), 0644, safeio.Sync)
}
