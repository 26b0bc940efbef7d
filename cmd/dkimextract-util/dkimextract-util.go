// dkimextract-util is a command-line utility to inspect how dkimextract
// sees individual messages.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"blitiri.com.ar/go/dkimextract/internal/config"
	"blitiri.com.ar/go/dkimextract/internal/dkim"
	"blitiri.com.ar/go/dkimextract/internal/grouper"
	"blitiri.com.ar/go/dkimextract/internal/normalize"

	"github.com/docopt/docopt-go"
)

// Usage, which doubles as parameter definitions thanks to docopt.
const usage = `
Usage:
  dkimextract-util [options] tags <message>
  dkimextract-util [options] signed-data <message> [--index=<n>]
  dkimextract-util [options] canonicalize (header|body) (simple|relaxed)
  dkimextract-util [options] print-config

Options:
  -C --config=<path>  Configuration file
  -v --verbose        Print tracing information to stderr
  --strict            Reject signatures with duplicate tags
`

// Command-line arguments.
var args map[string]interface{}

func main() {
	args, _ = docopt.ParseDoc(usage)

	commands := map[string]func() error{
		"tags":         tagsCmd,
		"signed-data":  signedDataCmd,
		"canonicalize": canonicalizeCmd,
		"print-config": printConfigCmd,
	}

	for cmd, f := range commands {
		if args[cmd].(bool) {
			if err := f(); err != nil {
				Fatalf("%v", err)
			}
		}
	}
}

// Fatalf prints the given message, then exits the program with an error code.
func Fatalf(s string, arg ...interface{}) {
	fmt.Printf(s+"\n", arg...)
	os.Exit(1)
}

func argString(name string) string {
	s, _ := args[name].(string)
	return s
}

func argBool(name string) bool {
	b, _ := args[name].(bool)
	return b
}

func newContext() context.Context {
	ctx := context.Background()
	if argBool("--verbose") {
		ctx = dkim.WithTraceFunc(ctx,
			func(format string, args ...interface{}) {
				fmt.Fprintf(os.Stderr, format+"\n", args...)
			})
	}
	return dkim.WithStrictTags(ctx, argBool("--strict"))
}

func loadMessage(path string) (*dkim.Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dkim.ParseMessage(raw)
}

// dkimextract-util tags <message>
func tagsCmd() error {
	return printTags(newContext(), os.Stdout, argString("<message>"))
}

func printTags(ctx context.Context, w io.Writer, path string) error {
	msg, err := loadMessage(path)
	if err != nil {
		return err
	}

	results := dkim.Extract(ctx, msg)
	if len(results) == 0 {
		return fmt.Errorf("no DKIM-Signature found")
	}

	for i, res := range results {
		fmt.Fprintf(w, "signature %d:\n", i)

		// Show the tags even when the signature is skipped, so it is
		// possible to see why.
		tags, err := dkim.ParseTags(res.SignatureHeader, false)
		if err != nil {
			fmt.Fprintf(w, "  error: %v\n", err)
			continue
		}
		for _, t := range tags {
			fmt.Fprintf(w, "  %s = %q\n", t.Name, t.Value)
		}

		if res.Err != nil {
			fmt.Fprintf(w, "  skipped: %v\n", res.Err)
			continue
		}

		id := grouper.NewIdentity(res.Signature.Domain,
			res.Signature.Selector)
		fmt.Fprintf(w, "  identity: %v\n", id)
		fmt.Fprintf(w, "  signed data: %d bytes\n", len(res.SignedData))
	}
	return nil
}

// dkimextract-util signed-data <message> [--index=<n>]
func signedDataCmd() error {
	idx := 0
	if s := argString("--index"); s != "" {
		var err error
		idx, err = strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid index %q: %v", s, err)
		}
	}
	return printSignedData(newContext(), os.Stdout, argString("<message>"), idx)
}

func printSignedData(ctx context.Context, w io.Writer, path string, idx int) error {
	msg, err := loadMessage(path)
	if err != nil {
		return err
	}

	results := dkim.Extract(ctx, msg)
	if idx < 0 || idx >= len(results) {
		return fmt.Errorf("signature %d not found (message has %d)",
			idx, len(results))
	}

	res := results[idx]
	if res.Err != nil {
		return fmt.Errorf("signature %d: %w", idx, res.Err)
	}

	_, err = w.Write(res.SignedData)
	return err
}

// dkimextract-util canonicalize (header|body) (simple|relaxed)
func canonicalizeCmd() error {
	c := dkim.Simple
	if argBool("relaxed") {
		c = dkim.Relaxed
	}
	return canonicalize(os.Stdin, os.Stdout, argBool("header"), c)
}

func canonicalize(r io.Reader, w io.Writer, header bool, c dkim.Canonicalization) error {
	in, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s := normalize.StringToCRLF(string(in))

	if !header {
		_, err = io.WriteString(w, c.Body(s))
		return err
	}

	// Parse the input as a header block. The message parser needs it to be
	// terminated, but extra blank lines are harmless.
	msg, err := dkim.ParseMessage([]byte(strings.TrimRight(s, "\r\n") + "\r\n\r\n"))
	if err != nil {
		return err
	}
	for _, h := range msg.Headers {
		if _, err := io.WriteString(w, c.Header(h)+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// dkimextract-util print-config
func printConfigCmd() error {
	conf, err := config.Load(argString("--config"), "")
	if err != nil {
		return err
	}
	fmt.Print(conf.String())
	return nil
}
