package dkim

import (
	"context"
)

// Result of processing one DKIM-Signature occurrence.
type Result struct {
	// The raw signature header value.
	SignatureHeader string

	// Parsed signature. Nil if parsing failed.
	Signature *Signature

	// The reconstruction. Nil on error.
	*Reconstruction

	// Why the occurrence was skipped, if it was.
	Err error
}

// Extract the signed data and signature of every DKIM-Signature in the
// message. Occurrences are processed independently, and in the order they
// appear; a failure in one does not affect the others.
func Extract(ctx context.Context, msg *Message) []*Result {
	results := []*Result{}
	for _, i := range msg.Headers.Indexes("DKIM-Signature") {
		trace(ctx, "Found DKIM-Signature header: %s", msg.Headers[i].Value)
		results = append(results, extractOne(ctx, i, msg))
	}
	return results
}

func extractOne(ctx context.Context, sigIdx int, msg *Message) *Result {
	sigH := msg.Headers[sigIdx]
	result := &Result{
		SignatureHeader: sigH.Value,
	}

	sig, err := ParseSignature(sigH.Value, strictTags(ctx))
	if err != nil {
		trace(ctx, "Error parsing signature: %v", err)
		result.Err = err
		return result
	}
	result.Signature = sig

	result.Reconstruction, err = Assemble(ctx, sig, sigIdx, msg)
	if err != nil {
		trace(ctx, "Error assembling signed data: %v", err)
		result.Err = err
		return result
	}

	trace(ctx, "Reconstructed %d bytes of signed data for d=%s s=%s",
		len(result.SignedData), sig.Domain, sig.Selector)
	return result
}
