// Package funcid generates the 64-bit function identifiers the wire
// header carries in place of a dispatch string.
//
// The source this protocol is distilled from obtains a function_id via
// compile-time reflection over a function pointer — not portable to Go.
// spec.md §9 names the re-architecture directly: hash a stable
// (namespace, name, signature) triple at codegen or registration time and
// store the result as a plain uint64 constant per call site. That's what
// ID does here, using a fast non-cryptographic hash instead of reflection.
package funcid

import "github.com/cespare/xxhash/v2"

// ID returns a stable 64-bit identifier for one RPC call site, derived
// from its namespace (service name), method name, and a signature string
// (e.g. "func(Args) (*Reply, error)"). Two calls with the same three
// inputs always produce the same ID; this is the only guarantee callers
// may rely on — the hash algorithm itself is not part of the wire
// contract and may change between major versions.
func ID(namespace, name, signature string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(namespace)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(name)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(signature)
	return d.Sum64()
}
