// Package dlock implements distributed mutual-exclusion locks on top of a
// lease store. Correctness is delegated entirely to the store's atomic
// conditional operations: the engine holds no shared mutable state across
// callers, and one blocking round trip backs each TryAcquire or Release.
//
// A lease is never extended in place. Every successful claim is a brand-new
// lease under a fresh owner token; a renew-without-gap operation would have
// to special-case "the live lease is my own" inside the claim predicate and
// is deliberately not part of this baseline.
//
// Release on handle disposal is best effort. A process that crashes while
// holding a lock is recovered from only by lease expiry.
package dlock
