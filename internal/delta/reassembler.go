// Package delta turns the raw token-level fragments of a streaming model
// response into stable, boundary-aligned text deltas that a client can
// render incrementally without seeing broken words or markdown.
package delta

import "strings"

// firstChunkThreshold is the minimum buffered length before the first
// delta is released when no sentence terminator has been seen yet.
const firstChunkThreshold = 15

// boundaryChars are the characters a released delta may end on once the
// first chunk is out. Buffering to these keeps words and clauses intact.
const boundaryChars = " .!?\n,:-;"

// sentenceTerminators release the first chunk early even below the
// length threshold.
const sentenceTerminators = ".!?"

// Reassembler is a single-pass, stateful transform over one model turn.
// It is not safe for concurrent use and not restartable; create one per
// turn. Feed fragments with Push and finish with Flush.
type Reassembler struct {
	accumulated strings.Builder
	pending     strings.Builder

	// boundaryReached flips once the first (prefix-repaired) chunk has
	// been released. Before that, fragments only accumulate.
	boundaryReached bool
	flushed         bool
}

// New returns a Reassembler ready for one turn.
func New() *Reassembler {
	return &Reassembler{}
}

// Push feeds one raw fragment and returns any deltas it released, in
// order. Most calls release zero or one delta.
func (r *Reassembler) Push(fragment string) []string {
	if r.flushed || fragment == "" {
		return nil
	}
	r.pending.WriteString(fragment)

	if !r.boundaryReached {
		buf := r.pending.String()
		if len(buf) < firstChunkThreshold && !strings.ContainsAny(buf, sentenceTerminators) {
			return nil
		}
		repaired := RepairPrefix(buf)
		r.release(repaired)
		r.boundaryReached = true
		return []string{repaired}
	}

	buf := r.pending.String()
	if !endsOnBoundary(buf) {
		return nil
	}
	r.release(buf)
	return []string{buf}
}

// Flush signals end-of-turn. It releases whatever is still buffered as a
// final delta, then the terminal empty delta that marks completion. If
// the response never reached the first-chunk boundary, the prefix repair
// is applied to the flushed remainder so short responses are not exempt
// from repair.
func (r *Reassembler) Flush() []string {
	if r.flushed {
		return nil
	}
	r.flushed = true

	var out []string
	if r.pending.Len() > 0 {
		buf := r.pending.String()
		if !r.boundaryReached {
			buf = RepairPrefix(buf)
		}
		r.release(buf)
		out = append(out, buf)
	}
	return append(out, "")
}

// Text returns the full accumulated response so far: the exact
// concatenation of every released delta.
func (r *Reassembler) Text() string {
	return r.accumulated.String()
}

func (r *Reassembler) release(s string) {
	r.accumulated.WriteString(s)
	r.pending.Reset()
}

func endsOnBoundary(s string) bool {
	if s == "" {
		return false
	}
	return strings.ContainsRune(boundaryChars, rune(s[len(s)-1]))
}
