package snapshot

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Component is one deduplicated backtrace shared by one or more threads:
// the ordered list of elements (innermost frame first, a state element
// last if the thread is stopped other than by SIGINT) plus how many threads
// share it.
type Component struct {
	Count    uint32             `json:"count"`
	Elements []BacktraceElement `json:"elements"`
}

// Components maps a structural hash of an element list to the Component it
// identifies. Two threads with byte-for-byte identical reduced backtraces
// hash to the same key and are folded into one Component with Count
// incremented, which is the entire point of the reduction: large thread
// counts collapse to a handful of distinct stacks.
type Components map[uint64]Component

// NewComponents returns an empty component map.
func NewComponents() Components {
	return Components{}
}

// Hash computes the structural hash of an ordered element list. The hash
// folds in each element's kind tag and payload fields so that a Frame and a
// State element never collide even if their string fields happen to match.
func Hash(elements []BacktraceElement) uint64 {
	h := xxhash.New()
	var buf [4]byte
	for _, e := range elements {
		binary.LittleEndian.PutUint32(buf[:], uint32(len(e.Kind)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(e.Kind))
		switch e.Kind {
		case BacktraceKindFrame:
			if e.Frame != nil {
				writeString(h, e.Frame.Func)
				writeString(h, e.Frame.File)
				writeLine(h, e.Frame.Line)
			}
		case BacktraceKindState:
			if e.State != nil {
				writeString(h, e.State.Reason)
				writeString(h, e.State.SignalName)
				if e.State.ExitCode != nil {
					writeLine(h, uint32Ptr(uint32(*e.State.ExitCode)))
				} else {
					writeLine(h, nil)
				}
			}
		}
	}
	return h.Sum64()
}

func writeString(h *xxhash.Digest, s string) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(s)))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(s))
}

func writeLine(h *xxhash.Digest, line *uint32) {
	var buf [4]byte
	if line == nil {
		binary.LittleEndian.PutUint32(buf[:], 0)
		_, _ = h.Write(buf[:])
		return
	}
	binary.LittleEndian.PutUint32(buf[:], 1)
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], *line)
	_, _ = h.Write(buf[:])
}

func uint32Ptr(v uint32) *uint32 { return &v }

// AddLocal folds one thread's reduced element list into the map, creating a
// new Component at count 1 on first sight or incrementing Count on a repeat
// hash.
func (c Components) AddLocal(elements []BacktraceElement) {
	key := Hash(elements)
	existing, ok := c[key]
	if !ok {
		c[key] = Component{Count: 1, Elements: elements}
		return
	}
	existing.Count++
	c[key] = existing
}

// Merge combines components from a remote child into c. Merge is
// commutative and associative: the result of folding N children in any
// order, any grouping, is the same map, which is what lets the tree reduce
// in parallel instead of serially visiting every leaf.
func (c Components) Merge(other Components) {
	for key, comp := range other {
		existing, ok := c[key]
		if !ok {
			c[key] = comp
			continue
		}
		existing.Count += comp.Count
		c[key] = existing
	}
}

// MergeAll folds every map in others into a freshly allocated result,
// leaving the inputs untouched.
func MergeAll(maps ...Components) Components {
	out := NewComponents()
	for _, m := range maps {
		out.Merge(m)
	}
	return out
}
