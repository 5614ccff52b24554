package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(fn, file string, line uint32) BacktraceElement {
	l := line
	return FrameElement(DebugFrame{Func: fn, Fullname: file, Line: &l})
}

func TestHash_IdenticalElementLists_SameHash(t *testing.T) {
	a := []BacktraceElement{frame("main", "main.c", 10), frame("helper", "helper.c", 20)}
	b := []BacktraceElement{frame("main", "main.c", 10), frame("helper", "helper.c", 20)}
	assert.Equal(t, Hash(a), Hash(b))
}

func TestHash_DifferentOrder_DifferentHash(t *testing.T) {
	a := []BacktraceElement{frame("main", "main.c", 10), frame("helper", "helper.c", 20)}
	b := []BacktraceElement{frame("helper", "helper.c", 20), frame("main", "main.c", 10)}
	assert.NotEqual(t, Hash(a), Hash(b))
}

func TestHash_FrameAndStateDoNotCollide(t *testing.T) {
	f := []BacktraceElement{frame("foo", "", 0)}
	s := []BacktraceElement{StateElement(StopReason{Reason: "foo"})}
	assert.NotEqual(t, Hash(f), Hash(s))
}

func TestComponents_AddLocal_DeduplicatesIdenticalStacks(t *testing.T) {
	c := NewComponents()
	stack := []BacktraceElement{frame("main", "main.c", 10)}
	c.AddLocal(stack)
	c.AddLocal(append([]BacktraceElement{}, stack...))
	c.AddLocal(stack)

	assert.Len(t, c, 1)
	for _, comp := range c {
		assert.Equal(t, uint32(3), comp.Count)
	}
}

func TestComponents_AddLocal_DistinctStacksStaySeparate(t *testing.T) {
	c := NewComponents()
	c.AddLocal([]BacktraceElement{frame("main", "main.c", 10)})
	c.AddLocal([]BacktraceElement{frame("other", "other.c", 5)})
	assert.Len(t, c, 2)
}

func TestComponents_Merge_IsCommutative(t *testing.T) {
	a := NewComponents()
	a.AddLocal([]BacktraceElement{frame("main", "main.c", 10)})

	b := NewComponents()
	b.AddLocal([]BacktraceElement{frame("main", "main.c", 10)})
	b.AddLocal([]BacktraceElement{frame("other", "other.c", 1)})

	ab := NewComponents()
	ab.Merge(a)
	ab.Merge(b)

	ba := NewComponents()
	ba.Merge(b)
	ba.Merge(a)

	assert.Equal(t, ab, ba)
}

func TestComponents_Merge_SumsCounts(t *testing.T) {
	a := NewComponents()
	a.AddLocal([]BacktraceElement{frame("main", "main.c", 10)})
	a.AddLocal([]BacktraceElement{frame("main", "main.c", 10)})

	b := NewComponents()
	b.AddLocal([]BacktraceElement{frame("main", "main.c", 10)})

	a.Merge(b)
	require.Len(t, a, 1)
	for _, comp := range a {
		require.Equal(t, uint32(3), comp.Count)
	}
}

func TestMergeAll_ThreeChildren_OrderIndependent(t *testing.T) {
	mk := func() Components {
		c := NewComponents()
		c.AddLocal([]BacktraceElement{frame("main", "main.c", 10)})
		return c
	}
	merged := MergeAll(mk(), mk(), mk())
	assert.Len(t, merged, 1)
	for _, comp := range merged {
		assert.Equal(t, uint32(3), comp.Count)
	}
}
