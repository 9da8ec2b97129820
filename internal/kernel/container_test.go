package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubObject struct{}

func (stubObject) OnBeginPlay() error        { return nil }
func (stubObject) OnTick(float64) error      { return nil }
func (stubObject) OnDestroy() error          { return nil }

func TestStateContainer_AddVisibleImmediatelyOutsideIteration(t *testing.T) {
	c := NewStateContainer()
	c.Add(1, stubObject{})

	assert.True(t, c.Has(1))
	assert.Equal(t, 1, c.Count())
}

func TestStateContainer_ForEachAscendingIDOrder(t *testing.T) {
	c := NewStateContainer()
	c.Add(3, stubObject{})
	c.Add(1, stubObject{})
	c.Add(2, stubObject{})

	var seen []ObjectID
	c.ForEach(func(id ObjectID, obj GameObject) {
		seen = append(seen, id)
	})

	assert.Equal(t, []ObjectID{1, 2, 3}, seen)
}

func TestStateContainer_AddDuringIterationDeferred(t *testing.T) {
	c := NewStateContainer()
	c.Add(1, stubObject{})

	var seenDuringPass []ObjectID
	c.ForEach(func(id ObjectID, obj GameObject) {
		seenDuringPass = append(seenDuringPass, id)
		c.Add(2, stubObject{})
	})

	require.Equal(t, []ObjectID{1}, seenDuringPass, "newly added object must not be visited in the same pass")
	assert.True(t, c.Has(2), "deferred add must be visible after the pass ends")
	assert.Equal(t, 2, c.Count())
}

func TestStateContainer_RemoveDuringIterationDefersUntilPassEnd(t *testing.T) {
	c := NewStateContainer()
	c.Add(1, stubObject{})
	c.Add(2, stubObject{})
	c.Add(3, stubObject{})

	var seen []ObjectID
	c.ForEach(func(id ObjectID, obj GameObject) {
		seen = append(seen, id)
		if id == 1 {
			c.Remove(2)
		}
	})

	assert.Equal(t, []ObjectID{1, 2, 3}, seen, "the pass visits the set present at its start; the removal only lands at the flush")
	assert.False(t, c.Has(2))
	assert.Equal(t, 2, c.Count())
}

func TestStateContainer_RemoveThenAddSameIDDuringIteration(t *testing.T) {
	c := NewStateContainer()
	c.Add(1, stubObject{})

	c.ForEach(func(id ObjectID, obj GameObject) {
		c.Remove(1)
		c.Add(1, stubObject{})
	})

	assert.True(t, c.Has(1), "a re-add after a remove in the same pass must win")
}

func TestStateContainer_FlushHappensEvenIfForEachPanics(t *testing.T) {
	c := NewStateContainer()
	c.Add(1, stubObject{})

	func() {
		defer func() { _ = recover() }()
		c.ForEach(func(id ObjectID, obj GameObject) {
			c.Add(2, stubObject{})
			panic("boom")
		})
	}()

	assert.True(t, c.Has(2), "pending add must flush even after a panic mid-pass")
}

func TestStateContainer_EmptyForEachIsNoop(t *testing.T) {
	c := NewStateContainer()
	called := false
	c.ForEach(func(id ObjectID, obj GameObject) { called = true })
	assert.False(t, called)
}
